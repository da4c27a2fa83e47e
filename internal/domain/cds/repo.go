package cds

import (
	"context"

	"github.com/google/uuid"
)

// AlertRepository persists the durable trail of alerts. The in-memory
// manager remains authoritative for live arbitration; the repository is
// the record.
type AlertRepository interface {
	Save(ctx context.Context, a *Alert) error
	UpdateStatus(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error)
}

// RuleRepository loads rule tables at startup. When a table is empty the
// caller falls back to the seed catalog.
type RuleRepository interface {
	LoadInteractions(ctx context.Context) ([]DrugInteraction, error)
	LoadSuppressionRules(ctx context.Context) ([]SuppressionRule, error)
}
