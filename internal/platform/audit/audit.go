// Package audit persists alert lifecycle actions. Sinks implement
// cds.AuditSink; callers treat writes as best-effort.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/cds/cds/internal/domain/cds"
)

// ZerologSink writes audit records to the structured log.
type ZerologSink struct {
	log zerolog.Logger
}

func NewZerologSink(log zerolog.Logger) *ZerologSink {
	return &ZerologSink{log: log}
}

func (s *ZerologSink) LogAlertAction(_ context.Context, action string, a cds.Alert, actorID string) error {
	s.log.Info().
		Str("action", action).
		Str("alert_id", a.ID.String()).
		Str("rule_id", a.RuleID).
		Str("category", string(a.Category)).
		Str("severity", string(a.Severity)).
		Str("patient_id", a.PatientID).
		Str("actor_id", actorID).
		Str("notes", a.Notes).
		Msg("alert audit")
	return nil
}

// PGSink appends audit rows to cds_alert_audit.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

// EnsureSchema creates the audit table when it does not exist.
func (s *PGSink) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cds_alert_audit (
			id UUID PRIMARY KEY,
			alert_id UUID NOT NULL,
			rule_id TEXT NOT NULL,
			action TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			patient_id TEXT NOT NULL,
			actor_id TEXT,
			notes TEXT,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cds_alert_audit_alert ON cds_alert_audit (alert_id)`)
	return err
}

func (s *PGSink) LogAlertAction(ctx context.Context, action string, a cds.Alert, actorID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cds_alert_audit (id, alert_id, rule_id, action, category, severity, patient_id, actor_id, notes, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		uuid.New(), a.ID, a.RuleID, action, a.Category, a.Severity, a.PatientID, actorID, a.Notes, time.Now().UTC())
	return err
}

// Fanout writes to every sink and returns the first error.
type Fanout []cds.AuditSink

func (f Fanout) LogAlertAction(ctx context.Context, action string, a cds.Alert, actorID string) error {
	var first error
	for _, sink := range f {
		if err := sink.LogAlertAction(ctx, action, a, actorID); err != nil && first == nil {
			first = err
		}
	}
	return first
}
