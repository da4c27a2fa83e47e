package cds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the CDS tables when they do not exist. The service
// owns its schema; there is no shared migration pipeline to coordinate
// with.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cds_alert (
			id UUID PRIMARY KEY,
			rule_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			patient_id TEXT NOT NULL,
			encounter_id TEXT,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL,
			triggered_at TIMESTAMPTZ NOT NULL,
			acknowledged_at TIMESTAMPTZ,
			overridden_at TIMESTAMPTZ,
			dismissed_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ,
			actor_id TEXT,
			override_reason TEXT,
			notes TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_cds_alert_patient ON cds_alert (patient_id, triggered_at DESC);

		CREATE TABLE IF NOT EXISTS cds_drug_interaction (
			id TEXT PRIMARY KEY,
			drug_a_generic TEXT NOT NULL,
			drug_a_brand TEXT,
			drug_a_rxnorm TEXT,
			drug_a_class TEXT,
			drug_b_generic TEXT NOT NULL,
			drug_b_brand TEXT,
			drug_b_rxnorm TEXT,
			drug_b_class TEXT,
			severity TEXT NOT NULL,
			description TEXT NOT NULL,
			clinical_effect TEXT,
			management TEXT,
			monitoring TEXT
		);

		CREATE TABLE IF NOT EXISTS cds_suppression_rule (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			type TEXT NOT NULL,
			window_seconds BIGINT NOT NULL DEFAULT 0,
			max_occurrences INT NOT NULL DEFAULT 0,
			max_severity TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		);
	`)
	return err
}

// =========== Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository { return &alertRepoPG{pool: pool} }

const alertCols = `id, rule_id, category, severity, patient_id, encounter_id, title, message,
	status, triggered_at, acknowledged_at, overridden_at, dismissed_at, expires_at,
	actor_id, override_reason, notes`

// Nullable TEXT columns are coalesced so rows written by other tools scan
// cleanly into plain strings.
const alertSelectCols = `id, rule_id, category, severity, patient_id, COALESCE(encounter_id, ''), title, message,
	status, triggered_at, acknowledged_at, overridden_at, dismissed_at, expires_at,
	COALESCE(actor_id, ''), COALESCE(override_reason, ''), COALESCE(notes, '')`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.RuleID, &a.Category, &a.Severity, &a.PatientID, &a.EncounterID,
		&a.Title, &a.Message, &a.Status, &a.TriggeredAt, &a.AcknowledgedAt, &a.OverriddenAt,
		&a.DismissedAt, &a.ExpiresAt, &a.ActorID, &a.OverrideReason, &a.Notes)
	return &a, err
}

func (r *alertRepoPG) Save(ctx context.Context, a *Alert) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cds_alert (`+alertCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.RuleID, a.Category, a.Severity, a.PatientID, a.EncounterID, a.Title, a.Message,
		a.Status, a.TriggeredAt, a.AcknowledgedAt, a.OverriddenAt, a.DismissedAt, a.ExpiresAt,
		a.ActorID, a.OverrideReason, a.Notes)
	return err
}

func (r *alertRepoPG) UpdateStatus(ctx context.Context, a *Alert) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE cds_alert SET status=$2, acknowledged_at=$3, overridden_at=$4, dismissed_at=$5,
			actor_id=$6, override_reason=$7, notes=$8
		WHERE id = $1`,
		a.ID, a.Status, a.AcknowledgedAt, a.OverriddenAt, a.DismissedAt,
		a.ActorID, a.OverrideReason, a.Notes)
	return err
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, `SELECT `+alertSelectCols+` FROM cds_alert WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cds_alert WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertSelectCols+` FROM cds_alert
		WHERE patient_id = $1 ORDER BY triggered_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// =========== Rule Repository ===========

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) LoadInteractions(ctx context.Context) ([]DrugInteraction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, drug_a_generic, COALESCE(drug_a_brand, ''), COALESCE(drug_a_rxnorm, ''), COALESCE(drug_a_class, ''),
			drug_b_generic, COALESCE(drug_b_brand, ''), COALESCE(drug_b_rxnorm, ''), COALESCE(drug_b_class, ''),
			severity, description, COALESCE(clinical_effect, ''), COALESCE(management, ''), COALESCE(monitoring, '')
		FROM cds_drug_interaction`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DrugInteraction
	for rows.Next() {
		var rec DrugInteraction
		err := rows.Scan(&rec.ID,
			&rec.DrugA.GenericName, &rec.DrugA.BrandName, &rec.DrugA.RxNormCode, &rec.DrugA.TherapeuticClass,
			&rec.DrugB.GenericName, &rec.DrugB.BrandName, &rec.DrugB.RxNormCode, &rec.DrugB.TherapeuticClass,
			&rec.Severity, &rec.Description, &rec.ClinicalEffect, &rec.Management, &rec.Monitoring)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *ruleRepoPG) LoadSuppressionRules(ctx context.Context) ([]SuppressionRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, rule_id, type, window_seconds, max_occurrences, COALESCE(max_severity, ''), enabled
		FROM cds_suppression_rule`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SuppressionRule
	for rows.Next() {
		var (
			rule    SuppressionRule
			seconds int64
		)
		if err := rows.Scan(&rule.ID, &rule.RuleID, &rule.Type, &seconds,
			&rule.MaxOccurrences, &rule.MaxSeverity, &rule.Enabled); err != nil {
			return nil, err
		}
		rule.Window = time.Duration(seconds) * time.Second
		out = append(out, rule)
	}
	return out, rows.Err()
}
