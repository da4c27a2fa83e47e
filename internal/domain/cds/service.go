package cds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EvaluationResult is the full output of one clinical evaluation: the raw
// engine findings plus the alert batch the manager admitted.
type EvaluationResult struct {
	PatientID        string            `json:"patient_id"`
	EncounterID      string            `json:"encounter_id,omitempty"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
	Interactions     []DrugInteraction `json:"interactions,omitempty"`
	AllergyConflicts []AllergyConflict `json:"allergy_conflicts,omitempty"`
	AgeDosingAlerts  []AgeDosingAlert  `json:"age_dosing_alerts,omitempty"`
	DiagnosisAlerts  []DiagnosisAlert  `json:"diagnosis_alerts,omitempty"`
	Alerts           []Alert           `json:"alerts"`
}

// Service orchestrates the four generators and the alert manager. The
// repository is optional: without one the service runs fully in memory
// and persistence is skipped.
type Service struct {
	interactions *DrugInteractionChecker
	allergies    *DrugAllergyChecker
	dosing       *AgeDosingChecker
	guidelines   *DiagnosisAlertGenerator
	manager      *AlertManager
	alerts       AlertRepository
	log          zerolog.Logger
}

func NewService(
	interactions *DrugInteractionChecker,
	allergies *DrugAllergyChecker,
	dosing *AgeDosingChecker,
	guidelines *DiagnosisAlertGenerator,
	manager *AlertManager,
	alerts AlertRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		interactions: interactions,
		allergies:    allergies,
		dosing:       dosing,
		guidelines:   guidelines,
		manager:      manager,
		alerts:       alerts,
		log:          log,
	}
}

// Evaluate runs every engine against the clinical context and arbitrates
// the results. Engines are independent: a context with no medications
// still gets diagnosis and preventive alerts, and a missing age silently
// skips the age-dependent checks.
func (s *Service) Evaluate(ctx context.Context, cc ClinicalContext) (*EvaluationResult, error) {
	if cc.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	res := &EvaluationResult{
		PatientID:   cc.PatientID,
		EncounterID: cc.EncounterID,
		EvaluatedAt: time.Now().UTC(),
	}

	res.Interactions = s.interactions.CheckInteractions(cc.Medications, nil)
	res.AllergyConflicts = s.allergies.CheckAllergies(cc.Medications, cc.Allergies)
	res.AgeDosingAlerts = s.dosing.CheckAgeDosing(cc.Medications, cc)
	res.DiagnosisAlerts = append(
		s.guidelines.GenerateAlerts(cc.Diagnoses, cc),
		s.guidelines.GeneratePreventiveAlerts(cc)...)

	candidates := s.buildCandidates(cc, res)
	res.Alerts = s.manager.ProcessAlerts(ctx, candidates)

	s.persistAsync(res.Alerts)
	return res, nil
}

// CheckInteractions evaluates a set of proposed medications against the
// patient's current list without touching the alert manager.
func (s *Service) CheckInteractions(newMeds, existingMeds []Medication) []DrugInteraction {
	return s.interactions.CheckInteractions(newMeds, existingMeds)
}

func (s *Service) CheckAllergies(meds []Medication, allergies []Allergy) []AllergyConflict {
	return s.allergies.CheckAllergies(meds, allergies)
}

func (s *Service) CheckAgeDosing(meds []Medication, cc ClinicalContext) []AgeDosingAlert {
	return s.dosing.CheckAgeDosing(meds, cc)
}

func (s *Service) CheckDiagnoses(cc ClinicalContext) []DiagnosisAlert {
	return append(
		s.guidelines.GenerateAlerts(cc.Diagnoses, cc),
		s.guidelines.GeneratePreventiveAlerts(cc)...)
}

// buildCandidates converts engine findings into unified alert candidates.
func (s *Service) buildCandidates(cc ClinicalContext, res *EvaluationResult) []Alert {
	var out []Alert

	for _, rec := range res.Interactions {
		out = append(out, Alert{
			RuleID:      rec.ID,
			Category:    CategoryDrugInteraction,
			Severity:    mapInteractionSeverity(rec.Severity),
			PatientID:   cc.PatientID,
			EncounterID: cc.EncounterID,
			Title:       fmt.Sprintf("Drug interaction: %s + %s", rec.DrugA.GenericName, rec.DrugB.GenericName),
			Message:     joinNonEmpty(rec.Description, rec.Management),
		})
	}

	for _, conflict := range res.AllergyConflicts {
		out = append(out, Alert{
			RuleID:      allergyRuleID(conflict),
			Category:    CategoryDrugAllergy,
			Severity:    mapAllergySeverity(conflict.Severity),
			PatientID:   cc.PatientID,
			EncounterID: cc.EncounterID,
			Title:       fmt.Sprintf("Allergy conflict: %s with documented %s allergy", conflict.Medication, conflict.Allergen),
			Message:     conflict.Management,
		})
	}

	for _, da := range res.AgeDosingAlerts {
		out = append(out, Alert{
			RuleID:      da.RuleID,
			Category:    CategoryAgeDosing,
			Severity:    da.Severity,
			PatientID:   cc.PatientID,
			EncounterID: cc.EncounterID,
			Title:       fmt.Sprintf("Age-based dosing: %s", da.Drug),
			Message:     da.Message,
		})
	}

	for _, dx := range res.DiagnosisAlerts {
		category := CategoryDiagnosis
		if dx.Category == GuidelinePreventive {
			category = CategoryPreventive
		}
		out = append(out, Alert{
			RuleID:      dx.GuidelineID,
			Category:    category,
			Severity:    mapGuidelineSeverity(dx.Category),
			PatientID:   cc.PatientID,
			EncounterID: cc.EncounterID,
			Title:       dx.Title,
			Message:     dx.Recommendation,
		})
	}

	return out
}

func allergyRuleID(c AllergyConflict) string {
	return fmt.Sprintf("allergy:%s:%s",
		strings.ToLower(c.Medication), strings.ToLower(c.Allergen))
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func mapInteractionSeverity(s InteractionSeverity) AlertSeverity {
	switch s {
	case InteractionContraindicated:
		return SeverityCritical
	case InteractionMajor:
		return SeverityHigh
	case InteractionModerate:
		return SeverityModerate
	case InteractionMinor:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

func mapAllergySeverity(s AllergySeverity) AlertSeverity {
	switch s {
	case AllergyLifeThreatening:
		return SeverityCritical
	case AllergySevere:
		return SeverityHigh
	case AllergyModerate:
		return SeverityModerate
	case AllergyMild:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

func mapGuidelineSeverity(c GuidelineCategory) AlertSeverity {
	switch c {
	case GuidelineMedication:
		return SeverityModerate
	case GuidelineMonitoring, GuidelineTesting:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// persistAsync writes admitted alerts to the repository without blocking
// the evaluation response. Persistence failure is logged, not surfaced.
func (s *Service) persistAsync(alerts []Alert) {
	if s.alerts == nil || len(alerts) == 0 {
		return
	}
	batch := make([]Alert, len(alerts))
	copy(batch, alerts)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for i := range batch {
			if err := s.alerts.Save(ctx, &batch[i]); err != nil {
				s.log.Error().Err(err).Str("alert_id", batch[i].ID.String()).Msg("persist alert failed")
			}
		}
	}()
}

func (s *Service) persistUpdateAsync(a *Alert) {
	if s.alerts == nil || a == nil {
		return
	}
	copied := *a
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.alerts.UpdateStatus(ctx, &copied); err != nil {
			s.log.Error().Err(err).Str("alert_id", copied.ID.String()).Msg("persist alert update failed")
		}
	}()
}

// AcknowledgeAlert acknowledges an active alert. A nil result with a nil
// error means the alert does not exist or was already actioned.
func (s *Service) AcknowledgeAlert(ctx context.Context, id uuid.UUID, actorID, notes string) (*Alert, error) {
	a, err := s.manager.AcknowledgeAlert(ctx, id, actorID, notes)
	if err != nil {
		return nil, err
	}
	s.persistUpdateAsync(a)
	return a, nil
}

func (s *Service) OverrideAlert(ctx context.Context, id uuid.UUID, actorID, reason string) (*Alert, error) {
	a, err := s.manager.OverrideAlert(ctx, id, actorID, reason)
	if err != nil {
		return nil, err
	}
	s.persistUpdateAsync(a)
	return a, nil
}

func (s *Service) DismissAlert(ctx context.Context, id uuid.UUID, actorID, notes string) (*Alert, error) {
	a, err := s.manager.DismissAlert(ctx, id, actorID, notes)
	if err != nil {
		return nil, err
	}
	s.persistUpdateAsync(a)
	return a, nil
}

// SweepExpiredAlerts expires stale active alerts and reports the count.
func (s *Service) SweepExpiredAlerts(ctx context.Context) int {
	return s.manager.ClearExpiredAlerts(ctx)
}

func (s *Service) ActiveAlerts(patientID string) []Alert {
	if patientID == "" {
		return s.manager.ActiveAlerts()
	}
	return s.manager.ActiveAlertsForPatient(patientID)
}

func (s *Service) GetAlert(id uuid.UUID) *Alert {
	return s.manager.GetAlert(id)
}

// AlertHistory lists the persisted alert trail for a patient.
func (s *Service) AlertHistory(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	if s.alerts == nil {
		return nil, 0, fmt.Errorf("alert history requires a database")
	}
	return s.alerts.ListByPatient(ctx, patientID, limit, offset)
}

// Fatigue aggregates alert fatigue metrics over the manager's retained
// history, optionally bounded by a date range and filtered to alerts
// actioned by one provider.
func (s *Service) Fatigue(from, to time.Time, providerID string) FatigueMetrics {
	return s.manager.Fatigue(from, to, providerID)
}

func (s *Service) HighOverrideRules() []RuleOverrideStats {
	return s.manager.HighOverrideRules()
}

func (s *Service) SuppressionRules() []SuppressionRule {
	return s.manager.SuppressionRules()
}
