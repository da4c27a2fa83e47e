package cds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockAlertRepo struct {
	mu      sync.Mutex
	saved   []Alert
	updated []Alert
	savedCh chan struct{}
}

func newMockAlertRepo() *mockAlertRepo {
	return &mockAlertRepo{savedCh: make(chan struct{}, 64)}
}

func (r *mockAlertRepo) Save(_ context.Context, a *Alert) error {
	r.mu.Lock()
	r.saved = append(r.saved, *a)
	r.mu.Unlock()
	r.savedCh <- struct{}{}
	return nil
}

func (r *mockAlertRepo) UpdateStatus(_ context.Context, a *Alert) error {
	r.mu.Lock()
	r.updated = append(r.updated, *a)
	r.mu.Unlock()
	r.savedCh <- struct{}{}
	return nil
}

func (r *mockAlertRepo) GetByID(_ context.Context, id uuid.UUID) (*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.saved {
		if r.saved[i].ID == id {
			a := r.saved[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (r *mockAlertRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Alert
	for i := range r.saved {
		if r.saved[i].PatientID == patientID {
			a := r.saved[i]
			out = append(out, &a)
		}
	}
	return out, len(out), nil
}

func (r *mockAlertRepo) waitSaves(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.savedCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for save %d of %d", i+1, n)
		}
	}
}

func newTestService(t *testing.T, repo AlertRepository) *Service {
	t.Helper()
	idx, err := NewInteractionIndex(SeedInteractions())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	dosing, err := NewAgeDosingChecker(SeedAgeDosingRules(), nil)
	if err != nil {
		t.Fatalf("dosing: %v", err)
	}
	guidelines, err := NewDiagnosisAlertGenerator(SeedDiagnosisGuidelines())
	if err != nil {
		t.Fatalf("guidelines: %v", err)
	}
	manager, err := NewAlertManager(nil, nil, zerolog.Nop(), ManagerOptions{})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(manager.Close)
	return NewService(
		NewDrugInteractionChecker(idx),
		NewDrugAllergyChecker(SeedCrossReactivityRules()),
		dosing,
		guidelines,
		manager,
		repo,
		zerolog.Nop(),
	)
}

func TestEvaluate_RequiresPatientID(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Evaluate(context.Background(), ClinicalContext{}); err == nil {
		t.Error("expected error for missing patient_id")
	}
}

func TestEvaluate_FullContext(t *testing.T) {
	svc := newTestService(t, nil)
	age := 70
	cc := ClinicalContext{
		PatientID: "p1",
		AgeYears:  &age,
		Gender:    "female",
		Medications: []Medication{
			{GenericName: "warfarin", TherapeuticClass: "anticoagulant"},
			{GenericName: "ibuprofen", TherapeuticClass: "nsaid"},
			{GenericName: "diphenhydramine"},
		},
		Allergies: []Allergy{
			{Allergen: "penicillin", Severity: AllergySevere},
		},
		Diagnoses: []Diagnosis{
			{ICDCode: "E11.9", Status: DiagnosisActive},
		},
	}

	res, err := svc.Evaluate(context.Background(), cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Interactions) != 1 || res.Interactions[0].ID != "int-warfarin-nsaids" {
		t.Errorf("interactions = %+v", res.Interactions)
	}
	if len(res.AllergyConflicts) != 0 {
		t.Errorf("allergy conflicts = %+v", res.AllergyConflicts)
	}
	found := false
	for _, da := range res.AgeDosingAlerts {
		if da.RuleID == "beers-diphenhydramine" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing beers alert in %+v", res.AgeDosingAlerts)
	}
	if len(res.DiagnosisAlerts) == 0 {
		t.Error("expected diagnosis alerts for E11.9")
	}

	if len(res.Alerts) == 0 {
		t.Fatal("expected admitted alerts")
	}
	for i := 1; i < len(res.Alerts); i++ {
		if alertSeverityRank[res.Alerts[i].Severity] > alertSeverityRank[res.Alerts[i-1].Severity] {
			t.Errorf("alerts out of order at %d", i)
		}
	}
	// The MAJOR interaction surfaces as a HIGH alert at the top.
	if res.Alerts[0].Category != CategoryDrugInteraction || res.Alerts[0].Severity != SeverityHigh {
		t.Errorf("top alert = %+v", res.Alerts[0])
	}
}

func TestEvaluate_SeverityMapping(t *testing.T) {
	svc := newTestService(t, nil)
	cc := ClinicalContext{
		PatientID: "p1",
		Medications: []Medication{
			{GenericName: "sertraline", TherapeuticClass: "ssri"},
			{GenericName: "phenelzine", TherapeuticClass: "maoi"},
		},
	}
	res, err := svc.Evaluate(context.Background(), cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Alerts) != 1 {
		t.Fatalf("alerts = %+v", res.Alerts)
	}
	// CONTRAINDICATED maps to a CRITICAL alert.
	if res.Alerts[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", res.Alerts[0].Severity)
	}
}

func TestEvaluate_AllergyCandidate(t *testing.T) {
	svc := newTestService(t, nil)
	cc := ClinicalContext{
		PatientID:   "p1",
		Medications: []Medication{{GenericName: "amoxicillin"}},
		Allergies:   []Allergy{{Allergen: "penicillin", Severity: AllergyLifeThreatening}},
	}
	res, err := svc.Evaluate(context.Background(), cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Alerts) != 1 {
		t.Fatalf("alerts = %+v", res.Alerts)
	}
	a := res.Alerts[0]
	if a.Category != CategoryDrugAllergy || a.Severity != SeverityCritical {
		t.Errorf("alert = %+v", a)
	}
}

func TestEvaluate_PersistsAdmittedAlerts(t *testing.T) {
	repo := newMockAlertRepo()
	svc := newTestService(t, repo)

	cc := ClinicalContext{
		PatientID: "p1",
		Medications: []Medication{
			{GenericName: "warfarin"},
			{GenericName: "ibuprofen"},
		},
	}
	res, err := svc.Evaluate(context.Background(), cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.waitSaves(t, len(res.Alerts))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.saved) != len(res.Alerts) {
		t.Errorf("saved %d, want %d", len(repo.saved), len(res.Alerts))
	}
}

func TestServiceLifecycle_PersistsUpdates(t *testing.T) {
	repo := newMockAlertRepo()
	svc := newTestService(t, repo)

	res, err := svc.Evaluate(context.Background(), ClinicalContext{
		PatientID:   "p1",
		Medications: []Medication{{GenericName: "warfarin"}, {GenericName: "ibuprofen"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.waitSaves(t, len(res.Alerts))

	a, err := svc.OverrideAlert(context.Background(), res.Alerts[0].ID, "dr-a", "informed decision")
	if err != nil || a == nil {
		t.Fatalf("override: (%v, %v)", a, err)
	}
	repo.waitSaves(t, 1)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.updated) != 1 || repo.updated[0].Status != StatusOverridden {
		t.Errorf("updated = %+v", repo.updated)
	}
}

func TestServiceLifecycle_UnknownAlert(t *testing.T) {
	svc := newTestService(t, nil)
	a, err := svc.AcknowledgeAlert(context.Background(), uuid.New(), "dr-a", "")
	if err != nil || a != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", a, err)
	}
}
