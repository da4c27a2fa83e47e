package cds

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type recordingSink struct {
	events chan string
	err    error
}

func newRecordingSink(err error) *recordingSink {
	return &recordingSink{events: make(chan string, 32), err: err}
}

func (s *recordingSink) LogAlertAction(_ context.Context, action string, _ Alert, _ string) error {
	s.events <- action
	return s.err
}

// wait drains n audit events from the sink, failing the test if the
// worker does not deliver them in time.
func (s *recordingSink) wait(t *testing.T, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case a := <-s.events:
			got = append(got, a)
		case <-time.After(2 * time.Second):
			t.Fatalf("audit events = %v, want %d", got, n)
		}
	}
	return got
}

type blockingSink struct{ release chan struct{} }

func (s *blockingSink) LogAlertAction(context.Context, string, Alert, string) error {
	<-s.release
	return nil
}

func newTestManager(t *testing.T, rules []SuppressionRule, sink AuditSink, opts ManagerOptions) *AlertManager {
	t.Helper()
	m, err := NewAlertManager(rules, sink, zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func candidate(ruleID, patientID string, sev AlertSeverity, msg string) Alert {
	return Alert{
		RuleID:    ruleID,
		Category:  CategoryDrugInteraction,
		Severity:  sev,
		PatientID: patientID,
		Title:     ruleID,
		Message:   msg,
	}
}

func TestNewAlertManager_RejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		rule SuppressionRule
	}{
		{"unknown type", SuppressionRule{ID: "s", RuleID: "*", Type: "BAD"}},
		{"duplicate without window", SuppressionRule{ID: "s", RuleID: "*", Type: SuppressDuplicate}},
		{"frequency without max", SuppressionRule{ID: "s", RuleID: "*", Type: SuppressFrequency, Window: time.Hour}},
		{"context without severity", SuppressionRule{ID: "s", RuleID: "*", Type: SuppressContext}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAlertManager([]SuppressionRule{tt.rule}, nil, zerolog.Nop(), ManagerOptions{}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestProcessAlerts_SeverityOrderAndCaps(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerOptions{})

	var cands []Alert
	for i := 0; i < 10; i++ {
		cands = append(cands, candidate(fmt.Sprintf("crit-%d", i), "p1", SeverityCritical, fmt.Sprintf("critical %d", i)))
	}
	cands = append(cands,
		candidate("low-1", "p1", SeverityLow, "low one"),
		candidate("high-1", "p1", SeverityHigh, "high one"),
	)

	out := m.ProcessAlerts(context.Background(), cands)

	// 10 CRITICAL capped to 5; HIGH and LOW pass through.
	if len(out) != 7 {
		t.Fatalf("got %d alerts, want 7", len(out))
	}
	if out[0].Severity != SeverityCritical || out[5].Severity != SeverityHigh || out[6].Severity != SeverityLow {
		t.Errorf("unexpected ordering: %s %s %s", out[0].Severity, out[5].Severity, out[6].Severity)
	}

	// The cap is presentation only: all 12 stay active.
	if got := len(m.ActiveAlerts()); got != 12 {
		t.Errorf("active = %d, want 12", got)
	}
}

func TestProcessAlerts_DeduplicatesNormalizedMessage(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerOptions{})

	first := m.ProcessAlerts(context.Background(), []Alert{
		candidate("r1", "p1", SeverityHigh, "Warfarin with NSAIDs increases bleeding risk."),
	})
	if len(first) != 1 {
		t.Fatalf("first batch: got %d, want 1", len(first))
	}

	// Case, whitespace and punctuation differences do not defeat dedup.
	second := m.ProcessAlerts(context.Background(), []Alert{
		candidate("r1", "p1", SeverityHigh, "  warfarin   with NSAIDs; increases\tbleeding risk "),
	})
	if len(second) != 0 {
		t.Errorf("second batch: got %d, want 0 (deduplicated)", len(second))
	}

	// A different rule with the same wording is a distinct alert.
	otherRule := m.ProcessAlerts(context.Background(), []Alert{
		candidate("r2", "p1", SeverityHigh, "Warfarin with NSAIDs increases bleeding risk."),
	})
	if len(otherRule) != 1 {
		t.Errorf("other rule: got %d, want 1", len(otherRule))
	}

	// Same message for another patient is not a duplicate.
	other := m.ProcessAlerts(context.Background(), []Alert{
		candidate("r1", "p2", SeverityHigh, "Warfarin with NSAIDs increases bleeding risk."),
	})
	if len(other) != 1 {
		t.Errorf("other patient: got %d, want 1", len(other))
	}
}

func TestNormalizeMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Warfarin + NSAIDs: bleeding risk.", "warfarin nsaids bleeding risk"},
		{"  spaced\tout  ", "spaced out"},
		{"UPPER lower", "upper lower"},
		{"dose 5mg", "dose 5mg"},
	}
	for _, tt := range tests {
		if got := normalizeMessage(tt.in); got != tt.want {
			t.Errorf("normalizeMessage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProcessAlerts_DuplicateSuppression(t *testing.T) {
	rules := []SuppressionRule{
		{ID: "s1", RuleID: "*", Type: SuppressDuplicate, Window: time.Hour, Enabled: true},
	}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, rules, nil, ManagerOptions{Now: func() time.Time { return now }})

	first := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg a")})
	if len(first) != 1 {
		t.Fatalf("first: got %d, want 1", len(first))
	}

	// Same rule, patient and category inside the window, different message.
	second := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg b")})
	if len(second) != 0 {
		t.Errorf("inside window: got %d, want 0", len(second))
	}

	// Same rule id from a different engine category is not a duplicate.
	crossCategory := candidate("r1", "p1", SeverityHigh, "msg c")
	crossCategory.Category = CategoryAgeDosing
	if out := m.ProcessAlerts(context.Background(), []Alert{crossCategory}); len(out) != 1 {
		t.Errorf("different category: got %d, want 1", len(out))
	}

	now = now.Add(2 * time.Hour)
	third := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg d")})
	if len(third) != 1 {
		t.Errorf("outside window: got %d, want 1", len(third))
	}
}

func TestProcessAlerts_DismissedAlertDoesNotBlockRefire(t *testing.T) {
	rules := []SuppressionRule{
		{ID: "s1", RuleID: "*", Type: SuppressDuplicate, Window: 24 * time.Hour, Enabled: true},
	}
	m := newTestManager(t, rules, nil, ManagerOptions{})

	out := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg")})
	if len(out) != 1 {
		t.Fatalf("first: got %d, want 1", len(out))
	}
	if _, err := m.DismissAlert(context.Background(), out[0].ID, "dr-a", "resolved"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	// A dismissed alert must not suppress a legitimate re-fire inside the
	// window.
	refire := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg")})
	if len(refire) != 1 {
		t.Errorf("after dismissal: got %d, want 1", len(refire))
	}
}

func TestProcessAlerts_FrequencySuppression(t *testing.T) {
	rules := []SuppressionRule{
		{ID: "s1", RuleID: "r1", Type: SuppressFrequency, Window: time.Hour, MaxOccurrences: 2, Enabled: true},
	}
	m := newTestManager(t, rules, nil, ManagerOptions{})

	for i := 0; i < 2; i++ {
		out := m.ProcessAlerts(context.Background(), []Alert{
			candidate("r1", "p1", SeverityHigh, fmt.Sprintf("msg %d", i)),
		})
		if len(out) != 1 {
			t.Fatalf("occurrence %d: got %d, want 1", i, len(out))
		}
	}

	out := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg 3")})
	if len(out) != 0 {
		t.Errorf("third occurrence: got %d, want 0", len(out))
	}

	// A different rule is unaffected.
	out = m.ProcessAlerts(context.Background(), []Alert{candidate("r2", "p1", SeverityHigh, "msg 4")})
	if len(out) != 1 {
		t.Errorf("other rule: got %d, want 1", len(out))
	}
}

func TestProcessAlerts_ContextSuppression(t *testing.T) {
	rules := []SuppressionRule{
		{ID: "s1", RuleID: "*", Type: SuppressContext, MaxSeverity: SeverityLow, Enabled: true},
	}
	m := newTestManager(t, rules, nil, ManagerOptions{})

	m.ProcessAlerts(context.Background(), []Alert{candidate("crit", "p1", SeverityCritical, "critical msg")})

	out := m.ProcessAlerts(context.Background(), []Alert{
		candidate("info", "p1", SeverityInfo, "info msg"),
		candidate("low", "p1", SeverityLow, "low msg"),
		candidate("high", "p1", SeverityHigh, "high msg"),
	})
	ids := map[string]bool{}
	for _, a := range out {
		ids[a.RuleID] = true
	}
	if ids["info"] || ids["low"] {
		t.Errorf("low-priority alerts not suppressed under active critical: %v", ids)
	}
	if !ids["high"] {
		t.Error("high severity alert wrongly suppressed")
	}

	// A different patient has no active critical.
	out = m.ProcessAlerts(context.Background(), []Alert{candidate("info", "p2", SeverityInfo, "info msg")})
	if len(out) != 1 {
		t.Errorf("other patient: got %d, want 1", len(out))
	}
}

func TestProcessAlerts_DisabledRuleIgnored(t *testing.T) {
	rules := []SuppressionRule{
		{ID: "s1", RuleID: "*", Type: SuppressDuplicate, Window: time.Hour, Enabled: false},
	}
	m := newTestManager(t, rules, nil, ManagerOptions{})

	m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "a")})
	out := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "b")})
	if len(out) != 1 {
		t.Errorf("disabled rule suppressed: got %d, want 1", len(out))
	}
}

func TestAlertLifecycle(t *testing.T) {
	sink := newRecordingSink(nil)
	m := newTestManager(t, nil, sink, ManagerOptions{})

	out := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg")})
	id := out[0].ID

	a, err := m.AcknowledgeAlert(context.Background(), id, "dr-a", "seen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusAcknowledged || a.AcknowledgedAt == nil || a.ActorID != "dr-a" {
		t.Errorf("bad acknowledged alert: %+v", a)
	}

	// Acknowledged alerts stay in the active set in their final state.
	active := m.ActiveAlertsForPatient("p1")
	if len(active) != 1 || active[0].Status != StatusAcknowledged {
		t.Errorf("active after acknowledge = %+v, want 1 acknowledged alert", active)
	}

	// Already actioned: a second action finds nothing to do.
	again, err := m.AcknowledgeAlert(context.Background(), id, "dr-a", "")
	if err != nil || again != nil {
		t.Errorf("re-acknowledge: got (%v, %v), want (nil, nil)", again, err)
	}

	// Unknown id is not an error.
	missing, err := m.DismissAlert(context.Background(), uuid.New(), "dr-a", "")
	if err != nil || missing != nil {
		t.Errorf("unknown id: got (%v, %v), want (nil, nil)", missing, err)
	}

	// The record keeps its final state.
	if got := m.GetAlert(id); got == nil || got.Status != StatusAcknowledged {
		t.Errorf("record = %+v", got)
	}

	got := sink.wait(t, 2)
	wantActions := []string{"TRIGGERED", "ACKNOWLEDGED"}
	for i, want := range wantActions {
		if got[i] != want {
			t.Errorf("audit action %d = %s, want %s", i, got[i], want)
		}
	}
}

func TestDismissAlert_RemovesFromActiveSet(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerOptions{})

	out := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg")})
	a, err := m.DismissAlert(context.Background(), out[0].ID, "dr-a", "not relevant")
	if err != nil || a == nil {
		t.Fatalf("dismiss: (%v, %v)", a, err)
	}
	if a.Status != StatusDismissed || a.DismissedAt == nil {
		t.Errorf("bad dismissed alert: %+v", a)
	}

	if got := m.ActiveAlertsForPatient("p1"); len(got) != 0 {
		t.Errorf("active after dismiss = %d, want 0", len(got))
	}
	// Still reachable through history.
	if got := m.GetAlert(out[0].ID); got == nil || got.Status != StatusDismissed {
		t.Errorf("history record = %+v", got)
	}
}

func TestOverrideAlert_RequiresReason(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerOptions{})
	out := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg")})

	if _, err := m.OverrideAlert(context.Background(), out[0].ID, "dr-a", "  "); err == nil {
		t.Error("expected error for empty reason")
	}

	a, err := m.OverrideAlert(context.Background(), out[0].ID, "dr-a", "benefit outweighs risk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusOverridden || a.OverrideReason == "" {
		t.Errorf("bad overridden alert: %+v", a)
	}
}

func TestClearExpiredAlerts(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, nil, nil, ManagerOptions{Now: func() time.Time { return now }})

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	stale := candidate("r1", "p1", SeverityHigh, "stale")
	stale.ExpiresAt = &past
	fresh := candidate("r2", "p1", SeverityHigh, "fresh")
	fresh.ExpiresAt = &future
	forever := candidate("r3", "p1", SeverityHigh, "forever")

	m.ProcessAlerts(context.Background(), []Alert{stale, fresh, forever})

	if n := m.ClearExpiredAlerts(context.Background()); n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	if got := len(m.ActiveAlertsForPatient("p1")); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}
	if n := m.ClearExpiredAlerts(context.Background()); n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}
}

func TestHistoryCapFIFO(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerOptions{HistoryCap: 3})

	first := m.ProcessAlerts(context.Background(), []Alert{candidate("r0", "p1", SeverityHigh, "msg 0")})
	firstID := first[0].ID
	// Dismissal removes the alert from the active set, so once history
	// evicts it the id is gone entirely.
	if _, err := m.DismissAlert(context.Background(), firstID, "dr", ""); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	for i := 1; i < 5; i++ {
		m.ProcessAlerts(context.Background(), []Alert{
			candidate(fmt.Sprintf("r%d", i), "p1", SeverityHigh, fmt.Sprintf("msg %d", i)),
		})
	}

	if got := m.GetAlert(firstID); got != nil {
		t.Error("oldest alert should have been evicted from history")
	}
	fm := m.Fatigue(time.Time{}, time.Time{}, "")
	if fm.TotalGenerated != 5 {
		t.Errorf("generated = %d, want 5", fm.TotalGenerated)
	}
	if fm.TotalAlerts != 3 {
		t.Errorf("history size = %d, want 3", fm.TotalAlerts)
	}
}

func TestFatigueMetrics(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m := newTestManager(t, nil, nil, ManagerOptions{Now: func() time.Time { return now }})

	out := m.ProcessAlerts(context.Background(), []Alert{
		candidate("r1", "p1", SeverityHigh, "m1"),
		candidate("r2", "p1", SeverityLow, "m2"),
		candidate("r3", "p1", SeverityLow, "m3"),
		candidate("r4", "p1", SeverityCritical, "m4"),
	})
	if len(out) != 4 {
		t.Fatalf("admitted %d, want 4", len(out))
	}

	mustAction := func(a *Alert, err error) {
		t.Helper()
		if err != nil || a == nil {
			t.Fatalf("action failed: (%v, %v)", a, err)
		}
	}
	now = base.Add(10 * time.Minute)
	mustAction(m.OverrideAlert(context.Background(), out[0].ID, "dr", "reason"))
	mustAction(m.OverrideAlert(context.Background(), out[1].ID, "dr", "reason"))
	mustAction(m.AcknowledgeAlert(context.Background(), out[2].ID, "dr", ""))

	fm := m.Fatigue(time.Time{}, time.Time{}, "")
	if fm.ActiveCount != 1 {
		t.Errorf("active = %d, want 1", fm.ActiveCount)
	}
	if fm.TotalAlerts != 4 || fm.CriticalCount != 1 {
		t.Errorf("totals = (%d, %d), want (4, 1)", fm.TotalAlerts, fm.CriticalCount)
	}
	if fm.OverrideRate < 0.66 || fm.OverrideRate > 0.67 {
		t.Errorf("override rate = %f, want 2/3", fm.OverrideRate)
	}
	if fm.AcknowledgeRate < 0.33 || fm.AcknowledgeRate > 0.34 {
		t.Errorf("acknowledge rate = %f, want 1/3", fm.AcknowledgeRate)
	}
	if fm.DismissRate != 0 {
		t.Errorf("dismiss rate = %f, want 0", fm.DismissRate)
	}
	// One acknowledge, 10 minutes after trigger.
	if fm.MeanAckSeconds != 600 {
		t.Errorf("mean ack seconds = %f, want 600", fm.MeanAckSeconds)
	}
	if fm.ByStatus[StatusOverridden] != 2 || fm.ByStatus[StatusActive] != 1 {
		t.Errorf("by status = %v", fm.ByStatus)
	}
	if fm.ByCategory[CategoryDrugInteraction] != 4 {
		t.Errorf("by category = %v", fm.ByCategory)
	}
	if fm.ByProvider["dr"] != 3 {
		t.Errorf("by provider = %v", fm.ByProvider)
	}
}

func TestFatigue_RangeAndProviderFilter(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	now := base
	m := newTestManager(t, nil, nil, ManagerOptions{Now: func() time.Time { return now }})

	early := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "early")})
	now = base.Add(5 * time.Minute)
	if _, err := m.AcknowledgeAlert(context.Background(), early[0].ID, "dr-a", ""); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	now = base.Add(2 * time.Hour)
	late := m.ProcessAlerts(context.Background(), []Alert{candidate("r2", "p1", SeverityCritical, "late")})
	if _, err := m.OverrideAlert(context.Background(), late[0].ID, "dr-b", "override"); err != nil {
		t.Fatalf("override: %v", err)
	}

	// Range bound excludes the early alert.
	ranged := m.Fatigue(base.Add(time.Hour), time.Time{}, "")
	if ranged.TotalAlerts != 1 || ranged.CriticalCount != 1 {
		t.Errorf("ranged totals = (%d, %d), want (1, 1)", ranged.TotalAlerts, ranged.CriticalCount)
	}

	// Provider filter keeps only alerts actioned by that provider.
	byProvider := m.Fatigue(time.Time{}, time.Time{}, "dr-a")
	if byProvider.TotalAlerts != 1 {
		t.Fatalf("provider totals = %d, want 1", byProvider.TotalAlerts)
	}
	if byProvider.AcknowledgeRate != 1 {
		t.Errorf("provider acknowledge rate = %f, want 1", byProvider.AcknowledgeRate)
	}
	if byProvider.ByProvider["dr-a"] != 1 || byProvider.ByProvider["dr-b"] != 0 {
		t.Errorf("by provider = %v", byProvider.ByProvider)
	}
	if byProvider.MeanAckSeconds != 300 {
		t.Errorf("mean ack seconds = %f, want 300", byProvider.MeanAckSeconds)
	}
}

func TestHighOverrideRules(t *testing.T) {
	m := newTestManager(t, nil, nil, ManagerOptions{OverrideSamples: 3, OverrideRateMin: 0.5})

	fire := func(rule string, i int) Alert {
		out := m.ProcessAlerts(context.Background(), []Alert{
			candidate(rule, fmt.Sprintf("p%d", i), SeverityHigh, fmt.Sprintf("%s msg %d", rule, i)),
		})
		if len(out) != 1 {
			t.Fatalf("fire %s/%d admitted %d", rule, i, len(out))
		}
		return out[0]
	}

	// noisy: 4 fired, 3 overridden. quiet: 4 fired, 1 overridden.
	// rare: 2 fired, 2 overridden but below the sample minimum.
	for i := 0; i < 4; i++ {
		a := fire("noisy", i)
		if i < 3 {
			m.OverrideAlert(context.Background(), a.ID, "dr", "noise")
		}
	}
	for i := 0; i < 4; i++ {
		a := fire("quiet", i)
		if i < 1 {
			m.OverrideAlert(context.Background(), a.ID, "dr", "once")
		}
	}
	for i := 0; i < 2; i++ {
		a := fire("rare", i)
		m.OverrideAlert(context.Background(), a.ID, "dr", "always")
	}

	out := m.HighOverrideRules()
	if len(out) != 1 {
		t.Fatalf("got %d rules, want 1: %+v", len(out), out)
	}
	if out[0].RuleID != "noisy" || out[0].Overridden != 3 || out[0].Total != 4 {
		t.Errorf("unexpected stats: %+v", out[0])
	}
}

func TestProcessAlerts_AuditDoesNotBlockAdmission(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	m := newTestManager(t, nil, sink, ManagerOptions{})
	defer close(sink.release)

	done := make(chan int, 1)
	go func() {
		done <- len(m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg")}))
	}()

	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("admitted %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert admission blocked on audit write")
	}
}

func TestAuditFailuresAreSwallowed(t *testing.T) {
	sink := newRecordingSink(fmt.Errorf("audit store down"))
	m := newTestManager(t, nil, sink, ManagerOptions{})

	out := m.ProcessAlerts(context.Background(), []Alert{candidate("r1", "p1", SeverityHigh, "msg")})
	if len(out) != 1 {
		t.Fatalf("admitted %d, want 1 despite audit failure", len(out))
	}
	a, err := m.AcknowledgeAlert(context.Background(), out[0].ID, "dr", "")
	if err != nil || a == nil {
		t.Errorf("acknowledge with failing audit: (%v, %v)", a, err)
	}
	sink.wait(t, 2)
}
