package cds

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditSink records alert lifecycle actions. Implementations live in
// platform/audit; audit failures are logged and swallowed, never surfaced
// to the clinical caller.
type AuditSink interface {
	LogAlertAction(ctx context.Context, action string, alert Alert, actorID string) error
}

// NopAuditSink discards audit records.
type NopAuditSink struct{}

func (NopAuditSink) LogAlertAction(context.Context, string, Alert, string) error { return nil }

// Per-severity caps applied to the batch returned by ProcessAlerts. The
// caps bound what a clinician sees at once; they never drop alerts from
// the active set.
var severityBatchCap = map[AlertSeverity]int{
	SeverityCritical: 5,
	SeverityHigh:     10,
	SeverityModerate: 15,
}

// SeedSuppressionRules is the default suppression rule set.
func SeedSuppressionRules() []SuppressionRule {
	return []SuppressionRule{
		{ID: "sup-dup-24h", RuleID: "*", Type: SuppressDuplicate,
			Window: 24 * time.Hour, Enabled: true},
		{ID: "sup-freq-3-per-hour", RuleID: "*", Type: SuppressFrequency,
			Window: time.Hour, MaxOccurrences: 3, Enabled: true},
		{ID: "sup-ctx-info-under-critical", RuleID: "*", Type: SuppressContext,
			MaxSeverity: SeverityInfo, Enabled: true},
	}
}

// FatigueMetrics summarizes alerting load and clinician response. The
// counters are lifetime totals; everything below them is computed over
// the retained history filtered by the requested range and provider.
type FatigueMetrics struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	ProviderID string    `json:"provider_id,omitempty"`

	TotalGenerated    int `json:"total_generated"`
	TotalSuppressed   int `json:"total_suppressed"`
	TotalDeduplicated int `json:"total_deduplicated"`
	ActiveCount       int `json:"active_count"`

	TotalAlerts   int `json:"total_alerts"`
	CriticalCount int `json:"critical_count"`

	AcknowledgeRate float64 `json:"acknowledge_rate"`
	OverrideRate    float64 `json:"override_rate"`
	DismissRate     float64 `json:"dismiss_rate"`
	// MeanAckSeconds is the mean triggered-to-acknowledged latency.
	MeanAckSeconds float64 `json:"mean_ack_seconds"`

	BySeverity map[AlertSeverity]int `json:"by_severity"`
	ByCategory map[AlertCategory]int `json:"by_category"`
	ByStatus   map[AlertStatus]int   `json:"by_status"`
	ByProvider map[string]int        `json:"by_provider"`
}

// RuleOverrideStats reports how often a single rule gets overridden.
type RuleOverrideStats struct {
	RuleID       string  `json:"rule_id"`
	Total        int     `json:"total"`
	Overridden   int     `json:"overridden"`
	OverrideRate float64 `json:"override_rate"`
}

type auditEvent struct {
	action  string
	alert   Alert
	actorID string
}

// AlertManager arbitrates candidate alerts: suppression, live
// de-duplication, prioritization, lifecycle, and fatigue analytics. All
// state is instance-local and mutex-guarded; there are no globals, so
// tests and tenants can run isolated managers.
//
// The active set holds every unresolved alert. Acknowledging or
// overriding keeps an alert in the set (it stays visible, it is just no
// longer actionable); only dismissal and expiry remove it.
type AlertManager struct {
	mu      sync.Mutex
	active  map[uuid.UUID]*Alert
	history []*Alert
	rules   []SuppressionRule

	audit     AuditSink
	auditCh   chan auditEvent
	auditDone chan struct{}
	log       zerolog.Logger
	now       func() time.Time

	historyCap   int
	overrideMin  float64
	overrideSamp int

	generated    int
	suppressed   int
	deduplicated int
}

// ManagerOptions tunes an AlertManager. Zero values fall back to defaults.
type ManagerOptions struct {
	HistoryCap      int
	OverrideRateMin float64
	OverrideSamples int
	Now             func() time.Time
}

// NewAlertManager validates the suppression rules and builds a manager.
// A nil audit sink is replaced with a no-op sink.
func NewAlertManager(rules []SuppressionRule, audit AuditSink, log zerolog.Logger, opts ManagerOptions) (*AlertManager, error) {
	for i, r := range rules {
		if err := validateSuppressionRule(r); err != nil {
			return nil, fmt.Errorf("suppression rule %d (%s): %w", i, r.ID, err)
		}
	}
	if audit == nil {
		audit = NopAuditSink{}
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = 1000
	}
	if opts.OverrideRateMin <= 0 {
		opts.OverrideRateMin = 0.5
	}
	if opts.OverrideSamples <= 0 {
		opts.OverrideSamples = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &AlertManager{
		active:       make(map[uuid.UUID]*Alert),
		rules:        rules,
		audit:        audit,
		auditCh:      make(chan auditEvent, 256),
		auditDone:    make(chan struct{}),
		log:          log,
		now:          opts.Now,
		historyCap:   opts.HistoryCap,
		overrideMin:  opts.OverrideRateMin,
		overrideSamp: opts.OverrideSamples,
	}
	go m.auditLoop()
	return m, nil
}

func validateSuppressionRule(r SuppressionRule) error {
	if r.ID == "" || r.RuleID == "" {
		return fmt.Errorf("id and rule_id are required")
	}
	switch r.Type {
	case SuppressDuplicate:
		if r.Window <= 0 {
			return fmt.Errorf("duplicate suppression needs a positive window")
		}
	case SuppressFrequency:
		if r.Window <= 0 || r.MaxOccurrences <= 0 {
			return fmt.Errorf("frequency suppression needs a positive window and max occurrences")
		}
	case SuppressContext:
		if _, ok := alertSeverityRank[r.MaxSeverity]; !ok {
			return fmt.Errorf("context suppression needs a known max severity, got %q", r.MaxSeverity)
		}
	default:
		return fmt.Errorf("unknown suppression type %q", r.Type)
	}
	return nil
}

// Close drains pending audit records and stops the audit worker. Call it
// only after the last alert operation.
func (m *AlertManager) Close() {
	close(m.auditCh)
	<-m.auditDone
}

// ProcessAlerts runs candidates through suppression, de-duplication and
// admission, then returns the admitted batch sorted by severity with
// per-severity caps applied. Caps bound the returned batch only; every
// admitted alert stays active regardless.
func (m *AlertManager) ProcessAlerts(ctx context.Context, candidates []Alert) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var admitted []*Alert

	for i := range candidates {
		cand := candidates[i]
		m.generated++

		cand.Status = StatusActive
		if cand.TriggeredAt.IsZero() {
			cand.TriggeredAt = now
		}

		if m.suppressedLocked(cand, now) {
			m.suppressed++
			continue
		}
		if m.duplicatesActiveLocked(cand) {
			m.deduplicated++
			continue
		}

		cand.ID = uuid.New()
		a := &cand
		m.active[a.ID] = a
		m.appendHistoryLocked(a)
		admitted = append(admitted, a)

		m.enqueueAudit("TRIGGERED", *a, "")
	}

	sort.SliceStable(admitted, func(i, j int) bool {
		return alertSeverityRank[admitted[i].Severity] > alertSeverityRank[admitted[j].Severity]
	})

	counts := make(map[AlertSeverity]int)
	out := make([]Alert, 0, len(admitted))
	for _, a := range admitted {
		if limit, capped := severityBatchCap[a.Severity]; capped {
			if counts[a.Severity] >= limit {
				continue
			}
			counts[a.Severity]++
		}
		out = append(out, *a)
	}
	return out
}

func (m *AlertManager) suppressedLocked(cand Alert, now time.Time) bool {
	for _, r := range m.rules {
		if !r.Enabled {
			continue
		}
		if r.RuleID != "*" && r.RuleID != cand.RuleID {
			continue
		}
		switch r.Type {
		case SuppressDuplicate:
			if m.duplicateFiredLocked(cand, now, r.Window) {
				return true
			}
		case SuppressFrequency:
			if m.firedWithinLocked(cand, now, r.Window) >= r.MaxOccurrences {
				return true
			}
		case SuppressContext:
			if alertSeverityRank[cand.Severity] <= alertSeverityRank[r.MaxSeverity] &&
				m.hasActiveCriticalLocked(cand.PatientID) {
				return true
			}
		}
	}
	return false
}

// duplicateFiredLocked reports whether a non-dismissed alert with the
// same rule, patient and category fired inside the window. A dismissed
// alert never blocks a re-fire.
func (m *AlertManager) duplicateFiredLocked(cand Alert, now time.Time, window time.Duration) bool {
	cutoff := now.Add(-window)
	for _, a := range m.history {
		if a.Status == StatusDismissed {
			continue
		}
		if a.RuleID == cand.RuleID && a.PatientID == cand.PatientID &&
			a.Category == cand.Category && !a.TriggeredAt.Before(cutoff) {
			return true
		}
	}
	return false
}

// firedWithinLocked counts every fire of the rule for the patient inside
// the window. Frequency limits count fires, not outcomes, so status is
// deliberately ignored here.
func (m *AlertManager) firedWithinLocked(cand Alert, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, a := range m.history {
		if a.RuleID == cand.RuleID && a.PatientID == cand.PatientID && !a.TriggeredAt.Before(cutoff) {
			n++
		}
	}
	return n
}

func (m *AlertManager) hasActiveCriticalLocked(patientID string) bool {
	for _, a := range m.active {
		if a.Status == StatusActive && a.PatientID == patientID && a.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// duplicatesActiveLocked reports whether an unactioned alert for the same
// patient, rule and category already carries the same normalized message.
func (m *AlertManager) duplicatesActiveLocked(cand Alert) bool {
	msg := normalizeMessage(cand.Message)
	for _, a := range m.active {
		if a.Status != StatusActive {
			continue
		}
		if a.PatientID == cand.PatientID && a.RuleID == cand.RuleID &&
			a.Category == cand.Category && normalizeMessage(a.Message) == msg {
			return true
		}
	}
	return false
}

// normalizeMessage lowercases, drops punctuation and collapses whitespace
// so cosmetic rewording does not defeat de-duplication.
func normalizeMessage(msg string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, msg)
	return strings.Join(strings.Fields(stripped), " ")
}

func (m *AlertManager) appendHistoryLocked(a *Alert) {
	m.history = append(m.history, a)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

// enqueueAudit hands the record to the audit worker. The evaluation path
// must never wait on audit I/O, so a full queue drops the record with a
// warning instead of blocking.
func (m *AlertManager) enqueueAudit(action string, a Alert, actorID string) {
	select {
	case m.auditCh <- auditEvent{action: action, alert: a, actorID: actorID}:
	default:
		m.log.Warn().
			Str("action", action).
			Str("alert_id", a.ID.String()).
			Msg("audit queue full, record dropped")
	}
}

func (m *AlertManager) auditLoop() {
	defer close(m.auditDone)
	for ev := range m.auditCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.audit.LogAlertAction(ctx, ev.action, ev.alert, ev.actorID)
		cancel()
		if err != nil {
			// Audit is best-effort: a failed audit write must never block
			// clinical alerting.
			m.log.Warn().Err(err).
				Str("action", ev.action).
				Str("alert_id", ev.alert.ID.String()).
				Msg("alert audit write failed")
		}
	}
}

// AcknowledgeAlert marks an active alert acknowledged. An unknown or
// already actioned id returns (nil, nil): acting on a vanished alert is
// not an error.
func (m *AlertManager) AcknowledgeAlert(ctx context.Context, id uuid.UUID, actorID, notes string) (*Alert, error) {
	return m.transition(id, actorID, "ACKNOWLEDGED", false, func(a *Alert, now time.Time) {
		a.Status = StatusAcknowledged
		a.AcknowledgedAt = &now
		a.Notes = notes
	}), nil
}

// OverrideAlert marks an active alert overridden. A reason is mandatory.
func (m *AlertManager) OverrideAlert(ctx context.Context, id uuid.UUID, actorID, reason string) (*Alert, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("override reason is required")
	}
	return m.transition(id, actorID, "OVERRIDDEN", false, func(a *Alert, now time.Time) {
		a.Status = StatusOverridden
		a.OverriddenAt = &now
		a.OverrideReason = reason
	}), nil
}

// DismissAlert marks an active alert dismissed and removes it from the
// active set.
func (m *AlertManager) DismissAlert(ctx context.Context, id uuid.UUID, actorID, notes string) (*Alert, error) {
	return m.transition(id, actorID, "DISMISSED", true, func(a *Alert, now time.Time) {
		a.Status = StatusDismissed
		a.DismissedAt = &now
		a.Notes = notes
	}), nil
}

// transition applies an action to an alert that is still ACTIVE. Only
// dismissal removes the alert from the active set; acknowledged and
// overridden alerts remain visible there in their final state.
func (m *AlertManager) transition(id uuid.UUID, actorID, action string, remove bool, apply func(*Alert, time.Time)) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[id]
	if !ok || a.Status != StatusActive {
		return nil
	}
	apply(a, m.now())
	a.ActorID = actorID
	if remove {
		delete(m.active, id)
	}

	m.enqueueAudit(action, *a, actorID)
	copied := *a
	return &copied
}

// ClearExpiredAlerts expires active alerts whose ExpiresAt has passed and
// returns how many were expired. Already actioned alerts past their
// expiry are removed from the active set without counting.
func (m *AlertManager) ClearExpiredAlerts(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for id, a := range m.active {
		if a.ExpiresAt == nil || a.ExpiresAt.After(now) {
			continue
		}
		if a.Status == StatusActive {
			a.Status = StatusExpired
			n++
			m.enqueueAudit("EXPIRED", *a, "")
		}
		delete(m.active, id)
	}
	return n
}

// ActiveAlerts returns every unresolved alert sorted by severity
// descending.
func (m *AlertManager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectActiveLocked(func(*Alert) bool { return true })
}

// ActiveAlertsForPatient returns the patient's unresolved alerts sorted
// by severity descending.
func (m *AlertManager) ActiveAlertsForPatient(patientID string) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectActiveLocked(func(a *Alert) bool { return a.PatientID == patientID })
}

func (m *AlertManager) collectActiveLocked(keep func(*Alert) bool) []Alert {
	var out []Alert
	for _, a := range m.active {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return alertSeverityRank[out[i].Severity] > alertSeverityRank[out[j].Severity]
		}
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out
}

// GetAlert returns a copy of an alert by id, searching active alerts and
// retained history.
func (m *AlertManager) GetAlert(id uuid.UUID) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.active[id]; ok {
		copied := *a
		return &copied
	}
	for _, a := range m.history {
		if a.ID == id {
			copied := *a
			return &copied
		}
	}
	return nil
}

// Fatigue aggregates alerting load and clinician response over the
// retained history. Zero from/to leave that bound open; a non-empty
// providerID restricts the aggregate to alerts actioned by that provider.
func (m *AlertManager) Fatigue(from, to time.Time, providerID string) FatigueMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	fm := FatigueMetrics{
		From:              from,
		To:                to,
		ProviderID:        providerID,
		TotalGenerated:    m.generated,
		TotalSuppressed:   m.suppressed,
		TotalDeduplicated: m.deduplicated,
		BySeverity:        make(map[AlertSeverity]int),
		ByCategory:        make(map[AlertCategory]int),
		ByStatus:          make(map[AlertStatus]int),
		ByProvider:        make(map[string]int),
	}
	for _, a := range m.active {
		if a.Status == StatusActive {
			fm.ActiveCount++
		}
	}

	actioned, acked, overridden, dismissed := 0, 0, 0, 0
	var ackLatency time.Duration
	for _, a := range m.history {
		if !from.IsZero() && a.TriggeredAt.Before(from) {
			continue
		}
		if !to.IsZero() && a.TriggeredAt.After(to) {
			continue
		}
		if providerID != "" && a.ActorID != providerID {
			continue
		}

		fm.TotalAlerts++
		if a.Severity == SeverityCritical {
			fm.CriticalCount++
		}
		fm.BySeverity[a.Severity]++
		fm.ByCategory[a.Category]++
		fm.ByStatus[a.Status]++
		if a.ActorID != "" {
			fm.ByProvider[a.ActorID]++
		}

		switch a.Status {
		case StatusAcknowledged:
			actioned++
			acked++
		case StatusOverridden:
			actioned++
			overridden++
		case StatusDismissed:
			actioned++
			dismissed++
		}
		if a.AcknowledgedAt != nil {
			ackLatency += a.AcknowledgedAt.Sub(a.TriggeredAt)
		}
	}
	if actioned > 0 {
		fm.AcknowledgeRate = float64(acked) / float64(actioned)
		fm.OverrideRate = float64(overridden) / float64(actioned)
		fm.DismissRate = float64(dismissed) / float64(actioned)
	}
	if acked > 0 {
		fm.MeanAckSeconds = ackLatency.Seconds() / float64(acked)
	}
	return fm
}

// HighOverrideRules finds rules clinicians override so often the rule
// itself deserves review. Rules below the sample minimum are skipped.
func (m *AlertManager) HighOverrideRules() []RuleOverrideStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	type tally struct{ total, overridden int }
	byRule := make(map[string]*tally)
	for _, a := range m.history {
		t := byRule[a.RuleID]
		if t == nil {
			t = &tally{}
			byRule[a.RuleID] = t
		}
		t.total++
		if a.Status == StatusOverridden {
			t.overridden++
		}
	}

	var out []RuleOverrideStats
	for ruleID, t := range byRule {
		if t.total < m.overrideSamp {
			continue
		}
		rate := float64(t.overridden) / float64(t.total)
		if rate < m.overrideMin {
			continue
		}
		out = append(out, RuleOverrideStats{
			RuleID:       ruleID,
			Total:        t.total,
			Overridden:   t.overridden,
			OverrideRate: rate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OverrideRate != out[j].OverrideRate {
			return out[i].OverrideRate > out[j].OverrideRate
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// SuppressionRules returns a copy of the configured suppression rules.
func (m *AlertManager) SuppressionRules() []SuppressionRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SuppressionRule, len(m.rules))
	copy(out, m.rules)
	return out
}
