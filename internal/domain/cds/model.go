package cds

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity is the unified severity scale used by the alert manager.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "CRITICAL"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityModerate AlertSeverity = "MODERATE"
	SeverityLow      AlertSeverity = "LOW"
	SeverityInfo     AlertSeverity = "INFO"
)

var alertSeverityRank = map[AlertSeverity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityModerate: 3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// InteractionSeverity is the drug-drug interaction severity scale.
type InteractionSeverity string

const (
	InteractionContraindicated InteractionSeverity = "CONTRAINDICATED"
	InteractionMajor           InteractionSeverity = "MAJOR"
	InteractionModerate        InteractionSeverity = "MODERATE"
	InteractionMinor           InteractionSeverity = "MINOR"
)

var interactionSeverityRank = map[InteractionSeverity]int{
	InteractionContraindicated: 4,
	InteractionMajor:           3,
	InteractionModerate:        2,
	InteractionMinor:           1,
}

// AllergySeverity is the allergy reaction severity scale.
type AllergySeverity string

const (
	AllergyLifeThreatening AllergySeverity = "LIFE_THREATENING"
	AllergySevere          AllergySeverity = "SEVERE"
	AllergyModerate        AllergySeverity = "MODERATE"
	AllergyMild            AllergySeverity = "MILD"
)

var allergySeverityRank = map[AllergySeverity]int{
	AllergyLifeThreatening: 4,
	AllergySevere:          3,
	AllergyModerate:        2,
	AllergyMild:            1,
}

var allergySeverityByRank = map[int]AllergySeverity{
	4: AllergyLifeThreatening,
	3: AllergySevere,
	2: AllergyModerate,
	1: AllergyMild,
}

// AlertStatus tracks the alert lifecycle. ACTIVE is the only state from
// which action transitions are allowed.
type AlertStatus string

const (
	StatusActive       AlertStatus = "ACTIVE"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusOverridden   AlertStatus = "OVERRIDDEN"
	StatusDismissed    AlertStatus = "DISMISSED"
	StatusExpired      AlertStatus = "EXPIRED"
)

// AlertCategory identifies which engine produced an alert.
type AlertCategory string

const (
	CategoryDrugInteraction AlertCategory = "DRUG_INTERACTION"
	CategoryDrugAllergy     AlertCategory = "DRUG_ALLERGY"
	CategoryAgeDosing       AlertCategory = "AGE_DOSING"
	CategoryDiagnosis       AlertCategory = "DIAGNOSIS"
	CategoryPreventive      AlertCategory = "PREVENTIVE_CARE"
)

// Alert is the unit the alert manager arbitrates. Candidates are built
// fresh per evaluation; identity is assigned when the manager accepts one.
type Alert struct {
	ID             uuid.UUID     `json:"id"`
	RuleID         string        `json:"rule_id"`
	Category       AlertCategory `json:"category"`
	Severity       AlertSeverity `json:"severity"`
	PatientID      string        `json:"patient_id"`
	EncounterID    string        `json:"encounter_id,omitempty"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Status         AlertStatus   `json:"status"`
	TriggeredAt    time.Time     `json:"triggered_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	OverriddenAt   *time.Time    `json:"overridden_at,omitempty"`
	DismissedAt    *time.Time    `json:"dismissed_at,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	ActorID        string        `json:"actor_id,omitempty"`
	OverrideReason string        `json:"override_reason,omitempty"`
	Notes          string        `json:"notes,omitempty"`
}

// SuppressionType selects the suppression strategy a rule applies.
type SuppressionType string

const (
	SuppressDuplicate SuppressionType = "DUPLICATE"
	SuppressFrequency SuppressionType = "FREQUENCY_BASED"
	SuppressContext   SuppressionType = "CONTEXT_BASED"
)

// SuppressionRule is global and additive: an alert is suppressed if any
// enabled rule matches. RuleID "*" matches every alert rule.
type SuppressionRule struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	Type           SuppressionType `json:"type"`
	Window         time.Duration   `json:"window"`
	MaxOccurrences int             `json:"max_occurrences,omitempty"`
	// MaxSeverity bounds CONTEXT_BASED suppression: candidates at or below
	// this severity are dropped while a CRITICAL alert is active.
	MaxSeverity AlertSeverity `json:"max_severity,omitempty"`
	Enabled     bool          `json:"enabled"`
}

// InteractionDrug identifies one side of an interaction record.
type InteractionDrug struct {
	GenericName      string `json:"generic_name"`
	BrandName        string `json:"brand_name,omitempty"`
	RxNormCode       string `json:"rxnorm_code,omitempty"`
	TherapeuticClass string `json:"therapeutic_class,omitempty"`
}

// DrugInteraction is a seeded catalog record. Lookup is symmetric: the
// index registers the record under both drugs.
type DrugInteraction struct {
	ID             string              `json:"id"`
	DrugA          InteractionDrug     `json:"drug_a"`
	DrugB          InteractionDrug     `json:"drug_b"`
	Severity       InteractionSeverity `json:"severity"`
	Description    string              `json:"description"`
	ClinicalEffect string              `json:"clinical_effect,omitempty"`
	Management     string              `json:"management,omitempty"`
	Monitoring     string              `json:"monitoring,omitempty"`
}

// CrossReactivityRisk tiers how strongly an allergen family predicts a
// reaction to a related therapeutic class.
type CrossReactivityRisk string

const (
	RiskHigh     CrossReactivityRisk = "HIGH"
	RiskModerate CrossReactivityRisk = "MODERATE"
	RiskLow      CrossReactivityRisk = "LOW"
)

// CrossReactivityRule links an allergen family to a therapeutic class.
type CrossReactivityRule struct {
	AllergenFamily   string              `json:"allergen_family"`
	TherapeuticClass string              `json:"therapeutic_class"`
	Risk             CrossReactivityRisk `json:"risk"`
	Note             string              `json:"note,omitempty"`
}

// AllergyConflict is a resolved medication/allergy match. For
// cross-reactivity hits Severity is derived from the original allergy
// severity and the risk tier, never copied.
type AllergyConflict struct {
	Medication       string              `json:"medication"`
	Allergen         string              `json:"allergen"`
	CrossReactivity  bool                `json:"cross_reactivity"`
	Risk             CrossReactivityRisk `json:"risk,omitempty"`
	Severity         AllergySeverity     `json:"severity"`
	OriginalSeverity AllergySeverity     `json:"original_severity"`
	Reaction         string              `json:"reaction,omitempty"`
	Management       string              `json:"management"`
}

// AgeBand labels the population a dosing rule targets.
type AgeBand string

const (
	BandNeonate   AgeBand = "NEONATE"
	BandInfant    AgeBand = "INFANT"
	BandPediatric AgeBand = "PEDIATRIC"
	BandAdult     AgeBand = "ADULT"
	BandGeriatric AgeBand = "GERIATRIC"
)

// AgeDosingRule matches a drug within an age band. Rules are kept in an
// ordered table and the first match per drug wins, so authors must order
// rules from most- to least-specific.
type AgeDosingRule struct {
	ID             string  `json:"id"`
	Drug           string  `json:"drug"`
	Band           AgeBand `json:"band"`
	MinAge         *int    `json:"min_age,omitempty"`
	MaxAge         *int    `json:"max_age,omitempty"`
	Recommendation string  `json:"recommendation,omitempty"`
	Warning        string  `json:"warning,omitempty"`
	MaxDose        string  `json:"max_dose,omitempty"`
	RenalAdjust    bool    `json:"renal_adjust,omitempty"`
	HepaticAdjust  bool    `json:"hepatic_adjust,omitempty"`
}

// DosingAlertType classifies an age-dosing alert.
type DosingAlertType string

const (
	DosingContraindicated DosingAlertType = "CONTRAINDICATED"
	DosingCaution         DosingAlertType = "CAUTION"
	DosingDoseAdjustment  DosingAlertType = "DOSE_ADJUSTMENT"
)

// AgeDosingAlert is the output of the age-dosing checker.
type AgeDosingAlert struct {
	RuleID        string          `json:"rule_id"`
	Drug          string          `json:"drug"`
	Type          DosingAlertType `json:"type"`
	Severity      AlertSeverity   `json:"severity"`
	Band          AgeBand         `json:"band"`
	Message       string          `json:"message"`
	MaxDose       string          `json:"max_dose,omitempty"`
	RenalAdjust   bool            `json:"renal_adjust,omitempty"`
	HepaticAdjust bool            `json:"hepatic_adjust,omitempty"`
}

// GuidelineCategory drives the firing policy for diagnosis guidelines.
type GuidelineCategory string

const (
	GuidelineMonitoring GuidelineCategory = "MONITORING"
	GuidelineMedication GuidelineCategory = "MEDICATION"
	GuidelinePreventive GuidelineCategory = "PREVENTIVE"
	GuidelineFollowUp   GuidelineCategory = "FOLLOW_UP"
	GuidelineLifestyle  GuidelineCategory = "LIFESTYLE"
	GuidelineTesting    GuidelineCategory = "TESTING"
)

// DiagnosisGuideline matches active diagnoses by exact ICD code, wildcard
// pattern (E11.*), or code prefix.
type DiagnosisGuideline struct {
	ID             string            `json:"id"`
	ICDPattern     string            `json:"icd_pattern"`
	Category       GuidelineCategory `json:"category"`
	Title          string            `json:"title"`
	Recommendation string            `json:"recommendation"`
	// TestFrequency is free text ("3 months", "annually") parsed into a
	// lab-recency window for MONITORING/TESTING guidelines.
	TestFrequency string `json:"test_frequency,omitempty"`
}

// DiagnosisAlert is the output of the diagnosis guideline generator.
type DiagnosisAlert struct {
	GuidelineID    string            `json:"guideline_id"`
	DiagnosisCode  string            `json:"diagnosis_code,omitempty"`
	Category       GuidelineCategory `json:"category"`
	Title          string            `json:"title"`
	Recommendation string            `json:"recommendation"`
}

// DiagnosisStatus filters which diagnoses generate guideline alerts.
type DiagnosisStatus string

const (
	DiagnosisActive   DiagnosisStatus = "ACTIVE"
	DiagnosisResolved DiagnosisStatus = "RESOLVED"
	DiagnosisInactive DiagnosisStatus = "INACTIVE"
)

// Medication is one entry of a patient medication list.
type Medication struct {
	GenericName      string `json:"generic_name"`
	BrandName        string `json:"brand_name,omitempty"`
	RxNormCode       string `json:"rxnorm_code,omitempty"`
	TherapeuticClass string `json:"therapeutic_class,omitempty"`
}

// Allergy is one recorded patient allergy.
type Allergy struct {
	Allergen string          `json:"allergen"`
	Severity AllergySeverity `json:"severity"`
	Reaction string          `json:"reaction,omitempty"`
}

// Diagnosis is one coded patient diagnosis.
type Diagnosis struct {
	ICDCode     string          `json:"icd_code"`
	Description string          `json:"description,omitempty"`
	Status      DiagnosisStatus `json:"status"`
}

// LabResult is one recent lab used for guideline recency checks.
type LabResult struct {
	Name        string    `json:"name"`
	Value       string    `json:"value,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// ClinicalContext is the read-only snapshot handed to every generator.
// The core never mutates it; the provider assembles it per encounter.
type ClinicalContext struct {
	PatientID   string       `json:"patient_id"`
	EncounterID string       `json:"encounter_id,omitempty"`
	AgeYears    *int         `json:"age_years,omitempty"`
	Gender      string       `json:"gender,omitempty"`
	Medications []Medication `json:"medications,omitempty"`
	Allergies   []Allergy    `json:"allergies,omitempty"`
	Diagnoses   []Diagnosis  `json:"diagnoses,omitempty"`
	RecentLabs  []LabResult  `json:"recent_labs,omitempty"`
}
