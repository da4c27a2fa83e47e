package cds

import (
	"fmt"
	"strings"
)

// DosingClassifier derives alert type and severity from a dosing rule.
// The default implementation inspects the rule's free-text warning and
// recommendation; isolating it behind an interface lets a structured
// field replace the keyword heuristic without touching callers.
type DosingClassifier interface {
	Classify(rule AgeDosingRule) (DosingAlertType, AlertSeverity)
}

type keywordDosingClassifier struct{}

// NewKeywordDosingClassifier returns the keyword-based classifier.
func NewKeywordDosingClassifier() DosingClassifier { return keywordDosingClassifier{} }

func (keywordDosingClassifier) Classify(rule AgeDosingRule) (DosingAlertType, AlertSeverity) {
	text := strings.ToLower(rule.Warning + " " + rule.Recommendation)
	hardStop := strings.Contains(text, "contraindicated") || strings.Contains(text, "avoid")

	var typ DosingAlertType
	switch {
	case hardStop:
		typ = DosingContraindicated
	case strings.Contains(text, "caution"):
		typ = DosingCaution
	case rule.MaxDose != "":
		typ = DosingDoseAdjustment
	default:
		typ = DosingCaution
	}

	sev := SeverityLow
	switch {
	case rule.Band == BandNeonate, rule.Band == BandGeriatric, hardStop:
		sev = SeverityHigh
	case strings.Contains(text, "caution"):
		sev = SeverityModerate
	}
	return typ, sev
}

// SeedAgeDosingRules is the built-in age-banded dosing table. Order is
// priority: when several rules match the same drug, the first one in the
// table wins, so rules must be listed from most- to least-specific.
func SeedAgeDosingRules() []AgeDosingRule {
	return []AgeDosingRule{
		{ID: "dose-ceftriaxone-neonate", Drug: "ceftriaxone", Band: BandNeonate, MinAge: intp(0), MaxAge: intp(1),
			Warning: "Avoid in neonates with hyperbilirubinemia; displaces bilirubin from albumin."},
		{ID: "dose-gentamicin-neonate", Drug: "gentamicin", Band: BandNeonate, MinAge: intp(0), MaxAge: intp(1),
			Recommendation: "Extended-interval dosing with level monitoring.", RenalAdjust: true},
		{ID: "dose-codeine-pediatric", Drug: "codeine", Band: BandPediatric, MaxAge: intp(12),
			Warning: "Contraindicated under 12: ultra-rapid metabolizers risk fatal respiratory depression."},
		{ID: "dose-promethazine-pediatric", Drug: "promethazine", Band: BandPediatric, MaxAge: intp(2),
			Warning: "Contraindicated under 2 years: fatal respiratory depression reported."},
		{ID: "dose-metoclopramide-pediatric", Drug: "metoclopramide", Band: BandPediatric, MaxAge: intp(18),
			Recommendation: "Weight-based dosing.", MaxDose: "0.5 mg/kg/day"},
		{ID: "dose-zolpidem-geriatric", Drug: "zolpidem", Band: BandGeriatric, MinAge: intp(65),
			Recommendation: "Reduce dose in older adults.", MaxDose: "5 mg at bedtime"},
		{ID: "dose-oxycodone-geriatric", Drug: "oxycodone", Band: BandGeriatric, MinAge: intp(65),
			Recommendation: "Use caution; initiate at 30-50% of the usual adult dose.", RenalAdjust: true},
		{ID: "dose-metformin-geriatric", Drug: "metformin", Band: BandGeriatric, MinAge: intp(80),
			Warning: "Use caution above 80 years; verify renal function before continuing.", RenalAdjust: true},
		{ID: "dose-enoxaparin-adult", Drug: "enoxaparin", Band: BandAdult, MinAge: intp(18),
			Recommendation: "Adjust for creatinine clearance below 30 mL/min.", RenalAdjust: true, HepaticAdjust: false},
	}
}

func intp(v int) *int { return &v }

// beersDrugs is the fixed screening list of medications considered
// potentially inappropriate for patients 65 and older.
var beersDrugs = map[string]string{
	"diphenhydramine": "Highly anticholinergic; risk of confusion, dry mouth, constipation.",
	"amitriptyline":   "Highly anticholinergic and sedating; orthostatic hypotension risk.",
	"diazepam":        "Long-acting benzodiazepine; cognitive impairment and fall risk.",
	"zolpidem":        "Increased risk of delirium, falls, and fractures in older adults.",
	"glyburide":       "Prolonged hypoglycemia risk in older adults.",
	"indomethacin":    "Highest CNS adverse-effect profile among NSAIDs.",
	"cyclobenzaprine": "Anticholinergic, sedating, limited efficacy in older adults.",
	"doxepin":         "Highly anticholinergic at doses above 6 mg/day.",
}

// AgeDosingChecker screens a medication list against age-banded dosing
// rules plus the Beers and pediatric safety lists.
type AgeDosingChecker struct {
	rules      []AgeDosingRule
	classifier DosingClassifier
}

// NewAgeDosingChecker validates the ordered rule table and builds the
// checker. Malformed rules fail fast: the table is configuration.
func NewAgeDosingChecker(rules []AgeDosingRule, classifier DosingClassifier) (*AgeDosingChecker, error) {
	for i, r := range rules {
		if r.Drug == "" {
			return nil, fmt.Errorf("age dosing rule %d (%s): missing drug", i, r.ID)
		}
		if r.MinAge != nil && r.MaxAge != nil && *r.MinAge >= *r.MaxAge {
			return nil, fmt.Errorf("age dosing rule %d (%s): min age %d not below max age %d", i, r.ID, *r.MinAge, *r.MaxAge)
		}
	}
	if classifier == nil {
		classifier = NewKeywordDosingClassifier()
	}
	return &AgeDosingChecker{rules: rules, classifier: classifier}, nil
}

// CheckAgeDosing matches each medication against the rule table, then runs
// the Beers and pediatric screens independently and appends their alerts.
// A context without a patient age produces no alerts and no error.
func (c *AgeDosingChecker) CheckAgeDosing(meds []Medication, ctx ClinicalContext) []AgeDosingAlert {
	if ctx.AgeYears == nil {
		return nil
	}
	age := *ctx.AgeYears

	var out []AgeDosingAlert
	for _, med := range meds {
		for _, rule := range c.rules {
			if !strings.EqualFold(rule.Drug, med.GenericName) {
				continue
			}
			if !ageWithin(age, rule.MinAge, rule.MaxAge) {
				continue
			}
			typ, sev := c.classifier.Classify(rule)
			msg := rule.Warning
			if msg == "" {
				msg = rule.Recommendation
			}
			out = append(out, AgeDosingAlert{
				RuleID:        rule.ID,
				Drug:          med.GenericName,
				Type:          typ,
				Severity:      sev,
				Band:          rule.Band,
				Message:       msg,
				MaxDose:       rule.MaxDose,
				RenalAdjust:   rule.RenalAdjust,
				HepaticAdjust: rule.HepaticAdjust,
			})
			break // first matching rule in table order wins
		}
	}

	if age >= 65 {
		out = append(out, c.beersScreen(meds)...)
	}
	if age < 18 {
		out = append(out, c.pediatricScreen(meds, age)...)
	}
	return out
}

func ageWithin(age int, min, max *int) bool {
	if min != nil && age < *min {
		return false
	}
	if max != nil && age >= *max {
		return false
	}
	return true
}

func (c *AgeDosingChecker) beersScreen(meds []Medication) []AgeDosingAlert {
	var out []AgeDosingAlert
	for _, med := range meds {
		name := strings.ToLower(med.GenericName)
		reason, ok := beersDrugs[name]
		if !ok {
			continue
		}
		out = append(out, AgeDosingAlert{
			RuleID:   "beers-" + name,
			Drug:     med.GenericName,
			Type:     DosingCaution,
			Severity: SeverityModerate,
			Band:     BandGeriatric,
			Message:  fmt.Sprintf("%s is potentially inappropriate for adults 65 and older (Beers Criteria): %s", med.GenericName, reason),
		})
	}
	return out
}

var pediatricTetracyclines = map[string]bool{
	"tetracycline": true, "doxycycline": true, "minocycline": true,
}

var pediatricFluoroquinolones = map[string]bool{
	"ciprofloxacin": true, "levofloxacin": true, "moxifloxacin": true,
}

func (c *AgeDosingChecker) pediatricScreen(meds []Medication, age int) []AgeDosingAlert {
	var out []AgeDosingAlert
	for _, med := range meds {
		name := strings.ToLower(med.GenericName)
		switch {
		case name == "aspirin":
			out = append(out, AgeDosingAlert{
				RuleID:   "peds-aspirin-reye",
				Drug:     med.GenericName,
				Type:     DosingContraindicated,
				Severity: SeverityHigh,
				Band:     BandPediatric,
				Message:  "Aspirin in patients under 18 is associated with Reye syndrome; avoid except for specific indications.",
			})
		case pediatricTetracyclines[name] && age < 8:
			out = append(out, AgeDosingAlert{
				RuleID:   "peds-tetracycline",
				Drug:     med.GenericName,
				Type:     DosingContraindicated,
				Severity: SeverityHigh,
				Band:     BandPediatric,
				Message:  "Tetracyclines under 8 years cause permanent tooth discoloration and enamel hypoplasia; avoid.",
			})
		case pediatricFluoroquinolones[name]:
			out = append(out, AgeDosingAlert{
				RuleID:   "peds-fluoroquinolone",
				Drug:     med.GenericName,
				Type:     DosingCaution,
				Severity: SeverityModerate,
				Band:     BandPediatric,
				Message:  "Fluoroquinolones in pediatric patients carry cartilage toxicity risk; use caution and prefer alternatives.",
			})
		}
	}
	return out
}
