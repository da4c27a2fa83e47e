package cds

import (
	"fmt"
	"sort"
	"strings"
)

// drugAllergenFamilies maps generic drug names to the allergen families
// they belong to. A hit here is treated like a direct allergy match: the
// drug is a member of the family the patient reacted to.
var drugAllergenFamilies = map[string][]string{
	"amoxicillin":   {"penicillin", "beta-lactam"},
	"ampicillin":    {"penicillin", "beta-lactam"},
	"piperacillin":  {"penicillin", "beta-lactam"},
	"nafcillin":     {"penicillin", "beta-lactam"},
	"cephalexin":    {"cephalosporin", "beta-lactam"},
	"cefazolin":     {"cephalosporin", "beta-lactam"},
	"ceftriaxone":   {"cephalosporin", "beta-lactam"},
	"cefepime":      {"cephalosporin", "beta-lactam"},
	"ibuprofen":     {"nsaid"},
	"naproxen":      {"nsaid"},
	"ketorolac":     {"nsaid"},
	"aspirin":       {"salicylate", "nsaid"},
	"morphine":      {"opioid"},
	"oxycodone":     {"opioid"},
	"hydrocodone":   {"opioid"},
	"codeine":       {"opioid"},
	"sulfamethoxazole": {"sulfonamide"},
	"sulfasalazine":    {"sulfonamide"},
	"lisinopril":       {"ace-inhibitor"},
	"enalapril":        {"ace-inhibitor"},
}

// SeedCrossReactivityRules is the built-in (allergen family × therapeutic
// class) table with clinical risk tiers.
func SeedCrossReactivityRules() []CrossReactivityRule {
	return []CrossReactivityRule{
		{AllergenFamily: "penicillin", TherapeuticClass: "cephalosporin", Risk: RiskModerate,
			Note: "Shared beta-lactam ring; modern cephalosporins cross-react in ~2% of penicillin-allergic patients."},
		{AllergenFamily: "penicillin", TherapeuticClass: "carbapenem", Risk: RiskLow,
			Note: "Cross-reactivity below 1%; generally tolerated with monitoring."},
		{AllergenFamily: "cephalosporin", TherapeuticClass: "penicillin", Risk: RiskModerate,
			Note: "Reverse direction of the shared beta-lactam risk."},
		{AllergenFamily: "salicylate", TherapeuticClass: "nsaid", Risk: RiskHigh,
			Note: "COX-1 mediated pseudo-allergy frequently generalizes across NSAIDs."},
		{AllergenFamily: "nsaid", TherapeuticClass: "cox-2 inhibitor", Risk: RiskModerate},
		{AllergenFamily: "sulfonamide", TherapeuticClass: "sulfonylurea", Risk: RiskLow,
			Note: "Antibiotic/non-antibiotic sulfonamide cross-reactivity is largely theoretical."},
		{AllergenFamily: "opioid", TherapeuticClass: "opioid analgesic", Risk: RiskModerate},
	}
}

// DrugAllergyChecker matches medications against recorded allergies.
type DrugAllergyChecker struct {
	crossRules []CrossReactivityRule
	families   map[string][]string
}

func NewDrugAllergyChecker(crossRules []CrossReactivityRule) *DrugAllergyChecker {
	return &DrugAllergyChecker{
		crossRules: crossRules,
		families:   drugAllergenFamilies,
	}
}

// CheckAllergies evaluates every (medication, allergy) pair through three
// match tiers — direct substring, allergen-family membership, then
// cross-reactivity rules — and the first hit wins. Output is sorted by
// resolved severity descending.
func (c *DrugAllergyChecker) CheckAllergies(meds []Medication, allergies []Allergy) []AllergyConflict {
	var out []AllergyConflict
	for _, med := range meds {
		for _, al := range allergies {
			if conflict, ok := c.matchPair(med, al); ok {
				out = append(out, conflict)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return allergySeverityRank[out[i].Severity] > allergySeverityRank[out[j].Severity]
	})
	return out
}

func (c *DrugAllergyChecker) matchPair(med Medication, al Allergy) (AllergyConflict, bool) {
	allergen := strings.ToLower(strings.TrimSpace(al.Allergen))
	if allergen == "" {
		return AllergyConflict{}, false
	}

	// Tier 1: direct name match
	if nameContains(med.GenericName, allergen) || nameContains(med.BrandName, allergen) {
		return c.directConflict(med, al, false), true
	}

	// Tier 2: the drug belongs to the allergen's family
	for _, family := range c.families[strings.ToLower(med.GenericName)] {
		if strings.Contains(allergen, family) || strings.Contains(family, allergen) {
			return c.directConflict(med, al, false), true
		}
	}

	// Tier 3: cross-reactivity between allergen family and drug class
	for _, rule := range c.crossRules {
		if !strings.Contains(allergen, rule.AllergenFamily) {
			continue
		}
		if !classMatches(rule.TherapeuticClass, med.TherapeuticClass) {
			continue
		}
		derived := deriveCrossSeverity(al.Severity, rule.Risk)
		return AllergyConflict{
			Medication:       med.GenericName,
			Allergen:         al.Allergen,
			CrossReactivity:  true,
			Risk:             rule.Risk,
			Severity:         derived,
			OriginalSeverity: al.Severity,
			Reaction:         al.Reaction,
			Management: fmt.Sprintf("Possible cross-reactivity between %s and %s (%s risk); verify prior tolerance before use.",
				med.GenericName, al.Allergen, strings.ToLower(string(rule.Risk))),
		}, true
	}

	return AllergyConflict{}, false
}

func (c *DrugAllergyChecker) directConflict(med Medication, al Allergy, cross bool) AllergyConflict {
	return AllergyConflict{
		Medication:       med.GenericName,
		Allergen:         al.Allergen,
		CrossReactivity:  cross,
		Severity:         al.Severity,
		OriginalSeverity: al.Severity,
		Reaction:         al.Reaction,
		Management:       fmt.Sprintf("Avoid use of %s; select alternative therapy.", med.GenericName),
	}
}

func nameContains(name, allergen string) bool {
	if name == "" {
		return false
	}
	n := strings.ToLower(name)
	return strings.Contains(n, allergen) || strings.Contains(allergen, n)
}

var crossRiskStep = map[CrossReactivityRisk]int{
	RiskHigh:     0,
	RiskModerate: 1,
	RiskLow:      2,
}

var crossRiskCeiling = map[CrossReactivityRisk]int{
	RiskHigh:     2, // MODERATE
	RiskModerate: 1, // MILD
	RiskLow:      1, // MILD
}

// deriveCrossSeverity resolves the reported severity of a cross-reactivity
// conflict. Severe and life-threatening originals keep elevated severity,
// stepped down one notch per risk tier; moderate and mild originals are
// capped by the tier ceiling. A derived severity never exceeds the
// original.
func deriveCrossSeverity(orig AllergySeverity, risk CrossReactivityRisk) AllergySeverity {
	rank, ok := allergySeverityRank[orig]
	if !ok {
		return AllergyMild
	}
	if rank >= allergySeverityRank[AllergySevere] {
		r := rank - crossRiskStep[risk]
		if r < 1 {
			r = 1
		}
		return allergySeverityByRank[r]
	}
	r := rank
	if ceil := crossRiskCeiling[risk]; r > ceil {
		r = ceil
	}
	return allergySeverityByRank[r]
}
