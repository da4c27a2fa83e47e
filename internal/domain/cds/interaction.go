package cds

import (
	"fmt"
	"sort"
	"strings"
)

// InteractionIndex holds the interaction catalog indexed under both drugs
// of every record, so lookup from either side is O(1) average. The index
// is built once at startup and treated as immutable.
type InteractionIndex struct {
	byKey map[string][]*DrugInteraction
	all   []*DrugInteraction
}

// NewInteractionIndex validates and indexes the catalog. Malformed records
// are a startup failure: the catalog is configuration.
func NewInteractionIndex(records []DrugInteraction) (*InteractionIndex, error) {
	idx := &InteractionIndex{byKey: make(map[string][]*DrugInteraction)}
	for i := range records {
		rec := records[i]
		if err := validateInteraction(&rec); err != nil {
			return nil, fmt.Errorf("interaction record %d (%s): %w", i, rec.ID, err)
		}
		r := &rec
		idx.all = append(idx.all, r)
		for _, k := range drugIndexKeys(r.DrugA) {
			idx.byKey[k] = append(idx.byKey[k], r)
		}
		for _, k := range drugIndexKeys(r.DrugB) {
			idx.byKey[k] = append(idx.byKey[k], r)
		}
	}
	return idx, nil
}

func validateInteraction(r *DrugInteraction) error {
	if r.ID == "" {
		return fmt.Errorf("missing id")
	}
	if r.DrugA.GenericName == "" || r.DrugB.GenericName == "" {
		return fmt.Errorf("both drugs need a generic name")
	}
	if _, ok := interactionSeverityRank[r.Severity]; !ok {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	return nil
}

func drugIndexKeys(d InteractionDrug) []string {
	var keys []string
	for _, s := range []string{d.GenericName, d.BrandName, d.RxNormCode} {
		if s != "" {
			keys = append(keys, strings.ToLower(s))
		}
	}
	return keys
}

// medIdentifiers returns the lowercase identity strings of a medication.
func medIdentifiers(m Medication) []string {
	var ids []string
	for _, s := range []string{m.GenericName, m.BrandName, m.RxNormCode} {
		if s != "" {
			ids = append(ids, strings.ToLower(s))
		}
	}
	return ids
}

func drugMatchesMed(d InteractionDrug, m Medication) bool {
	for _, k := range drugIndexKeys(d) {
		for _, id := range medIdentifiers(m) {
			if k == id {
				return true
			}
		}
	}
	return false
}

// Lookup finds a direct interaction between two medications. The catalog
// is indexed under both drugs, so argument order never matters.
func (idx *InteractionIndex) Lookup(a, b Medication) *DrugInteraction {
	for _, id := range medIdentifiers(a) {
		for _, rec := range idx.byKey[id] {
			if drugMatchesMed(rec.DrugA, a) && drugMatchesMed(rec.DrugB, b) {
				return rec
			}
			if drugMatchesMed(rec.DrugB, a) && drugMatchesMed(rec.DrugA, b) {
				return rec
			}
		}
	}
	return nil
}

func classMatches(recClass, medClass string) bool {
	if recClass == "" || medClass == "" {
		return false
	}
	rc, mc := strings.ToLower(recClass), strings.ToLower(medClass)
	return strings.Contains(rc, mc) || strings.Contains(mc, rc)
}

// ClassLookup is the fallback when no direct hit exists: match both sides
// by therapeutic-class substring.
func (idx *InteractionIndex) ClassLookup(a, b Medication) *DrugInteraction {
	for _, rec := range idx.all {
		if classMatches(rec.DrugA.TherapeuticClass, a.TherapeuticClass) &&
			classMatches(rec.DrugB.TherapeuticClass, b.TherapeuticClass) {
			return rec
		}
		if classMatches(rec.DrugB.TherapeuticClass, a.TherapeuticClass) &&
			classMatches(rec.DrugA.TherapeuticClass, b.TherapeuticClass) {
			return rec
		}
	}
	return nil
}

// Size reports the number of catalog records.
func (idx *InteractionIndex) Size() int { return len(idx.all) }

// DrugInteractionChecker finds interactions among a medication list.
type DrugInteractionChecker struct {
	idx *InteractionIndex
}

func NewDrugInteractionChecker(idx *InteractionIndex) *DrugInteractionChecker {
	return &DrugInteractionChecker{idx: idx}
}

// CheckInteractions evaluates new-vs-existing and new-vs-new medication
// pairs. Results are de-duplicated by the sorted generic-name pair and
// sorted by severity descending; an unmatched pair simply produces nothing.
func (c *DrugInteractionChecker) CheckInteractions(newMeds, existingMeds []Medication) []DrugInteraction {
	seen := make(map[string]bool)
	var out []DrugInteraction

	check := func(a, b Medication) {
		rec := c.idx.Lookup(a, b)
		if rec == nil {
			rec = c.idx.ClassLookup(a, b)
		}
		if rec == nil {
			return
		}
		key := interactionPairKey(a.GenericName, b.GenericName)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, *rec)
	}

	for _, n := range newMeds {
		for _, e := range existingMeds {
			check(n, e)
		}
	}
	// i<j avoids double-counting within the new list
	for i := 0; i < len(newMeds); i++ {
		for j := i + 1; j < len(newMeds); j++ {
			check(newMeds[i], newMeds[j])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return interactionSeverityRank[out[i].Severity] > interactionSeverityRank[out[j].Severity]
	})
	return out
}

func interactionPairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return a + "||" + b
}
