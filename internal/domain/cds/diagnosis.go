package cds

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SeedDiagnosisGuidelines is the built-in guideline table. Patterns are
// exact ICD-10 codes, wildcards (E11.*), or code prefixes.
func SeedDiagnosisGuidelines() []DiagnosisGuideline {
	return []DiagnosisGuideline{
		{ID: "guid-dm-a1c", ICDPattern: "E11.*", Category: GuidelineMonitoring,
			Title:          "Hemoglobin A1c monitoring",
			Recommendation: "Check HbA1c to assess glycemic control.",
			TestFrequency:  "3 months"},
		{ID: "guid-dm-retinal", ICDPattern: "E11.*", Category: GuidelineTesting,
			Title:          "Diabetic retinal exam",
			Recommendation: "Dilated retinal exam to screen for diabetic retinopathy.",
			TestFrequency:  "annually"},
		{ID: "guid-dm-statin", ICDPattern: "E11.*", Category: GuidelineMedication,
			Title:          "Statin therapy in diabetes",
			Recommendation: "Moderate- or high-intensity statin for patients with diabetes aged 40-75."},
		{ID: "guid-htn-bp", ICDPattern: "I10", Category: GuidelineMonitoring,
			Title:          "Blood pressure monitoring",
			Recommendation: "Reassess blood pressure control.",
			TestFrequency:  "6 months"},
		{ID: "guid-lipid-panel", ICDPattern: "E78.*", Category: GuidelineMonitoring,
			Title:          "Lipid panel",
			Recommendation: "Repeat fasting lipid panel to assess therapy response.",
			TestFrequency:  "annually"},
		{ID: "guid-ckd-renal", ICDPattern: "N18", Category: GuidelineMonitoring,
			Title:          "Renal function panel",
			Recommendation: "Monitor eGFR and urine albumin-creatinine ratio.",
			TestFrequency:  "3 months"},
		{ID: "guid-cad-antiplatelet", ICDPattern: "I25", Category: GuidelineMedication,
			Title:          "Antiplatelet therapy in coronary disease",
			Recommendation: "Low-dose aspirin or P2Y12 inhibitor unless contraindicated."},
		{ID: "guid-af-anticoag", ICDPattern: "I48", Category: GuidelineMedication,
			Title:          "Anticoagulation in atrial fibrillation",
			Recommendation: "Assess stroke risk (CHA2DS2-VASc) and anticoagulate when indicated."},
		{ID: "guid-hf-followup", ICDPattern: "I50", Category: GuidelineFollowUp,
			Title:          "Heart failure follow-up",
			Recommendation: "Cardiology follow-up with volume status and weight review."},
		{ID: "guid-copd-smoking", ICDPattern: "J44", Category: GuidelineLifestyle,
			Title:          "Smoking cessation counseling",
			Recommendation: "Offer cessation counseling and pharmacotherapy at every visit."},
		{ID: "guid-osteoporosis-dexa", ICDPattern: "M81.*", Category: GuidelineTesting,
			Title:          "Bone density testing",
			Recommendation: "DEXA scan to monitor bone density on therapy.",
			TestFrequency:  "2 years"},
	}
}

// DiagnosisAlertGenerator matches active diagnoses against the guideline
// table and runs the age/gender preventive-care screen.
type DiagnosisAlertGenerator struct {
	guidelines []DiagnosisGuideline
	wildcards  map[string]*regexp.Regexp
	now        func() time.Time
}

// NewDiagnosisAlertGenerator validates the guideline table and precompiles
// wildcard patterns. Malformed guidelines fail fast at startup.
func NewDiagnosisAlertGenerator(guidelines []DiagnosisGuideline) (*DiagnosisAlertGenerator, error) {
	g := &DiagnosisAlertGenerator{
		guidelines: guidelines,
		wildcards:  make(map[string]*regexp.Regexp),
		now:        time.Now,
	}
	for i, gl := range guidelines {
		if gl.ID == "" || gl.ICDPattern == "" || gl.Title == "" {
			return nil, fmt.Errorf("guideline %d (%s): id, icd pattern and title are required", i, gl.ID)
		}
		switch gl.Category {
		case GuidelineMonitoring, GuidelineMedication, GuidelinePreventive,
			GuidelineFollowUp, GuidelineLifestyle, GuidelineTesting:
		default:
			return nil, fmt.Errorf("guideline %d (%s): unknown category %q", i, gl.ID, gl.Category)
		}
		if strings.Contains(gl.ICDPattern, "*") {
			re, err := compileICDPattern(gl.ICDPattern)
			if err != nil {
				return nil, fmt.Errorf("guideline %d (%s): %w", i, gl.ID, err)
			}
			g.wildcards[gl.ID] = re
		}
	}
	return g, nil
}

func compileICDPattern(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	expr := "^" + strings.ReplaceAll(quoted, `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("bad icd pattern %q: %w", pattern, err)
	}
	return re, nil
}

// GenerateAlerts evaluates guidelines against ACTIVE diagnoses only.
// Matching tiers (exact code, wildcard pattern, code prefix) are unioned:
// a guideline fires if any tier matches. Category decides suppression:
// MEDICATION guidelines fire unless the patient is already on
// guideline-directed therapy, MONITORING/TESTING fire unless a recent
// matching lab exists, everything else always fires.
func (g *DiagnosisAlertGenerator) GenerateAlerts(diagnoses []Diagnosis, ctx ClinicalContext) []DiagnosisAlert {
	var out []DiagnosisAlert
	fired := make(map[string]bool)

	for _, dx := range diagnoses {
		if dx.Status != DiagnosisActive {
			continue
		}
		for _, gl := range g.guidelines {
			if !g.patternMatches(gl, dx.ICDCode) {
				continue
			}
			key := gl.ID + "|" + dx.ICDCode
			if fired[key] {
				continue
			}
			if g.suppressed(gl, ctx) {
				continue
			}
			fired[key] = true
			out = append(out, DiagnosisAlert{
				GuidelineID:    gl.ID,
				DiagnosisCode:  dx.ICDCode,
				Category:       gl.Category,
				Title:          gl.Title,
				Recommendation: gl.Recommendation,
			})
		}
	}
	return out
}

func (g *DiagnosisAlertGenerator) patternMatches(gl DiagnosisGuideline, code string) bool {
	if code == "" {
		return false
	}
	if strings.EqualFold(gl.ICDPattern, code) {
		return true
	}
	if re, ok := g.wildcards[gl.ID]; ok && re.MatchString(code) {
		return true
	}
	return strings.HasPrefix(code, gl.ICDPattern)
}

func (g *DiagnosisAlertGenerator) suppressed(gl DiagnosisGuideline, ctx ClinicalContext) bool {
	switch gl.Category {
	case GuidelineMedication:
		return g.onGuidelineTherapy(gl, ctx)
	case GuidelineMonitoring, GuidelineTesting:
		return g.hasRecentMatchingLab(gl, ctx.RecentLabs)
	default:
		return false
	}
}

// onGuidelineTherapy judges whether the patient is already on the therapy
// a MEDICATION guideline directs. Without a structured therapy mapping it
// always answers no, so MEDICATION guidelines currently always fire.
// TODO: map guideline ids to RxNorm therapy classes once the formulary
// service exposes them.
func (g *DiagnosisAlertGenerator) onGuidelineTherapy(DiagnosisGuideline, ClinicalContext) bool {
	return false
}

func (g *DiagnosisAlertGenerator) hasRecentMatchingLab(gl DiagnosisGuideline, labs []LabResult) bool {
	window := parseFrequencyWindow(gl.TestFrequency)
	cutoff := g.now().Add(-window)
	for _, lab := range labs {
		if lab.CollectedAt.Before(cutoff) {
			continue
		}
		if labMatchesGuideline(gl.Title, lab.Name) {
			return true
		}
	}
	return false
}

// labMatchesGuideline is a keyword match between guideline title and lab
// name: any significant word shared in either direction counts.
func labMatchesGuideline(title, labName string) bool {
	t := strings.ToLower(title)
	l := strings.ToLower(labName)
	for _, word := range strings.Fields(l) {
		if len(word) > 3 && strings.Contains(t, word) {
			return true
		}
	}
	for _, word := range strings.Fields(t) {
		if len(word) > 3 && strings.Contains(l, word) {
			return true
		}
	}
	return false
}

var frequencyNumber = regexp.MustCompile(`\d+`)

// parseFrequencyWindow turns a free-text frequency ("3 months",
// "annually") into a recency window. Unparseable input falls back to 180
// days rather than failing: a bad frequency string must never abort an
// evaluation.
func parseFrequencyWindow(freq string) time.Duration {
	const day = 24 * time.Hour
	f := strings.ToLower(strings.TrimSpace(freq))
	if f == "" {
		return 180 * day
	}

	n := 1
	if m := frequencyNumber.FindString(f); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v > 0 {
			n = v
		}
	}

	switch {
	case strings.Contains(f, "day"):
		return time.Duration(n) * day
	case strings.Contains(f, "week"):
		return time.Duration(n) * 7 * day
	case strings.Contains(f, "month"):
		return time.Duration(n) * 30 * day
	case strings.Contains(f, "year"), strings.Contains(f, "annual"):
		return time.Duration(n) * 365 * day
	default:
		return 180 * day
	}
}

// GeneratePreventiveAlerts runs the age/gender preventive-care screen
// independently of diagnosis matching.
func (g *DiagnosisAlertGenerator) GeneratePreventiveAlerts(ctx ClinicalContext) []DiagnosisAlert {
	if ctx.AgeYears == nil {
		return nil
	}
	age := *ctx.AgeYears
	female := isFemale(ctx.Gender)

	var out []DiagnosisAlert
	if age >= 45 && age <= 75 {
		out = append(out, DiagnosisAlert{
			GuidelineID:    "prev-colorectal",
			Category:       GuidelinePreventive,
			Title:          "Colorectal cancer screening",
			Recommendation: "Screening colonoscopy every 10 years or annual FIT for ages 45-75.",
		})
	}
	if female && age >= 40 && age <= 74 {
		out = append(out, DiagnosisAlert{
			GuidelineID:    "prev-mammography",
			Category:       GuidelinePreventive,
			Title:          "Mammography screening",
			Recommendation: "Screening mammogram every 1-2 years for women 40-74.",
		})
	}
	if female && age >= 65 {
		out = append(out, DiagnosisAlert{
			GuidelineID:    "prev-dexa",
			Category:       GuidelinePreventive,
			Title:          "Osteoporosis screening",
			Recommendation: "DEXA bone density scan for women 65 and older.",
		})
	}
	return out
}

func isFemale(gender string) bool {
	g := strings.ToLower(strings.TrimSpace(gender))
	return g == "female" || g == "f"
}
