package cds

// SeedInteractions is the built-in drug-drug interaction catalog, used when
// no catalog rows exist in the database. Severity reflects published
// interaction compendia; narratives are abbreviated.
func SeedInteractions() []DrugInteraction {
	return []DrugInteraction{
		{
			ID:    "int-warfarin-nsaids",
			DrugA: InteractionDrug{GenericName: "warfarin", BrandName: "coumadin", RxNormCode: "11289", TherapeuticClass: "anticoagulant"},
			DrugB: InteractionDrug{GenericName: "ibuprofen", BrandName: "advil", RxNormCode: "5640", TherapeuticClass: "nsaid"},
			Severity:       InteractionMajor,
			Description:    "Warfarin with NSAIDs increases bleeding risk.",
			ClinicalEffect: "Additive anticoagulant effect and GI mucosal injury.",
			Management:     "Avoid combination; if unavoidable use lowest NSAID dose and monitor INR closely.",
			Monitoring:     "INR, signs of GI bleeding",
		},
		{
			ID:    "int-warfarin-aspirin",
			DrugA: InteractionDrug{GenericName: "warfarin", BrandName: "coumadin", RxNormCode: "11289", TherapeuticClass: "anticoagulant"},
			DrugB: InteractionDrug{GenericName: "aspirin", RxNormCode: "1191", TherapeuticClass: "antiplatelet"},
			Severity:       InteractionMajor,
			Description:    "Warfarin with aspirin markedly increases bleeding risk.",
			ClinicalEffect: "Combined anticoagulant and antiplatelet effect.",
			Management:     "Combination generally reserved for specific indications; monitor INR and bleeding.",
			Monitoring:     "INR, hemoglobin",
		},
		{
			ID:    "int-ssri-maoi",
			DrugA: InteractionDrug{GenericName: "sertraline", BrandName: "zoloft", RxNormCode: "36437", TherapeuticClass: "ssri"},
			DrugB: InteractionDrug{GenericName: "phenelzine", BrandName: "nardil", RxNormCode: "8123", TherapeuticClass: "maoi"},
			Severity:       InteractionContraindicated,
			Description:    "SSRIs with MAO inhibitors risk serotonin syndrome.",
			ClinicalEffect: "Hyperthermia, rigidity, autonomic instability.",
			Management:     "Contraindicated. Allow a 14-day washout between agents.",
		},
		{
			ID:    "int-sildenafil-nitrates",
			DrugA: InteractionDrug{GenericName: "sildenafil", BrandName: "viagra", RxNormCode: "136411", TherapeuticClass: "pde5-inhibitor"},
			DrugB: InteractionDrug{GenericName: "nitroglycerin", RxNormCode: "4917", TherapeuticClass: "nitrate"},
			Severity:       InteractionContraindicated,
			Description:    "PDE5 inhibitors with nitrates cause profound hypotension.",
			ClinicalEffect: "Severe, potentially fatal drop in blood pressure.",
			Management:     "Contraindicated. Separate administration by at least 24 hours.",
		},
		{
			ID:    "int-methotrexate-trimethoprim",
			DrugA: InteractionDrug{GenericName: "methotrexate", RxNormCode: "6851", TherapeuticClass: "antimetabolite"},
			DrugB: InteractionDrug{GenericName: "trimethoprim", BrandName: "bactrim", RxNormCode: "10829", TherapeuticClass: "folate-antagonist antibiotic"},
			Severity:       InteractionMajor,
			Description:    "Additive folate antagonism with methotrexate.",
			ClinicalEffect: "Bone marrow suppression, pancytopenia.",
			Management:     "Avoid combination; use alternative antibiotic.",
			Monitoring:     "CBC weekly if unavoidable",
		},
		{
			ID:    "int-simvastatin-clarithromycin",
			DrugA: InteractionDrug{GenericName: "simvastatin", BrandName: "zocor", RxNormCode: "36567", TherapeuticClass: "statin"},
			DrugB: InteractionDrug{GenericName: "clarithromycin", BrandName: "biaxin", RxNormCode: "21212", TherapeuticClass: "macrolide antibiotic"},
			Severity:       InteractionMajor,
			Description:    "CYP3A4 inhibition raises statin exposure.",
			ClinicalEffect: "Myopathy and rhabdomyolysis risk.",
			Management:     "Suspend statin during macrolide course or use azithromycin.",
			Monitoring:     "CK, muscle symptoms",
		},
		{
			ID:    "int-digoxin-amiodarone",
			DrugA: InteractionDrug{GenericName: "digoxin", BrandName: "lanoxin", RxNormCode: "3407", TherapeuticClass: "cardiac glycoside"},
			DrugB: InteractionDrug{GenericName: "amiodarone", BrandName: "cordarone", RxNormCode: "703", TherapeuticClass: "antiarrhythmic"},
			Severity:       InteractionMajor,
			Description:    "Amiodarone raises digoxin levels.",
			ClinicalEffect: "Digoxin toxicity: arrhythmia, nausea, visual changes.",
			Management:     "Reduce digoxin dose by 30-50% when starting amiodarone.",
			Monitoring:     "Digoxin level, ECG",
		},
		{
			ID:    "int-ace-potassium-sparing",
			DrugA: InteractionDrug{GenericName: "lisinopril", BrandName: "zestril", RxNormCode: "29046", TherapeuticClass: "ace-inhibitor"},
			DrugB: InteractionDrug{GenericName: "spironolactone", BrandName: "aldactone", RxNormCode: "9997", TherapeuticClass: "potassium-sparing diuretic"},
			Severity:       InteractionModerate,
			Description:    "ACE inhibitors with potassium-sparing diuretics raise serum potassium.",
			ClinicalEffect: "Hyperkalemia.",
			Management:     "Monitor potassium and renal function; adjust dosing.",
			Monitoring:     "Serum potassium, creatinine",
		},
		{
			ID:    "int-tramadol-ssri",
			DrugA: InteractionDrug{GenericName: "tramadol", BrandName: "ultram", RxNormCode: "10689", TherapeuticClass: "opioid analgesic"},
			DrugB: InteractionDrug{GenericName: "sertraline", BrandName: "zoloft", RxNormCode: "36437", TherapeuticClass: "ssri"},
			Severity:       InteractionModerate,
			Description:    "Tramadol with SSRIs lowers seizure threshold and adds serotonergic load.",
			ClinicalEffect: "Seizure and serotonin syndrome risk.",
			Management:     "Prefer non-serotonergic analgesic; counsel on warning symptoms.",
		},
		{
			ID:    "int-levothyroxine-calcium",
			DrugA: InteractionDrug{GenericName: "levothyroxine", BrandName: "synthroid", RxNormCode: "10582", TherapeuticClass: "thyroid hormone"},
			DrugB: InteractionDrug{GenericName: "calcium carbonate", BrandName: "tums", RxNormCode: "1897", TherapeuticClass: "antacid"},
			Severity:       InteractionMinor,
			Description:    "Calcium reduces levothyroxine absorption.",
			ClinicalEffect: "Reduced thyroid hormone levels.",
			Management:     "Separate administration by at least 4 hours.",
			Monitoring:     "TSH",
		},
	}
}
