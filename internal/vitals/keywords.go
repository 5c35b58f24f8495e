package vitals

// Canonical symptom names produced by the extractor. The rules package
// keys its scoring factors on these.
const (
	SymptomRespiratory   = "respiratory_distress"
	SymptomWoundConcern  = "wound_concern"
	SymptomBleeding      = "bleeding"
	SymptomOliguria      = "oliguria"
	SymptomAlteredMental = "altered_mental_status"
	SymptomSeverePain    = "severe_pain"
	SymptomChestPain     = "chest_pain"
	SymptomArrhythmia    = "arrhythmia"
	SymptomNausea        = "nausea"
	SymptomDizziness     = "dizziness"
)

// Medication tags produced by the extractor.
const (
	MedAnticoagulant     = "anticoagulant"
	MedImmunosuppressant = "immunosuppressant"
)

// symptomPhrases maps canonical symptom names to the phrases that signal
// them. Phrases are matched case-insensitively as whole words, longest
// phrase first within a sentence.
var symptomPhrases = map[string][]string{
	SymptomRespiratory: {
		"shortness of breath", "short of breath", "difficulty breathing",
		"labored breathing", "dyspnea", "respiratory distress", "wheezing",
		"gasping",
	},
	SymptomWoundConcern: {
		"wound redness", "wound drainage", "wound infection", "wound dehiscence",
		"surgical site redness", "surgical site infection", "incision site",
		"pus", "wound opening", "dehiscence",
	},
	SymptomBleeding: {
		"uncontrolled bleeding", "active bleeding", "bleeding", "hemorrhage",
		"blood in stool", "blood in urine", "coughing up blood", "hematemesis",
		"melena",
	},
	SymptomOliguria: {
		"no urine output", "decreased urine output", "low urine output",
		"oliguria", "anuria", "acute kidney injury", "not urinating",
	},
	SymptomAlteredMental: {
		"altered mental status", "confusion", "confused", "disoriented",
		"unresponsive", "lethargic", "obtunded", "hard to wake",
	},
	SymptomSeverePain: {
		"uncontrolled pain", "severe pain", "unbearable pain", "worst pain",
		"10/10 pain", "pain not controlled",
	},
	SymptomChestPain: {
		"chest pain", "chest pressure", "chest tightness", "crushing chest",
	},
	SymptomArrhythmia: {
		"irregular heartbeat", "irregular heart rate", "palpitations",
		"arrhythmia", "heart racing", "skipped beats",
	},
	SymptomNausea: {
		"nausea", "vomiting", "nauseous", "throwing up",
	},
	SymptomDizziness: {
		"dizziness", "dizzy", "lightheaded", "light-headed", "syncope",
		"fainted", "passed out",
	},
}

// comorbidityPhrases maps major comorbidity tags to trigger phrases.
var comorbidityPhrases = map[string][]string{
	"diabetes":       {"diabetes", "diabetic", "type 2 dm", "type 1 dm", "t2dm", "t1dm"},
	"heart_failure":  {"heart failure", "chf", "cardiomyopathy"},
	"copd":           {"copd", "emphysema", "chronic bronchitis"},
	"kidney_disease": {"chronic kidney disease", "ckd", "dialysis", "esrd", "renal failure"},
	"cancer":         {"cancer", "malignancy", "lymphoma", "leukemia", "metastatic"},
	"liver_disease":  {"cirrhosis", "liver failure", "hepatic failure"},
	"stroke":         {"stroke", "cva", "tia"},
}

// procedurePhrases maps procedure tags to trigger phrases. All listed
// procedures are the high-risk set the scorer cares about.
var procedurePhrases = map[string][]string{
	"cardiac_surgery":  {"cabg", "cardiac surgery", "open heart surgery", "valve replacement"},
	"transplant":       {"transplant"},
	"major_abdominal":  {"whipple", "bowel resection", "colectomy", "esophagectomy", "hepatectomy"},
	"neurosurgery":     {"craniotomy", "brain surgery", "spinal fusion"},
	"vascular_surgery": {"aneurysm repair", "aortic repair", "bypass graft"},
}

// anticoagulantPhrases and immunosuppressantPhrases map medication
// mentions to their tags.
var anticoagulantPhrases = []string{
	"warfarin", "coumadin", "heparin", "enoxaparin", "lovenox", "apixaban",
	"eliquis", "rivaroxaban", "xarelto", "dabigatran", "clopidogrel",
	"plavix", "ticagrelor", "aspirin", "anticoagulant", "blood thinner",
}

var immunosuppressantPhrases = []string{
	"prednisone", "prednisolone", "dexamethasone", "steroid", "steroids",
	"tacrolimus", "cyclosporine", "methotrexate", "azathioprine",
	"chemotherapy", "chemo", "immunosuppressant",
}

// negationCues mark a nearby finding as ruled out rather than present.
var negationCues = map[string]bool{
	"no":       true,
	"not":      true,
	"denies":   true,
	"denied":   true,
	"without":  true,
	"absent":   true,
	"resolved": true,
	"stable":   true,
	"negative": true,
}
