// Package rules computes the deterministic clinical risk score for an
// extracted measurement record. Scoring is a pure function: the same
// record always yields the same score and breakdown, and nothing here
// touches the outside world.
package rules

import (
	"regexp"
	"sort"

	"github.com/linnemanlabs/wardwatch/internal/vitals"
)

// MaxScore is the ceiling the final score clamps to.
const MaxScore = 20

// Label buckets the score for display alongside the rule result. These
// boundaries are distinct from the alert-level boundaries the fusion
// engine applies; the two scales serve different consumers.
type Label string

const (
	LabelLow    Label = "low"
	LabelMedium Label = "medium"
	LabelHigh   Label = "high"
)

// Factor is one scored contribution: a human-readable reason and the
// points it added.
type Factor struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// Result is the outcome of scoring a record. Breakdown is ordered most
// significant first.
type Result struct {
	Score     int      `json:"score"`
	Label     Label    `json:"label"`
	Breakdown []Factor `json:"breakdown"`
}

// redFlagRe matches explicit clinician escalation language. Only the
// first match contributes.
var redFlagRe = regexp.MustCompile(`(?i)\b(unstable|escalate|critical|deteriorating|rapid response|code blue|crashing)\b`)

// Score evaluates all scoring factors against the record. Each factor
// contributes at most once; negated symptoms never contribute.
func Score(r *vitals.Record) Result {
	var fs []Factor
	add := func(reason string, points int) {
		fs = append(fs, Factor{Reason: reason, Points: points})
	}

	scoreAge(r, add)
	scoreProcedures(r, add)
	scoreTemperature(r, add)
	scoreHeartRate(r, add)
	scoreRespiratory(r, add)
	scoreOxygen(r, add)
	scoreBloodPressure(r, add)
	scoreWound(r, add)
	scoreDrains(r, add)
	scoreBleeding(r, add)
	scoreLabs(r, add)
	scoreSepsis(r, add)
	scoreRenal(r, add)
	scoreNeuro(r, add)
	scorePain(r, add)
	scoreCardiac(r, add)
	scoreComorbidities(r, add)
	scoreHematology(r, add)
	scoreImmune(r, add)
	scoreRedFlags(r, add)

	total := 0
	for _, f := range fs {
		total += f.Points
	}
	if total > MaxScore {
		total = MaxScore
	}

	// most significant first; evaluation order breaks ties
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Points > fs[j].Points })

	return Result{Score: total, Label: labelFor(total), Breakdown: fs}
}

func labelFor(score int) Label {
	switch {
	case score >= 10:
		return LabelHigh
	case score >= 4:
		return LabelMedium
	default:
		return LabelLow
	}
}

func scoreAge(r *vitals.Record, add func(string, int)) {
	if r.Age == nil {
		return
	}
	switch age := *r.Age; {
	case age >= 85:
		add("age 85 or older", 3)
	case age >= 75:
		add("age 75-84", 2)
	case age >= 65:
		add("age 65-74", 1)
	}
}

func scoreProcedures(r *vitals.Record, add func(string, int)) {
	if len(r.Procedures) > 0 {
		add("recent high-risk procedure ("+r.Procedures[0]+")", 3)
	}
}

func scoreTemperature(r *vitals.Record, add func(string, int)) {
	if r.TemperatureC == nil {
		return
	}
	switch t := *r.TemperatureC; {
	case t >= 39:
		add("high fever >=39C", 4)
	case t >= 38:
		add("fever 38-38.9C", 2)
	}
}

func scoreHeartRate(r *vitals.Record, add func(string, int)) {
	if r.HeartRate == nil {
		return
	}
	switch hr := *r.HeartRate; {
	case hr >= 130:
		add("severe tachycardia HR >=130", 3)
	case hr >= 110:
		add("tachycardia HR 110-129", 2)
	case hr < 50:
		add("bradycardia HR <50", 2)
	}
}

func scoreRespiratory(r *vitals.Record, add func(string, int)) {
	if r.RespiratoryRate != nil {
		switch rr := *r.RespiratoryRate; {
		case rr >= 30:
			add("severe tachypnea RR >=30", 3)
		case rr >= 24:
			add("tachypnea RR 24-29", 1)
		}
	}
	if r.HasSymptom(vitals.SymptomRespiratory) {
		add("respiratory distress symptoms", 3)
	}
}

func scoreOxygen(r *vitals.Record, add func(string, int)) {
	if r.SpO2 == nil {
		return
	}
	switch s := *r.SpO2; {
	case s < 90:
		add("hypoxia SpO2 <90%", 4)
	case s <= 93:
		add("low oxygen saturation 90-93%", 2)
	}
}

func scoreBloodPressure(r *vitals.Record, add func(string, int)) {
	if r.BloodPressure == nil {
		return
	}
	bp := r.BloodPressure
	switch {
	case bp.Systolic <= 80 || bp.Systolic >= 180:
		add("critical systolic blood pressure", 3)
	case bp.Diastolic >= 110:
		add("elevated diastolic blood pressure >=110", 2)
	}
}

func scoreWound(r *vitals.Record, add func(string, int)) {
	if r.HasSymptom(vitals.SymptomWoundConcern) {
		add("wound or surgical site concern", 3)
	}
}

func scoreDrains(r *vitals.Record, add func(string, int)) {
	for _, ml := range r.DrainOutputsML {
		if ml >= 200 {
			add("high drain output >=200mL", 2)
			return
		}
	}
}

func scoreBleeding(r *vitals.Record, add func(string, int)) {
	bleeding := r.HasSymptom(vitals.SymptomBleeding)
	if bleeding {
		add("active bleeding", 4)
	}
	if r.HasMedication(vitals.MedAnticoagulant) {
		if bleeding {
			add("anticoagulant use with bleeding", 2)
		} else {
			add("anticoagulant or antiplatelet use", 1)
		}
	}
}

func scoreLabs(r *vitals.Record, add func(string, int)) {
	if wbc, ok := r.Lab("wbc"); ok {
		switch {
		case wbc >= 15:
			add("marked leukocytosis WBC >=15", 3)
		case wbc >= 11:
			add("leukocytosis WBC 11-14.9", 1)
		case wbc < 4:
			add("leukopenia WBC <4", 1)
		}
	}
	if lac, ok := r.Lab("lactate"); ok {
		switch {
		case lac >= 4:
			add("severe lactic acidosis lactate >=4", 4)
		case lac >= 2:
			add("elevated lactate 2-3.9", 2)
		}
	}
}

// scoreSepsis adds a flat composite contribution when enough independent
// infection signals line up at once.
func scoreSepsis(r *vitals.Record, add func(string, int)) {
	signals := 0
	if r.TemperatureC != nil && *r.TemperatureC >= 38 {
		signals++
	}
	if wbc, ok := r.Lab("wbc"); ok && wbc >= 11 {
		signals++
	}
	if r.HeartRate != nil && *r.HeartRate >= 90 {
		signals++
	}
	if r.RespiratoryRate != nil && *r.RespiratoryRate >= 22 {
		signals++
	}
	if r.SpO2 != nil && *r.SpO2 < 94 {
		signals++
	}
	if signals >= 3 {
		add("sepsis suspicion (multiple concurrent signals)", 5)
	}
}

func scoreRenal(r *vitals.Record, add func(string, int)) {
	if cr, ok := r.Lab("creatinine"); ok {
		switch {
		case cr >= 2.0:
			add("marked creatinine elevation >=2.0", 3)
		case cr >= 1.5:
			add("creatinine elevation 1.5-1.99", 1)
		}
	}
	if r.HasSymptom(vitals.SymptomOliguria) {
		add("oliguria or acute kidney injury", 3)
	}
}

func scoreNeuro(r *vitals.Record, add func(string, int)) {
	if r.HasSymptom(vitals.SymptomAlteredMental) {
		add("altered mental status", 4)
	}
}

func scorePain(r *vitals.Record, add func(string, int)) {
	if r.HasSymptom(vitals.SymptomSeverePain) {
		add("uncontrolled severe pain", 2)
	}
}

func scoreCardiac(r *vitals.Record, add func(string, int)) {
	_, troponin := r.Lab("troponin")
	if troponin || r.HasSymptom(vitals.SymptomChestPain) {
		add("cardiac ischemia signal", 4)
	}
	if r.HasSymptom(vitals.SymptomArrhythmia) {
		add("arrhythmia symptoms", 2)
	}
}

func scoreComorbidities(r *vitals.Record, add func(string, int)) {
	switch n := len(r.Comorbidities); {
	case n >= 2:
		add("multiple major comorbidities", 2)
	case n == 1:
		add("major comorbidity ("+r.Comorbidities[0]+")", 1)
	}
}

func scoreHematology(r *vitals.Record, add func(string, int)) {
	if hgb, ok := r.Lab("hemoglobin"); ok {
		switch {
		case hgb < 7:
			add("severe anemia hemoglobin <7", 4)
		case hgb < 9:
			add("moderate anemia hemoglobin 7-8.9", 2)
		}
	}
	if plt, ok := r.Lab("platelets"); ok && plt < 50 {
		add("thrombocytopenia platelets <50k", 3)
	}
}

func scoreImmune(r *vitals.Record, add func(string, int)) {
	if r.HasMedication(vitals.MedImmunosuppressant) {
		add("immunosuppressant or steroid use", 1)
	}
}

func scoreRedFlags(r *vitals.Record, add func(string, int)) {
	if m := redFlagRe.FindString(r.Notes); m != "" {
		add("clinician red flag: \""+m+"\"", 5)
	}
}
