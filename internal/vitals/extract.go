package vitals

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// fahrenheitFloor is the threshold above which an unlabeled temperature
// reading is assumed to be Fahrenheit. No survivable body temperature in
// Celsius reaches it.
const fahrenheitFloor = 45.0

// negationWindow is how many tokens before a finding a negation cue may
// sit and still apply to it.
const negationWindow = 4

var (
	tempRe = regexp.MustCompile(`(?i)\b(?:temp(?:erature)?|fever(?:\s+of)?)\s*(?:is|of)?\s*[:=]?\s*(\d{2,3}(?:\.\d+)?)\s*°?\s*([cf])?\b`)
	hrRe   = regexp.MustCompile(`(?i)\b(?:hr|heart\s*rate|pulse)\s*(?:is|of)?\s*[:=]?\s*(\d{1,3})\b`)
	rrRe   = regexp.MustCompile(`(?i)\b(?:rr|resp(?:iratory)?\s*rate|respirations?)\s*(?:is|of)?\s*[:=]?\s*(\d{1,2})\b`)
	spo2Re = regexp.MustCompile(`(?i)\b(?:spo2|o2\s*sat(?:uration)?s?|oxygen\s*saturation|sats?)\s*(?:is|of)?\s*[:=]?\s*(\d{1,3})\s*%?`)
	bpRe   = regexp.MustCompile(`(?i)\b(?:bp|blood\s*pressure)\s*(?:is|of)?\s*[:=]?\s*(\d{2,3})\s*/\s*(\d{2,3})\b`)
	// bareBPRe catches unlabeled SYS/DIA pairs; hits are filtered by
	// physiological plausibility so ratios like "10/10 pain" never match.
	bareBPRe = regexp.MustCompile(`\b(\d{2,3})\s*/\s*(\d{2,3})\b`)
	ageRe    = regexp.MustCompile(`(?i)\b(\d{1,3})[\s-]*(?:year|yr)s?[\s-]*old\b`)
	ageLblRe = regexp.MustCompile(`(?i)\bage\s*[:=]?\s*(\d{1,3})\b`)
	drainRe  = regexp.MustCompile(`(?i)\bdrain(?:age)?(?:\s*output)?\W{0,3}(?:\w+\W{0,3}){0,2}?(\d+(?:\.\d+)?)\s*(?:ml|cc|milliliters?)\b`)

	sentenceRe = regexp.MustCompile(`[.;!?\n]+`)
	tokenRe    = regexp.MustCompile(`[a-z0-9/]+`)
)

// labPatterns anchors each canonical lab name to its label variants.
var labPatterns = map[string]*regexp.Regexp{
	"wbc":        regexp.MustCompile(`(?i)\b(?:wbc|white\s*(?:blood\s*)?cell\s*count|white\s*count)\s*(?:is|of)?\s*[:=]?\s*(\d+(?:\.\d+)?)`),
	"hemoglobin": regexp.MustCompile(`(?i)\b(?:hemoglobin|hgb|hb)\s*(?:is|of)?\s*[:=]?\s*(\d+(?:\.\d+)?)`),
	"creatinine": regexp.MustCompile(`(?i)\b(?:creatinine|creat)\s*(?:is|of)?\s*[:=]?\s*(\d+(?:\.\d+)?)`),
	"lactate":    regexp.MustCompile(`(?i)\blactate\s*(?:is|of)?\s*[:=]?\s*(\d+(?:\.\d+)?)`),
	"platelets":  regexp.MustCompile(`(?i)\b(?:platelets?|plt)\s*(?:count)?\s*(?:is|of)?\s*[:=]?\s*(\d+(?:\.\d+)?)`),
	"troponin":   regexp.MustCompile(`(?i)\btroponin\s*(?:is|of)?\s*[:=]?\s*(\d+(?:\.\d+)?)`),
}

// Extract parses one block of clinical text into a Record. It never
// fails: fields that cannot be parsed are left absent.
func Extract(text string) *Record {
	rec := &Record{Notes: text}
	if strings.TrimSpace(text) == "" {
		return rec
	}

	extractTemperature(text, rec)
	extractSimpleVitals(text, rec)
	extractBloodPressure(text, rec)
	extractAge(text, rec)
	extractLabs(text, rec)
	extractDrains(text, rec)
	extractFindings(text, rec)

	return rec
}

func extractTemperature(text string, rec *Record) {
	m := tempRe.FindStringSubmatch(text)
	if m == nil {
		return
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return
	}
	unit := strings.ToLower(m[2])
	fahrenheit := unit == "f" || (unit == "" && v >= fahrenheitFloor)
	if fahrenheit {
		v = (v - 32.0) * 5.0 / 9.0
	}
	v = math.Round(v*10) / 10
	// discard readings no thermometer would produce
	if v < 25 || v > 46 {
		return
	}
	rec.TemperatureC = &v
}

func extractSimpleVitals(text string, rec *Record) {
	if m := hrRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 20 && v <= 300 {
			rec.HeartRate = &v
		}
	}
	if m := rrRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 4 && v <= 80 {
			rec.RespiratoryRate = &v
		}
	}
	if m := spo2Re.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 40 && v <= 100 {
			rec.SpO2 = &v
		}
	}
}

func extractBloodPressure(text string, rec *Record) {
	m := bpRe.FindStringSubmatch(text)
	if m == nil {
		for _, cand := range bareBPRe.FindAllStringSubmatch(text, -1) {
			if plausibleBP(cand[1], cand[2]) {
				m = cand
				break
			}
		}
	}
	if m == nil {
		return
	}
	sys, err1 := strconv.Atoi(m[1])
	dia, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return
	}
	rec.BloodPressure = &BloodPressure{Systolic: sys, Diastolic: dia}
}

func plausibleBP(sysStr, diaStr string) bool {
	sys, err1 := strconv.Atoi(sysStr)
	dia, err2 := strconv.Atoi(diaStr)
	if err1 != nil || err2 != nil {
		return false
	}
	return sys >= 60 && sys <= 260 && dia >= 30 && dia <= 160 && sys > dia
}

func extractAge(text string, rec *Record) {
	m := ageRe.FindStringSubmatch(text)
	if m == nil {
		m = ageLblRe.FindStringSubmatch(text)
	}
	if m == nil {
		return
	}
	if v, err := strconv.Atoi(m[1]); err == nil && v > 0 && v <= 130 {
		rec.Age = &v
	}
}

func extractLabs(text string, rec *Record) {
	for name, re := range labPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if rec.Labs == nil {
			rec.Labs = make(map[string]float64)
		}
		rec.Labs[name] = v
	}
}

func extractDrains(text string, rec *Record) {
	for _, m := range drainRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			rec.DrainOutputsML = append(rec.DrainOutputsML, v)
		}
	}
}

// extractFindings scans sentence by sentence for symptoms, comorbidities,
// procedures, and medications, applying negation to symptoms only.
// A finding reported as both negated and present keeps the present form.
func extractFindings(text string, rec *Record) {
	found := make(map[string]bool)        // symptom name -> negated
	seenSymptom := make(map[string]bool)  // symptom name seen at all
	seenTag := make(map[string]bool)      // comorbidity/procedure/med dedup

	for _, sentence := range sentenceRe.Split(strings.ToLower(text), -1) {
		for name, phrases := range symptomPhrases {
			for _, phrase := range phrases {
				idx := phraseIndex(sentence, phrase)
				if idx < 0 {
					continue
				}
				negated := negatedBefore(sentence[:idx])
				if !seenSymptom[name] {
					seenSymptom[name] = true
					found[name] = negated
				} else if !negated {
					found[name] = false
				}
			}
		}

		for tag, phrases := range comorbidityPhrases {
			if !seenTag["com:"+tag] && anyPhrase(sentence, phrases) {
				seenTag["com:"+tag] = true
				rec.Comorbidities = append(rec.Comorbidities, tag)
			}
		}
		for tag, phrases := range procedurePhrases {
			if !seenTag["proc:"+tag] && anyPhrase(sentence, phrases) {
				seenTag["proc:"+tag] = true
				rec.Procedures = append(rec.Procedures, tag)
			}
		}
		if !seenTag["med:"+MedAnticoagulant] && anyPhrase(sentence, anticoagulantPhrases) {
			seenTag["med:"+MedAnticoagulant] = true
			rec.Medications = append(rec.Medications, MedAnticoagulant)
		}
		if !seenTag["med:"+MedImmunosuppressant] && anyPhrase(sentence, immunosuppressantPhrases) {
			seenTag["med:"+MedImmunosuppressant] = true
			rec.Medications = append(rec.Medications, MedImmunosuppressant)
		}
	}

	for name, negated := range found {
		rec.Symptoms = append(rec.Symptoms, Symptom{Name: name, Negated: negated})
	}
}

// phraseIndex returns the byte offset of phrase in sentence, matched on
// word boundaries, or -1.
func phraseIndex(sentence, phrase string) int {
	from := 0
	for {
		i := strings.Index(sentence[from:], phrase)
		if i < 0 {
			return -1
		}
		idx := from + i
		end := idx + len(phrase)
		startOK := idx == 0 || !isWordByte(sentence[idx-1])
		endOK := end == len(sentence) || !isWordByte(sentence[end])
		if startOK && endOK {
			return idx
		}
		from = idx + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func anyPhrase(sentence string, phrases []string) bool {
	for _, p := range phrases {
		if phraseIndex(sentence, p) >= 0 {
			return true
		}
	}
	return false
}

// negatedBefore reports whether a negation cue appears within the last
// few tokens of the text preceding a finding.
func negatedBefore(prefix string) bool {
	tokens := tokenRe.FindAllString(prefix, -1)
	start := len(tokens) - negationWindow
	if start < 0 {
		start = 0
	}
	for _, tok := range tokens[start:] {
		if negationCues[tok] {
			return true
		}
	}
	return false
}
