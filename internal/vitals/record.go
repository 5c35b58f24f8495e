// Package vitals extracts structured clinical measurements from free text.
// Extraction is best-effort and lexical: anything that cannot be parsed is
// simply absent from the record, and extraction itself never fails.
package vitals

// BloodPressure is a single systolic/diastolic reading in mmHg.
type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// Symptom is a clinical finding mentioned in the text. Negated findings
// are retained so callers can see what was ruled out, but they must never
// count toward scoring.
type Symptom struct {
	Name    string `json:"name"`
	Negated bool   `json:"negated"`
}

// Record is the structured measurement set extracted from one block of
// text. Numeric fields are pointers so "absent" and "zero" stay distinct.
// Temperature is always stored in Celsius, post unit conversion.
type Record struct {
	Age             *int               `json:"age,omitempty"`
	TemperatureC    *float64           `json:"temperature_c,omitempty"`
	HeartRate       *int               `json:"heart_rate,omitempty"`
	RespiratoryRate *int               `json:"respiratory_rate,omitempty"`
	BloodPressure   *BloodPressure     `json:"blood_pressure,omitempty"`
	SpO2            *int               `json:"spo2,omitempty"`
	Labs            map[string]float64 `json:"labs,omitempty"`
	Symptoms        []Symptom          `json:"symptoms,omitempty"`
	Comorbidities   []string           `json:"comorbidities,omitempty"`
	Procedures      []string           `json:"procedures,omitempty"`
	DrainOutputsML  []float64          `json:"drain_outputs_ml,omitempty"`
	Medications     []string           `json:"medications,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

// HasSymptom reports whether a non-negated symptom with the given name
// was extracted.
func (r *Record) HasSymptom(name string) bool {
	for _, s := range r.Symptoms {
		if s.Name == name && !s.Negated {
			return true
		}
	}
	return false
}

// Lab returns the named lab value if present.
func (r *Record) Lab(name string) (float64, bool) {
	v, ok := r.Labs[name]
	return v, ok
}

// HasMedication reports whether a medication tag was extracted.
func (r *Record) HasMedication(tag string) bool {
	for _, m := range r.Medications {
		if m == tag {
			return true
		}
	}
	return false
}
