// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the trialmatch pipeline:
// the patient profile, candidate trials, eligibility assessments, the
// accumulated run state, and configuration.
package types

// UnknownCondition is the diagnosis recorded when none can be extracted.
const UnknownCondition = "Unknown condition"

// DefaultAge is used when no age can be parsed from text or demographics.
const DefaultAge = 50

// Demographics carries optional structured fields supplied alongside the
// free-text patient description. Non-zero values override extracted ones.
type Demographics struct {
	Age      int    `json:"age,omitempty" yaml:"age,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	Sex      string `json:"sex,omitempty" yaml:"sex,omitempty"`
}

// BloodPressure is a systolic/diastolic pair in mmHg.
type BloodPressure struct {
	Systolic  int `json:"systolic" yaml:"systolic"`
	Diastolic int `json:"diastolic" yaml:"diastolic"`
}

// LabValues is a sparse set of lab results. Nil means not reported.
type LabValues struct {
	HbA1c         *float64       `json:"hba1c,omitempty" yaml:"hba1c,omitempty"`
	EGFR          *float64       `json:"egfr,omitempty" yaml:"egfr,omitempty"`
	Creatinine    *float64       `json:"creatinine,omitempty" yaml:"creatinine,omitempty"`
	Glucose       *float64       `json:"glucose,omitempty" yaml:"glucose,omitempty"`
	Cholesterol   *float64       `json:"cholesterol,omitempty" yaml:"cholesterol,omitempty"`
	BloodPressure *BloodPressure `json:"blood_pressure,omitempty" yaml:"blood_pressure,omitempty"`
}

// IsEmpty reports whether no lab value was recorded.
func (l LabValues) IsEmpty() bool {
	return l.HbA1c == nil && l.EGFR == nil && l.Creatinine == nil &&
		l.Glucose == nil && l.Cholesterol == nil && l.BloodPressure == nil
}

// PatientProfile is the typed clinical profile produced by the extractor.
// It is created once per run and never modified afterwards.
type PatientProfile struct {
	Diagnosis     string `json:"diagnosis" yaml:"diagnosis"`
	DiagnosisCode string `json:"diagnosis_code,omitempty" yaml:"diagnosis_code,omitempty"`
	Age           int    `json:"age" yaml:"age"`
	Sex           string `json:"sex,omitempty" yaml:"sex,omitempty"`

	// Medications keeps source order; duplicates are allowed.
	Medications     []string  `json:"medications" yaml:"medications"`
	Comorbidities   []string  `json:"comorbidities" yaml:"comorbidities"`
	Biomarkers      []string  `json:"biomarkers" yaml:"biomarkers"`
	PriorTreatments []string  `json:"prior_treatments" yaml:"prior_treatments"`
	LabValues       LabValues `json:"lab_values" yaml:"lab_values"`

	Location              string `json:"location,omitempty" yaml:"location,omitempty"`
	Insurance             string `json:"insurance,omitempty" yaml:"insurance,omitempty"`
	RecentHospitalization bool   `json:"recent_hospitalization" yaml:"recent_hospitalization"`
	SmokingHistory        string `json:"smoking_history,omitempty" yaml:"smoking_history,omitempty"`
	PerformanceStatus     string `json:"performance_status,omitempty" yaml:"performance_status,omitempty"`
	ExtractionMethod      string `json:"extraction_method" yaml:"extraction_method"`
}
