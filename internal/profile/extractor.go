// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package profile turns free-text patient descriptions into a typed
// PatientProfile. The rule-based parser is always used; an LLM completer and
// an ICD-10-CM coder are optional enrichments whose failures are absorbed.
package profile

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/sources"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// Completer fills profile fields the rule pass could not extract.
type Completer interface {
	Complete(ctx context.Context, text string) (types.PatientProfile, error)
}

// Coder resolves a diagnosis to a standardized code.
type Coder interface {
	Code(ctx context.Context, diagnosis string) (sources.DiagnosisCode, error)
}

// Missing-enrichment markers recorded on the run.
const (
	MissingDiagnosisCode = "diagnosis_code"
	MissingLLMExtraction = "llm_extraction"
)

// Extractor runs the rule parser and the optional enrichments.
type Extractor struct {
	completer Completer
	coder     Coder
	logger    *zap.Logger
}

// NewExtractor returns an extractor. completer and coder may be nil.
func NewExtractor(completer Completer, coder Coder, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{completer: completer, coder: coder, logger: logger}
}

// Extract builds the profile for text and demographics. The second return
// lists enrichments that were attempted and failed.
func (e *Extractor) Extract(ctx context.Context, text string, demo *types.Demographics) (types.PatientProfile, []string, error) {
	p, ageKnown, err := parse(text, demo)
	if err != nil {
		return types.PatientProfile{}, nil, err
	}
	var missing []string

	if e.completer != nil && strings.TrimSpace(text) != "" && needsCompletion(p) {
		llm, err := e.completer.Complete(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return types.PatientProfile{}, nil, ctx.Err()
			}
			e.logger.Warn("llm profile completion failed, using rule-based profile",
				zap.String("source", "anthropic"), zap.Error(err))
			missing = append(missing, MissingLLMExtraction)
		} else {
			merge(&p, llm, ageKnown)
			p.ExtractionMethod = MethodRulesLLM
		}
	}

	if e.coder != nil && p.Diagnosis != types.UnknownCondition {
		code, err := e.coder.Code(ctx, p.Diagnosis)
		switch {
		case err != nil && ctx.Err() != nil:
			return types.PatientProfile{}, nil, ctx.Err()
		case err != nil:
			e.logger.Warn("diagnosis coding failed",
				zap.String("source", sources.SourceDiagnosis), zap.String("diagnosis", p.Diagnosis), zap.Error(err))
			missing = append(missing, MissingDiagnosisCode)
		default:
			p.DiagnosisCode = code.Code
		}
	}
	return p, missing, nil
}

func needsCompletion(p types.PatientProfile) bool {
	return p.Diagnosis == types.UnknownCondition || len(p.Medications) == 0 ||
		p.Location == "" || p.Sex == ""
}

// merge copies fields from llm into p only where p is empty. Age is taken
// from llm only when neither the text nor the demographics gave one;
// out-of-range ages are ignored.
func merge(p *types.PatientProfile, llm types.PatientProfile, ageKnown bool) {
	if p.Diagnosis == types.UnknownCondition && strings.TrimSpace(llm.Diagnosis) != "" {
		p.Diagnosis = strings.TrimSpace(llm.Diagnosis)
	}
	if !ageKnown && llm.Age >= 1 && llm.Age <= 120 {
		p.Age = llm.Age
	}
	fillString(&p.Sex, normalizeSex(llm.Sex))
	fillString(&p.Location, llm.Location)
	fillString(&p.Insurance, llm.Insurance)
	fillString(&p.SmokingHistory, llm.SmokingHistory)
	fillString(&p.PerformanceStatus, llm.PerformanceStatus)
	fillList(&p.Medications, llm.Medications)
	fillList(&p.Comorbidities, llm.Comorbidities)
	fillList(&p.Biomarkers, llm.Biomarkers)
	fillList(&p.PriorTreatments, llm.PriorTreatments)
	if p.LabValues.IsEmpty() {
		p.LabValues = llm.LabValues
	}
	p.RecentHospitalization = p.RecentHospitalization || llm.RecentHospitalization
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func fillList(dst *[]string, v []string) {
	if len(*dst) > 0 {
		return
	}
	out := make([]string, 0, len(v))
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}
