// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/pdiddy/trialmatch/pkg/types"
)

// Markdown renders the report body.
func Markdown(r types.ClinicalReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Clinical Trial Matching Report\n\n")
	fmt.Fprintf(&b, "Run `%s`, generated %s.\n\n", r.RunID, r.GeneratedAt.Format("2006-01-02 15:04 MST"))

	writeProfile(&b, r.Profile)
	writeSummary(&b, r)
	writeTrials(&b, r.Trials)

	if len(r.Summary.SafetyConcerns) > 0 {
		b.WriteString("## Safety Concerns\n\n")
		for _, c := range r.Summary.SafetyConcerns {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	if len(r.MissingEnrichments) > 0 {
		b.WriteString("## Missing Enrichments\n\n")
		b.WriteString("The following lookups failed; the affected sections are incomplete.\n\n")
		for _, m := range r.MissingEnrichments {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}

	if r.Review != nil && r.Review.Action != "" {
		b.WriteString("## Review\n\n")
		fmt.Fprintf(&b, "- Decision: %s\n", r.Review.Action)
		if r.Review.Reviewer != "" {
			fmt.Fprintf(&b, "- Reviewer: %s\n", r.Review.Reviewer)
		}
		if r.Review.Notes != "" {
			fmt.Fprintf(&b, "- Notes: %s\n", r.Review.Notes)
		}
		for _, id := range r.Review.ExcludedTrials {
			fmt.Fprintf(&b, "- Excluded: %s\n", id)
		}
		b.WriteString("\n")
	}

	writeWorkflow(&b, r.Workflow)
	return b.String()
}

func writeProfile(b *strings.Builder, p types.PatientProfile) {
	b.WriteString("## Patient Summary\n\n| Field | Value |\n|---|---|\n")
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(b, "| %s | %s |\n", k, cell(v))
		}
	}
	diag := p.Diagnosis
	if p.DiagnosisCode != "" {
		diag += " (" + p.DiagnosisCode + ")"
	}
	row("Diagnosis", diag)
	row("Age", fmt.Sprint(p.Age))
	row("Sex", p.Sex)
	row("Medications", strings.Join(p.Medications, ", "))
	row("Comorbidities", strings.Join(p.Comorbidities, ", "))
	row("Biomarkers", strings.Join(p.Biomarkers, ", "))
	row("Prior treatments", strings.Join(p.PriorTreatments, ", "))
	row("Location", p.Location)
	row("Insurance", p.Insurance)
	row("Smoking history", p.SmokingHistory)
	row("Performance status", p.PerformanceStatus)
	if p.RecentHospitalization {
		row("Recent hospitalization", "yes")
	}
	row("Lab values", labs(p.LabValues))
	row("Extraction", p.ExtractionMethod)
	b.WriteString("\n")
}

func labs(l types.LabValues) string {
	var parts []string
	add := func(name string, v *float64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s %g", name, *v))
		}
	}
	add("HbA1c", l.HbA1c)
	add("eGFR", l.EGFR)
	add("creatinine", l.Creatinine)
	add("glucose", l.Glucose)
	add("cholesterol", l.Cholesterol)
	if bp := l.BloodPressure; bp != nil {
		parts = append(parts, fmt.Sprintf("BP %d/%d", bp.Systolic, bp.Diastolic))
	}
	return strings.Join(parts, ", ")
}

func writeSummary(b *strings.Builder, r types.ClinicalReport) {
	s := r.Summary
	b.WriteString("## Eligibility Summary\n\n")
	fmt.Fprintf(b, "%d trial(s) assessed, average score %.2f.\n\n", s.Total, s.AverageScore)
	b.WriteString("| Status | Trials |\n|---|---|\n")
	for _, st := range []types.EligibilityStatus{types.Eligible, types.PotentiallyEligible, types.RequiresReview, types.Ineligible} {
		fmt.Fprintf(b, "| %s | %d |\n", st, s.StatusCounts[st])
	}
	b.WriteString("\n")
	if len(s.TopTrialIDs) > 0 {
		fmt.Fprintf(b, "Top matches: %s\n\n", strings.Join(s.TopTrialIDs, ", "))
	}
}

func writeTrials(b *strings.Builder, trials []types.ReportTrial) {
	b.WriteString("## Trials\n\n")
	if len(trials) == 0 {
		b.WriteString("No candidate trials were found.\n\n")
		return
	}
	for i, rt := range trials {
		t, a := rt.Trial, rt.Assessment
		fmt.Fprintf(b, "### %d. %s\n\n", i+1, t.Title)
		fmt.Fprintf(b, "**%s** (score %.2f)", a.Status, a.Score)
		if a.ReviewerOverride {
			b.WriteString(", set by reviewer")
		}
		b.WriteString("\n\n")

		fmt.Fprintf(b, "- Registry id: [%s](%s)\n", t.ID, t.URL)
		if t.Phase != "" {
			fmt.Fprintf(b, "- Phase: %s\n", t.Phase)
		}
		fmt.Fprintf(b, "- Status: %s\n", t.Status)
		if t.Intervention != "" {
			fmt.Fprintf(b, "- Intervention: %s\n", t.Intervention)
		}
		if t.Synthetic {
			b.WriteString("- Synthetic placeholder; the registry was unavailable\n")
		}
		if rt.DropoutRisk != nil {
			fmt.Fprintf(b, "- Estimated dropout risk: %.0f%%\n", *rt.DropoutRisk*100)
		}
		b.WriteString("\n| Check | Result | Reason |\n|---|---|---|\n")
		check := func(name string, v types.Verdict) {
			fmt.Fprintf(b, "| %s | %s | %s |\n", name, yesNo(v.Eligible), cell(v.Reason))
		}
		check("Age", a.Age)
		check("Location", a.Location.Verdict)
		check("Medication", a.Medication)
		check("Biomarker", a.Biomarker)
		b.WriteString("\n")

		list(b, "Match reasons", t.MatchReasons)
		list(b, "Exclusion conflicts", a.ExclusionConflicts)
		if len(a.DrugInteractions) > 0 {
			b.WriteString("Drug interactions:\n\n")
			for _, di := range a.DrugInteractions {
				with := ""
				if di.InteractsWith != "" {
					with = " with " + di.InteractsWith
				}
				fmt.Fprintf(b, "- %s: %s%s. %s\n", di.Severity, di.Drug, with, di.Description)
			}
			b.WriteString("\n")
		}
		list(b, "Recommendations", a.Recommendations)
		if len(t.Literature) > 0 {
			b.WriteString("Literature:\n\n")
			for _, ref := range t.Literature {
				fmt.Fprintf(b, "- [%s](%s)", ref.Title, ref.URL)
				if ref.Journal != "" {
					fmt.Fprintf(b, ", %s", ref.Journal)
				}
				if ref.PublicationDate != "" {
					fmt.Fprintf(b, " (%s)", ref.PublicationDate)
				}
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}
}

func writeWorkflow(b *strings.Builder, w types.WorkflowMetadata) {
	b.WriteString("## Workflow\n\n| Stage | Outcome | Attempts | Duration |\n|---|---|---|---|\n")
	for _, s := range w.Stages {
		fmt.Fprintf(b, "| %s | %s | %d | %s |\n", s.Name, s.Outcome, s.Attempts, s.Duration)
	}
	fmt.Fprintf(b, "\nTotal stage time %s.", w.TotalDuration)
	if len(w.APICalls) > 0 {
		fmt.Fprintf(b, " Upstream calls: %s.", counts(w.APICalls))
	}
	if len(w.CacheHits) > 0 {
		fmt.Fprintf(b, " Cache hits: %s.", counts(w.CacheHits))
	}
	b.WriteString("\n")
}

func counts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func list(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// HTML converts report Markdown to a standalone HTML document.
func HTML(markdown string) (string, error) {
	var content bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Clinical Trial Matching Report</title>" +
		"<style>body{font-family:sans-serif;max-width:960px;margin:0 auto;padding:1rem;} " +
		"table{border-collapse:collapse;} th,td{border:1px solid #a8a29e;padding:0.3rem 0.5rem;text-align:left;vertical-align:top;}</style>" +
		"</head><body>" + content.String() + "</body></html>", nil
}
