package iudex

import (
	"github.com/NicholasJacob1990/iudex/report"
)

// BuildReport derives the document quality report from a final run record.
func BuildReport(state *WorkflowState) *report.Report {
	in := report.Input{
		JobID:       state.JobID,
		RunID:       state.RunID,
		Status:      string(state.Status),
		DocumentURI: state.DocumentURI,
		DraftCount:  len(state.DraftsHistory),
	}
	if state.StructuralFix != nil {
		in.Fix = *state.StructuralFix
	}
	if state.QualityDecisions != nil {
		quality := state.QualityDecisions
		in.Quality.Passed = quality.Passed
		in.Quality.CompressionRatio = quality.CompressionRatio
		in.Quality.ReferenceCoverage = quality.ReferenceCoverage
		in.Quality.MissingReferences = quality.MissingReferences
		in.Quality.SafeMode = quality.SafeMode
		in.Quality.ForceHIL = quality.ForceHIL
	}
	if state.CitationDecisions != nil {
		in.Citations = *state.CitationDecisions
	}
	if state.AuditDecisions != nil {
		in.Audit = *state.AuditDecisions
	}
	if state.AlertDecisions != nil {
		in.Alerts = state.AlertDecisions.Reasons
	}

	modelBySection := map[string]string{}
	for _, decision := range state.RoutingDecisions {
		modelBySection[decision.Section] = decision.Model
		in.Routing = append(in.Routing, report.ModelChoice{
			Section:   decision.Section,
			Model:     decision.Model,
			Rationale: decision.Rationale,
		})
	}
	for _, section := range state.ProcessedSections {
		summary := report.SectionSummary{
			Name:      section.Name,
			Model:     modelBySection[section.Name],
			Divergent: section.Divergent,
			Agreement: section.Agreement,
		}
		if state.QualityDecisions != nil {
			summary.Quality = state.QualityDecisions.Sections[section.Name]
		}
		in.Sections = append(in.Sections, summary)
	}
	for _, interaction := range state.HILHistory {
		in.HIL = append(in.HIL, report.HILEvent{
			At:           interaction.At,
			Actor:        interaction.Actor,
			Action:       interaction.Action,
			EditedField:  interaction.EditedField,
			ResumedStage: string(interaction.ResumedStage),
		})
	}
	return report.Build(in)
}
