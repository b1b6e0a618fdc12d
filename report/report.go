// Package report builds the document quality report produced at the end of
// a pipeline run: one human-readable markdown rendering and one
// machine-readable JSON structure over the same data. A report is derived
// from the run's recorded decisions and never mutated after creation.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NicholasJacob1990/iudex/audit"
	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/gate"
	"github.com/NicholasJacob1990/iudex/structfix"
)

// ModelChoice records which model drafted a section and why.
type ModelChoice struct {
	Section   string `json:"section"`
	Model     string `json:"model"`
	Rationale string `json:"rationale,omitempty"`
}

// HILEvent summarizes one human interaction during the run.
type HILEvent struct {
	At           time.Time `json:"at"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	EditedField  string    `json:"edited_field,omitempty"`
	ResumedStage string    `json:"resumed_stage,omitempty"`
}

// SectionSummary captures per-section quality signals.
type SectionSummary struct {
	Name      string      `json:"name"`
	Model     string      `json:"model,omitempty"`
	Divergent bool        `json:"divergent"`
	Agreement float64     `json:"agreement"`
	Quality   gate.Result `json:"quality"`
}

// Input aggregates everything the builder needs from a finished run.
type Input struct {
	JobID       string           `json:"job_id"`
	RunID       string           `json:"run_id"`
	Status      string           `json:"status"`
	DocumentURI string           `json:"document_uri,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	DraftCount  int              `json:"draft_count"`
	Sections    []SectionSummary `json:"sections,omitempty"`
	Fix         structfix.Result `json:"structural_fix"`
	Quality     gate.Result      `json:"quality"`
	Citations   citecheck.Report `json:"citations"`
	Audit       audit.Decision   `json:"audit"`
	Routing     []ModelChoice    `json:"routing,omitempty"`
	HIL         []HILEvent       `json:"hil,omitempty"`
	Alerts      []string         `json:"alerts,omitempty"`
}

// Report is the finished document quality report.
type Report struct {
	Input
}

// Build assembles the report from run decisions.
func Build(in Input) *Report {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}
	return &Report{Input: in}
}

// JSON returns the machine-readable rendering.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r.Input, "", "  ")
}

// Markdown returns the human-readable rendering.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Document Quality Report\n\n")
	fmt.Fprintf(&b, "- Job: `%s`\n", r.JobID)
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Status)
	fmt.Fprintf(&b, "- Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	if r.DocumentURI != "" {
		fmt.Fprintf(&b, "- Document: %s\n", r.DocumentURI)
	}
	fmt.Fprintf(&b, "- Draft versions: %d\n", r.DraftCount)

	fmt.Fprintf(&b, "\n## Audit\n\n")
	fmt.Fprintf(&b, "Verdict: **%s**\n", r.Audit.Status)
	if len(r.Audit.Issues) > 0 {
		b.WriteString("\n| Severity | Code | Message |\n|---|---|---|\n")
		for _, issue := range r.Audit.Issues {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", issue.Severity, issue.Code, issue.Message)
		}
	}
	for _, note := range r.Audit.Notes {
		fmt.Fprintf(&b, "- %s\n", note)
	}

	fmt.Fprintf(&b, "\n## Quality Gate\n\n")
	fmt.Fprintf(&b, "- Passed: %t\n", r.Quality.Passed)
	fmt.Fprintf(&b, "- Compression ratio: %.2f\n", r.Quality.CompressionRatio)
	fmt.Fprintf(&b, "- Reference coverage: %.2f\n", r.Quality.ReferenceCoverage)
	if len(r.Quality.MissingReferences) > 0 {
		fmt.Fprintf(&b, "- Missing references: %s\n", strings.Join(r.Quality.MissingReferences, "; "))
	}
	if r.Quality.SafeMode {
		b.WriteString("- Safe mode engaged\n")
	}
	if r.Quality.ForceHIL {
		b.WriteString("- Human review forced\n")
	}

	fmt.Fprintf(&b, "\n## Structural Fixes\n\n")
	fmt.Fprintf(&b, "- Duplicates removed: %d\n", r.Fix.DuplicatesRemoved)
	fmt.Fprintf(&b, "- Headings normalized: %d\n", r.Fix.HeadingsNormalized)
	fmt.Fprintf(&b, "- Artifacts cleaned: %d\n", r.Fix.ArtifactsCleaned)
	fmt.Fprintf(&b, "- Lists repaired: %d\n", r.Fix.ListsRepaired)
	for _, note := range r.Fix.OutOfOrderSections {
		fmt.Fprintf(&b, "- Detected: %s\n", note)
	}

	fmt.Fprintf(&b, "\n## Citations\n\n")
	fmt.Fprintf(&b, "- Used: %s\n", keysOrNone(r.Citations.UsedKeys))
	fmt.Fprintf(&b, "- Missing: %s\n", keysOrNone(r.Citations.MissingKeys))
	fmt.Fprintf(&b, "- Orphans: %s\n", keysOrNone(r.Citations.OrphanKeys))

	if len(r.Sections) > 0 {
		fmt.Fprintf(&b, "\n## Sections\n\n")
		b.WriteString("| Section | Model | Agreement | Divergent | Gate |\n|---|---|---|---|---|\n")
		for _, s := range r.Sections {
			fmt.Fprintf(&b, "| %s | %s | %.2f | %t | %s |\n",
				s.Name, s.Model, s.Agreement, s.Divergent, passLabel(s.Quality.Passed))
		}
	}

	if len(r.Routing) > 0 {
		fmt.Fprintf(&b, "\n## Model Routing\n\n")
		for _, choice := range r.Routing {
			fmt.Fprintf(&b, "- %s → %s (%s)\n", choice.Section, choice.Model, choice.Rationale)
		}
	}

	if len(r.HIL) > 0 {
		fmt.Fprintf(&b, "\n## Human Interactions\n\n")
		for _, event := range r.HIL {
			fmt.Fprintf(&b, "- %s: %s by %s", event.At.Format(time.RFC3339), event.Action, event.Actor)
			if event.ResumedStage != "" {
				fmt.Fprintf(&b, " (resumed at %s)", event.ResumedStage)
			}
			b.WriteString("\n")
		}
	}

	if len(r.Alerts) > 0 {
		fmt.Fprintf(&b, "\n## Alerts\n\n")
		for _, alert := range r.Alerts {
			fmt.Fprintf(&b, "- %s\n", alert)
		}
	}

	return b.String()
}

func keysOrNone(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	return "[" + strings.Join(keys, "] [") + "]"
}

func passLabel(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
