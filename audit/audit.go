// Package audit aggregates structural, quality and citation signals into a
// single approval verdict for a generated document.
package audit

import (
	"fmt"
	"strings"

	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/gate"
	"github.com/NicholasJacob1990/iudex/structfix"
)

// Status is the audit verdict.
type Status string

const (
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusNeedsReview Status = "needs_review"
)

// Severity ranks audit issues. Comparison uses Rank.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric ordering of a severity, with unknown values
// treated as info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// Issue is a single audit finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// Decision is the aggregated audit outcome. Non-blocking observations land
// in Notes rather than Issues.
type Decision struct {
	Status Status   `json:"status"`
	Issues []Issue  `json:"issues,omitempty"`
	Notes  []string `json:"notes,omitempty"`
}

// MaxSeverity returns the highest severity among the decision's issues.
func (d Decision) MaxSeverity() Severity {
	max := SeverityInfo
	for _, issue := range d.Issues {
		if issue.Severity.Rank() > max.Rank() {
			max = issue.Severity
		}
	}
	return max
}

// Options configures the audit.
type Options struct {
	// SeverityThreshold is the severity at or above which the document is
	// rejected outright instead of routed to review.
	SeverityThreshold Severity
}

// Evaluate audits a document against its structural fix report, quality
// gate result and citation reconciliation. Missing citations backing legal
// claims reject the document; a quality force_hil routes it to review;
// orphan keys and detection-only findings are annotated without blocking.
func Evaluate(document string, fix structfix.Result, quality gate.Result, citations citecheck.Report, opts Options) Decision {
	if opts.SeverityThreshold.Rank() == 0 {
		opts.SeverityThreshold = SeverityCritical
	}

	decision := Decision{Status: StatusApproved}

	for _, key := range citations.MissingKeys {
		if missingKeyIsLoadBearing(document, key) {
			decision.Issues = append(decision.Issues, Issue{
				Severity: SeverityCritical,
				Code:     "missing_load_bearing_citation",
				Message:  fmt.Sprintf("citation [%s] backs a legal claim but has no entry in the citation map", key),
			})
		} else {
			decision.Issues = append(decision.Issues, Issue{
				Severity: SeverityMajor,
				Code:     "missing_citation",
				Message:  fmt.Sprintf("citation [%s] is referenced but has no entry in the citation map", key),
			})
		}
	}

	if quality.ForceHIL {
		decision.Issues = append(decision.Issues, Issue{
			Severity: SeverityMajor,
			Code:     "quality_gate_hil",
			Message:  "quality gate flagged the document for human review: " + strings.Join(quality.Notes, "; "),
		})
	}
	if quality.SafeMode {
		decision.Issues = append(decision.Issues, Issue{
			Severity: SeverityMinor,
			Code:     "quality_gate_safe_mode",
			Message:  "quality gate entered safe mode: " + strings.Join(quality.Notes, "; "),
		})
	}

	for _, note := range fix.OutOfOrderSections {
		decision.Issues = append(decision.Issues, Issue{
			Severity: SeverityMinor,
			Code:     "out_of_order_section",
			Message:  note,
		})
	}

	for _, key := range citations.OrphanKeys {
		decision.Notes = append(decision.Notes, fmt.Sprintf("citation [%s] is mapped but never referenced", key))
	}
	if fix.TotalChanges() > 0 {
		decision.Notes = append(decision.Notes, fmt.Sprintf("structural fixer applied %d repairs", fix.TotalChanges()))
	}

	switch {
	case decision.MaxSeverity().Rank() >= opts.SeverityThreshold.Rank():
		decision.Status = StatusRejected
	case quality.ForceHIL || decision.MaxSeverity().Rank() >= SeverityMajor.Rank():
		decision.Status = StatusNeedsReview
	default:
		decision.Status = StatusApproved
	}
	return decision
}

// missingKeyIsLoadBearing reports whether the inline marker for a key sits
// in a paragraph that also carries a legal reference, which is the cheapest
// reliable signal that the citation backs a substantive claim.
func missingKeyIsLoadBearing(document, key string) bool {
	marker := "[" + key + "]"
	for _, paragraph := range strings.Split(document, "\n\n") {
		if !strings.Contains(paragraph, marker) {
			continue
		}
		if len(gate.ExtractLegalReferences(paragraph)) > 0 {
			return true
		}
	}
	return false
}
