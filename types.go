package iudex

import (
	"time"

	"github.com/NicholasJacob1990/iudex/audit"
	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/gate"
	"github.com/NicholasJacob1990/iudex/structfix"
)

// Source is one piece of retrieved evidence supporting the draft.
type Source struct {
	ID      string  `json:"id" yaml:"id"`
	Title   string  `json:"title" yaml:"title"`
	Link    string  `json:"link,omitempty" yaml:"link,omitempty"`
	Excerpt string  `json:"excerpt" yaml:"excerpt"`
	Score   float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// Citation is the metadata behind one citation key.
type Citation struct {
	Key       string `json:"key" yaml:"key"`
	Title     string `json:"title" yaml:"title"`
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`
	Link      string `json:"link,omitempty" yaml:"link,omitempty"`
	SourceID  string `json:"source_id,omitempty" yaml:"source_id,omitempty"`
}

// DraftingRequest is the input that starts a run.
type DraftingRequest struct {
	Title        string              `json:"title" yaml:"title"`
	Instructions string              `json:"instructions" yaml:"instructions"`
	Sources      []Source            `json:"sources,omitempty" yaml:"sources,omitempty"`
	Citations    map[string]Citation `json:"citations,omitempty" yaml:"citations,omitempty"`
}

// OutlineSection is one planned section of the document.
type OutlineSection struct {
	Name       string   `json:"name"`
	Brief      string   `json:"brief,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Outline is the strategist's plan for the document.
type Outline struct {
	Title    string           `json:"title"`
	Sections []OutlineSection `json:"sections"`
}

// DraftVersion records one version of the full document.
type DraftVersion struct {
	Label     string    `json:"label"`
	Content   string    `json:"content,omitempty"`
	CharCount int       `json:"char_count"`
	CreatedAt time.Time `json:"created_at"`
}

// RoutingDecision records which model was chosen for a section and why.
type RoutingDecision struct {
	Section   string `json:"section"`
	Model     string `json:"model"`
	Rationale string `json:"rationale,omitempty"`
}

// AlertDecision is the aggregated risk assessment for a run.
type AlertDecision struct {
	RiskScore float64  `json:"risk_score"`
	Level     string   `json:"level"`
	Reasons   []string `json:"reasons,omitempty"`
}

// QualityDecisions folds the per-section gate results into the run record.
type QualityDecisions struct {
	Passed            bool                   `json:"passed"`
	CompressionRatio  float64                `json:"compression_ratio"`
	ReferenceCoverage float64                `json:"reference_coverage"`
	MissingReferences []string               `json:"missing_references,omitempty"`
	SafeMode          bool                   `json:"safe_mode"`
	ForceHIL          bool                   `json:"force_hil"`
	Sections          map[string]gate.Result `json:"sections,omitempty"`
}

// ReviewNote is one reviewer's feedback on one section draft.
type ReviewNote struct {
	Reviewer string `json:"reviewer"`
	Content  string `json:"content"`
}

// ProcessedSection carries the per-section work products: the competing
// drafts keyed by model, reviewer notes, the merged text and the divergence
// signal between reviewers.
type ProcessedSection struct {
	Name          string            `json:"name"`
	DraftsByModel map[string]string `json:"drafts_by_model,omitempty"`
	Reviews       []ReviewNote      `json:"reviews,omitempty"`
	Merged        string            `json:"merged,omitempty"`
	Agreement     float64           `json:"agreement"`
	Divergent     bool              `json:"divergent"`
}

// HumanDecision is the action delivered to a run paused for human review.
type HumanDecision struct {
	Actor         string `json:"actor"`
	Action        string `json:"action"` // resume, edit, reject
	EditedField   string `json:"edited_field,omitempty"`
	EditedContent string `json:"edited_content,omitempty"`
	TurnID        string `json:"turn_id,omitempty"`
	Note          string `json:"note,omitempty"`
}

const (
	HILActionResume = "resume"
	HILActionEdit   = "edit"
	HILActionReject = "reject"
)

// HILInteraction is one recorded human interaction.
type HILInteraction struct {
	At            time.Time `json:"at"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	EditedField   string    `json:"edited_field,omitempty"`
	EditedContent string    `json:"edited_content,omitempty"`
	ResumedStage  Stage     `json:"resumed_stage,omitempty"`
	TurnID        string    `json:"turn_id,omitempty"`
	Note          string    `json:"note,omitempty"`
}

// WorkflowState is the immutable record written exactly once when a run
// reaches a terminal stage. One exists per run; a job rewound into a new run
// accumulates one per run.
type WorkflowState struct {
	JobID             string              `json:"job_id"`
	RunID             string              `json:"run_id"`
	Status            RunStatus           `json:"status"`
	Sources           []Source            `json:"sources,omitempty"`
	CitationsMap      map[string]Citation `json:"citations_map,omitempty"`
	DraftsHistory     []DraftVersion      `json:"drafts_history,omitempty"`
	RoutingDecisions  []RoutingDecision   `json:"routing_decisions,omitempty"`
	AlertDecisions    *AlertDecision      `json:"alert_decisions,omitempty"`
	CitationDecisions *citecheck.Report   `json:"citation_decisions,omitempty"`
	AuditDecisions    *audit.Decision     `json:"audit_decisions,omitempty"`
	QualityDecisions  *QualityDecisions   `json:"quality_decisions,omitempty"`
	StructuralFix     *structfix.Result   `json:"structural_fix,omitempty"`
	HILHistory        []HILInteraction    `json:"hil_history,omitempty"`
	ProcessedSections []ProcessedSection  `json:"processed_sections,omitempty"`
	DocumentURI       string              `json:"document_uri,omitempty"`
	Error             string              `json:"error,omitempty"`
	StartTime         time.Time           `json:"start_time,omitzero"`
	EndTime           time.Time           `json:"end_time,omitzero"`
	CreatedAt         time.Time           `json:"created_at"`
}
