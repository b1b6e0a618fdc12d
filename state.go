package iudex

import (
	"errors"
	"sync"
	"time"

	"github.com/NicholasJacob1990/iudex/audit"
	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/structfix"
)

// Snapshot is the fully serializable form of the pipeline state. Checkpoints
// embed it verbatim, and restoring a run rebuilds the live state from one.
type Snapshot struct {
	JobID             string              `json:"job_id"`
	RunID             string              `json:"run_id"`
	Stage             Stage               `json:"stage"`
	Request           DraftingRequest     `json:"request"`
	Outline           *Outline            `json:"outline,omitempty"`
	Sections          []ProcessedSection  `json:"sections,omitempty"`
	Document          string              `json:"document,omitempty"`
	DraftsHistory     []DraftVersion      `json:"drafts_history,omitempty"`
	RoutingDecisions  []RoutingDecision   `json:"routing_decisions,omitempty"`
	StructuralFix     *structfix.Result   `json:"structural_fix,omitempty"`
	QualityDecisions  *QualityDecisions   `json:"quality_decisions,omitempty"`
	CitationDecisions *citecheck.Report   `json:"citation_decisions,omitempty"`
	AuditDecisions    *audit.Decision     `json:"audit_decisions,omitempty"`
	AlertDecisions    *AlertDecision      `json:"alert_decisions,omitempty"`
	CitationsMap      map[string]Citation `json:"citations_map,omitempty"`
	HILHistory        []HILInteraction    `json:"hil_history,omitempty"`
	PauseReason       string              `json:"pause_reason,omitempty"`
	TurnCounter       int                 `json:"turn_counter"`
	Error             string              `json:"error,omitempty"`
	StartTime         time.Time           `json:"start_time,omitzero"`
	EndTime           time.Time           `json:"end_time,omitzero"`
}

// PipelineState consolidates all run state into a single structure guarded by
// one mutex. Everything here round-trips through Snapshot for checkpointing.
type PipelineState struct {
	jobID             string
	runID             string
	stage             Stage
	request           DraftingRequest
	outline           *Outline
	sections          []ProcessedSection
	document          string
	draftsHistory     []DraftVersion
	routingDecisions  []RoutingDecision
	structuralFix     *structfix.Result
	qualityDecisions  *QualityDecisions
	citationDecisions *citecheck.Report
	auditDecisions    *audit.Decision
	alertDecisions    *AlertDecision
	citationsMap      map[string]Citation
	hilHistory        []HILInteraction
	pauseReason       string
	turnCounter       int
	err               string
	startTime         time.Time
	endTime           time.Time
	mutex             sync.RWMutex
}

// newPipelineState creates the state for a fresh run.
func newPipelineState(jobID, runID string, request DraftingRequest) *PipelineState {
	citations := make(map[string]Citation, len(request.Citations))
	for key, citation := range request.Citations {
		citations[key] = citation
	}
	return &PipelineState{
		jobID:        jobID,
		runID:        runID,
		stage:        StagePlanning,
		request:      request,
		citationsMap: citations,
	}
}

// JobID returns the job ID.
func (s *PipelineState) JobID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.jobID
}

// RunID returns the run ID.
func (s *PipelineState) RunID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.runID
}

// SetRunID sets the run ID. Rewinds restore a snapshot under a new run ID.
func (s *PipelineState) SetRunID(runID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.runID = runID
}

// Stage returns the current stage.
func (s *PipelineState) Stage() Stage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.stage
}

// Advance moves the run to the given stage, enforcing the transition table.
func (s *PipelineState) Advance(to Stage) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !IsValidTransition(s.stage, to) {
		return NewPipelineError(ErrTypeFatal, errors.New("invalid stage transition")).
			WithDetails("from", string(s.stage)).
			WithDetails("to", string(to))
	}
	s.stage = to
	return nil
}

// Request returns the drafting request that started the run.
func (s *PipelineState) Request() DraftingRequest {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.request
}

// SetOutline records the plan produced by the strategist.
func (s *PipelineState) SetOutline(outline *Outline) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.outline = outline
}

// Outline returns the current plan, or nil before planning completes.
func (s *PipelineState) Outline() *Outline {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.outline
}

// SetSections replaces the per-section work products.
func (s *PipelineState) SetSections(sections []ProcessedSection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sections = copySections(sections)
}

// Sections returns a copy of the per-section work products.
func (s *PipelineState) Sections() []ProcessedSection {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return copySections(s.sections)
}

// UpdateSection applies an update function to the named section, if present.
func (s *PipelineState) UpdateSection(name string, updateFn func(*ProcessedSection)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.sections {
		if s.sections[i].Name == name {
			updateFn(&s.sections[i])
			return
		}
	}
}

// SetDocument records a new version of the full document.
func (s *PipelineState) SetDocument(label, content string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.document = content
	s.draftsHistory = append(s.draftsHistory, DraftVersion{
		Label:     label,
		CharCount: len(content),
		CreatedAt: time.Now(),
	})
}

// Document returns the current full document text.
func (s *PipelineState) Document() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.document
}

// DraftsHistory returns the recorded document versions.
func (s *PipelineState) DraftsHistory() []DraftVersion {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	history := make([]DraftVersion, len(s.draftsHistory))
	copy(history, s.draftsHistory)
	return history
}

// AddRoutingDecision records which model handled a section.
func (s *PipelineState) AddRoutingDecision(decision RoutingDecision) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.routingDecisions = append(s.routingDecisions, decision)
}

// RoutingDecisions returns the recorded routing decisions.
func (s *PipelineState) RoutingDecisions() []RoutingDecision {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	decisions := make([]RoutingDecision, len(s.routingDecisions))
	copy(decisions, s.routingDecisions)
	return decisions
}

// SetStructuralFix records the structural repair result.
func (s *PipelineState) SetStructuralFix(result *structfix.Result) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.structuralFix = result
}

// StructuralFix returns the structural repair result, or nil.
func (s *PipelineState) StructuralFix() *structfix.Result {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.structuralFix
}

// SetQualityDecisions records the quality gate outcome.
func (s *PipelineState) SetQualityDecisions(decisions *QualityDecisions) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.qualityDecisions = decisions
}

// QualityDecisions returns the quality gate outcome, or nil.
func (s *PipelineState) QualityDecisions() *QualityDecisions {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.qualityDecisions
}

// SetCitationDecisions records the citation reconciliation report.
func (s *PipelineState) SetCitationDecisions(report *citecheck.Report) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.citationDecisions = report
}

// CitationDecisions returns the citation report, or nil.
func (s *PipelineState) CitationDecisions() *citecheck.Report {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.citationDecisions
}

// SetAuditDecisions records the audit verdict.
func (s *PipelineState) SetAuditDecisions(decision *audit.Decision) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.auditDecisions = decision
}

// AuditDecisions returns the audit verdict, or nil.
func (s *PipelineState) AuditDecisions() *audit.Decision {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.auditDecisions
}

// SetAlertDecisions records the aggregated risk assessment.
func (s *PipelineState) SetAlertDecisions(decision *AlertDecision) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.alertDecisions = decision
}

// AlertDecisions returns the risk assessment, or nil.
func (s *PipelineState) AlertDecisions() *AlertDecision {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.alertDecisions
}

// CitationsMap returns a copy of the citation metadata keyed by citation key.
func (s *PipelineState) CitationsMap() map[string]Citation {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	citations := make(map[string]Citation, len(s.citationsMap))
	for key, citation := range s.citationsMap {
		citations[key] = citation
	}
	return citations
}

// CitationKeys returns the known citation keys.
func (s *PipelineState) CitationKeys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.citationsMap))
	for key := range s.citationsMap {
		keys = append(keys, key)
	}
	return keys
}

// AddHILInteraction records one human interaction.
func (s *PipelineState) AddHILInteraction(interaction HILInteraction) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.hilHistory = append(s.hilHistory, interaction)
}

// HILHistory returns the recorded human interactions.
func (s *PipelineState) HILHistory() []HILInteraction {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	history := make([]HILInteraction, len(s.hilHistory))
	copy(history, s.hilHistory)
	return history
}

// SetPauseReason records why the run entered the paused stage.
func (s *PipelineState) SetPauseReason(reason string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.pauseReason = reason
}

// PauseReason returns the recorded pause reason.
func (s *PipelineState) PauseReason() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.pauseReason
}

// NextTurnID increments the turn counter and returns the new turn ID.
func (s *PipelineState) NextTurnID() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.turnCounter++
	return s.turnCounter
}

// SetError sets the run error.
func (s *PipelineState) SetError(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err != nil {
		s.err = err.Error()
	} else {
		s.err = ""
	}
}

// GetError returns the current run error.
func (s *PipelineState) GetError() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.err == "" {
		return nil
	}
	return errors.New(s.err)
}

// SetTiming updates the run timing.
func (s *PipelineState) SetTiming(startTime, endTime time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.startTime = startTime
	s.endTime = endTime
}

// StartTime returns the run start time.
func (s *PipelineState) StartTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.startTime
}

// ToSnapshot converts the live state to its serializable form.
func (s *PipelineState) ToSnapshot() *Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	citations := make(map[string]Citation, len(s.citationsMap))
	for key, citation := range s.citationsMap {
		citations[key] = citation
	}
	drafts := make([]DraftVersion, len(s.draftsHistory))
	copy(drafts, s.draftsHistory)
	routing := make([]RoutingDecision, len(s.routingDecisions))
	copy(routing, s.routingDecisions)
	hil := make([]HILInteraction, len(s.hilHistory))
	copy(hil, s.hilHistory)

	return &Snapshot{
		JobID:             s.jobID,
		RunID:             s.runID,
		Stage:             s.stage,
		Request:           s.request,
		Outline:           s.outline,
		Sections:          copySections(s.sections),
		Document:          s.document,
		DraftsHistory:     drafts,
		RoutingDecisions:  routing,
		StructuralFix:     s.structuralFix,
		QualityDecisions:  s.qualityDecisions,
		CitationDecisions: s.citationDecisions,
		AuditDecisions:    s.auditDecisions,
		AlertDecisions:    s.alertDecisions,
		CitationsMap:      citations,
		HILHistory:        hil,
		PauseReason:       s.pauseReason,
		TurnCounter:       s.turnCounter,
		Error:             s.err,
		StartTime:         s.startTime,
		EndTime:           s.endTime,
	}
}

// FromSnapshot restores the live state from its serializable form.
func (s *PipelineState) FromSnapshot(snapshot *Snapshot) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	citations := make(map[string]Citation, len(snapshot.CitationsMap))
	for key, citation := range snapshot.CitationsMap {
		citations[key] = citation
	}
	drafts := make([]DraftVersion, len(snapshot.DraftsHistory))
	copy(drafts, snapshot.DraftsHistory)
	routing := make([]RoutingDecision, len(snapshot.RoutingDecisions))
	copy(routing, snapshot.RoutingDecisions)
	hil := make([]HILInteraction, len(snapshot.HILHistory))
	copy(hil, snapshot.HILHistory)

	s.jobID = snapshot.JobID
	s.runID = snapshot.RunID
	s.stage = snapshot.Stage
	s.request = snapshot.Request
	s.outline = snapshot.Outline
	s.sections = copySections(snapshot.Sections)
	s.document = snapshot.Document
	s.draftsHistory = drafts
	s.routingDecisions = routing
	s.structuralFix = snapshot.StructuralFix
	s.qualityDecisions = snapshot.QualityDecisions
	s.citationDecisions = snapshot.CitationDecisions
	s.auditDecisions = snapshot.AuditDecisions
	s.alertDecisions = snapshot.AlertDecisions
	s.citationsMap = citations
	s.hilHistory = hil
	s.pauseReason = snapshot.PauseReason
	s.turnCounter = snapshot.TurnCounter
	s.err = snapshot.Error
	s.startTime = snapshot.StartTime
	s.endTime = snapshot.EndTime
}

// FinalRecord builds the immutable workflow record for a terminal stage.
func (s *PipelineState) FinalRecord(documentURI string) *WorkflowState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	citations := make(map[string]Citation, len(s.citationsMap))
	for key, citation := range s.citationsMap {
		citations[key] = citation
	}
	drafts := make([]DraftVersion, len(s.draftsHistory))
	copy(drafts, s.draftsHistory)
	routing := make([]RoutingDecision, len(s.routingDecisions))
	copy(routing, s.routingDecisions)
	hil := make([]HILInteraction, len(s.hilHistory))
	copy(hil, s.hilHistory)
	sources := make([]Source, len(s.request.Sources))
	copy(sources, s.request.Sources)

	return &WorkflowState{
		JobID:             s.jobID,
		RunID:             s.runID,
		Status:            statusForStage(s.stage),
		Sources:           sources,
		CitationsMap:      citations,
		DraftsHistory:     drafts,
		RoutingDecisions:  routing,
		AlertDecisions:    s.alertDecisions,
		CitationDecisions: s.citationDecisions,
		AuditDecisions:    s.auditDecisions,
		QualityDecisions:  s.qualityDecisions,
		StructuralFix:     s.structuralFix,
		HILHistory:        hil,
		ProcessedSections: copySections(s.sections),
		DocumentURI:       documentURI,
		Error:             s.err,
		StartTime:         s.startTime,
		EndTime:           s.endTime,
		CreatedAt:         time.Now(),
	}
}

// copySections deep-copies the per-section work products.
func copySections(sections []ProcessedSection) []ProcessedSection {
	if sections == nil {
		return nil
	}
	out := make([]ProcessedSection, len(sections))
	for i, section := range sections {
		out[i] = section
		if section.DraftsByModel != nil {
			drafts := make(map[string]string, len(section.DraftsByModel))
			for model, draft := range section.DraftsByModel {
				drafts[model] = draft
			}
			out[i].DraftsByModel = drafts
		}
		if section.Reviews != nil {
			reviews := make([]ReviewNote, len(section.Reviews))
			copy(reviews, section.Reviews)
			out[i].Reviews = reviews
		}
	}
	return out
}
