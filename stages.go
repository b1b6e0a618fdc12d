package iudex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/NicholasJacob1990/iudex/audit"
	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/gate"
)

// executeStage runs one stage and returns the stage to advance into.
func (e *Engine) executeStage(ctx context.Context, r *run, stage Stage) (Stage, error) {
	switch stage {
	case StagePlanning:
		return e.stagePlanning(ctx, r)
	case StageDrafting:
		return e.stageDrafting(ctx, r)
	case StageReviewing:
		return e.stageReviewing(ctx, r)
	case StageMerging:
		return e.stageMerging(ctx, r)
	case StageStructuralFix:
		return e.stageStructuralFix(ctx, r)
	case StageQualityGate:
		return e.stageQualityGate(ctx, r)
	case StageAudit:
		return e.stageAudit(ctx, r)
	case StageFinalizing:
		return e.stageFinalizing(ctx, r)
	default:
		return "", NewPipelineError(ErrTypeFatal, fmt.Errorf("no handler for stage %q", stage))
	}
}

// stagePlanning asks the strategist for an outline. The response must be a
// strict JSON object; anything else fails the run rather than being guessed
// at.
func (e *Engine) stagePlanning(ctx context.Context, r *run) (Stage, error) {
	request := r.state.Request()
	prompt, err := e.prompts.planPrompt(ctx, request)
	if err != nil {
		return "", err
	}

	response, err := e.callModel(ctx, r, e.config.Models.Strategist, "strategist", string(StagePlanning), "", GenerateRequest{
		Prompt:  prompt,
		Context: map[string]any{"role": "plan"},
	})
	if err != nil {
		return "", err
	}

	outline, err := decodeOutline(response.Content)
	if err != nil {
		return "", err
	}
	r.state.SetOutline(outline)

	sections := make([]ProcessedSection, len(outline.Sections))
	for i, section := range outline.Sections {
		sections[i] = ProcessedSection{Name: section.Name}
	}
	r.state.SetSections(sections)

	return StageDrafting, nil
}

// decodeOutline parses the strategist's JSON response, failing closed on
// unknown fields, trailing content or an empty section list.
func decodeOutline(content string) (*Outline, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(content))))
	decoder.DisallowUnknownFields()

	var outline Outline
	if err := decoder.Decode(&outline); err != nil {
		return nil, NewPipelineError(ErrTypeParse, fmt.Errorf("invalid outline JSON: %w", err))
	}
	if decoder.More() {
		return nil, NewPipelineError(ErrTypeParse, fmt.Errorf("trailing content after outline JSON"))
	}
	if len(outline.Sections) == 0 {
		return nil, NewPipelineError(ErrTypeParse, fmt.Errorf("outline has no sections"))
	}
	seen := map[string]bool{}
	for _, section := range outline.Sections {
		if section.Name == "" {
			return nil, NewPipelineError(ErrTypeParse, fmt.Errorf("outline section missing name"))
		}
		if seen[section.Name] {
			return nil, NewPipelineError(ErrTypeParse, fmt.Errorf("duplicate outline section %q", section.Name))
		}
		seen[section.Name] = true
	}
	return &outline, nil
}

// stageDrafting has every configured drafter draft every section in
// parallel, then routes each section to its primary model.
func (e *Engine) stageDrafting(ctx context.Context, r *run) (Stage, error) {
	request := r.state.Request()
	outline := r.state.Outline()
	if outline == nil {
		return "", NewPipelineError(ErrTypeFatal, fmt.Errorf("drafting started without an outline"))
	}

	type draftResult struct {
		section string
		model   string
		content string
	}
	results := make([]draftResult, 0, len(outline.Sections)*len(e.config.Models.Drafters))
	resultCh := make(chan draftResult, len(outline.Sections)*len(e.config.Models.Drafters))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, section := range outline.Sections {
		section := section
		for _, model := range e.config.Models.Drafters {
			model := model
			group.Go(func() error {
				prompt, err := e.prompts.draftPrompt(groupCtx, request, section)
				if err != nil {
					return err
				}
				response, err := e.callModel(groupCtx, r, model, "drafter", string(StageDrafting), section.Name, GenerateRequest{
					Prompt: prompt,
					Context: map[string]any{
						"role":    "draft",
						"section": section.Name,
					},
				})
				if err != nil {
					return err
				}
				resultCh <- draftResult{section: section.Name, model: model, content: response.Content}
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return "", err
	}
	close(resultCh)
	for result := range resultCh {
		results = append(results, result)
	}

	// Pick the primary draft per section and record the routing decision
	for _, section := range outline.Sections {
		model, rationale, err := e.router.Route(ctx, section)
		if err != nil {
			return "", err
		}
		decision := RoutingDecision{Section: section.Name, Model: model, Rationale: rationale}
		r.state.AddRoutingDecision(decision)

		drafts := map[string]string{}
		for _, result := range results {
			if result.section == section.Name {
				drafts[result.model] = result.content
			}
		}
		r.state.UpdateSection(section.Name, func(s *ProcessedSection) {
			s.DraftsByModel = drafts
		})
	}

	return StageReviewing, nil
}

// primaryDraft returns the routed model's draft for a section, falling back
// to any available draft when the routed model produced none.
func primaryDraft(section ProcessedSection, decisions []RoutingDecision) string {
	for _, decision := range decisions {
		if decision.Section == section.Name {
			if draft, ok := section.DraftsByModel[decision.Model]; ok {
				return draft
			}
		}
	}
	for _, draft := range section.DraftsByModel {
		return draft
	}
	return ""
}

// stageReviewing fans reviews of each section's primary draft out across the
// configured reviewers, then scores reviewer agreement.
func (e *Engine) stageReviewing(ctx context.Context, r *run) (Stage, error) {
	request := r.state.Request()
	sections := r.state.Sections()
	decisions := r.state.RoutingDecisions()
	divergenceThreshold := e.config.Thresholds.ReviewDivergence

	if len(e.config.Models.Reviewers) == 0 {
		// No reviewers configured; sections pass through unreviewed
		return StageMerging, nil
	}

	type reviewResult struct {
		section string
		note    ReviewNote
	}
	resultCh := make(chan reviewResult, len(sections)*len(e.config.Models.Reviewers))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, section := range sections {
		section := section
		draft := primaryDraft(section, decisions)
		for _, reviewer := range e.config.Models.Reviewers {
			reviewer := reviewer
			group.Go(func() error {
				prompt, err := e.prompts.reviewPrompt(groupCtx, request, section.Name, draft)
				if err != nil {
					return err
				}
				response, err := e.callModel(groupCtx, r, reviewer, "reviewer", string(StageReviewing), section.Name, GenerateRequest{
					Prompt: prompt,
					Context: map[string]any{
						"role":    "review",
						"section": section.Name,
					},
				})
				if err != nil {
					return err
				}
				resultCh <- reviewResult{
					section: section.Name,
					note:    ReviewNote{Reviewer: reviewer, Content: response.Content},
				}
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return "", err
	}
	close(resultCh)

	reviewsBySection := map[string][]ReviewNote{}
	for result := range resultCh {
		reviewsBySection[result.section] = append(reviewsBySection[result.section], result.note)
	}

	for _, section := range sections {
		reviews := reviewsBySection[section.Name]
		agreement := reviewAgreement(reviews)
		divergent := (1.0 - agreement) > divergenceThreshold
		r.state.UpdateSection(section.Name, func(s *ProcessedSection) {
			s.Reviews = reviews
			s.Agreement = agreement
			s.Divergent = divergent
		})
		if divergent {
			e.logger.Warn("reviewers diverge on section",
				"job_id", r.state.JobID(),
				"section", section.Name,
				"agreement", agreement)
		}
	}

	return StageMerging, nil
}

// stageMerging folds reviewer feedback into each section, then assembles the
// full document in outline order.
func (e *Engine) stageMerging(ctx context.Context, r *run) (Stage, error) {
	outline := r.state.Outline()
	if outline == nil {
		return "", NewPipelineError(ErrTypeFatal, fmt.Errorf("merging started without an outline"))
	}
	sections := r.state.Sections()
	decisions := r.state.RoutingDecisions()

	sectionsByName := map[string]ProcessedSection{}
	for _, section := range sections {
		sectionsByName[section.Name] = section
	}

	for _, planned := range outline.Sections {
		section := sectionsByName[planned.Name]
		draft := primaryDraft(section, decisions)

		merged := draft
		if e.config.Models.Merger != "" && len(section.Reviews) > 0 {
			prompt, err := e.prompts.mergePrompt(ctx, section.Name, draft, section.Reviews)
			if err != nil {
				return "", err
			}
			response, err := e.callModel(ctx, r, e.config.Models.Merger, "merger", string(StageMerging), section.Name, GenerateRequest{
				Prompt: prompt,
				Context: map[string]any{
					"role":    "merge",
					"section": section.Name,
				},
			})
			if err != nil {
				return "", err
			}
			merged = response.Content
		}
		r.state.UpdateSection(planned.Name, func(s *ProcessedSection) {
			s.Merged = merged
		})
	}

	// Assemble the document in outline order
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", outline.Title)
	merged := r.state.Sections()
	mergedByName := map[string]ProcessedSection{}
	for _, section := range merged {
		mergedByName[section.Name] = section
	}
	for _, planned := range outline.Sections {
		section := mergedByName[planned.Name]
		text := strings.TrimSpace(section.Merged)
		if text == "" {
			continue
		}
		if !strings.HasPrefix(text, "#") {
			fmt.Fprintf(&b, "## %s\n\n", planned.Name)
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	r.state.SetDocument("merged", strings.TrimRight(b.String(), "\n")+"\n")

	return StageStructuralFix, nil
}

// stageStructuralFix runs the deterministic repair passes on the document.
func (e *Engine) stageStructuralFix(ctx context.Context, r *run) (Stage, error) {
	result, fixed := e.fixer.Fix(r.state.Document())
	r.state.SetStructuralFix(&result)
	if result.TotalChanges() > 0 {
		r.state.SetDocument("structural_fix", fixed)
	}
	return StageQualityGate, nil
}

// referenceInput assembles the text whose legal references the output is
// expected to preserve.
func referenceInput(request DraftingRequest) string {
	var b strings.Builder
	b.WriteString(request.Instructions)
	b.WriteString("\n")
	for _, source := range request.Sources {
		b.WriteString(source.Excerpt)
		b.WriteString("\n")
	}
	return b.String()
}

// stageQualityGate evaluates the document against the gate thresholds. A
// force-HIL outcome parks the run; safe mode alone is recorded and passes
// through for the audit to weigh.
func (e *Engine) stageQualityGate(ctx context.Context, r *run) (Stage, error) {
	request := r.state.Request()
	document := r.state.Document()
	input := referenceInput(request)

	overall := e.gate.Evaluate(input, document)

	sectionResults := map[string]gate.Result{}
	for _, section := range r.state.Sections() {
		if section.Merged == "" {
			continue
		}
		sectionResults[section.Name] = e.gate.Evaluate(input, section.Merged)
	}

	decisions := &QualityDecisions{
		Passed:            overall.Passed,
		CompressionRatio:  overall.CompressionRatio,
		ReferenceCoverage: overall.ReferenceCoverage,
		MissingReferences: overall.MissingReferences,
		SafeMode:          overall.SafeMode,
		ForceHIL:          overall.ForceHIL,
		Sections:          sectionResults,
	}
	r.state.SetQualityDecisions(decisions)

	if overall.ForceHIL {
		r.state.SetPauseReason(fmt.Sprintf(
			"quality gate forced review: coverage %.2f, %d missing references",
			overall.ReferenceCoverage, len(overall.MissingReferences)))
		return StageHILPaused, nil
	}
	return StageAudit, nil
}

// severityThreshold maps the configured severity name to the audit's type.
func severityThreshold(name string) audit.Severity {
	switch name {
	case "minor":
		return audit.SeverityMinor
	case "major":
		return audit.SeverityMajor
	case "critical":
		return audit.SeverityCritical
	default:
		return audit.SeverityCritical
	}
}

// stageAudit reconciles citations and renders the audit verdict. Anything
// short of approval parks the run for human review.
func (e *Engine) stageAudit(ctx context.Context, r *run) (Stage, error) {
	document := r.state.Document()

	citations := citecheck.Validate(document, r.state.CitationKeys())
	r.state.SetCitationDecisions(&citations)

	var fix = r.state.StructuralFix()
	var quality = r.state.QualityDecisions()
	if fix == nil || quality == nil {
		return "", NewPipelineError(ErrTypeFatal, fmt.Errorf("audit started before structural fix and quality gate"))
	}
	gateResult := gate.Result{
		Passed:            quality.Passed,
		CompressionRatio:  quality.CompressionRatio,
		ReferenceCoverage: quality.ReferenceCoverage,
		MissingReferences: quality.MissingReferences,
		SafeMode:          quality.SafeMode,
		ForceHIL:          quality.ForceHIL,
	}

	decision := audit.Evaluate(document, *fix, gateResult, citations, audit.Options{
		SeverityThreshold: severityThreshold(e.config.Thresholds.AuditSeverity),
	})
	r.state.SetAuditDecisions(&decision)
	r.state.SetAlertDecisions(buildAlertDecision(decision, quality, r.state.Sections()))

	if decision.Status != audit.StatusApproved {
		r.state.SetPauseReason(fmt.Sprintf("audit verdict: %s (%d issues)", decision.Status, len(decision.Issues)))
		return StageHILPaused, nil
	}
	return StageFinalizing, nil
}

// buildAlertDecision folds the audit issues, gate flags and reviewer
// divergence into a single risk assessment.
func buildAlertDecision(decision audit.Decision, quality *QualityDecisions, sections []ProcessedSection) *AlertDecision {
	var score float64
	var reasons []string

	for _, issue := range decision.Issues {
		score += 0.15 * float64(issue.Severity.Rank())
		reasons = append(reasons, fmt.Sprintf("%s: %s", issue.Severity, issue.Code))
	}
	if quality.SafeMode {
		score += 0.2
		reasons = append(reasons, "quality gate safe mode")
	}
	if quality.ForceHIL {
		score += 0.3
		reasons = append(reasons, "quality gate forced review")
	}
	for _, section := range sections {
		if section.Divergent {
			score += 0.1
			reasons = append(reasons, fmt.Sprintf("reviewers diverge on %q", section.Name))
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	level := "low"
	switch {
	case score >= 0.7:
		level = "high"
	case score >= 0.35:
		level = "medium"
	}
	return &AlertDecision{RiskScore: score, Level: level, Reasons: reasons}
}

// stageFinalizing stores the document and records its URI for the final
// record.
func (e *Engine) stageFinalizing(ctx context.Context, r *run) (Stage, error) {
	document := r.state.Document()
	if document == "" {
		return "", NewPipelineError(ErrTypeFatal, fmt.Errorf("finalizing started without a document"))
	}
	uri, err := e.documents.Put(ctx, document)
	if err != nil {
		return "", fmt.Errorf("failed to store final document: %w", err)
	}
	r.documentURI = uri
	r.state.SetDocument("final", document)
	return StageDone, nil
}
