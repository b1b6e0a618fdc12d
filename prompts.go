package iudex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/NicholasJacob1990/iudex/script"
)

// Default prompt templates. Expressions inside ${...} are evaluated against
// the "request" and "section" globals at call time.
const (
	planPromptTemplate = `Plan the structure of a legal document titled "${request.title}".

Instructions:
${request.instructions}

Available sources:
${request.sources}

Respond with a JSON object only, no prose, in this exact shape:
{"title": "...", "sections": [{"name": "...", "brief": "...", "complexity": "low|medium|high", "tags": ["..."]}]}`

	draftPromptTemplate = `Draft the section "${section.name}" of the legal document "${request.title}".

Section brief:
${section.brief}

Instructions:
${request.instructions}

Available sources:
${request.sources}

Cite sources inline using bracketed numeric keys, e.g. [1]. Use only the keys listed above. Write the section body in Markdown, starting with a level-2 heading.`

	reviewPromptTemplate = `Review the following draft of the section "${section.name}".

Draft:
${section.draft}

Instructions the draft must follow:
${request.instructions}

List concrete problems: missing legal references, unsupported claims, structural issues. Be terse.`

	mergePromptTemplate = `Merge the draft of the section "${section.name}" with the reviewer feedback below into a final version.

Draft:
${section.draft}

Reviewer feedback:
${section.reviews}

Keep every legal reference and citation key from the draft. Return only the revised section body in Markdown.`
)

// promptSet holds the compiled prompt templates.
type promptSet struct {
	plan   *script.Template
	draft  *script.Template
	review *script.Template
	merge  *script.Template
}

func newPromptSet(compiler script.Compiler) (*promptSet, error) {
	plan, err := script.NewTemplate(compiler, planPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plan prompt: %w", err)
	}
	draft, err := script.NewTemplate(compiler, draftPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to compile draft prompt: %w", err)
	}
	review, err := script.NewTemplate(compiler, reviewPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to compile review prompt: %w", err)
	}
	merge, err := script.NewTemplate(compiler, mergePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to compile merge prompt: %w", err)
	}
	return &promptSet{plan: plan, draft: draft, review: review, merge: merge}, nil
}

// formatSources renders the sources and citation keys for prompt inclusion.
func formatSources(request DraftingRequest) string {
	keys := make([]string, 0, len(request.Citations))
	for key := range request.Citations {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		citation := request.Citations[key]
		fmt.Fprintf(&b, "[%s] %s", key, citation.Title)
		if citation.Reference != "" {
			fmt.Fprintf(&b, " (%s)", citation.Reference)
		}
		b.WriteString("\n")
	}
	for _, source := range request.Sources {
		fmt.Fprintf(&b, "- %s: %s\n", source.Title, source.Excerpt)
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return b.String()
}

// requestGlobal builds the "request" global for template evaluation.
func requestGlobal(request DraftingRequest) map[string]any {
	return map[string]any{
		"title":        request.Title,
		"instructions": request.Instructions,
		"sources":      formatSources(request),
	}
}

func (p *promptSet) planPrompt(ctx context.Context, request DraftingRequest) (string, error) {
	return p.plan.Eval(ctx, map[string]any{
		"request": requestGlobal(request),
	})
}

func (p *promptSet) draftPrompt(ctx context.Context, request DraftingRequest, section OutlineSection) (string, error) {
	return p.draft.Eval(ctx, map[string]any{
		"request": requestGlobal(request),
		"section": map[string]any{
			"name":  section.Name,
			"brief": section.Brief,
		},
	})
}

func (p *promptSet) reviewPrompt(ctx context.Context, request DraftingRequest, sectionName, draft string) (string, error) {
	return p.review.Eval(ctx, map[string]any{
		"request": requestGlobal(request),
		"section": map[string]any{
			"name":  sectionName,
			"draft": draft,
		},
	})
}

func (p *promptSet) mergePrompt(ctx context.Context, sectionName, draft string, reviews []ReviewNote) (string, error) {
	var b strings.Builder
	for _, review := range reviews {
		fmt.Fprintf(&b, "%s:\n%s\n\n", review.Reviewer, review.Content)
	}
	return p.merge.Eval(ctx, map[string]any{
		"section": map[string]any{
			"name":    sectionName,
			"draft":   draft,
			"reviews": strings.TrimSpace(b.String()),
		},
	})
}
