package iudex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// OfflineModelClient is a deterministic ModelClient for dry runs and local
// development. It fabricates plausible output from the request context alone,
// so full pipeline runs work with no provider credentials.
type OfflineModelClient struct {
	name string
}

func NewOfflineModelClient(name string) *OfflineModelClient {
	return &OfflineModelClient{name: name}
}

func (c *OfflineModelClient) Name() string {
	return c.name
}

func (c *OfflineModelClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	role, _ := req.Context["role"].(string)
	section, _ := req.Context["section"].(string)

	var content string
	switch role {
	case "plan":
		content = c.offlineOutline(req)
	case "draft":
		content = c.offlineDraft(req, section)
	case "review":
		content = fmt.Sprintf("No blocking issues found in %q. Verify every cited key resolves.", section)
	case "merge":
		content = extractBetween(req.Prompt, "Draft:\n", "\n\nReviewer feedback:")
		if content == "" {
			content = fmt.Sprintf("## %s\n\nRevised text.", section)
		}
	default:
		content = "OK"
	}

	return &GenerateResponse{
		Content:      content,
		InputTokens:  len(req.Prompt) / 4,
		OutputTokens: len(content) / 4,
	}, nil
}

func (c *OfflineModelClient) offlineOutline(req GenerateRequest) string {
	outline := Outline{
		Title: "Documento",
		Sections: []OutlineSection{
			{Name: "Introdução", Brief: "Contexto e objeto da demanda", Complexity: "low"},
			{Name: "Fundamentação", Brief: "Base legal e jurisprudencial", Complexity: "high", Tags: []string{"merito"}},
			{Name: "Conclusão", Brief: "Pedidos e fecho", Complexity: "low"},
		},
	}
	if title := extractBetween(req.Prompt, `titled "`, `"`); title != "" {
		outline.Title = title
	}
	data, _ := json.Marshal(outline)
	return string(data)
}

func (c *OfflineModelClient) offlineDraft(req GenerateRequest, section string) string {
	// Echo the prompt's source material so the draft preserves legal
	// references and citation keys, keeping the quality gate satisfied
	sources := extractBetween(req.Prompt, "Available sources:\n", "\n\nCite sources")
	var keys []string
	for _, line := range strings.Split(sources, "\n") {
		if strings.HasPrefix(line, "[") {
			if end := strings.Index(line, "]"); end > 1 {
				keys = append(keys, line[1:end])
			}
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", section)
	fmt.Fprintf(&b, "Considerando o objeto da demanda, a seção %q examina os fundamentos aplicáveis. ", section)
	if sources != "" && sources != "(none)" {
		b.WriteString(strings.TrimSpace(sources))
		b.WriteString(" ")
	}
	for _, key := range keys {
		fmt.Fprintf(&b, "[%s] ", key)
	}
	b.WriteString("\n")
	return b.String()
}

// extractBetween returns the text between the first occurrence of start and
// the next occurrence of end after it, or "" when either is absent.
func extractBetween(text, start, end string) string {
	i := strings.Index(text, start)
	if i < 0 {
		return ""
	}
	rest := text[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}
