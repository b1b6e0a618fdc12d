package gate

import (
	"regexp"
	"strings"
)

// Legal reference forms recognized in source material: statutes, codes,
// constitutional articles and appellate precedents, in the digit-heavy
// formats Brazilian legal drafting uses (e.g. "Lei nº 8.078/90",
// "art. 1.070", "Súmula 331", "REsp 1.657.156").
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:lei(?:\s+complementar)?|decreto(?:-lei)?|medida\s+provis[óo]ria|portaria|resolu[çc][ãa]o)\s*n?\s*[ºo°.]*\s*\d[\d.,/-]*`),
	regexp.MustCompile(`(?i)\bart(?:igo)?s?\.?\s*\d[\dºo°.,/-]*`),
	regexp.MustCompile(`(?i)\bs[úu]mula(?:\s+vinculante)?\s*n?\s*[ºo°.]*\s*\d[\d.,/-]*`),
	regexp.MustCompile(`(?i)\b(?:resp|aresp|re|adi|adpf|adc|hc|ms)\s*n?\s*[ºo°.]*\s*\d[\d.,/-]*`),
	regexp.MustCompile(`(?i)\b(?:cf|cc|cpc|cpp|clt|cdc|ctn)\s*/?\s*\d{2,4}\b`),
}

// ExtractLegalReferences returns the distinct legal-reference expressions
// found in the text, in order of first appearance.
func ExtractLegalReferences(text string) []string {
	type hit struct {
		pos int
		ref string
	}
	var hits []hit
	seen := map[string]bool{}
	for _, pattern := range referencePatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			ref := strings.TrimSpace(text[loc[0]:loc[1]])
			ref = strings.TrimRight(ref, ".,;")
			key := strings.ToLower(digitsOnly(ref))
			if key == "" {
				key = strings.ToLower(ref)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			hits = append(hits, hit{pos: loc[0], ref: ref})
		}
	}
	// Order by first appearance in the text.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	refs := make([]string, 0, len(hits))
	for _, h := range hits {
		refs = append(refs, h.ref)
	}
	return refs
}
