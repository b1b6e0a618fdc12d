// Package gate implements the heuristic quality gate that decides whether a
// generated document is safe to continue through the pipeline or must be
// routed to a human reviewer.
package gate

import (
	"fmt"
	"regexp"
	"strings"
)

// Thresholds configures the gate's pass/fail boundaries.
type Thresholds struct {
	// MinCompressionRatio flags output that is suspiciously short relative
	// to its input context (information loss).
	MinCompressionRatio float64 `json:"min_compression_ratio" yaml:"min_compression_ratio"`

	// MaxCompressionRatio flags output that is suspiciously long relative
	// to its input context (suspected repetition).
	MaxCompressionRatio float64 `json:"max_compression_ratio" yaml:"max_compression_ratio"`

	// MinReferenceCoverage is the fraction of legal references from the
	// input that must survive into the output.
	MinReferenceCoverage float64 `json:"min_reference_coverage" yaml:"min_reference_coverage"`

	// MinOutputWords is an absolute floor below which output always forces
	// human review.
	MinOutputWords int `json:"min_output_words" yaml:"min_output_words"`
}

// DefaultThresholds returns the standard gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinCompressionRatio:  0.15,
		MaxCompressionRatio:  3.0,
		MinReferenceCoverage: 0.85,
		MinOutputWords:       50,
	}
}

// Result is the outcome of a single gate evaluation. It is ephemeral: the
// orchestrator folds it into the run's quality decisions.
type Result struct {
	Passed            bool     `json:"passed"`
	CompressionRatio  float64  `json:"compression_ratio"`
	ReferenceCoverage float64  `json:"reference_coverage"`
	MissingReferences []string `json:"missing_references,omitempty"`
	SafeMode          bool     `json:"safe_mode"`
	ForceHIL          bool     `json:"force_hil"`
	Notes             []string `json:"notes,omitempty"`
}

// Gate evaluates generated output against the input context it was derived
// from. It is purely heuristic and makes no external calls.
type Gate struct {
	thresholds Thresholds
}

// New returns a Gate with the given thresholds.
func New(thresholds Thresholds) *Gate {
	return &Gate{thresholds: thresholds}
}

// Evaluate computes the compression ratio and legal-reference coverage of
// the output relative to the input context.
func (g *Gate) Evaluate(input, output string) Result {
	inputWords := WordCount(input)
	outputWords := WordCount(output)

	result := Result{}

	// Empty input cannot be judged for compression; define the ratio as 1.0.
	if inputWords == 0 {
		result.CompressionRatio = 1.0
	} else {
		result.CompressionRatio = float64(outputWords) / float64(inputWords)
	}

	if result.CompressionRatio < g.thresholds.MinCompressionRatio {
		result.SafeMode = true
		result.Notes = append(result.Notes, fmt.Sprintf(
			"compression ratio %.2f below minimum %.2f: possible information loss",
			result.CompressionRatio, g.thresholds.MinCompressionRatio))
	} else if result.CompressionRatio > g.thresholds.MaxCompressionRatio {
		result.SafeMode = true
		result.Notes = append(result.Notes, fmt.Sprintf(
			"compression ratio %.2f above maximum %.2f: suspected repetition",
			result.CompressionRatio, g.thresholds.MaxCompressionRatio))
	}

	references := ExtractLegalReferences(input)
	if len(references) == 0 {
		// No references to preserve; coverage is trivially satisfied.
		result.ReferenceCoverage = 1.0
	} else {
		normalizedOutput := normalizeDigits(output)
		lowerOutput := strings.ToLower(output)
		missing := 0
		for _, ref := range references {
			if !referencePresent(ref, normalizedOutput, lowerOutput) {
				missing++
				result.MissingReferences = append(result.MissingReferences, ref)
			}
		}
		result.ReferenceCoverage = 1.0 - float64(missing)/float64(len(references))
	}

	if result.ReferenceCoverage < g.thresholds.MinReferenceCoverage {
		result.ForceHIL = true
		result.Notes = append(result.Notes, fmt.Sprintf(
			"reference coverage %.2f below minimum %.2f",
			result.ReferenceCoverage, g.thresholds.MinReferenceCoverage))
	}
	if outputWords < g.thresholds.MinOutputWords {
		result.ForceHIL = true
		result.Notes = append(result.Notes, fmt.Sprintf(
			"output has %d words, below the absolute floor of %d",
			outputWords, g.thresholds.MinOutputWords))
	}

	result.Passed = !result.SafeMode && !result.ForceHIL
	return result
}

var markupPattern = regexp.MustCompile("(?s)```.*?```|`[^`]*`|[#*_>|]+|\\[|\\]|\\(https?://[^)]*\\)")

// WordCount counts whitespace-separated words after stripping markdown
// markup, so formatting differences do not skew the compression ratio.
func WordCount(text string) int {
	stripped := markupPattern.ReplaceAllString(text, " ")
	return len(strings.Fields(stripped))
}

// referencePresent checks whether a legal reference from the input appears
// in the output, tolerating digit formatting differences ("1.070" matches
// "1070" and vice versa).
func referencePresent(ref, normalizedOutput, lowerOutput string) bool {
	digits := digitsOnly(ref)
	if digits != "" {
		return strings.Contains(normalizedOutput, digits)
	}
	return strings.Contains(lowerOutput, strings.ToLower(strings.TrimSpace(ref)))
}

// normalizeDigits removes separators (".", ",", "/", "-", spaces) that sit
// between digits, collapsing "1.070" and "1 070" to "1070".
func normalizeDigits(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes))
	for i, r := range runes {
		if isDigitSeparator(r) && prevIsDigit(runes, i) && nextIsDigit(runes, i) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDigitSeparator(r rune) bool {
	switch r {
	case '.', ',', '/', '-', ' ':
		return true
	}
	return false
}

func prevIsDigit(runes []rune, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if isDigitSeparator(runes[j]) {
			continue
		}
		return runes[j] >= '0' && runes[j] <= '9'
	}
	return false
}

func nextIsDigit(runes []rune, i int) bool {
	for j := i + 1; j < len(runes); j++ {
		if isDigitSeparator(runes[j]) {
			continue
		}
		return runes[j] >= '0' && runes[j] <= '9'
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
