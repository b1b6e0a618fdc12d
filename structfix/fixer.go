// Package structfix repairs the structural damage LLM generation tends to
// leave behind: duplicated paragraphs, leftover markup tags, assistant
// preambles, broken lists and misaligned heading levels. All passes are
// deterministic and make no external calls; running the fixer on its own
// output is a no-op.
package structfix

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Result reports what the fixer changed in one pass.
type Result struct {
	DuplicatesRemoved  int      `json:"duplicates_removed"`
	HeadingsNormalized int      `json:"headings_normalized"`
	ArtifactsCleaned   int      `json:"artifacts_cleaned"`
	ListsRepaired      int      `json:"lists_repaired"`
	OutOfOrderSections []string `json:"out_of_order_sections,omitempty"`
	Changes            []string `json:"changes,omitempty"`
}

// TotalChanges returns the number of modifications made. Out-of-order
// section notes are detections, not modifications, and do not count.
func (r Result) TotalChanges() int {
	return r.DuplicatesRemoved + r.HeadingsNormalized + r.ArtifactsCleaned + r.ListsRepaired
}

// Fixer applies the ordered repair passes.
type Fixer struct {
	// minDedupLength exempts short paragraphs from deduplication, since
	// brief transitional sentences legitimately repeat.
	minDedupLength int
}

// New returns a Fixer with default settings.
func New() *Fixer {
	return &Fixer{minDedupLength: 40}
}

// Fix runs all repair passes in order and returns the report plus the
// repaired document. The order is load-bearing: artifact cleanup must run
// before duplicate detection, which must run before heading normalization.
func (f *Fixer) Fix(document string) (Result, string) {
	var result Result

	text := f.cleanArtifacts(document, &result)
	text = f.repairLists(text, &result)
	text = f.removeDuplicateParagraphs(text, &result)
	text = f.normalizeHeadings(text, &result)
	f.detectOutOfOrderSections(text, &result)

	return result, text
}

var (
	trailingWhitespace = regexp.MustCompile(`(?m)[ \t]+$`)
	excessBlankLines   = regexp.MustCompile(`\n{5,}`)
	structuralTagLine  = regexp.MustCompile(`(?mi)^[ \t]*</?(?:document|section|draft|output|answer|response|text)[^>\n]*>[ \t]*\n?`)
	horizontalRule     = regexp.MustCompile(`(?m)^(?:-{3,}|\*{3,}|_{3,})[ \t]*$`)
	duplicatedRules    = regexp.MustCompile(`(?m)^(?:-{3,}|\*{3,}|_{3,})[ \t]*\n(?:[ \t]*\n)*(?:-{3,}|\*{3,}|_{3,})[ \t]*$`)
	assistantPreamble  = regexp.MustCompile(`(?i)^(?:here (?:is|are)\b|sure[,!. ]|certainly[,!. ]|of course[,!. ]|claro[,!. ]|segue(?:m)?\b|aqui está\b).{0,140}$`)
)

// cleanArtifacts strips generation debris: trailing whitespace, excessive
// blank runs, doubled horizontal rules, residual markup tags and assistant
// preambles at the top of the document.
func (f *Fixer) cleanArtifacts(text string, result *Result) string {
	if cleaned := trailingWhitespace.ReplaceAllString(text, ""); cleaned != text {
		result.ArtifactsCleaned++
		result.Changes = append(result.Changes, "stripped trailing whitespace")
		text = cleaned
	}

	if n := len(excessBlankLines.FindAllString(text, -1)); n > 0 {
		text = excessBlankLines.ReplaceAllString(text, "\n\n\n")
		result.ArtifactsCleaned += n
		result.Changes = append(result.Changes, fmt.Sprintf("collapsed %d excessive blank-line runs", n))
	}

	for {
		collapsed := duplicatedRules.ReplaceAllString(text, "---")
		if collapsed == text {
			break
		}
		text = collapsed
		result.ArtifactsCleaned++
		result.Changes = append(result.Changes, "collapsed duplicated horizontal rule")
	}

	if n := len(structuralTagLine.FindAllString(text, -1)); n > 0 {
		text = structuralTagLine.ReplaceAllString(text, "")
		result.ArtifactsCleaned += n
		result.Changes = append(result.Changes, fmt.Sprintf("removed %d structural markup tags", n))
	}

	// Drop assistant preamble lines from the top of the document. Looping
	// handles stacked preambles and keeps the pass idempotent.
	for {
		trimmed := strings.TrimLeft(text, "\n")
		line, rest, _ := strings.Cut(trimmed, "\n")
		if !assistantPreamble.MatchString(strings.TrimSpace(line)) {
			break
		}
		text = rest
		result.ArtifactsCleaned++
		result.Changes = append(result.Changes, fmt.Sprintf("removed assistant preamble %q", strings.TrimSpace(line)))
	}

	return strings.Trim(text, "\n") + "\n"
}

var listItemLine = regexp.MustCompile(`^[ \t]*(?:[-*+]|\d+[.)])[ \t]+\S`)

// repairLists removes spurious single blank lines that split consecutive
// list items into separate lists.
func (f *Fixer) repairLists(text string, result *Result) string {
	lines := strings.Split(text, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" &&
			i > 0 && i+1 < len(lines) &&
			listItemLine.MatchString(lines[i-1]) &&
			listItemLine.MatchString(lines[i+1]) {
			result.ListsRepaired++
			result.Changes = append(result.Changes, "removed blank line splitting a list")
			continue
		}
		out = append(out, lines[i])
	}
	return strings.Join(out, "\n")
}

var paragraphSplit = regexp.MustCompile(`\n[ \t]*\n+`)

// removeDuplicateParagraphs keeps the first occurrence of each repeated
// paragraph. Headings, list items, table rows, blockquotes, separators and
// short paragraphs are exempt.
func (f *Fixer) removeDuplicateParagraphs(text string, result *Result) string {
	blocks := paragraphSplit.Split(text, -1)
	seen := map[string]bool{}
	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if f.dedupExempt(trimmed) {
			kept = append(kept, block)
			continue
		}
		fingerprint := paragraphFingerprint(trimmed)
		if seen[fingerprint] {
			result.DuplicatesRemoved++
			result.Changes = append(result.Changes, fmt.Sprintf("removed duplicate paragraph %q", truncate(trimmed, 60)))
			continue
		}
		seen[fingerprint] = true
		kept = append(kept, block)
	}
	return strings.Join(kept, "\n\n") + "\n"
}

func (f *Fixer) dedupExempt(paragraph string) bool {
	if len(paragraph) < f.minDedupLength {
		return true
	}
	first, _, _ := strings.Cut(paragraph, "\n")
	first = strings.TrimSpace(first)
	switch {
	case strings.HasPrefix(first, "#"),
		strings.HasPrefix(first, ">"),
		strings.HasPrefix(first, "|"),
		listItemLine.MatchString(first),
		horizontalRule.MatchString(first):
		return true
	}
	return false
}

var nonAlphanumeric = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// paragraphFingerprint normalizes a paragraph for duplicate detection:
// punctuation stripped, lowercased, whitespace collapsed.
func paragraphFingerprint(paragraph string) string {
	normalized := nonAlphanumeric.ReplaceAllString(paragraph, "")
	normalized = strings.ToLower(normalized)
	return strings.Join(strings.Fields(normalized), " ")
}

var headingLine = regexp.MustCompile(`(?m)^(#{1,6})[ \t]`)

// normalizeHeadings shifts all headings up so the shallowest heading level
// in the document becomes level 1.
func (f *Fixer) normalizeHeadings(text string, result *Result) string {
	minLevel := 7
	for _, match := range headingLine.FindAllStringSubmatch(text, -1) {
		if level := len(match[1]); level < minLevel {
			minLevel = level
		}
	}
	if minLevel == 7 || minLevel == 1 {
		return text
	}
	shift := minLevel - 1
	adjusted := headingLine.ReplaceAllStringFunc(text, func(heading string) string {
		hashes := strings.Count(heading, "#")
		result.HeadingsNormalized++
		return strings.Repeat("#", hashes-shift) + heading[hashes:]
	})
	result.Changes = append(result.Changes, fmt.Sprintf("promoted headings by %d levels", shift))
	return adjusted
}

var numberedHeading = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(\d+)[.)\s]`)

// detectOutOfOrderSections flags numbered sections that appear before a
// lower-numbered predecessor. Renumbering is left to audit review; this
// pass only reports.
func (f *Fixer) detectOutOfOrderSections(text string, result *Result) {
	previous := 0
	for _, match := range numberedHeading.FindAllStringSubmatch(text, -1) {
		number, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if number < previous {
			result.OutOfOrderSections = append(result.OutOfOrderSections,
				fmt.Sprintf("section %d appears after section %d", number, previous))
		}
		if number > previous {
			previous = number
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
