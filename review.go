package iudex

import (
	"strings"
	"unicode"
)

// reviewTokens lowercases and splits text into word tokens for comparison.
func reviewTokens(text string) map[string]bool {
	tokens := map[string]bool{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		tokens[word] = true
	}
	return tokens
}

// jaccardSimilarity computes the Jaccard similarity of the word sets of two
// texts. Two empty texts are considered identical.
func jaccardSimilarity(a, b string) float64 {
	setA := reviewTokens(a)
	setB := reviewTokens(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// reviewAgreement computes the mean pairwise Jaccard similarity across
// reviewer notes. A single review (or none) counts as full agreement.
func reviewAgreement(reviews []ReviewNote) float64 {
	if len(reviews) < 2 {
		return 1.0
	}
	var total float64
	var pairs int
	for i := 0; i < len(reviews); i++ {
		for j := i + 1; j < len(reviews); j++ {
			total += jaccardSimilarity(reviews[i].Content, reviews[j].Content)
			pairs++
		}
	}
	return total / float64(pairs)
}
