// Package citecheck reconciles the citation keys referenced in a document
// against the citation map assembled during retrieval. It is a pure set
// partition with no side effects.
package citecheck

import (
	"regexp"
	"sort"
	"strconv"
)

// Report partitions citation keys into three disjoint sets: keys referenced
// in the text, referenced keys absent from the citation map, and mapped keys
// never referenced. Every key appears in exactly one of used/orphans, and
// missing is always a subset of used.
type Report struct {
	UsedKeys    []string `json:"used_keys"`
	MissingKeys []string `json:"missing_keys"`
	OrphanKeys  []string `json:"orphan_keys"`
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Validate scans the text for inline citation markers (e.g. "[7]") and
// reconciles them against the known citation keys. All result slices are
// sorted in ascending numeric order.
func Validate(text string, citationKeys []string) Report {
	used := map[string]bool{}
	for _, match := range citationMarker.FindAllStringSubmatch(text, -1) {
		used[match[1]] = true
	}

	known := make(map[string]bool, len(citationKeys))
	for _, key := range citationKeys {
		known[key] = true
	}

	report := Report{}
	for key := range used {
		report.UsedKeys = append(report.UsedKeys, key)
		if !known[key] {
			report.MissingKeys = append(report.MissingKeys, key)
		}
	}
	for key := range known {
		if !used[key] {
			report.OrphanKeys = append(report.OrphanKeys, key)
		}
	}

	sortKeys(report.UsedKeys)
	sortKeys(report.MissingKeys)
	sortKeys(report.OrphanKeys)
	return report
}

// sortKeys orders keys numerically when possible, lexically otherwise.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
}
