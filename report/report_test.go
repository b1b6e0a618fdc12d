package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicholasJacob1990/iudex/audit"
	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/gate"
	"github.com/NicholasJacob1990/iudex/structfix"
)

func sampleInput() Input {
	return Input{
		JobID:       "job_01",
		RunID:       "run_01",
		Status:      "completed",
		DocumentURI: "file://blobs/abc123",
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DraftCount:  3,
		Fix:         structfix.Result{DuplicatesRemoved: 2, HeadingsNormalized: 4},
		Quality:     gate.Result{Passed: true, CompressionRatio: 0.42, ReferenceCoverage: 1.0},
		Citations:   citecheck.Report{UsedKeys: []string{"1", "2"}, OrphanKeys: []string{"3"}},
		Audit:       audit.Decision{Status: audit.StatusApproved, Notes: []string{"citation [3] is mapped but never referenced"}},
		Sections: []SectionSummary{
			{Name: "Dos Fatos", Model: "strategist-a", Agreement: 0.91, Quality: gate.Result{Passed: true}},
		},
		Routing: []ModelChoice{{Section: "Dos Fatos", Model: "strategist-a", Rationale: "default drafter"}},
		HIL:     []HILEvent{{At: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), Actor: "ana", Action: "resume", ResumedStage: "merging"}},
	}
}

func TestMarkdownRendering(t *testing.T) {
	r := Build(sampleInput())
	md := r.Markdown()

	require.Contains(t, md, "# Document Quality Report")
	require.Contains(t, md, "Verdict: **approved**")
	require.Contains(t, md, "Compression ratio: 0.42")
	require.Contains(t, md, "Used: [1] [2]")
	require.Contains(t, md, "Orphans: [3]")
	require.Contains(t, md, "Dos Fatos")
	require.Contains(t, md, "resumed at merging")
}

func TestJSONRoundTrip(t *testing.T) {
	r := Build(sampleInput())
	data, err := r.JSON()
	require.NoError(t, err)

	var decoded Input
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, r.Input.JobID, decoded.JobID)
	require.Equal(t, r.Input.Citations, decoded.Citations)
	require.Equal(t, r.Input.Audit.Status, decoded.Audit.Status)
}

func TestBuildStampsGeneratedAt(t *testing.T) {
	in := sampleInput()
	in.GeneratedAt = time.Time{}
	r := Build(in)
	require.False(t, r.GeneratedAt.IsZero())
}
