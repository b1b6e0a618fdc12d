package audit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicholasJacob1990/iudex/citecheck"
	"github.com/NicholasJacob1990/iudex/gate"
	"github.com/NicholasJacob1990/iudex/structfix"
)

func cleanQuality() gate.Result {
	return gate.Result{Passed: true, CompressionRatio: 0.5, ReferenceCoverage: 1.0}
}

func TestEvaluateApproved(t *testing.T) {
	decision := Evaluate("Documento íntegro.", structfix.Result{}, cleanQuality(), citecheck.Report{}, Options{})
	require.Equal(t, StatusApproved, decision.Status)
	require.Empty(t, decision.Issues)
}

func TestEvaluateRejectsLoadBearingMissingCitation(t *testing.T) {
	document := "A cobrança viola o art. 42 da Lei nº 8.078/90, conforme precedente [2].\n\nParágrafo final."
	citations := citecheck.Report{UsedKeys: []string{"2"}, MissingKeys: []string{"2"}}

	decision := Evaluate(document, structfix.Result{}, cleanQuality(), citations, Options{})
	require.Equal(t, StatusRejected, decision.Status)
	require.Equal(t, SeverityCritical, decision.MaxSeverity())
}

func TestEvaluateMissingCitationWithoutLegalClaim(t *testing.T) {
	document := "Como aponta a doutrina majoritária [2], a solução é conhecida.\n\nOutro parágrafo."
	citations := citecheck.Report{UsedKeys: []string{"2"}, MissingKeys: []string{"2"}}

	decision := Evaluate(document, structfix.Result{}, cleanQuality(), citations, Options{})
	require.Equal(t, StatusNeedsReview, decision.Status)
	require.Equal(t, SeverityMajor, decision.MaxSeverity())
}

func TestEvaluateForceHILNeedsReview(t *testing.T) {
	quality := gate.Result{ForceHIL: true, Notes: []string{"coverage below minimum"}}
	decision := Evaluate("Texto.", structfix.Result{}, quality, citecheck.Report{}, Options{})
	require.Equal(t, StatusNeedsReview, decision.Status)
}

func TestEvaluateOrphanKeysAreNonBlocking(t *testing.T) {
	citations := citecheck.Report{UsedKeys: []string{"1"}, OrphanKeys: []string{"7"}}
	decision := Evaluate("Texto com [1].", structfix.Result{}, cleanQuality(), citations, Options{})
	require.Equal(t, StatusApproved, decision.Status)
	require.Len(t, decision.Notes, 1)
	require.Contains(t, decision.Notes[0], "[7]")
}

func TestEvaluateOutOfOrderSectionsMinor(t *testing.T) {
	fix := structfix.Result{OutOfOrderSections: []string{"section 2 appears after section 3"}}
	decision := Evaluate("Texto.", fix, cleanQuality(), citecheck.Report{}, Options{})
	require.Equal(t, StatusApproved, decision.Status)
	require.Equal(t, SeverityMinor, decision.MaxSeverity())
}

func TestSeverityThreshold(t *testing.T) {
	// Lowering the threshold to major makes a plain missing citation fatal.
	document := "Ver [9].\n"
	citations := citecheck.Report{UsedKeys: []string{"9"}, MissingKeys: []string{"9"}}
	decision := Evaluate(document, structfix.Result{}, cleanQuality(), citations, Options{SeverityThreshold: SeverityMajor})
	require.Equal(t, StatusRejected, decision.Status)
}
