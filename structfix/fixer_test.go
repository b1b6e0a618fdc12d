package structfix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixIdempotence(t *testing.T) {
	f := New()
	document := "Here is the document you requested:\n\n" +
		"### Primeira Seção\n\n\n\n\n" +
		"Este parágrafo traz a fundamentação principal do pedido formulado na inicial.\n\n" +
		"Este parágrafo traz a fundamentação principal do pedido formulado na inicial.\n\n" +
		"- item um\n\n- item dois\n\n" +
		"#### Subseção\n\nTexto final.   \n"

	result, fixed := f.Fix(document)
	require.Positive(t, result.TotalChanges())

	second, refixed := f.Fix(fixed)
	require.Zero(t, second.TotalChanges(), "second pass must report no changes")
	require.Equal(t, fixed, refixed)
}

func TestCleanArtifacts(t *testing.T) {
	f := New()

	t.Run("assistant preamble", func(t *testing.T) {
		result, fixed := f.Fix("Sure, here is the contract draft:\n\n# Contrato\n\nCláusulas.\n")
		require.True(t, strings.HasPrefix(fixed, "# Contrato"))
		require.Positive(t, result.ArtifactsCleaned)
	})

	t.Run("structural tags", func(t *testing.T) {
		_, fixed := f.Fix("<document>\n# Título\n\nConteúdo do texto.\n</document>\n")
		require.NotContains(t, fixed, "<document>")
		require.NotContains(t, fixed, "</document>")
	})

	t.Run("duplicated horizontal rules", func(t *testing.T) {
		_, fixed := f.Fix("Texto antes.\n\n---\n\n---\n\nTexto depois.\n")
		require.Equal(t, 1, strings.Count(fixed, "---"))
	})

	t.Run("excessive blank lines", func(t *testing.T) {
		result, fixed := f.Fix("Primeiro.\n\n\n\n\n\n\nSegundo.\n")
		require.Positive(t, result.ArtifactsCleaned)
		require.Equal(t, "Primeiro.\n\n\nSegundo.\n", fixed)
	})

	t.Run("three blank lines kept", func(t *testing.T) {
		// Only runs of four or more blank lines collapse to two
		result, fixed := f.Fix("Primeiro.\n\n\n\nSegundo.\n")
		require.Zero(t, result.ArtifactsCleaned)
		require.Equal(t, "Primeiro.\n\n\n\nSegundo.\n", fixed)
	})
}

func TestRepairLists(t *testing.T) {
	f := New()
	result, fixed := f.Fix("Lista de pedidos:\n\n1. primeiro pedido\n\n2. segundo pedido\n\n3. terceiro pedido\n")
	require.Equal(t, 2, result.ListsRepaired)
	require.Contains(t, fixed, "1. primeiro pedido\n2. segundo pedido\n3. terceiro pedido")
}

func TestRemoveDuplicateParagraphs(t *testing.T) {
	f := New()

	paragraph := "A responsabilidade civil objetiva independe da demonstração de culpa do agente causador."

	t.Run("exact duplicate removed", func(t *testing.T) {
		result, fixed := f.Fix(paragraph + "\n\n" + paragraph + "\n")
		require.Equal(t, 1, result.DuplicatesRemoved)
		require.Equal(t, 1, strings.Count(fixed, "responsabilidade civil objetiva"))
	})

	t.Run("formatting differences still match", func(t *testing.T) {
		variant := strings.ToUpper(paragraph[:1]) + strings.ReplaceAll(paragraph[1:], ".", "!")
		result, _ := f.Fix(paragraph + "\n\n" + variant + "\n")
		require.Equal(t, 1, result.DuplicatesRemoved)
	})

	t.Run("headings exempt", func(t *testing.T) {
		doc := "# Dos Fatos E Fundamentos Jurídicos Aplicáveis Ao Caso Concreto\n\nTexto.\n\n# Dos Fatos E Fundamentos Jurídicos Aplicáveis Ao Caso Concreto\n"
		result, _ := f.Fix(doc)
		require.Zero(t, result.DuplicatesRemoved)
	})

	t.Run("short paragraphs exempt", func(t *testing.T) {
		result, _ := f.Fix("Em síntese.\n\nTexto longo intermediário para separar os blocos do documento.\n\nEm síntese.\n")
		require.Zero(t, result.DuplicatesRemoved)
	})
}

func TestNormalizeHeadings(t *testing.T) {
	f := New()
	document := "### Título Principal\n\nTexto.\n\n#### Subtítulo\n\nMais texto.\n\n### Outro Título\n"
	result, fixed := f.Fix(document)

	require.True(t, strings.HasPrefix(fixed, "# Título Principal"))
	require.Contains(t, fixed, "\n## Subtítulo")
	require.Contains(t, fixed, "\n# Outro Título")
	// Adjustment count equals the number of heading lines touched.
	require.Equal(t, 3, result.HeadingsNormalized)
}

func TestHeadingsAlreadyTopLevel(t *testing.T) {
	f := New()
	result, _ := f.Fix("# Título\n\nTexto do documento em nível correto.\n\n## Seção\n")
	require.Zero(t, result.HeadingsNormalized)
}

func TestDetectOutOfOrderSections(t *testing.T) {
	f := New()
	result, _ := f.Fix("# 1. Introdução\n\nTexto.\n\n# 3. Conclusão\n\nTexto.\n\n# 2. Mérito\n\nTexto.\n")
	require.Len(t, result.OutOfOrderSections, 1)
	require.Contains(t, result.OutOfOrderSections[0], "section 2")
}
