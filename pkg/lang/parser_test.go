package lang

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleTypeChain(t *testing.T) {
	prog, err := Parse(`| person == "ada" > rel == "speaks" > language`)
	require.NoError(t, err)
	require.Len(t, prog.Main.Steps, 3)
	require.Equal(t, "person", prog.Main.Steps[0].TType)
	require.NotNil(t, prog.Main.Steps[0].Filter)
	require.Equal(t, "==", prog.Main.Steps[0].Filter.Disjuncts[0].Predicates[0].Op)
	require.Equal(t, "ada", prog.Main.Steps[0].Filter.Disjuncts[0].Predicates[0].Value)
	require.Equal(t, "language", prog.Main.Steps[2].TType)
	require.Nil(t, prog.Main.Steps[2].Filter)
}

func TestParseStarStep(t *testing.T) {
	prog, err := Parse(`| *`)
	require.NoError(t, err)
	require.Len(t, prog.Main.Steps, 1)
	require.Equal(t, StepAny, prog.Main.Steps[0].Kind)
}

func TestParseFunctionPredicate(t *testing.T) {
	prog, err := Parse(`| language(startswith("py") and len(val()) > 3)`)
	require.Error(t, err) // the grammar has no comparator after a funcall: '>' ends the predicate and ')' is expected instead
	_ = prog
}

func TestParseGroupedDisjunction(t *testing.T) {
	prog, err := Parse(`| language(== "python" or == "go")`)
	require.NoError(t, err)
	step := prog.Main.Steps[0]
	require.Len(t, step.Filter.Disjuncts, 2)
}

func TestParseOverlayBlock(t *testing.T) {
	prog, err := Parse(`with { +tag(rel,"excludes-provider") as excl; link(excl, (provider,"azure")) } | person == "acme"`)
	require.NoError(t, err)
	require.Len(t, prog.Main.Overlay, 2)
	require.Equal(t, OverlayAddTag, prog.Main.Overlay[0].Kind)
	require.Equal(t, "excl", prog.Main.Overlay[0].As)
	link := prog.Main.Overlay[1]
	require.Equal(t, OverlayLink, link.Kind)
	require.False(t, link.A.IsName())
	require.Equal(t, "rel", link.A.TType)
	require.Equal(t, "excludes-provider", link.A.Val)
	require.Equal(t, "provider", link.B.TType)
	require.Equal(t, "azure", link.B.Val)
}

func TestParseLetBindingInlined(t *testing.T) {
	prog, err := Parse(`let speakers = ( | rel == "speaks" ) | speakers > language`)
	require.NoError(t, err)
	require.Len(t, prog.Main.Steps, 2)
	require.Equal(t, "rel", prog.Main.Steps[0].TType)
	require.Equal(t, "language", prog.Main.Steps[1].TType)
}

func TestParseUnknownCharacterIsParseError(t *testing.T) {
	_, err := Parse(`| person == "ada" % language`)
	require.Error(t, err)
}

func TestParseUnterminatedStringIsParseError(t *testing.T) {
	_, err := Parse(`| person == "ada`)
	require.Error(t, err)
}
