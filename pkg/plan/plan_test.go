package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brifl/ziptag/pkg/config"
	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
	"github.com/brifl/ziptag/pkg/lang"
	"github.com/brifl/ziptag/pkg/txn"
)

func seedStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	tx := txn.New(s, nil)
	ada, _ := tx.AddTag("person", "ada")
	python, _ := tx.AddTag("language", "python")
	speaks, _ := tx.AddTag("rel", "speaks")
	require.NoError(t, tx.Link(ada, speaks))
	require.NoError(t, tx.Link(speaks, python))
	_, err := tx.Commit(nil, 0)
	require.NoError(t, err)
	return s
}

func TestBuildScenario1TraversalPlan(t *testing.T) {
	store := seedStore(t)
	view := txn.NewView(store, store.CurrentRev())

	prog, err := lang.Parse(`| person == "ada" > rel == "speaks" > language`)
	require.NoError(t, err)

	p, err := Build(view, prog, nil)
	require.NoError(t, err)
	require.NotNil(t, p.Root)
	require.Equal(t, OpMemo, p.Root.Kind)
}

func TestExplainRendersTree(t *testing.T) {
	store := seedStore(t)
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(`| person == "ada" > language`)
	require.NoError(t, err)
	p, err := Build(view, prog, nil)
	require.NoError(t, err)
	out := Explain(p)
	require.Contains(t, out, "SourceByIdentity")
}

func TestBuildRejectsEmptyQuery(t *testing.T) {
	store := graph.NewStore()
	view := txn.NewView(store, store.CurrentRev())
	_, err := Build(view, &lang.Program{}, nil)
	require.Error(t, err)
}

func TestBuildRejectsLeadingWildcard(t *testing.T) {
	store := graph.NewStore()
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(`| *`)
	require.NoError(t, err)
	_, err = Build(view, prog, nil)
	require.Error(t, err)
}

func TestBuildRejectsUnknownTTypeUnderStrictTypes(t *testing.T) {
	store := seedStore(t)
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(`| ghost == "x"`)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.StrictTypes = true
	_, err = Build(view, prog, cfg)
	require.Error(t, err)
	var typeErr *errs.QueryTypeError
	require.ErrorAs(t, err, &typeErr)
	require.Equal(t, "ghost", typeErr.TType)
}
