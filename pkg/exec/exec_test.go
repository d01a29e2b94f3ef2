package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brifl/ziptag/pkg/cache"
	"github.com/brifl/ziptag/pkg/graph"
	"github.com/brifl/ziptag/pkg/lang"
	"github.com/brifl/ziptag/pkg/plan"
	"github.com/brifl/ziptag/pkg/pool"
	"github.com/brifl/ziptag/pkg/txn"
)

func seedStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	tx := txn.New(s, nil)
	ada, _ := tx.AddTag("person", "ada")
	grace, _ := tx.AddTag("person", "grace")
	speaks, _ := tx.AddTag("rel", "speaks")
	writes, _ := tx.AddTag("rel", "writes")
	python, _ := tx.AddTag("language", "python")
	cobol, _ := tx.AddTag("language", "cobol")
	require.NoError(t, tx.Link(ada, speaks))
	require.NoError(t, tx.Link(speaks, python))
	require.NoError(t, tx.Link(grace, writes))
	require.NoError(t, tx.Link(writes, cobol))
	_, err := tx.Commit(nil, 0)
	require.NoError(t, err)
	return s
}

func runQuery(t *testing.T, store *graph.Store, src string) []graph.Tref {
	t.Helper()
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(src)
	require.NoError(t, err)
	p, err := plan.Build(view, prog, nil)
	require.NoError(t, err)
	ex := New(view, nil, nil, 1024)
	result, err := ex.Execute(context.Background(), p)
	require.NoError(t, err)
	return result
}

func TestExecuteTraversalScenario(t *testing.T) {
	store := seedStore(t)
	result := runQuery(t, store, `| person == "ada" > rel == "speaks" > language`)
	require.Len(t, result, 1)

	view := txn.NewView(store, store.CurrentRev())
	tag, ok := view.Get(result[0])
	require.True(t, ok)
	require.Equal(t, "python", tag.Val)
}

func TestExecuteStartswithPredicate(t *testing.T) {
	store := seedStore(t)
	result := runQuery(t, store, `| language(startswith("py"))`)
	require.Len(t, result, 1)
}

func TestExecuteWithParallelPool(t *testing.T) {
	store := seedStore(t)
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(`| person == "ada" > rel == "speaks" > language`)
	require.NoError(t, err)
	p, err := plan.Build(view, prog, nil)
	require.NoError(t, err)

	wp := pool.New(2)
	defer wp.Close()
	ex := New(view, wp, nil, 0)
	ex.ParallelThreshold = 1
	result, err := ex.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, result, 1)
}

func TestExecuteUsesMemoCache(t *testing.T) {
	store := seedStore(t)
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(`| person == "ada" > rel == "speaks" > language`)
	require.NoError(t, err)
	p, err := plan.Build(view, prog, nil)
	require.NoError(t, err)

	memo, err := cache.NewMemo(100)
	require.NoError(t, err)
	defer memo.Close()

	ex := New(view, nil, memo, 1024)
	first, err := ex.Execute(context.Background(), p)
	require.NoError(t, err)
	second, err := ex.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestExecuteCancelledContext(t *testing.T) {
	store := seedStore(t)
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(`| person == "ada" > rel == "speaks" > language`)
	require.NoError(t, err)
	p, err := plan.Build(view, prog, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := New(view, nil, nil, 1024)
	_, err = ex.Execute(ctx, p)
	require.Error(t, err)
}

func TestEvalValueFilterRegexAndNum(t *testing.T) {
	store := seedStore(t)
	result := runQuery(t, store, `| language(regex("^py"))`)
	require.Len(t, result, 1)
	require.Empty(t, runQuery(t, store, `| language(num(">=", 0))`))
}

func TestEvalFunCallExcludeAndAllAny(t *testing.T) {
	store := seedStore(t)

	excluded := runQuery(t, store, `| language(exclude(startswith("py")))`)
	require.Len(t, excluded, 1)

	all := runQuery(t, store, `| language(all(startswith("c"), endswith("l")))`)
	require.Len(t, all, 1)

	any := runQuery(t, store, `| language(any(startswith("py"), startswith("co")))`)
	require.Len(t, any, 2)
}

func TestEvalFunCallLenLowerUpper(t *testing.T) {
	store := seedStore(t)

	byLen := runQuery(t, store, `| language(len(6))`)
	require.Len(t, byLen, 1)

	byLower := runQuery(t, store, `| person(lower("ADA"))`)
	require.Len(t, byLower, 1)

	byUpper := runQuery(t, store, `| person(upper("ada"))`)
	require.Len(t, byUpper, 1)
}

func TestEvalFunCallTopIsRejected(t *testing.T) {
	store := seedStore(t)
	view := txn.NewView(store, store.CurrentRev())
	prog, err := lang.Parse(`| language(top(1))`)
	require.NoError(t, err)
	p, err := plan.Build(view, prog, nil)
	require.NoError(t, err)
	ex := New(view, nil, nil, 1024)
	_, err = ex.Execute(context.Background(), p)
	require.Error(t, err)
}
