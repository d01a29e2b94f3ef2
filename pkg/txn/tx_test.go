package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
)

func TestAddTagThenCommitAssignsRealTref(t *testing.T) {
	store := graph.NewStore()
	tx := New(store, nil)

	ph, err := tx.AddTag("person", "alice")
	require.NoError(t, err)
	require.Less(t, ph, graph.Tref(0))

	rev, err := tx.Commit(nil, 0)
	require.NoError(t, err)
	require.Equal(t, graph.Rev(1), rev)

	real, ok := store.LookupByIdentity("person", "alice", rev)
	require.True(t, ok)
	require.Greater(t, real, graph.Tref(0))
}

func TestAddTagIdempotentWithinTx(t *testing.T) {
	store := graph.NewStore()
	tx := New(store, nil)

	a, err := tx.AddTag("person", "alice")
	require.NoError(t, err)
	b, err := tx.AddTag("person", "alice")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, tx.ops, 1)
}

func TestLinkBetweenStagedTagsResolvesPlaceholders(t *testing.T) {
	store := graph.NewStore()
	tx := New(store, nil)

	a, _ := tx.AddTag("person", "alice")
	b, _ := tx.AddTag("person", "bob")
	require.NoError(t, tx.Link(a, b))

	rev, err := tx.Commit(nil, 0)
	require.NoError(t, err)

	aReal, _ := store.LookupByIdentity("person", "alice", rev)
	bReal, _ := store.LookupByIdentity("person", "bob", rev)
	require.True(t, store.Linked(aReal, bReal, rev))
}

func TestRemTagIdempotentNoOp(t *testing.T) {
	store := graph.NewStore()
	tx := New(store, nil)
	ph, _ := tx.AddTag("person", "alice")
	require.NoError(t, tx.RemTag(ph))
	require.NoError(t, tx.RemTag(ph))

	opsBefore := len(tx.ops)
	require.NoError(t, tx.RemTag(ph))
	require.Equal(t, opsBefore, len(tx.ops))
}

func TestCommitStaleParentConflictOnRemovedTag(t *testing.T) {
	store := graph.NewStore()
	setup := New(store, nil)
	ph, _ := setup.AddTag("person", "alice")
	rev1, err := setup.Commit(nil, 0)
	require.NoError(t, err)
	real, _ := store.LookupByIdentity("person", "alice", rev1)
	_ = ph

	txA := New(store, nil)
	require.NoError(t, txA.RemTag(real))

	// concurrent commit removes the same tag first, advancing current_rev.
	txB := New(store, nil)
	require.NoError(t, txB.RemTag(real))
	_, err = txB.Commit(nil, 0)
	require.NoError(t, err)

	_, err = txA.Commit(nil, 0)
	require.ErrorIs(t, err, errs.ErrConflictStaleParent)
}

func TestDropTTypeFailsWithLiveTags(t *testing.T) {
	store := graph.NewStore()
	tx := New(store, nil)
	_, err := tx.AddTag("person", "alice")
	require.NoError(t, err)
	err = tx.DropTType("person")
	require.Error(t, err)
}

func TestAbortDiscardsDelta(t *testing.T) {
	store := graph.NewStore()
	tx := New(store, nil)
	_, _ = tx.AddTag("person", "alice")
	tx.Abort()

	_, err := tx.AddTag("person", "bob")
	require.Error(t, err)
	_, err = tx.Commit(nil, 0)
	require.Error(t, err)
}

func TestViewComposesOverlayOverBase(t *testing.T) {
	store := graph.NewStore()
	base := New(store, nil)
	_, _ = base.AddTag("person", "alice")
	rev, err := base.Commit(nil, 0)
	require.NoError(t, err)

	overlay := New(store, nil)
	ph, _ := overlay.AddTag("person", "bob")

	view := NewView(store, rev, overlay)
	_, ok := view.LookupByIdentity("person", "alice")
	require.True(t, ok)
	got, ok := view.LookupByIdentity("person", "bob")
	require.True(t, ok)
	require.Equal(t, ph, got)
}
