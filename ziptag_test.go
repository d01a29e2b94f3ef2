package ziptag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brifl/ziptag/pkg/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.Path = t.TempDir()
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCommitFetchRoundTrip(t *testing.T) {
	s := openTestStore(t)

	tx := s.NewTx()
	ada, err := tx.AddTag("person", "ada")
	require.NoError(t, err)
	python, err := tx.AddTag("language", "python")
	require.NoError(t, err)
	speaks, err := tx.AddTag("rel", "speaks")
	require.NoError(t, err)
	require.NoError(t, tx.Link(ada, speaks))
	require.NoError(t, tx.Link(speaks, python))

	rev, err := s.Commit(tx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)

	result, err := s.Fetch(context.Background(), `| person == "ada" > rel == "speaks" > language`)
	require.NoError(t, err)
	require.Len(t, result, 1)
}

func TestFetchAppliesInlineOverlayBlock(t *testing.T) {
	s := openTestStore(t)

	tx := s.NewTx()
	ada, err := tx.AddTag("person", "ada")
	require.NoError(t, err)
	excl, err := tx.AddTag("rel", "excludes")
	require.NoError(t, err)
	flag, err := tx.AddTag("flag", "blocked")
	require.NoError(t, err)
	require.NoError(t, tx.Link(ada, excl))
	require.NoError(t, tx.Link(excl, flag))
	_, err = s.Commit(tx)
	require.NoError(t, err)

	without, err := s.Fetch(context.Background(), `| person == "ada"`)
	require.NoError(t, err)
	require.Len(t, without, 1)

	withOverlay, err := s.Fetch(context.Background(), `with { -tag(person,"ada") } | person == "ada"`)
	require.NoError(t, err)
	require.Len(t, withOverlay, 0)
}

func TestExplainDoesNotRequireExecution(t *testing.T) {
	s := openTestStore(t)
	out, err := s.Explain(`| person == "ada"`)
	require.NoError(t, err)
	require.Contains(t, out, "SourceByIdentity")
}

func TestSnapshotThenReopenRecoversState(t *testing.T) {
	cfg := config.Default()
	cfg.Path = t.TempDir()

	s, err := Open(cfg)
	require.NoError(t, err)
	tx := s.NewTx()
	_, err = tx.AddTag("person", "ada")
	require.NoError(t, err)
	_, err = s.Commit(tx)
	require.NoError(t, err)
	require.NoError(t, s.Snapshot())
	require.NoError(t, s.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, Stats{CurrentRev: 1, TagCount: 1, LinkCount: 0}, reopened.Stats())
}

func TestStatsReflectsCommittedData(t *testing.T) {
	s := openTestStore(t)
	require.Equal(t, Stats{}, s.Stats())

	tx := s.NewTx()
	_, err := tx.AddTag("person", "ada")
	require.NoError(t, err)
	_, err = s.Commit(tx)
	require.NoError(t, err)

	stats := s.Stats()
	require.Equal(t, 1, stats.TagCount)
}
