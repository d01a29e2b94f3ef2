package wal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brifl/ziptag/pkg/graph"
)

// newTestStoreWithData builds a small store (alice/bob linked) for
// snapshot and recovery tests.
func newTestStoreWithData(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	s.Writer().Lock()
	defer s.Writer().Unlock()
	aliceTref := s.ReserveTref()
	bobTref := s.ReserveTref()
	s.InstallDelta(&graph.Delta{
		DeclareTTypes: []string{"person"},
		NewTags: []graph.NewTag{
			{Tref: aliceTref, TType: "person", Val: "alice"},
			{Tref: bobTref, TType: "person", Val: "bob"},
		},
		AddedLinks: []graph.LinkPair{{A: aliceTref, B: bobTref}},
	}, 1)
	return s
}

func TestEncodeDecodeAddTagRoundTrip(t *testing.T) {
	p := AddTagPayload{Tref: 42, TType: "person", Val: "alice"}
	b := EncodeAddTag(p)
	got, ok := DecodeAddTag(b)
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestEncodeDecodeLinkPairRoundTrip(t *testing.T) {
	b := EncodeLinkPair(3, 9)
	a, bb, ok := DecodeLinkPair(b)
	require.True(t, ok)
	require.Equal(t, int64(3), a)
	require.Equal(t, int64(9), bb)
}

func TestEncodeDecodeTTypeRoundTrip(t *testing.T) {
	b := EncodeTType("organization")
	got, ok := DecodeTType(b)
	require.True(t, ok)
	require.Equal(t, "organization", got)
}

func TestReadRecordTruncatedTrailing(t *testing.T) {
	full := encodeTxCommit(TxCommit{Txid: 1, NewRev: 2})
	partial := full[:len(full)-3]
	_, _, err := readRecord(bytes.NewReader(partial))
	require.ErrorIs(t, err, errTruncated)
}

func TestReadRecordCleanEOF(t *testing.T) {
	_, _, err := readRecord(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadRecordCRCMismatchIsCorrupt(t *testing.T) {
	rec := encodeTxBegin(TxBegin{Txid: 1, ParentRev: 0, TsMs: 100})
	rec[len(rec)-1] ^= 0xFF // flip a CRC byte
	_, _, err := readRecord(bytes.NewReader(rec))
	require.ErrorIs(t, err, errCorrupt)
}

func TestLogAppendTxAndRecoverReplaysOps(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, 1, SyncPolicy{}, nil)
	require.NoError(t, err)

	err = log.AppendTx(1, 0, 1000, []TxRecord{
		{Kind: OpDeclareTType, Payload: EncodeTType("person")},
		{Kind: OpAddTag, Payload: EncodeAddTag(AddTagPayload{Tref: 1, TType: "person", Val: "alice"})},
		{Kind: OpAddTag, Payload: EncodeAddTag(AddTagPayload{Tref: 2, TType: "person", Val: "bob"})},
		{Kind: OpLink, Payload: EncodeLinkPair(1, 2)},
	}, 1)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	require.NoError(t, WriteManifest(dir, Manifest{WALSeq: 2}))

	store, manifest, err := Recover(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(2), manifest.WALSeq)
	require.Equal(t, uint64(1), store.CurrentRev())

	tref, ok := store.LookupByIdentity("person", "alice", store.CurrentRev())
	require.True(t, ok)
	neighbors := store.Neighbors(tref, store.CurrentRev())
	require.Len(t, neighbors, 1)
}

func TestRecoverDiscardsUncommittedTxGroup(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, 1, SyncPolicy{}, nil)
	require.NoError(t, err)

	require.NoError(t, log.AppendTx(1, 0, 1000, []TxRecord{
		{Kind: OpAddTag, Payload: EncodeAddTag(AddTagPayload{Tref: 1, TType: "person", Val: "alice"})},
	}, 1))

	// Write a dangling begin+op with no commit directly to the segment to
	// simulate a crash mid-append.
	dangling := append(encodeTxBegin(TxBegin{Txid: 2, ParentRev: 1, TsMs: 1001}),
		encodeTxOp(TxOp{Txid: 2, Index: 0, Kind: OpAddTag, Payload: EncodeAddTag(AddTagPayload{Tref: 2, TType: "person", Val: "eve"})})...)
	f, err := os.OpenFile(log.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(dangling)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, log.Close())

	store, _, err := Recover(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(1), store.CurrentRev())
	_, ok := store.LookupByIdentity("person", "eve", store.CurrentRev())
	require.False(t, ok)
}

func TestSnapshotWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := newTestStoreWithData(t)

	path, err := WriteSnapshot(dir, store.CurrentRev(), 10, store.AllTags(), store.AllLinks(), false)
	require.NoError(t, err)

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, store.CurrentRev(), loaded.Rev)
	require.Len(t, loaded.Tags, len(store.AllTags()))
	require.Len(t, loaded.Links, len(store.AllLinks()))
}

func TestSnapshotWriteReadRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	store := newTestStoreWithData(t)

	path, err := WriteSnapshot(dir, store.CurrentRev(), 10, store.AllTags(), store.AllLinks(), true)
	require.NoError(t, err)

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, store.CurrentRev(), loaded.Rev)
	require.Len(t, loaded.Tags, len(store.AllTags()))
}

func TestManifestReadMissingReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	m, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.WALSeq)
}

func TestManifestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Manifest{SnapshotRev: 7, SnapshotFile: "snapshot-00000000000000000007.bin", WALSeq: 3}
	require.NoError(t, WriteManifest(dir, want))
	got, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRecoverFromSnapshotThenWALTail(t *testing.T) {
	dir := t.TempDir()
	store := newTestStoreWithData(t)

	snapPath, err := WriteSnapshot(dir, store.CurrentRev(), 10, store.AllTags(), store.AllLinks(), false)
	require.NoError(t, err)
	require.NoError(t, WriteManifest(dir, Manifest{
		SnapshotRev:  store.CurrentRev(),
		SnapshotFile: filepath.Base(snapPath),
		WALSeq:       1,
	}))

	log, err := Open(dir, 1, SyncPolicy{}, nil)
	require.NoError(t, err)
	require.NoError(t, log.AppendTx(100, store.CurrentRev(), 2000, []TxRecord{
		{Kind: OpAddTag, Payload: EncodeAddTag(AddTagPayload{Tref: 10, TType: "person", Val: "carol"})},
	}, store.CurrentRev()+1))
	require.NoError(t, log.Close())

	recovered, manifest, err := Recover(dir)
	require.NoError(t, err)
	require.Equal(t, store.CurrentRev()+1, recovered.CurrentRev())
	require.Equal(t, store.CurrentRev(), manifest.SnapshotRev)

	_, ok := recovered.LookupByIdentity("person", "carol", recovered.CurrentRev())
	require.True(t, ok)
	_, ok = recovered.LookupByIdentity("person", "alice", recovered.CurrentRev())
	require.True(t, ok)
}
