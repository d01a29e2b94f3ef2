package wal

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
)

// txGroup accumulates the ops belonging to one txid while scanning the
// log; it is discarded if no matching TXCOMMIT is ever found.
type txGroup struct {
	begin  TxBegin
	ops    []TxOp
	commit *TxCommit
}

// Recover rebuilds a Store from a data directory: load the latest
// snapshot if one exists, then replay every committed transaction from
// the WAL segments written after it (spec §4.G steps 1-5). It returns
// the rebuilt store and the manifest describing the checkpoint recovery
// started from, so the caller can open a fresh Log at the right segment
// sequence.
func Recover(dir string) (*graph.Store, Manifest, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, Manifest{}, err
	}

	store := graph.NewStore()
	baseRev := graph.Rev(0)
	if manifest.SnapshotFile != "" {
		snap, err := ReadSnapshot(filepath.Join(dir, manifest.SnapshotFile))
		if err != nil {
			return nil, Manifest{}, err
		}
		store.RestoreFromSnapshot(snap.Rev, snap.NextTref, snap.Tags, snap.Links)
		baseRev = snap.Rev
	}

	groups := make(map[uint64]*txGroup)
	var order []*txGroup

	segments, err := walSegmentsFrom(dir)
	if err != nil {
		return nil, Manifest{}, err
	}
	for _, seg := range segments {
		if err := scanSegment(seg, groups, &order); err != nil {
			return nil, Manifest{}, err
		}
	}

	// Replay every committed group in ascending new_rev order; groups
	// with no TXCOMMIT (crash mid-append) are silently discarded.
	var committed []*txGroup
	for _, g := range order {
		if g.commit != nil {
			committed = append(committed, g)
		}
	}
	sort.Slice(committed, func(i, j int) bool { return committed[i].commit.NewRev < committed[j].commit.NewRev })

	maxRev := baseRev
	for _, g := range committed {
		if g.commit.NewRev <= baseRev {
			continue // already folded into the snapshot
		}
		sort.Slice(g.ops, func(i, j int) bool { return g.ops[i].Index < g.ops[j].Index })
		delta, maxTref := buildDelta(g.ops)
		store.BumpNextTrefFloor(maxTref)
		store.InstallDelta(delta, g.commit.NewRev)
		if g.commit.NewRev > maxRev {
			maxRev = g.commit.NewRev
		}
	}

	return store, manifest, nil
}

// buildDelta translates a transaction group's ops, in index order, into a
// graph.Delta. It also returns the highest tref referenced by an ADD_TAG
// op so the caller can restore the next_tref floor.
func buildDelta(ops []TxOp) (*graph.Delta, graph.Tref) {
	delta := &graph.Delta{}
	var maxTref graph.Tref
	for _, op := range ops {
		switch op.Kind {
		case OpDeclareTType:
			if tt, ok := DecodeTType(op.Payload); ok {
				delta.DeclareTTypes = append(delta.DeclareTTypes, tt)
			}
		case OpDropTType:
			if tt, ok := DecodeTType(op.Payload); ok {
				delta.DropTTypes = append(delta.DropTTypes, tt)
			}
		case OpAddTag:
			if p, ok := DecodeAddTag(op.Payload); ok {
				delta.NewTags = append(delta.NewTags, graph.NewTag{Tref: graph.Tref(p.Tref), TType: p.TType, Val: p.Val})
				if graph.Tref(p.Tref) > maxTref {
					maxTref = graph.Tref(p.Tref)
				}
			}
		case OpRemTag:
			if tref, ok := DecodeTref(op.Payload); ok {
				delta.TombstonedTags = append(delta.TombstonedTags, graph.Tref(tref))
			}
		case OpLink:
			if a, b, ok := DecodeLinkPair(op.Payload); ok {
				delta.AddedLinks = append(delta.AddedLinks, graph.LinkPair{A: graph.Tref(a), B: graph.Tref(b)})
			}
		case OpUnlink:
			if a, b, ok := DecodeLinkPair(op.Payload); ok {
				delta.RemovedLinks = append(delta.RemovedLinks, graph.LinkPair{A: graph.Tref(a), B: graph.Tref(b)})
			}
		}
	}
	return delta, maxTref
}

// walSegmentsFrom lists dir's wal-*.log segments in ascending sequence
// order.
func walSegmentsFrom(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.DurabilityIOFailed{Cause: err}
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 4 && e.Name()[:4] == "wal-" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out, nil
}

// scanSegment reads every record in path, grouping TXBEGIN/TXOP/TXCOMMIT
// by txid into groups. Every TXBEGIN opens a new group, even for a txid
// seen earlier (txids restart at 1 in each process that appends to the
// log); later TXOP/TXCOMMIT records join the latest group for their txid.
// A truncated trailing record ends the scan cleanly; a CRC mismatch is
// fatal corruption.
func scanSegment(path string, groups map[uint64]*txGroup, order *[]*txGroup) error {
	f, err := os.Open(path)
	if err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	defer f.Close()

	var offset int64
	for {
		rec, consumed, err := readRecord(f)
		if err == io.EOF || err == errTruncated {
			return nil
		}
		if err == errCorrupt {
			return &errs.DurabilityCorrupt{Offset: offset}
		}
		if err != nil {
			return &errs.DurabilityIOFailed{Cause: err}
		}
		offset += consumed

		switch rec.Kind {
		case RecordTxBegin:
			g := &txGroup{begin: rec.Begin}
			groups[rec.Begin.Txid] = g
			*order = append(*order, g)
		case RecordTxOp:
			g, ok := groups[rec.Op.Txid]
			if !ok {
				continue // op for a txid with no begin in scope; ignore
			}
			g.ops = append(g.ops, rec.Op)
		case RecordTxCommit:
			g, ok := groups[rec.Commit.Txid]
			if !ok {
				continue
			}
			commit := rec.Commit
			g.commit = &commit
		}
	}
}
