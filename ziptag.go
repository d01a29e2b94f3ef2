// Package ziptag is an embeddable, tag-and-link graph data store: no
// schema migrations, no foreign servers, just tags (typed, versioned
// values) and untyped links between them, queried through a small
// pipeline DSL (spec §1-§2).
//
// A Store opens (or creates) a data directory, replays its WAL tail on
// top of the latest snapshot, and serves fetch calls against a
// lock-free, copy-on-write graph. Writes go through a Tx: stage
// mutations, then Commit them as one atomic revision.
package ziptag

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/brifl/ziptag/pkg/cache"
	"github.com/brifl/ziptag/pkg/config"
	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/exec"
	"github.com/brifl/ziptag/pkg/graph"
	"github.com/brifl/ziptag/pkg/lang"
	"github.com/brifl/ziptag/pkg/obs"
	"github.com/brifl/ziptag/pkg/plan"
	"github.com/brifl/ziptag/pkg/pool"
	"github.com/brifl/ziptag/pkg/txn"
	"github.com/brifl/ziptag/pkg/wal"
)

// Store is the embeddable entry point: one Store per open data
// directory. Safe for concurrent use by multiple goroutines.
type Store struct {
	cfg  *config.Config
	gs   *graph.Store
	log  *wal.Log
	pool *pool.Pool
	obs  *obs.Instruments

	snapMu   sync.Mutex
	manifest wal.Manifest
	walSeq   uint64
}

// Open replays cfg.Path's WAL tail over its latest snapshot (if any) and
// returns a ready Store. A missing directory is created fresh at rev 0.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gs, manifest, err := wal.Recover(cfg.Path)
	if err != nil {
		return nil, err
	}

	instruments, err := obs.NewInstruments()
	if err != nil {
		return nil, fmt.Errorf("ziptag: observability setup: %w", err)
	}

	logSeq := manifest.WALSeq
	log, err := wal.Open(cfg.Path, logSeq, wal.SyncPolicy{FlushInterval: time.Duration(cfg.FlushIntervalMS) * time.Millisecond}, instruments)
	if err != nil {
		return nil, err
	}

	return &Store{
		cfg:      cfg,
		gs:       gs,
		log:      log,
		pool:     pool.New(cfg.ResolvedWorkers()),
		obs:      instruments,
		manifest: manifest,
		walSeq:   logSeq,
	}, nil
}

// Close flushes and closes the WAL segment and shuts down the worker pool.
func (s *Store) Close() error {
	s.pool.Close()
	return s.log.Close()
}

// NewTx begins a transaction staged against the Store's current
// revision.
func (s *Store) NewTx() *txn.Tx {
	return txn.New(s.gs, s.cfg)
}

// Commit durably commits tx and returns the revision it produced.
func (s *Store) Commit(tx *txn.Tx) (graph.Rev, error) {
	newRev, err := tx.Commit(s.log, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	s.obs.RecordCommit(context.Background())
	return newRev, nil
}

// Fetch parses, plans, and executes a DSL query against the Store's
// current revision composed with the given overlays (usually none, or
// one in-flight Tx for a preview-before-commit read). ctx is checked for
// cancellation between plan operators.
func (s *Store) Fetch(ctx context.Context, dsl string, overlays ...*txn.Tx) ([]graph.Tref, error) {
	start := time.Now()
	defer func() {
		s.obs.RecordQueryDuration(ctx, float64(time.Since(start).Milliseconds()))
	}()

	ctx, parseSpan := s.obs.StartSpan(ctx, "Parsing")
	prog, err := lang.Parse(dsl)
	parseSpan.End()
	if err != nil {
		return nil, err
	}

	overlayTx, err := buildOverlayTx(s.gs, s.cfg, prog.Main.Overlay)
	if err != nil {
		return nil, err
	}
	if overlayTx != nil {
		overlays = append(overlays, overlayTx)
	}
	view := txn.NewView(s.gs, s.gs.CurrentRev(), overlays...)

	ctx, planSpan := s.obs.StartSpan(ctx, "Planning")
	memo, err := cache.NewMemo(s.cfg.MemoCacheEntries)
	if err != nil {
		planSpan.End()
		return nil, fmt.Errorf("ziptag: memo cache: %w", err)
	}
	defer memo.Close()
	p, err := plan.Build(view, prog, s.cfg)
	planSpan.End()
	if err != nil {
		return nil, err
	}

	ctx, execSpan := s.obs.StartSpan(ctx, "Executing")
	defer execSpan.End()
	ex := exec.New(view, s.pool, memo, s.cfg.ParallelThreshold)
	return ex.Execute(ctx, p)
}

// Explain parses and plans dsl without executing it, returning a
// human-readable rendering of the chosen operator tree.
func (s *Store) Explain(dsl string) (string, error) {
	prog, err := lang.Parse(dsl)
	if err != nil {
		return "", err
	}
	overlayTx, err := buildOverlayTx(s.gs, s.cfg, prog.Main.Overlay)
	if err != nil {
		return "", err
	}
	var view *txn.View
	if overlayTx != nil {
		view = txn.NewView(s.gs, s.gs.CurrentRev(), overlayTx)
	} else {
		view = txn.NewView(s.gs, s.gs.CurrentRev())
	}
	p, err := plan.Build(view, prog, s.cfg)
	if err != nil {
		return "", err
	}
	return plan.Explain(p), nil
}

// buildOverlayTx lowers a parsed `with { ... }` block (spec §6) into a Tx
// staged but never committed, so Fetch/Explain can compose it into the
// view the same way a caller-supplied in-flight Tx is composed.
func buildOverlayTx(gs *graph.Store, cfg *config.Config, stmts []lang.OverlayStmt) (*txn.Tx, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	tx := txn.New(gs, cfg)
	for _, stmt := range stmts {
		switch stmt.Kind {
		case lang.OverlayAddTag:
			if _, err := tx.AddTag(stmt.TType, stmt.Val); err != nil {
				return nil, err
			}
		case lang.OverlayRemTag:
			view := txn.NewView(gs, gs.CurrentRev(), tx)
			tref, ok := view.LookupByIdentity(stmt.TType, stmt.Val)
			if !ok {
				continue // nothing live under this identity to remove
			}
			if err := tx.RemTag(tref); err != nil {
				return nil, err
			}
		case lang.OverlayLink:
			a, err := resolveOverlayRef(tx, stmt.A)
			if err != nil {
				return nil, err
			}
			b, err := resolveOverlayRef(tx, stmt.B)
			if err != nil {
				return nil, err
			}
			if err := tx.Link(a, b); err != nil {
				return nil, err
			}
		case lang.OverlayUnlink:
			a, err := resolveOverlayRef(tx, stmt.A)
			if err != nil {
				return nil, err
			}
			b, err := resolveOverlayRef(tx, stmt.B)
			if err != nil {
				return nil, err
			}
			if err := tx.Unlink(a, b); err != nil {
				return nil, err
			}
		}
	}
	return tx, nil
}

// resolveOverlayRef resolves a link/unlink endpoint to a Tref. AddTag is
// idempotent against both the base store and this same Tx's earlier
// statements, so this both finds an existing tag and stages a missing one.
func resolveOverlayRef(tx *txn.Tx, ref lang.Ref) (graph.Tref, error) {
	if ref.IsName() {
		return 0, &errs.QueryParseError{Reason: "unresolved overlay binding " + ref.Name}
	}
	return tx.AddTag(ref.TType, ref.Val)
}

// Stats reports coarse counters about the Store's current state, for the
// CLI's `stats` subcommand.
type Stats struct {
	CurrentRev graph.Rev
	TagCount   int
	LinkCount  int
}

// Stats computes a fresh Stats snapshot.
func (s *Store) Stats() Stats {
	return Stats{
		CurrentRev: s.gs.CurrentRev(),
		TagCount:   len(s.gs.AllTags()),
		LinkCount:  len(s.gs.AllLinks()),
	}
}

// Snapshot writes a fresh snapshot of every tag and link live at the
// current revision, then rewrites MANIFEST to point at it. Intended to
// be called periodically by a host process, not automatically.
func (s *Store) Snapshot() error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	rev := s.gs.CurrentRev()
	liveTags := make([]*graph.Tag, 0)
	for _, t := range s.gs.AllTags() {
		if t.Live(rev) {
			liveTags = append(liveTags, t)
		}
	}
	liveLinks := make([]*graph.Link, 0)
	for _, l := range s.gs.AllLinks() {
		if l.Live(rev) {
			liveLinks = append(liveLinks, l)
		}
	}

	name, err := wal.WriteSnapshot(s.cfg.Path, rev, s.gs.NextTref(), liveTags, liveLinks, s.cfg.SnapshotCompression)
	if err != nil {
		return err
	}

	s.manifest = wal.Manifest{SnapshotRev: rev, SnapshotFile: filepath.Base(name), WALSeq: s.walSeq}
	return wal.WriteManifest(s.cfg.Path, s.manifest)
}

// Recover is a standalone entry point (used by `ziptag recover`) that
// replays a data directory's WAL tail over its latest snapshot and
// reports the resulting revision, without opening a live Store.
func Recover(path string) (graph.Rev, error) {
	gs, _, err := wal.Recover(path)
	if err != nil {
		return 0, err
	}
	return gs.CurrentRev(), nil
}
