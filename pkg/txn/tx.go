// Package txn implements ZipTag's Transaction/Overlay layer (spec §4.C):
// an in-memory delta staged against a base revision, with idempotent
// operations and an atomic six-step commit into the Graph Store.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/brifl/ziptag/pkg/config"
	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
	"github.com/brifl/ziptag/pkg/wal"
)

type identity struct{ ttype, val string }

type stagedTag struct{ ttype, val string }

type opKind int

const (
	opDeclareTType opKind = iota
	opDropTType
	opAddTag
	opRemTag
	opLink
	opUnlink
)

// opRecord is one accepted (non-no-op) staged mutation, kept in the order
// it was staged so WAL TXOPs come out in the same deterministic order.
type opRecord struct {
	kind        opKind
	ttype       string
	val         string
	tref        graph.Tref
	a, b        graph.Tref
	placeholder graph.Tref
}

var txidSeq atomic.Uint64

// Tx is an in-memory delta layer opened against a base revision. It is
// not safe for concurrent use by multiple goroutines.
type Tx struct {
	mu sync.Mutex

	store     *graph.Store
	cfg       *config.Config
	parentRev graph.Rev
	closed    bool

	nextPlaceholder atomic.Int64

	byIdentity map[identity]graph.Tref
	newTags    map[graph.Tref]stagedTag
	tombstoned map[graph.Tref]bool

	linksAdded   map[graph.Tref]map[graph.Tref]bool
	linksRemoved map[graph.Tref]map[graph.Tref]bool

	declared map[string]bool
	dropped  map[string]bool

	ops []opRecord
}

// New opens a transaction against store's current revision. cfg may be
// nil, in which case no value/ttype length validation is performed.
func New(store *graph.Store, cfg *config.Config) *Tx {
	tx := &Tx{
		store:        store,
		cfg:          cfg,
		parentRev:    store.CurrentRev(),
		byIdentity:   make(map[identity]graph.Tref),
		newTags:      make(map[graph.Tref]stagedTag),
		tombstoned:   make(map[graph.Tref]bool),
		linksAdded:   make(map[graph.Tref]map[graph.Tref]bool),
		linksRemoved: make(map[graph.Tref]map[graph.Tref]bool),
		declared:     make(map[string]bool),
		dropped:      make(map[string]bool),
	}
	tx.nextPlaceholder.Store(-1)
	return tx
}

// ParentRev returns the revision this transaction was opened against.
func (tx *Tx) ParentRev() graph.Rev { return tx.parentRev }

func (tx *Tx) newPlaceholder() graph.Tref {
	return graph.Tref(tx.nextPlaceholder.Add(-1))
}

// AddTag is idempotent: a tag already present in the merged view (base or
// already staged) is returned unchanged.
func (tx *Tx) AddTag(ttype, val string) (graph.Tref, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return 0, errs.ErrTxClosed
	}

	id := identity{ttype, val}
	if ph, ok := tx.byIdentity[id]; ok && !tx.tombstoned[ph] {
		return ph, nil
	}
	if tref, ok := tx.store.LookupByIdentity(ttype, val, tx.parentRev); ok && !tx.tombstoned[tref] {
		return tref, nil
	}

	maxTType := 64
	if tx.cfg != nil && tx.cfg.MaxTTypeBytes > 0 {
		maxTType = tx.cfg.MaxTTypeBytes
	}
	if !graph.ValidTType(ttype, maxTType) {
		return 0, &errs.ValidationError{Field: "ttype", Reason: "malformed or oversize ttype identifier"}
	}
	if tx.cfg != nil && tx.cfg.MaxValBytes > 0 && len(val) > tx.cfg.MaxValBytes {
		return 0, &errs.ValidationError{Field: "val", Reason: "value exceeds max_val_bytes"}
	}

	ph := tx.newPlaceholder()
	tx.newTags[ph] = stagedTag{ttype: ttype, val: val}
	tx.byIdentity[id] = ph
	tx.ops = append(tx.ops, opRecord{kind: opAddTag, ttype: ttype, val: val, placeholder: ph})
	return ph, nil
}

// RemTag is a no-op if tref is already tombstoned in this transaction.
func (tx *Tx) RemTag(tref graph.Tref) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errs.ErrTxClosed
	}
	if tx.tombstoned[tref] {
		return nil
	}
	tx.tombstoned[tref] = true
	tx.ops = append(tx.ops, opRecord{kind: opRemTag, tref: tref})
	return nil
}

// Link adds an (a, b) edge, idempotent against the merged view.
func (tx *Tx) Link(a, b graph.Tref) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errs.ErrTxClosed
	}
	if a == b {
		return &errs.ValidationError{Field: "link", Reason: "self-links are not allowed"}
	}
	if tx.linked(a, b) {
		return nil
	}
	tx.addLink(tx.linksAdded, a, b)
	tx.addLink(tx.linksAdded, b, a)
	tx.removeLink(tx.linksRemoved, a, b)
	tx.removeLink(tx.linksRemoved, b, a)
	tx.ops = append(tx.ops, opRecord{kind: opLink, a: a, b: b})
	return nil
}

// Unlink removes an (a, b) edge, a no-op if not currently linked in the
// merged view.
func (tx *Tx) Unlink(a, b graph.Tref) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errs.ErrTxClosed
	}
	if !tx.linked(a, b) {
		return nil
	}
	tx.addLink(tx.linksRemoved, a, b)
	tx.addLink(tx.linksRemoved, b, a)
	tx.removeLink(tx.linksAdded, a, b)
	tx.removeLink(tx.linksAdded, b, a)
	tx.ops = append(tx.ops, opRecord{kind: opUnlink, a: a, b: b})
	return nil
}

// DeclareTType is a no-op if the ttype is already declared, in the base
// store or earlier in this transaction.
func (tx *Tx) DeclareTType(ttype string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errs.ErrTxClosed
	}
	if tx.declared[ttype] || tx.store.KnownTType(ttype) {
		return nil
	}
	tx.declared[ttype] = true
	tx.ops = append(tx.ops, opRecord{kind: opDeclareTType, ttype: ttype})
	return nil
}

// DropTType fails if any live tag of ttype remains in the merged view.
func (tx *Tx) DropTType(ttype string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return errs.ErrTxClosed
	}
	if tx.liveCountOfType(ttype) > 0 {
		return &errs.ValidationError{Field: "ttype", Reason: "cannot drop ttype with live tags"}
	}
	if tx.dropped[ttype] {
		return nil
	}
	tx.dropped[ttype] = true
	tx.ops = append(tx.ops, opRecord{kind: opDropTType, ttype: ttype})
	return nil
}

func (tx *Tx) liveCountOfType(ttype string) int {
	count := 0
	for _, tref := range tx.store.AllOfType(ttype, tx.parentRev) {
		if !tx.tombstoned[tref] {
			count++
		}
	}
	for ph, st := range tx.newTags {
		if st.ttype == ttype && !tx.tombstoned[ph] {
			count++
		}
	}
	return count
}

func (tx *Tx) linked(a, b graph.Tref) bool {
	if tx.linksRemoved[a] != nil && tx.linksRemoved[a][b] {
		return false
	}
	if tx.linksAdded[a] != nil && tx.linksAdded[a][b] {
		return true
	}
	if a > 0 && b > 0 {
		return tx.store.Linked(a, b, tx.parentRev)
	}
	return false
}

func (tx *Tx) addLink(m map[graph.Tref]map[graph.Tref]bool, a, b graph.Tref) {
	if m[a] == nil {
		m[a] = make(map[graph.Tref]bool)
	}
	m[a][b] = true
}

func (tx *Tx) removeLink(m map[graph.Tref]map[graph.Tref]bool, a, b graph.Tref) {
	if m[a] != nil {
		delete(m[a], b)
	}
}

// Abort discards the staged delta. Any further operation or Commit call
// returns ErrTxClosed.
func (tx *Tx) Abort() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.closed = true
}

func resolveTref(tref graph.Tref, resolved map[graph.Tref]graph.Tref) graph.Tref {
	if tref < 0 {
		if real, ok := resolved[tref]; ok {
			return real
		}
	}
	return tref
}

// Commit performs the six-step atomic commit described in spec §4.C: it
// re-validates staged removals against current_rev if the transaction is
// stale, assigns real trefs, appends the WAL transaction group (if log is
// non-nil — a nil log is used by in-memory-only tests), installs the
// delta into the Graph Store, and returns the new revision.
func (tx *Tx) Commit(log *wal.Log, tsMs int64) (graph.Rev, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return 0, errs.ErrTxClosed
	}

	writer := tx.store.Writer()
	writer.Lock()
	defer writer.Unlock()

	current := tx.store.CurrentRev()
	if tx.parentRev != current {
		for tref := range tx.tombstoned {
			if tref < 0 {
				continue // a tag staged and removed within this tx is never a base conflict
			}
			if _, ok := tx.store.Get(tref, current); !ok {
				tx.closed = true
				return 0, errs.ErrConflictStaleParent
			}
		}
		for a, others := range tx.linksRemoved {
			if a < 0 {
				continue
			}
			for b := range others {
				if b < 0 {
					continue
				}
				if !tx.store.Linked(a, b, current) {
					tx.closed = true
					return 0, errs.ErrConflictStaleParent
				}
			}
		}
	}

	newRev := current + 1
	resolved := make(map[graph.Tref]graph.Tref, len(tx.newTags))
	delta := &graph.Delta{}
	records := make([]wal.TxRecord, 0, len(tx.ops))

	for _, op := range tx.ops {
		switch op.kind {
		case opDeclareTType:
			delta.DeclareTTypes = append(delta.DeclareTTypes, op.ttype)
			records = append(records, wal.TxRecord{Kind: wal.OpDeclareTType, Payload: wal.EncodeTType(op.ttype)})
		case opDropTType:
			delta.DropTTypes = append(delta.DropTTypes, op.ttype)
			records = append(records, wal.TxRecord{Kind: wal.OpDropTType, Payload: wal.EncodeTType(op.ttype)})
		case opAddTag:
			real := tx.store.ReserveTref()
			resolved[op.placeholder] = real
			delta.NewTags = append(delta.NewTags, graph.NewTag{Tref: real, TType: op.ttype, Val: op.val})
			records = append(records, wal.TxRecord{Kind: wal.OpAddTag, Payload: wal.EncodeAddTag(wal.AddTagPayload{Tref: int64(real), TType: op.ttype, Val: op.val})})
		case opRemTag:
			real := resolveTref(op.tref, resolved)
			delta.TombstonedTags = append(delta.TombstonedTags, real)
			records = append(records, wal.TxRecord{Kind: wal.OpRemTag, Payload: wal.EncodeTref(int64(real))})
		case opLink:
			a, b := resolveTref(op.a, resolved), resolveTref(op.b, resolved)
			delta.AddedLinks = append(delta.AddedLinks, graph.LinkPair{A: a, B: b})
			records = append(records, wal.TxRecord{Kind: wal.OpLink, Payload: wal.EncodeLinkPair(int64(a), int64(b))})
		case opUnlink:
			a, b := resolveTref(op.a, resolved), resolveTref(op.b, resolved)
			delta.RemovedLinks = append(delta.RemovedLinks, graph.LinkPair{A: a, B: b})
			records = append(records, wal.TxRecord{Kind: wal.OpUnlink, Payload: wal.EncodeLinkPair(int64(a), int64(b))})
		}
	}

	if log != nil {
		txid := txidSeq.Add(1)
		if err := log.AppendTx(txid, uint64(tx.parentRev), tsMs, records, uint64(newRev)); err != nil {
			tx.closed = true
			return 0, err
		}
	}

	tx.store.InstallDelta(delta, newRev)
	tx.closed = true
	return newRev, nil
}
