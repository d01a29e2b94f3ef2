package graph

import (
	"sort"
	"sync"
	"sync/atomic"
)

// generation is an immutable snapshot of the Graph Store's derived
// indices. A new generation is built and atomically swapped in on every
// InstallDelta; readers captured against an older generation keep serving
// from it until they finish their query and drop the reference, which is
// what gives fetch its lock-free dirty-read behavior (spec §5).
type generation struct {
	byType          map[string]map[string]Tref // ttype -> val -> tref, LIVE entries only
	byTref          map[Tref]*Tag              // every tag ever created, tombstoned or not
	identityHistory map[identity][]Tref        // every tref ever assigned to an identity, creation order
	adjIndex        map[Tref][]linkKey         // every link ever incident to a tref
	links           map[linkKey]*Link          // every link ever created
	ttypes          map[string]struct{}        // declared ttypes (implicit or explicit)
}

func newGeneration() *generation {
	return &generation{
		byType:          make(map[string]map[string]Tref),
		byTref:          make(map[Tref]*Tag),
		identityHistory: make(map[identity][]Tref),
		adjIndex:        make(map[Tref][]linkKey),
		links:           make(map[linkKey]*Link),
		ttypes:          make(map[string]struct{}),
	}
}

// clone performs a shallow copy-on-write: the top-level maps are new and
// each byType inner map is copied, while identityHistory and adjIndex
// slices and the *Tag/*Link values are shared with the previous generation.
// InstallDelta mutates only the paths touched by the delta being applied.
func (g *generation) clone() *generation {
	ng := &generation{
		byType:          make(map[string]map[string]Tref, len(g.byType)),
		byTref:          make(map[Tref]*Tag, len(g.byTref)),
		identityHistory: make(map[identity][]Tref, len(g.identityHistory)),
		adjIndex:        make(map[Tref][]linkKey, len(g.adjIndex)),
		links:           make(map[linkKey]*Link, len(g.links)),
		ttypes:          make(map[string]struct{}, len(g.ttypes)),
	}
	for k, v := range g.byType {
		inner := make(map[string]Tref, len(v))
		for vv, tref := range v {
			inner[vv] = tref
		}
		ng.byType[k] = inner
	}
	for k, v := range g.byTref {
		ng.byTref[k] = v
	}
	for k, v := range g.identityHistory {
		ng.identityHistory[k] = v
	}
	for k, v := range g.adjIndex {
		ng.adjIndex[k] = v
	}
	for k, v := range g.links {
		ng.links[k] = v
	}
	for k, v := range g.ttypes {
		ng.ttypes[k] = v
	}
	return ng
}

// NewTag describes a tag creation already assigned a real Tref, ready to
// be folded into base state by InstallDelta.
type NewTag struct {
	Tref  Tref
	TType string
	Val   string
}

// LinkPair is an unordered pair of Trefs touched by a delta.
type LinkPair struct {
	A, B Tref
}

// Delta is a fully-resolved set of mutations ready for InstallDelta. Every
// Tref referenced is already real (no negative placeholders) — resolving
// placeholders is the Transaction/Overlay layer's job (pkg/txn).
type Delta struct {
	DeclareTTypes  []string
	DropTTypes     []string
	NewTags        []NewTag
	TombstonedTags []Tref
	AddedLinks     []LinkPair
	RemovedLinks   []LinkPair
}

// Store is ZipTag's canonical in-memory graph: tags, per-type indices, and
// untyped bidirectional adjacency. It is the only component that ever
// mutates committed state, and it does so through a single entry point,
// InstallDelta, called with the writer lock held.
type Store struct {
	gen        atomic.Pointer[generation]
	nextTref   atomic.Int64
	currentRev atomic.Uint64
	writerMu   sync.Mutex
}

// NewStore returns an empty Store at rev 0 with the first Tref available
// being 1 (0 is reserved so a zero-valued Tref reads unambiguously as
// "none").
func NewStore() *Store {
	s := &Store{}
	s.gen.Store(newGeneration())
	s.nextTref.Store(1)
	return s
}

// CurrentRev returns the latest committed revision.
func (s *Store) CurrentRev() Rev { return s.currentRev.Load() }

// RestoreFromSnapshot rebuilds the Store's state directly from a
// previously captured snapshot or WAL replay, bypassing InstallDelta's
// copy-on-write path since there is no prior generation worth preserving
// at startup. Callers must not use the Store concurrently while this runs.
func (s *Store) RestoreFromSnapshot(rev Rev, nextTref Tref, tags []*Tag, links []*Link) {
	g := newGeneration()
	for _, t := range tags {
		cp := *t
		g.byTref[cp.Tref] = &cp
		g.ttypes[cp.TType] = struct{}{}
		id := identity{cp.TType, cp.Val}
		g.identityHistory[id] = append(g.identityHistory[id], cp.Tref)
		if cp.Live(rev) {
			if g.byType[cp.TType] == nil {
				g.byType[cp.TType] = make(map[string]Tref)
			}
			g.byType[cp.TType][cp.Val] = cp.Tref
		}
	}
	for _, l := range links {
		cp := *l
		key := newLinkKey(cp.A, cp.B)
		g.links[key] = &cp
		g.adjIndex[cp.A] = append(g.adjIndex[cp.A], key)
		g.adjIndex[cp.B] = append(g.adjIndex[cp.B], key)
	}
	s.gen.Store(g)
	s.currentRev.Store(rev)
	if nextTref > s.nextTref.Load() {
		s.nextTref.Store(nextTref)
	}
}

// BumpNextTrefFloor ensures future ReserveTref calls never hand out a
// value <= tref. Used by recovery when replaying commits whose tags
// already carry real trefs.
func (s *Store) BumpNextTrefFloor(tref Tref) {
	for {
		cur := s.nextTref.Load()
		if tref < cur {
			return
		}
		if s.nextTref.CompareAndSwap(cur, tref+1) {
			return
		}
	}
}

// AllTags returns every tag ever created (including tombstoned), for
// snapshot building.
func (s *Store) AllTags() []*Tag {
	g := s.snapshot()
	out := make([]*Tag, 0, len(g.byTref))
	for _, t := range g.byTref {
		out = append(out, t)
	}
	return out
}

// AllLinks returns every link ever created (including tombstoned), for
// snapshot building.
func (s *Store) AllLinks() []*Link {
	g := s.snapshot()
	out := make([]*Link, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, l)
	}
	return out
}

// ReserveTref atomically hands out the next never-reused Tref. Called by
// the transaction layer while assembling the Delta for a commit, before
// InstallDelta is invoked under the writer lock.
func (s *Store) ReserveTref() Tref { return s.nextTref.Add(1) - 1 }

// NextTref peeks the next Tref ReserveTref would hand out, without
// reserving it. Used by snapshot writers that need to persist the
// allocator floor without mutating it.
func (s *Store) NextTref() Tref { return s.nextTref.Load() }

// Writer returns the exclusive lock commit must hold across WAL append and
// InstallDelta (spec §5's single-writer discipline).
func (s *Store) Writer() *sync.Mutex { return &s.writerMu }

// snapshot returns the generation a reader should use for the rest of its
// query. Callers MUST NOT hold this reference beyond one query/commit.
func (s *Store) snapshot() *generation { return s.gen.Load() }

// LookupByIdentity returns the Tref live at atRev for (ttype, val), if any.
func (s *Store) LookupByIdentity(ttype, val string, atRev Rev) (Tref, bool) {
	g := s.snapshot()
	for _, tref := range g.identityHistory[identity{ttype, val}] {
		if tag := g.byTref[tref]; tag.Live(atRev) {
			return tref, true
		}
	}
	return 0, false
}

// Get returns the tag with the given Tref if it is live at atRev.
func (s *Store) Get(tref Tref, atRev Rev) (*Tag, bool) {
	g := s.snapshot()
	tag, ok := g.byTref[tref]
	if !ok || !tag.Live(atRev) {
		return nil, false
	}
	return tag, true
}

// GetAny returns the tag with the given Tref regardless of liveness,
// mainly for WAL replay and diagnostics where the caller already knows
// what it wants.
func (s *Store) GetAny(tref Tref) (*Tag, bool) {
	g := s.snapshot()
	tag, ok := g.byTref[tref]
	return tag, ok
}

// Neighbors returns the Trefs adjacent to tref that are live at atRev,
// sorted ascending for deterministic tie-breaking downstream.
func (s *Store) Neighbors(tref Tref, atRev Rev) []Tref {
	g := s.snapshot()
	keys := g.adjIndex[tref]
	out := make([]Tref, 0, len(keys))
	for _, k := range keys {
		link := g.links[k]
		if !link.Live(atRev) {
			continue
		}
		other := k.lo
		if other == tref {
			other = k.hi
		}
		if tag := g.byTref[other]; tag.Live(atRev) {
			out = append(out, other)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Linked reports whether a and b are connected by a live link at atRev.
func (s *Store) Linked(a, b Tref, atRev Rev) bool {
	g := s.snapshot()
	key := newLinkKey(a, b)
	link, ok := g.links[key]
	return ok && link.Live(atRev)
}

// AllOfType returns every Tref of the given ttype live at atRev, sorted
// ascending.
func (s *Store) AllOfType(ttype string, atRev Rev) []Tref {
	g := s.snapshot()
	// Fast path: at the current rev, by_type already holds exactly the
	// live set.
	if atRev == s.CurrentRev() {
		bucket := g.byType[ttype]
		out := make([]Tref, 0, len(bucket))
		for _, tref := range bucket {
			out = append(out, tref)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
	var out []Tref
	for _, trefs := range g.identityHistory {
		for _, tref := range trefs {
			tag := g.byTref[tref]
			if tag.TType == ttype && tag.Live(atRev) {
				out = append(out, tref)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CardinalityEstimate returns a cheap estimate of |all_of_type(ttype)| at
// the current revision, used by the planner for join ordering (spec
// §4.E). It is a live lookup, not a maintained counter, since by_type is
// already O(1) to size.
func (s *Store) CardinalityEstimate(ttype string) int {
	g := s.snapshot()
	return len(g.byType[ttype])
}

// KnownTType reports whether ttype has ever been declared or used,
// regardless of whether any live tag of that type remains. Used by the
// planner/executor to implement strict_types.
func (s *Store) KnownTType(ttype string) bool {
	g := s.snapshot()
	_, ok := g.ttypes[ttype]
	return ok
}

// InstallDelta is the sole mutator of committed state. The caller MUST
// hold Writer() for the duration of the call. Mutations are applied in
// the order the spec mandates: ttype declarations, tag creations, link
// additions, link removals, tag removals.
func (s *Store) InstallDelta(delta *Delta, newRev Rev) {
	base := s.snapshot()
	g := base.clone()

	// Tag and Link are value objects shared by pointer with the previous
	// generation after clone()'s shallow copy. Any in-place mutation must
	// go through these helpers, which copy-on-first-write within this
	// call so older generations a reader still holds are never touched.
	touchedLinks := make(map[linkKey]*Link)
	mutableLink := func(key linkKey) *Link {
		if l, ok := touchedLinks[key]; ok {
			return l
		}
		cp := *g.links[key]
		touchedLinks[key] = &cp
		g.links[key] = &cp
		return &cp
	}
	touchedTags := make(map[Tref]*Tag)
	mutableTag := func(tref Tref) *Tag {
		if t, ok := touchedTags[tref]; ok {
			return t
		}
		cp := *g.byTref[tref]
		touchedTags[tref] = &cp
		g.byTref[tref] = &cp
		return &cp
	}

	for _, t := range delta.DeclareTTypes {
		g.ttypes[t] = struct{}{}
	}

	for _, nt := range delta.NewTags {
		g.ttypes[nt.TType] = struct{}{}
		tag := &Tag{Tref: nt.Tref, TType: nt.TType, Val: nt.Val, CreateRev: newRev, DeleteRev: RevInfinite}
		g.byTref[nt.Tref] = tag
		id := identity{nt.TType, nt.Val}
		g.identityHistory[id] = append(append([]Tref{}, g.identityHistory[id]...), nt.Tref)
		if g.byType[nt.TType] == nil {
			g.byType[nt.TType] = make(map[string]Tref)
		}
		g.byType[nt.TType][nt.Val] = nt.Tref
	}

	for _, pair := range delta.AddedLinks {
		key := newLinkKey(pair.A, pair.B)
		if _, ok := g.links[key]; ok {
			existing := mutableLink(key)
			if existing.DeleteRev == RevInfinite {
				continue // already live, no-op per idempotent link semantics
			}
			// Re-adding a previously removed link reuses the key but gets
			// a fresh create_rev; its old delete_rev stays as history.
			existing.CreateRev = newRev
			existing.DeleteRev = RevInfinite
			continue
		}
		g.links[key] = &Link{A: pair.A, B: pair.B, CreateRev: newRev, DeleteRev: RevInfinite}
		g.adjIndex[pair.A] = append(append([]linkKey{}, g.adjIndex[pair.A]...), key)
		g.adjIndex[pair.B] = append(append([]linkKey{}, g.adjIndex[pair.B]...), key)
	}

	for _, pair := range delta.RemovedLinks {
		key := newLinkKey(pair.A, pair.B)
		if _, ok := g.links[key]; ok {
			if link := mutableLink(key); link.DeleteRev == RevInfinite {
				link.DeleteRev = newRev
			}
		}
	}

	for _, tref := range delta.TombstonedTags {
		base, ok := g.byTref[tref]
		if !ok || base.DeleteRev != RevInfinite {
			continue
		}
		tag := mutableTag(tref)
		tag.DeleteRev = newRev
		if bucket := g.byType[tag.TType]; bucket != nil {
			if bucket[tag.Val] == tref {
				delete(bucket, tag.Val)
				if len(bucket) == 0 {
					delete(g.byType, tag.TType) // prune empty ttype buckets (invariant 5)
				}
			}
		}
		// Cascade: tombstone every still-live link incident to this tag.
		for _, key := range g.adjIndex[tref] {
			if link := mutableLink(key); link.DeleteRev == RevInfinite {
				link.DeleteRev = newRev
			}
		}
	}

	for _, dropped := range delta.DropTTypes {
		delete(g.ttypes, dropped)
	}

	s.gen.Store(g)
	s.currentRev.Store(newRev)
}
