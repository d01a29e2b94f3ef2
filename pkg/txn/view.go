package txn

import (
	"sort"

	"github.com/brifl/ziptag/pkg/graph"
)

// View composes a base revision with zero or more transaction overlays,
// left-to-right, right-overrides-left (spec §4.C). A View with no
// overlays just reads straight through to the base store at its
// revision.
type View struct {
	store    *graph.Store
	rev      graph.Rev
	overlays []*Tx
}

// NewView builds a view over store at rev, layered with overlays in the
// order given (later overlays win).
func NewView(store *graph.Store, rev graph.Rev, overlays ...*Tx) *View {
	return &View{store: store, rev: rev, overlays: overlays}
}

// Rev returns the view's base revision.
func (v *View) Rev() graph.Rev { return v.rev }

// Store returns the underlying base store, for cardinality estimates and
// other base-level lookups the planner needs directly.
func (v *View) Store() *graph.Store { return v.store }

// LookupByIdentity resolves (ttype, val) through base then each overlay
// in order; a later overlay's staged tag or tombstone overrides an
// earlier resolution.
func (v *View) LookupByIdentity(ttype, val string) (graph.Tref, bool) {
	tref, found := v.store.LookupByIdentity(ttype, val, v.rev)
	id := identity{ttype, val}
	for _, ovl := range v.overlays {
		if ph, ok := ovl.byIdentity[id]; ok && !ovl.tombstoned[ph] {
			tref, found = ph, true
			continue
		}
		if found && ovl.tombstoned[tref] {
			found = false
		}
	}
	return tref, found
}

// Get returns the tag for tref (real or a placeholder owned by one of
// this view's overlays), honoring any later tombstone.
func (v *View) Get(tref graph.Tref) (*graph.Tag, bool) {
	if tref < 0 {
		for i, ovl := range v.overlays {
			st, ok := ovl.newTags[tref]
			if !ok {
				continue
			}
			if ovl.tombstoned[tref] {
				return nil, false
			}
			for _, later := range v.overlays[i+1:] {
				if later.tombstoned[tref] {
					return nil, false
				}
			}
			return &graph.Tag{Tref: tref, TType: st.ttype, Val: st.val, CreateRev: 0, DeleteRev: graph.RevInfinite}, true
		}
		return nil, false
	}

	tag, ok := v.store.Get(tref, v.rev)
	if !ok {
		return nil, false
	}
	for _, ovl := range v.overlays {
		if ovl.tombstoned[tref] {
			return nil, false
		}
	}
	return tag, true
}

// Neighbors returns tref's neighbors in the composed view, sorted
// ascending: base neighbors not tombstoned by any overlay, union overlay
// additions not tombstoned by a later overlay, filtered to endpoints
// still visible in the view.
func (v *View) Neighbors(tref graph.Tref) []graph.Tref {
	present := make(map[graph.Tref]bool)
	for _, n := range v.store.Neighbors(tref, v.rev) {
		present[n] = true
	}
	for _, ovl := range v.overlays {
		if added, ok := ovl.linksAdded[tref]; ok {
			for other := range added {
				present[other] = true
			}
		}
		if removed, ok := ovl.linksRemoved[tref]; ok {
			for other := range removed {
				delete(present, other)
			}
		}
	}
	out := make([]graph.Tref, 0, len(present))
	for other := range present {
		if _, ok := v.Get(other); ok {
			out = append(out, other)
		}
	}
	sortTrefs(out)
	return out
}

// AllOfType returns every Tref of ttype visible in the composed view,
// sorted ascending.
func (v *View) AllOfType(ttype string) []graph.Tref {
	present := make(map[graph.Tref]bool)
	for _, tref := range v.store.AllOfType(ttype, v.rev) {
		present[tref] = true
	}
	for _, ovl := range v.overlays {
		for tref := range ovl.tombstoned {
			delete(present, tref)
		}
		for ph, st := range ovl.newTags {
			if st.ttype == ttype {
				present[ph] = true
			}
		}
	}
	for tref := range present {
		if _, ok := v.Get(tref); !ok {
			delete(present, tref)
		}
	}
	out := make([]graph.Tref, 0, len(present))
	for tref := range present {
		out = append(out, tref)
	}
	sortTrefs(out)
	return out
}

// KnownTType reports whether ttype has been declared or used in the base
// store, or declared or used by a staged tag in any overlay, for
// strict_types enforcement upstream.
func (v *View) KnownTType(ttype string) bool {
	if v.store.KnownTType(ttype) {
		return true
	}
	for _, ovl := range v.overlays {
		if ovl.declared[ttype] {
			return true
		}
		for _, st := range ovl.newTags {
			if st.ttype == ttype {
				return true
			}
		}
	}
	return false
}

func sortTrefs(s []graph.Tref) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}
