// Package cache implements the planner's memoization cache (spec §4.E):
// sub-plans keyed by (input digest, digest(sub_ast)) with bounded size and
// view-scoped invalidation. The executor fills the input digest from the
// view's base revision, not from a tref set; DigestTrefSet is available
// but the executor does not use it. Backed by ristretto for admission and
// eviction, and xxhash for the digests themselves.
package cache

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/brifl/ziptag/pkg/graph"
)

// Digest is a stable content hash, used as a cache key component.
type Digest uint64

// DigestTrefSet hashes a tref set order-independently: the set is
// sorted ascending before hashing so the digest only depends on content.
func DigestTrefSet(trefs []graph.Tref) Digest {
	sorted := append([]graph.Tref(nil), trefs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	h := xxhash.New()
	buf := make([]byte, 8)
	for _, tref := range sorted {
		putUint64(buf, uint64(tref))
		h.Write(buf)
	}
	return Digest(h.Sum64())
}

// DigestString hashes an arbitrary string, used for sub-AST digests
// (callers render the sub-AST to a canonical string before hashing).
func DigestString(s string) Digest {
	return Digest(xxhash.Sum64String(s))
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// MemoKey identifies one memoized sub-plan result.
type MemoKey struct {
	InputDigest  Digest
	SubAstDigest Digest
}

// Memo is the view-scoped memoization cache. A fresh Memo must be built
// for each query's view (it is invalidated by discarding it, not by
// explicit eviction, whenever current_rev advances or an overlay
// changes — spec §4.E).
type Memo struct {
	ring *ristretto.Cache[MemoKey, []graph.Tref]
}

// NewMemo builds a Memo admitting up to maxEntries distinct sub-plan
// results.
func NewMemo(maxEntries int64) (*Memo, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	ring, err := ristretto.NewCache(&ristretto.Config[MemoKey, []graph.Tref]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memo{ring: ring}, nil
}

// Get returns a cached sub-plan result, if present.
func (m *Memo) Get(key MemoKey) ([]graph.Tref, bool) {
	return m.ring.Get(key)
}

// Put inserts a sub-plan result, keyed by cost 1 (entry-counted, not
// byte-sized — sub-plan results over a tref-set domain are homogeneous
// enough that entry count is itself the right weighting signal).
func (m *Memo) Put(key MemoKey, result []graph.Tref) {
	m.ring.Set(key, result, 1)
}

// Close releases the underlying ristretto cache's background goroutines.
func (m *Memo) Close() { m.ring.Close() }
