// Package exec evaluates a built plan.Plan against a txn.View, producing
// the final tref-set a query resolves to (spec §4.F).
//
// Execution walks the operator tree bottom-up. Set operations
// (Intersect/Union/Difference) and type/predicate filters are evaluated
// inline; a Traverse whose input set is at least the configured parallel
// threshold is partitioned across pkg/pool's worker pool when one is
// configured. OpMemo nodes consult pkg/cache before evaluating their
// input, and insert the result after.
package exec

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/brifl/ziptag/pkg/cache"
	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
	"github.com/brifl/ziptag/pkg/plan"
	"github.com/brifl/ziptag/pkg/pool"
	"github.com/brifl/ziptag/pkg/txn"
)

// Executor holds the shared resources an Execute call needs beyond the
// view and plan themselves: the worker pool for parallel joins and the
// memoization cache for OpMemo nodes.
type Executor struct {
	View              *txn.View
	Pool              *pool.Pool
	Memo              *cache.Memo
	ParallelThreshold int
	Partitions        int
}

// New builds an Executor. pool and memo may be nil, in which case joins
// run inline and OpMemo nodes are evaluated without caching.
func New(view *txn.View, p *pool.Pool, memo *cache.Memo, parallelThreshold int) *Executor {
	if parallelThreshold <= 0 {
		parallelThreshold = 1024
	}
	return &Executor{View: view, Pool: p, Memo: memo, ParallelThreshold: parallelThreshold, Partitions: runtime.NumCPU()}
}

// Execute runs plan p to completion and returns the resulting tref set,
// sorted ascending. ctx is checked for cancellation between operators.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) ([]graph.Tref, error) {
	if p == nil || p.Root == nil {
		return nil, nil
	}
	result, err := e.eval(ctx, p.Root)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (e *Executor) eval(ctx context.Context, op *plan.Op) ([]graph.Tref, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.ErrCancelled
	}
	switch op.Kind {
	case plan.OpSourceAllOfType:
		return e.View.AllOfType(op.TType), nil

	case plan.OpSourceByIdentity:
		tref, ok := e.View.LookupByIdentity(op.TType, op.Val)
		if !ok {
			return nil, nil
		}
		return []graph.Tref{tref}, nil

	case plan.OpTraverse:
		in, err := e.eval(ctx, op.Input)
		if err != nil {
			return nil, err
		}
		return e.traverse(ctx, in)

	case plan.OpFilterType:
		in, err := e.eval(ctx, op.Input)
		if err != nil {
			return nil, err
		}
		out := make([]graph.Tref, 0, len(in))
		for _, tref := range in {
			if tag, ok := e.View.Get(tref); ok && tag.TType == op.TType {
				out = append(out, tref)
			}
		}
		return out, nil

	case plan.OpFilterPredicate:
		in, err := e.eval(ctx, op.Input)
		if err != nil {
			return nil, err
		}
		out := make([]graph.Tref, 0, len(in))
		for _, tref := range in {
			tag, ok := e.View.Get(tref)
			if !ok {
				continue
			}
			match, err := evalValueFilter(op.Filter, tag)
			if err != nil {
				return nil, err
			}
			if match {
				out = append(out, tref)
			}
		}
		return out, nil

	case plan.OpIntersect, plan.OpUnion, plan.OpDifference:
		left, err := e.eval(ctx, op.Input)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(ctx, op.Input2)
		if err != nil {
			return nil, err
		}
		return combine(op.Kind, left, right), nil

	case plan.OpMemo:
		// The whole computation is a pure function of (view revision,
		// overlay set, sub-ast), so the "input" half of the memo key is
		// the view's revision rather than an upstream tref set: this
		// node's subtree may itself be a fresh source, not a filter over
		// some prior result.
		key := cache.MemoKey{InputDigest: cache.DigestString(viewIdentity(e.View)), SubAstDigest: op.Input.Digest()}
		if e.Memo != nil {
			if cached, ok := e.Memo.Get(key); ok {
				return cached, nil
			}
		}
		result, err := e.eval(ctx, op.Input)
		if err != nil {
			return nil, err
		}
		if e.Memo != nil {
			e.Memo.Put(key, result)
		}
		return result, nil

	default:
		return nil, nil
	}
}

func viewIdentity(v *txn.View) string {
	// Only the base revision goes into the "input" half of the memo key;
	// neither it nor the sub-ast digest reflects the view's overlays. The
	// key is sound because a Memo is scoped to one view (a fresh Memo is
	// built for each query's view), so every entry in it was computed
	// against the same base revision and the same overlay set.
	return "rev:" + itoa(v.Rev())
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (e *Executor) traverse(ctx context.Context, in []graph.Tref) ([]graph.Tref, error) {
	if len(in) < e.ParallelThreshold || e.Pool == nil {
		present := make(map[graph.Tref]bool)
		for _, tref := range in {
			for _, n := range e.View.Neighbors(tref) {
				present[n] = true
			}
		}
		return setToSlice(present), nil
	}

	parts := e.Partitions
	if parts <= 0 {
		parts = 1
	}
	var mu sync.Mutex
	present := make(map[graph.Tref]bool)
	err := pool.Partition(ctx, e.Pool, len(in), parts, func(lo, hi int) {
		local := make(map[graph.Tref]bool)
		for _, tref := range in[lo:hi] {
			for _, n := range e.View.Neighbors(tref) {
				local[n] = true
			}
		}
		mu.Lock()
		for tref := range local {
			present[tref] = true
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, errs.ErrCancelled
	}
	return setToSlice(present), nil
}

func setToSlice(m map[graph.Tref]bool) []graph.Tref {
	out := make([]graph.Tref, 0, len(m))
	for tref := range m {
		out = append(out, tref)
	}
	return out
}

func combine(kind plan.OpKind, left, right []graph.Tref) []graph.Tref {
	rset := make(map[graph.Tref]bool, len(right))
	for _, tref := range right {
		rset[tref] = true
	}
	var out []graph.Tref
	switch kind {
	case plan.OpIntersect:
		for _, tref := range left {
			if rset[tref] {
				out = append(out, tref)
			}
		}
	case plan.OpDifference:
		for _, tref := range left {
			if !rset[tref] {
				out = append(out, tref)
			}
		}
	case plan.OpUnion:
		lset := make(map[graph.Tref]bool, len(left))
		for _, tref := range left {
			lset[tref] = true
			out = append(out, tref)
		}
		for _, tref := range right {
			if !lset[tref] {
				out = append(out, tref)
			}
		}
	}
	return out
}
