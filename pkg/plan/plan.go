// Package plan transforms a parsed DSL query (pkg/lang) into an ordered
// tree of primitive operators over tref-sets, applying the
// simplification rules and join ordering from spec §4.E.
package plan

import (
	"fmt"

	"github.com/brifl/ziptag/pkg/cache"
	"github.com/brifl/ziptag/pkg/config"
	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/lang"
	"github.com/brifl/ziptag/pkg/txn"
)

// OpKind identifies one of the primitive operators from spec §4.E.
type OpKind int

const (
	OpSourceAllOfType OpKind = iota
	OpSourceByIdentity
	OpTraverse
	OpFilterType
	OpFilterPredicate
	OpIntersect
	OpUnion
	OpDifference
	OpMemo
)

// Op is one node of the physical plan tree.
type Op struct {
	Kind   OpKind
	TType  string
	Val    string
	Filter *lang.ValueFilter

	Input  *Op
	Input2 *Op // Intersect / Union / Difference's second operand

	Cardinality int // estimate, for explain() and join ordering decisions already applied at build time
}

// Plan is a built, simplified operator tree ready for execution.
type Plan struct {
	Root *Op
}

// Build transforms prog's main query into a Plan, evaluated against
// view for cardinality estimates used by join ordering (spec §4.E). cfg
// may be nil, in which case strict_types enforcement is skipped (an
// unknown ttype is the implicit-empty-set default).
func Build(view *txn.View, prog *lang.Program, cfg *config.Config) (*Plan, error) {
	steps := prog.Main.Steps
	if len(steps) == 0 {
		return nil, &errs.QueryParseError{Reason: "query has no steps"}
	}
	var cur *Op
	for i, step := range steps {
		switch step.Kind {
		case lang.StepAny:
			if i == 0 {
				return nil, &errs.QueryParseError{Reason: "'*' cannot be the first step"}
			}
			cur = memoize(&Op{Kind: OpTraverse, Input: cur})
		case lang.StepTypeFilter:
			if err := checkStrictType(view, cfg, step.TType); err != nil {
				return nil, err
			}
			val, isIdentity := identityEquality(step.Filter)
			if i == 0 {
				cur = buildSource(view, step.TType, val, isIdentity, step.Filter)
				continue
			}
			trav := &Op{Kind: OpTraverse, Input: cur}
			if isIdentity {
				src := &Op{Kind: OpSourceByIdentity, TType: step.TType, Val: val, Cardinality: 1}
				cur = memoize(orderByCardinality(src, trav))
				continue
			}
			filt := &Op{Kind: OpFilterType, TType: step.TType, Input: trav, Cardinality: view.Store().CardinalityEstimate(step.TType)}
			if step.Filter != nil {
				filt = &Op{Kind: OpFilterPredicate, Input: filt, Filter: step.Filter}
			}
			cur = memoize(filt)
		default:
			return nil, &errs.QueryParseError{Reason: "unresolved varref in plan build (parser should have inlined it)"}
		}
	}
	root := simplify(cur)
	return &Plan{Root: root}, nil
}

// checkStrictType enforces spec §7's strict_types option: when cfg asks
// for it and ttype has never been declared or used in view, the query
// fails fast at plan time instead of silently sourcing an empty set.
func checkStrictType(view *txn.View, cfg *config.Config, ttype string) error {
	if cfg == nil || !cfg.StrictTypes {
		return nil
	}
	if view.KnownTType(ttype) {
		return nil
	}
	return &errs.QueryTypeError{TType: ttype}
}

func buildSource(view *txn.View, ttype, val string, isIdentity bool, filter *lang.ValueFilter) *Op {
	if isIdentity {
		return &Op{Kind: OpSourceByIdentity, TType: ttype, Val: val, Cardinality: 1}
	}
	src := &Op{Kind: OpSourceAllOfType, TType: ttype, Cardinality: view.Store().CardinalityEstimate(ttype)}
	if filter != nil {
		return &Op{Kind: OpFilterPredicate, Input: src, Filter: filter}
	}
	return src
}

// orderByCardinality intersects a and b with the smaller-estimated-cost
// operand first (spec §4.E join ordering).
func orderByCardinality(a, b *Op) *Op {
	if a.Cardinality <= b.Cardinality {
		return &Op{Kind: OpIntersect, Input: a, Input2: b}
	}
	return &Op{Kind: OpIntersect, Input: b, Input2: a}
}

func memoize(op *Op) *Op { return &Op{Kind: OpMemo, Input: op} }

// identityEquality reports whether filter is exactly a single `== "v"`
// predicate with no other disjuncts or conjuncts — the shape spec §4.E
// rule 5 rewrites into a SourceByIdentity.
func identityEquality(filter *lang.ValueFilter) (string, bool) {
	if filter == nil || len(filter.Disjuncts) != 1 {
		return "", false
	}
	conj := filter.Disjuncts[0]
	if len(conj.Predicates) != 1 {
		return "", false
	}
	pred := conj.Predicates[0]
	if pred.Kind != lang.PredicateCompare || pred.Op != "==" {
		return "", false
	}
	return pred.Value, true
}

// Digest renders op's subtree to a canonical string for memoization's
// digest(sub_ast) key component.
func (op *Op) Digest() cache.Digest {
	return cache.DigestString(op.describe())
}

func (op *Op) describe() string {
	if op == nil {
		return "nil"
	}
	switch op.Kind {
	case OpSourceAllOfType:
		return fmt.Sprintf("all(%s)", op.TType)
	case OpSourceByIdentity:
		return fmt.Sprintf("id(%s,%q)", op.TType, op.Val)
	case OpTraverse:
		return fmt.Sprintf("traverse(%s)", op.Input.describe())
	case OpFilterType:
		return fmt.Sprintf("type(%s,%s)", op.TType, op.Input.describe())
	case OpFilterPredicate:
		return fmt.Sprintf("pred(%s,%v)", op.Input.describe(), op.Filter)
	case OpIntersect:
		return fmt.Sprintf("and(%s,%s)", op.Input.describe(), op.Input2.describe())
	case OpUnion:
		return fmt.Sprintf("or(%s,%s)", op.Input.describe(), op.Input2.describe())
	case OpDifference:
		return fmt.Sprintf("sub(%s,%s)", op.Input.describe(), op.Input2.describe())
	case OpMemo:
		return fmt.Sprintf("memo(%s)", op.Input.describe())
	default:
		return "?"
	}
}
