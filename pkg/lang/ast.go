package lang

// Query is the root of a parsed DSL program: an optional overlay block
// staged before the pipeline, followed by the step chain itself.
type Query struct {
	Overlay []OverlayStmt
	Steps   []Step
}

// OverlayKind identifies which overlay_stmt production matched.
type OverlayKind int

const (
	OverlayAddTag OverlayKind = iota
	OverlayRemTag
	OverlayLink
	OverlayUnlink
)

// OverlayStmt is one statement inside a `with { ... }` block.
type OverlayStmt struct {
	Kind  OverlayKind
	TType string // add_tag / rem_tag
	Val   string
	As    string // add_tag's optional "as NAME" binding
	A, B  Ref    // link / unlink
}

// Ref is either a bound name from an earlier overlay statement or an
// inline (ttype, val) identity pair.
type Ref struct {
	Name  string
	TType string
	Val   string
}

func (r Ref) IsName() bool { return r.Name != "" }

// StepKind identifies which step production matched.
type StepKind int

const (
	StepTypeFilter StepKind = iota
	StepAny
	StepVarRef
)

// Step is one element of the `|` / `>` chain.
type Step struct {
	Kind   StepKind
	TType  string // StepTypeFilter
	Var    string // StepVarRef
	Filter *ValueFilter
}

// ValueFilter is a disjunction of conjunctions of predicates (DNF),
// matching the value_filter grammar production.
type ValueFilter struct {
	Disjuncts []Conjunction
}

// Conjunction is an AND-chain of predicates.
type Conjunction struct {
	Predicates []Predicate
}

// PredicateKind distinguishes a bare compare from a function call.
type PredicateKind int

const (
	PredicateCompare PredicateKind = iota
	PredicateFunCall
)

// Predicate is one leaf of a conjunction: either `== STRING`/`!= STRING`
// or a funcall like `startswith("py")`.
type Predicate struct {
	Kind    PredicateKind
	Op      string // "==" or "!="
	Value   string
	FunCall *FunCall
}

// FunCall is a named function applied to zero or more expressions.
type FunCall struct {
	Name string
	Args []Expr
}

// ExprKind distinguishes the expr grammar alternatives.
type ExprKind int

const (
	ExprString ExprKind = iota
	ExprNumber
	ExprName
	ExprFunCall
)

// Expr is one function-call argument.
type Expr struct {
	Kind    ExprKind
	Str     string
	Num     float64
	Name    string
	FunCall *FunCall
}

// Program holds the main query only: the parser consumes the prelude of
// named let-bindings and inlines every varref into Main (spec §4.D:
// "resolved to inlined sub-ASTs at parse time, no recursion"), so the
// bindings themselves are not kept.
type Program struct {
	Main Query
}
