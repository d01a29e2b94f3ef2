package exec

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
	"github.com/brifl/ziptag/pkg/lang"
)

// evalValueFilter reports whether tag's value satisfies filter, a
// disjunction of conjunctions of predicates (spec §6 value_filter).
func evalValueFilter(filter *lang.ValueFilter, tag *graph.Tag) (bool, error) {
	if filter == nil {
		return true, nil
	}
	for _, conj := range filter.Disjuncts {
		allTrue := true
		for _, pred := range conj.Predicates {
			ok, err := evalPredicate(pred, tag)
			if err != nil {
				return false, err
			}
			if !ok {
				allTrue = false
				break
			}
		}
		if allTrue {
			return true, nil
		}
	}
	return false, nil
}

func evalPredicate(pred lang.Predicate, tag *graph.Tag) (bool, error) {
	switch pred.Kind {
	case lang.PredicateCompare:
		switch pred.Op {
		case "==":
			return tag.Val == pred.Value, nil
		case "!=":
			return tag.Val != pred.Value, nil
		}
		return false, &errs.QueryParseError{Reason: "unknown comparison operator " + pred.Op}
	case lang.PredicateFunCall:
		return evalFunCall(pred.FunCall, tag.Val)
	default:
		return false, &errs.QueryParseError{Reason: "unknown predicate kind"}
	}
}

// evalFunCall dispatches one of the DSL's built-in scalar predicates
// (spec §6 built-in functions) against a tag's value.
func evalFunCall(f *lang.FunCall, val string) (bool, error) {
	switch f.Name {
	case "startswith":
		arg, err := stringArg(f, 0)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(val, arg), nil

	case "endswith":
		arg, err := stringArg(f, 0)
		if err != nil {
			return false, err
		}
		return strings.HasSuffix(val, arg), nil

	case "contains":
		arg, err := stringArg(f, 0)
		if err != nil {
			return false, err
		}
		return strings.Contains(val, arg), nil

	case "regex":
		pattern, err := stringArg(f, 0)
		if err != nil {
			return false, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, &errs.QueryParseError{Reason: "invalid regex: " + err.Error()}
		}
		return re.MatchString(val), nil

	case "num":
		op, threshold, err := numArgs(f)
		if err != nil {
			return false, err
		}
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return false, nil
		}
		return compareNum(n, op, threshold), nil

	case "all":
		if len(f.Args) == 0 {
			return true, nil
		}
		for _, arg := range f.Args {
			ok, err := evalFunCallArg(arg, val)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case "any":
		if len(f.Args) == 0 {
			return true, nil
		}
		for _, arg := range f.Args {
			ok, err := evalFunCallArg(arg, val)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case "exclude":
		if len(f.Args) != 1 {
			return false, &errs.QueryParseError{Reason: "exclude() expects exactly one function argument"}
		}
		ok, err := evalFunCallArg(f.Args[0], val)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case "match":
		if len(f.Args) != 1 {
			return false, &errs.QueryParseError{Reason: "match() expects exactly one function argument"}
		}
		return evalFunCallArg(f.Args[0], val)

	case "len":
		n, err := numArg(f, 0)
		if err != nil {
			return false, err
		}
		return len(val) == int(n), nil

	case "lower":
		arg, err := stringArg(f, 0)
		if err != nil {
			return false, err
		}
		return strings.ToLower(val) == strings.ToLower(arg), nil

	case "upper":
		arg, err := stringArg(f, 0)
		if err != nil {
			return false, err
		}
		return strings.ToUpper(val) == strings.ToUpper(arg), nil

	case "top", "match_first":
		// These rank or select across the whole candidate result set
		// (top's n-smallest/largest, match_first's per-key first in tref
		// order), not a single tag's value, so they cannot be evaluated
		// from this per-tag predicate position. They need a result-set
		// level plan stage this DSL doesn't have yet.
		return false, &errs.QueryParseError{Reason: f.Name + "() requires whole-result-set ranking, not supported as a per-tag predicate"}

	default:
		return false, &errs.QueryParseError{Reason: "unknown function " + f.Name, Suggestion: "startswith, endswith, contains, regex, num, all, any, exclude, match, len, lower, upper"}
	}
}

// evalFunCallArg evaluates arg as a nested predicate against val; used by
// the combinator functions (all/any/exclude/match) whose arguments are
// themselves function calls rather than scalars.
func evalFunCallArg(arg lang.Expr, val string) (bool, error) {
	if arg.Kind != lang.ExprFunCall || arg.FunCall == nil {
		return false, &errs.QueryParseError{Reason: "expected a nested function call argument"}
	}
	return evalFunCall(arg.FunCall, val)
}

func stringArg(f *lang.FunCall, idx int) (string, error) {
	if idx >= len(f.Args) || f.Args[idx].Kind != lang.ExprString {
		return "", &errs.QueryParseError{Reason: f.Name + "() expects a string argument at position " + strconv.Itoa(idx)}
	}
	return f.Args[idx].Str, nil
}

// numArg parses a single numeric argument at idx, for funcalls like len(8).
func numArg(f *lang.FunCall, idx int) (float64, error) {
	if idx >= len(f.Args) || f.Args[idx].Kind != lang.ExprNumber {
		return 0, &errs.QueryParseError{Reason: f.Name + "() expects a numeric argument at position " + strconv.Itoa(idx)}
	}
	return f.Args[idx].Num, nil
}

// numArgs parses num(">=", 5) / num("<", 3.5)-style two-argument calls: a
// comparison operator string followed by a numeric threshold.
func numArgs(f *lang.FunCall) (string, float64, error) {
	if len(f.Args) != 2 || f.Args[0].Kind != lang.ExprString || f.Args[1].Kind != lang.ExprNumber {
		return "", 0, &errs.QueryParseError{Reason: "num() expects (operator string, threshold number)"}
	}
	return f.Args[0].Str, f.Args[1].Num, nil
}

func compareNum(n float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return n > threshold
	case ">=":
		return n >= threshold
	case "<":
		return n < threshold
	case "<=":
		return n <= threshold
	case "==":
		return n == threshold
	case "!=":
		return n != threshold
	default:
		return false
	}
}
