package lang

import (
	"strconv"

	"github.com/brifl/ziptag/pkg/errs"
)

type parser struct {
	toks []token
	pos  int
	lets map[string]Query
	refs map[string]Ref // overlay "as NAME" bindings visible to later ref productions
}

// Parse tokenizes and parses src (an optional prelude of let-bindings,
// then the main query) into a Program whose Main has every varref
// inlined (spec §4.D, grammar in spec §6).
func Parse(src string) (*Program, error) {
	toks, err := newLexer(src).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, lets: make(map[string]Query), refs: make(map[string]Ref)}

	for p.cur().kind == tokLet {
		if err := p.parseLet(); err != nil {
			return nil, err
		}
	}

	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, &errs.QueryParseError{Reason: "unexpected trailing input", Position: p.cur().pos, Suggestion: "remove extra tokens after the query"}
	}
	return &Program{Main: q}, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.cur().kind != kind {
		return token{}, &errs.QueryParseError{Reason: "expected " + what, Position: p.cur().pos, Suggestion: "check the grammar near this position"}
	}
	return p.advance(), nil
}

// parseLet handles `let NAME = ( query )`.
func (p *parser) parseLet() error {
	p.advance() // 'let'
	nameTok, err := p.expect(tokWord, "a binding name")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokAssign, "'='"); err != nil {
		return err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return err
	}
	q, err := p.parseQuery()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return err
	}
	p.lets[nameTok.text] = q
	return nil
}

func (p *parser) parseQuery() (Query, error) {
	var q Query
	if p.cur().kind == tokWith {
		p.advance()
		overlay, err := p.parseOverlayBlock()
		if err != nil {
			return q, err
		}
		q.Overlay = overlay
	}
	if _, err := p.expect(tokPipe, "'|'"); err != nil {
		return q, err
	}
	step, err := p.parseStep()
	if err != nil {
		return q, err
	}
	q.Steps = append(q.Steps, step...)
	for p.cur().kind == tokGT {
		p.advance()
		step, err := p.parseStep()
		if err != nil {
			return q, err
		}
		q.Steps = append(q.Steps, step...)
	}
	return q, nil
}

func (p *parser) parseOverlayBlock() ([]OverlayStmt, error) {
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var stmts []OverlayStmt
	for p.cur().kind != tokRBrace {
		stmt, err := p.parseOverlayStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if p.cur().kind == tokSemi {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *parser) parseOverlayStmt() (OverlayStmt, error) {
	switch p.cur().kind {
	case tokPlusTag:
		p.advance()
		ttype, val, err := p.parseTagArgs()
		if err != nil {
			return OverlayStmt{}, err
		}
		stmt := OverlayStmt{Kind: OverlayAddTag, TType: ttype, Val: val}
		if p.cur().kind == tokAs {
			p.advance()
			nameTok, err := p.expect(tokWord, "a binding name")
			if err != nil {
				return OverlayStmt{}, err
			}
			stmt.As = nameTok.text
			p.refs[nameTok.text] = Ref{TType: ttype, Val: val}
		}
		return stmt, nil
	case tokMinusTag:
		p.advance()
		ttype, val, err := p.parseTagArgs()
		if err != nil {
			return OverlayStmt{}, err
		}
		return OverlayStmt{Kind: OverlayRemTag, TType: ttype, Val: val}, nil
	case tokLink:
		p.advance()
		a, b, err := p.parseRefPair()
		if err != nil {
			return OverlayStmt{}, err
		}
		return OverlayStmt{Kind: OverlayLink, A: a, B: b}, nil
	case tokUnlink:
		p.advance()
		a, b, err := p.parseRefPair()
		if err != nil {
			return OverlayStmt{}, err
		}
		return OverlayStmt{Kind: OverlayUnlink, A: a, B: b}, nil
	default:
		return OverlayStmt{}, &errs.QueryParseError{Reason: "expected an overlay statement (+tag, -tag, link, unlink)", Position: p.cur().pos}
	}
}

func (p *parser) parseTagArgs() (ttype, val string, err error) {
	if _, err = p.expect(tokLParen, "'('"); err != nil {
		return
	}
	identTok, err := p.expect(tokWord, "a ttype identifier")
	if err != nil {
		return
	}
	if _, err = p.expect(tokComma, "','"); err != nil {
		return
	}
	valTok, err := p.expect(tokString, "a quoted value")
	if err != nil {
		return
	}
	if _, err = p.expect(tokRParen, "')'"); err != nil {
		return
	}
	return identTok.text, valTok.text, nil
}

func (p *parser) parseRefPair() (Ref, Ref, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return Ref{}, Ref{}, err
	}
	a, err := p.parseRef()
	if err != nil {
		return Ref{}, Ref{}, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return Ref{}, Ref{}, err
	}
	b, err := p.parseRef()
	if err != nil {
		return Ref{}, Ref{}, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return Ref{}, Ref{}, err
	}
	return a, b, nil
}

// parseRef handles the `ref := NAME | '(' IDENT ',' STRING ')'` production.
func (p *parser) parseRef() (Ref, error) {
	if p.cur().kind == tokLParen {
		p.advance()
		identTok, err := p.expect(tokWord, "a ttype identifier")
		if err != nil {
			return Ref{}, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return Ref{}, err
		}
		valTok, err := p.expect(tokString, "a quoted value")
		if err != nil {
			return Ref{}, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return Ref{}, err
		}
		return Ref{TType: identTok.text, Val: valTok.text}, nil
	}
	nameTok, err := p.expect(tokWord, "a bound name or (ttype, value)")
	if err != nil {
		return Ref{}, err
	}
	if ref, ok := p.refs[nameTok.text]; ok {
		return ref, nil
	}
	return Ref{Name: nameTok.text}, nil
}

// parseStep parses one `type_filter [value_filter] | '*' | varref`
// production. A varref is inlined as the referenced let-query's full
// step list, so it returns a slice.
func (p *parser) parseStep() ([]Step, error) {
	if p.cur().kind == tokStar {
		p.advance()
		return []Step{{Kind: StepAny}}, nil
	}
	wordTok, err := p.expect(tokWord, "a type name, '*', or a bound variable")
	if err != nil {
		return nil, err
	}
	if sub, ok := p.lets[wordTok.text]; ok {
		return sub.Steps, nil
	}
	step := Step{Kind: StepTypeFilter, TType: wordTok.text}
	if p.cur().kind == tokEq || p.cur().kind == tokNeq || p.cur().kind == tokLParen {
		filter, err := p.parseValueFilter()
		if err != nil {
			return nil, err
		}
		step.Filter = filter
	}
	return []Step{step}, nil
}

func (p *parser) parseValueFilter() (*ValueFilter, error) {
	if p.cur().kind == tokLParen {
		p.advance()
		vf, err := p.parseDisjunction()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return vf, nil
	}
	pred, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	return &ValueFilter{Disjuncts: []Conjunction{{Predicates: []Predicate{pred}}}}, nil
}

func (p *parser) parseDisjunction() (*ValueFilter, error) {
	first, err := p.parseConjunction()
	if err != nil {
		return nil, err
	}
	disjuncts := []Conjunction{first}
	for p.cur().kind == tokOr {
		p.advance()
		c, err := p.parseConjunction()
		if err != nil {
			return nil, err
		}
		disjuncts = append(disjuncts, c)
	}
	return &ValueFilter{Disjuncts: disjuncts}, nil
}

func (p *parser) parseConjunction() (Conjunction, error) {
	first, err := p.parsePredicate()
	if err != nil {
		return Conjunction{}, err
	}
	preds := []Predicate{first}
	for p.cur().kind == tokAnd {
		p.advance()
		pred, err := p.parsePredicate()
		if err != nil {
			return Conjunction{}, err
		}
		preds = append(preds, pred)
	}
	return Conjunction{Predicates: preds}, nil
}

func (p *parser) parsePredicate() (Predicate, error) {
	switch p.cur().kind {
	case tokEq, tokNeq:
		op := "=="
		if p.cur().kind == tokNeq {
			op = "!="
		}
		p.advance()
		valTok, err := p.expect(tokString, "a quoted value")
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{Kind: PredicateCompare, Op: op, Value: valTok.text}, nil
	case tokWord:
		fc, err := p.parseFunCall()
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{Kind: PredicateFunCall, FunCall: fc}, nil
	default:
		return Predicate{}, &errs.QueryParseError{Reason: "expected a comparison or function call", Position: p.cur().pos}
	}
}

func (p *parser) parseFunCall() (*FunCall, error) {
	nameTok, err := p.expect(tokWord, "a function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	fc := &FunCall{Name: nameTok.text}
	if p.cur().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			fc.Args = append(fc.Args, arg)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return fc, nil
}

func (p *parser) parseExpr() (Expr, error) {
	switch p.cur().kind {
	case tokString:
		tok := p.advance()
		return Expr{Kind: ExprString, Str: tok.text}, nil
	case tokNumber:
		tok := p.advance()
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return Expr{}, &errs.QueryParseError{Reason: "malformed number literal", Position: tok.pos}
		}
		return Expr{Kind: ExprNumber, Num: n}, nil
	case tokWord:
		// Disambiguate a bare name from a function call by lookahead.
		if p.toks[p.pos+1].kind == tokLParen {
			fc, err := p.parseFunCall()
			if err != nil {
				return Expr{}, err
			}
			return Expr{Kind: ExprFunCall, FunCall: fc}, nil
		}
		tok := p.advance()
		return Expr{Kind: ExprName, Name: tok.text}, nil
	default:
		return Expr{}, &errs.QueryParseError{Reason: "expected a string, number, name, or function call", Position: p.cur().pos}
	}
}
