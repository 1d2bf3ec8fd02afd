package scenario

import (
	"errors"
	"fmt"
	"strings"
)

var ErrTagExpression = errors.New("scenario: invalid tag expression")

// CompileTags turns a Cucumber tag expression such as
// "@positive or @negative" into godog's tag filter syntax. Expressions may
// use and, or, not and parentheses, with not binding tightest and or
// loosest.
//
// godog filters are a conjunction of comma separated alternatives
// ("@a,@b && ~@c"), so the expression is rewritten in conjunctive normal
// form. An empty expression compiles to the empty filter.
func CompileTags(expr string) (string, error) {
	tokens := tokenize(expr)
	if len(tokens) == 0 {
		return "", nil
	}
	p := &tagParser{tokens: tokens}
	n, err := p.or()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.tokens) {
		return "", fmt.Errorf("%w: unexpected %q in %q", ErrTagExpression, p.tokens[p.pos], expr)
	}
	return render(cnf(n, false)), nil
}

type tagNode struct {
	op          string // "tag", "not", "and", "or"
	tag         string
	left, right *tagNode
}

type literal struct {
	tag     string
	negated bool
}

type clause []literal

// cnf returns n, or its negation when neg is set, as a list of clauses
// that must all hold.
func cnf(n *tagNode, neg bool) []clause {
	switch {
	case n.op == "tag":
		return []clause{{{tag: n.tag, negated: neg}}}
	case n.op == "not":
		return cnf(n.left, !neg)
	case (n.op == "and") != neg:
		return append(cnf(n.left, neg), cnf(n.right, neg)...)
	}
	// or, or a negated and: distribute over the clauses of both sides.
	left, right := cnf(n.left, neg), cnf(n.right, neg)
	out := make([]clause, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			c := make(clause, 0, len(l)+len(r))
			out = append(out, append(append(c, l...), r...))
		}
	}
	return out
}

func render(clauses []clause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		alts := make([]string, len(c))
		for j, lit := range c {
			if lit.negated {
				alts[j] = "~" + lit.tag
			} else {
				alts[j] = lit.tag
			}
		}
		parts[i] = strings.Join(alts, ",")
	}
	return strings.Join(parts, " && ")
}

func tokenize(expr string) []string {
	expr = strings.NewReplacer("(", " ( ", ")", " ) ").Replace(expr)
	return strings.Fields(expr)
}

type tagParser struct {
	tokens []string
	pos    int
}

func (p *tagParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *tagParser) or() (*tagNode, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.pos++
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &tagNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *tagParser) and() (*tagNode, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.pos++
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = &tagNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *tagParser) not() (*tagNode, error) {
	if p.peek() == "not" {
		p.pos++
		n, err := p.not()
		if err != nil {
			return nil, err
		}
		return &tagNode{op: "not", left: n}, nil
	}
	return p.operand()
}

func (p *tagParser) operand() (*tagNode, error) {
	tok := p.peek()
	switch {
	case tok == "":
		return nil, fmt.Errorf("%w: unexpected end", ErrTagExpression)
	case tok == "(":
		p.pos++
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("%w: missing )", ErrTagExpression)
		}
		p.pos++
		return n, nil
	case strings.HasPrefix(tok, "@") && len(tok) > 1 && !strings.ContainsAny(tok, ",~&"):
		p.pos++
		return &tagNode{op: "tag", tag: tok}, nil
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrTagExpression, tok)
}
