package domain

import (
	"fmt"
	"strings"
)

// NodeKind tags an expression tree node.
type NodeKind int

const (
	NodeLeaf NodeKind = iota
	NodeAnd
	NodeOr
)

// ExpressionNode is one node of an alarm expression: either a leaf holding a
// sub-expression or an AND/OR over at least two children.
type ExpressionNode struct {
	Kind     NodeKind
	Children []*ExpressionNode
	Sub      *AlarmSubExpression
}

// Evaluate folds the tree bottom-up; leaf reports whether a sub-expression is true.
func (n *ExpressionNode) Evaluate(leaf func(*AlarmSubExpression) bool) bool {
	switch n.Kind {
	case NodeAnd:
		for _, c := range n.Children {
			if !c.Evaluate(leaf) {
				return false
			}
		}
		return true
	case NodeOr:
		for _, c := range n.Children {
			if c.Evaluate(leaf) {
				return true
			}
		}
		return false
	default:
		return leaf(n.Sub)
	}
}

func (n *ExpressionNode) String() string {
	if n.Kind == NodeLeaf {
		return n.Sub.String()
	}
	sep := " and "
	if n.Kind == NodeOr {
		sep = " or "
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		if n.Kind == NodeAnd && c.Kind == NodeOr {
			parts[i] = "(" + c.String() + ")"
		} else {
			parts[i] = c.String()
		}
	}
	return strings.Join(parts, sep)
}

func (n *ExpressionNode) collect(out []*AlarmSubExpression) []*AlarmSubExpression {
	if n.Kind == NodeLeaf {
		return append(out, n.Sub)
	}
	for _, c := range n.Children {
		out = c.collect(out)
	}
	return out
}

// AlarmExpression is the boolean tree of an alarm.
type AlarmExpression struct {
	Root *ExpressionNode
	subs []*AlarmSubExpression
}

// NewAlarmExpression wraps an already built tree.
func NewAlarmExpression(root *ExpressionNode) *AlarmExpression {
	return &AlarmExpression{Root: root, subs: root.collect(nil)}
}

// ParseAlarmExpression parses expressions such as
//
//	avg(cpu{host=a}) > 90 times 3 and max(mem, 120) >= 80 or count(errors) > 0
//
// "and" binds tighter than "or"; parentheses group.
func ParseAlarmExpression(s string) (*AlarmExpression, error) {
	p, err := newParser(s)
	if err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return NewAlarmExpression(root), nil
}

// SubExpressions returns the leaves in left-to-right order.
func (e *AlarmExpression) SubExpressions() []*AlarmSubExpression {
	return e.subs
}

// Evaluate folds the tree; leaf reports whether a sub-expression is true.
func (e *AlarmExpression) Evaluate(leaf func(*AlarmSubExpression) bool) bool {
	return e.Root.Evaluate(leaf)
}

func (e *AlarmExpression) String() string {
	return e.Root.String()
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenWord
	tokenLParen
	tokenRParen
	tokenLBrace
	tokenRBrace
	tokenComma
	tokenEquals
	tokenOperator
	tokenAnd
	tokenOr
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// parser is a recursive-descent parser over a pre-lexed token slice.
type parser struct {
	input  string
	tokens []token
	pos    int
}

func newParser(input string) (*parser, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	return &parser{input: input, tokens: tokens}, nil
}

func isWordByte(c byte) bool {
	switch c {
	case '(', ')', '{', '}', ',', '=', '<', '>', '&', '|', ' ', '\t', '\n', '\r':
		return false
	}
	return true
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case c == '{':
			tokens = append(tokens, token{tokenLBrace, "{", i})
			i++
		case c == '}':
			tokens = append(tokens, token{tokenRBrace, "}", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokenComma, ",", i})
			i++
		case c == '=':
			tokens = append(tokens, token{tokenEquals, "=", i})
			i++
		case c == '<' || c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokenOperator, input[i : i+2], i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOperator, input[i : i+1], i})
				i++
			}
		case c == '&' || c == '|':
			if i+1 >= len(input) || input[i+1] != c {
				return nil, fmt.Errorf("unexpected %q at position %d", c, i)
			}
			kind := tokenAnd
			if c == '|' {
				kind = tokenOr
			}
			tokens = append(tokens, token{kind, input[i : i+2], i})
			i += 2
		default:
			start := i
			for i < len(input) && isWordByte(input[i]) {
				i++
			}
			tokens = append(tokens, token{tokenWord, input[start:i], start})
		}
	}
	return append(tokens, token{tokenEOF, "", len(input)}), nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		if tok.kind == tokenEOF {
			return tok, p.errorf(tok, "expected %s, got end of expression", what)
		}
		return tok, p.errorf(tok, "expected %s, got %q", what, tok.text)
	}
	return tok, nil
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return fmt.Errorf("invalid expression %q at position %d: %s", p.input, tok.pos, fmt.Sprintf(format, args...))
}

func (p *parser) isKeyword(kind tokenKind, word string) bool {
	tok := p.peek()
	return tok.kind == kind || (tok.kind == tokenWord && strings.EqualFold(tok.text, word))
}

func (p *parser) parseOr() (*ExpressionNode, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []*ExpressionNode{first}
	for p.isKeyword(tokenOr, "or") {
		p.next()
		child, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &ExpressionNode{Kind: NodeOr, Children: children}, nil
}

func (p *parser) parseAnd() (*ExpressionNode, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	children := []*ExpressionNode{first}
	for p.isKeyword(tokenAnd, "and") {
		p.next()
		child, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &ExpressionNode{Kind: NodeAnd, Children: children}, nil
}

func (p *parser) parseTerm() (*ExpressionNode, error) {
	if p.peek().kind == tokenLParen {
		p.next()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return node, nil
	}
	sub, err := p.parseSubExpression()
	if err != nil {
		return nil, err
	}
	return &ExpressionNode{Kind: NodeLeaf, Sub: &sub}, nil
}

func (p *parser) parseSubExpression() (AlarmSubExpression, error) {
	var sub AlarmSubExpression

	tok, err := p.expect(tokenWord, "function")
	if err != nil {
		return sub, err
	}
	if sub.Function, err = ParseAggregateFunction(tok.text); err != nil {
		return sub, p.errorf(tok, "%v", err)
	}
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return sub, err
	}
	if sub.Definition, err = p.parseMetricDefinition(); err != nil {
		return sub, err
	}

	sub.Period = DefaultPeriod
	if p.peek().kind == tokenComma {
		p.next()
		tok, err := p.expect(tokenWord, "period")
		if err != nil {
			return sub, err
		}
		if sub.Period, err = parsePositiveInt(tok.text); err != nil {
			return sub, p.errorf(tok, "period: %v", err)
		}
	}
	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return sub, err
	}

	tok = p.next()
	if tok.kind != tokenOperator && tok.kind != tokenWord {
		return sub, p.errorf(tok, "expected operator, got %q", tok.text)
	}
	if sub.Operator, err = ParseAlarmOperator(tok.text); err != nil {
		return sub, p.errorf(tok, "%v", err)
	}

	tok, err = p.expect(tokenWord, "threshold")
	if err != nil {
		return sub, err
	}
	if sub.Threshold, err = parseThreshold(tok.text); err != nil {
		return sub, p.errorf(tok, "threshold: %v", err)
	}

	sub.Periods = 1
	if next := p.peek(); next.kind == tokenWord && strings.EqualFold(next.text, "times") {
		p.next()
		tok, err := p.expect(tokenWord, "periods")
		if err != nil {
			return sub, err
		}
		if sub.Periods, err = parsePositiveInt(tok.text); err != nil {
			return sub, p.errorf(tok, "times: %v", err)
		}
	}
	if err := sub.Validate(); err != nil {
		return sub, fmt.Errorf("invalid expression %q: %w", p.input, err)
	}
	return sub, nil
}

func (p *parser) parseMetricDefinition() (MetricDefinition, error) {
	tok, err := p.expect(tokenWord, "metric name")
	if err != nil {
		return MetricDefinition{}, err
	}
	def := MetricDefinition{Name: tok.text, Dimensions: map[string]string{}}
	if p.peek().kind != tokenLBrace {
		return def, nil
	}
	p.next()
	for {
		key, err := p.expect(tokenWord, "dimension name")
		if err != nil {
			return def, err
		}
		if _, err := p.expect(tokenEquals, "'='"); err != nil {
			return def, err
		}
		value, err := p.expect(tokenWord, "dimension value")
		if err != nil {
			return def, err
		}
		if _, dup := def.Dimensions[key.text]; dup {
			return def, p.errorf(key, "duplicate dimension %q", key.text)
		}
		def.Dimensions[key.text] = value.text

		tok := p.next()
		if tok.kind == tokenRBrace {
			return def, nil
		}
		if tok.kind != tokenComma {
			return def, p.errorf(tok, "expected ',' or '}', got %q", tok.text)
		}
	}
}
