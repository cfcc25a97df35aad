package template

import (
	"fmt"
	"strings"
)

type node interface{}

type textNode struct {
	text string
}

type outputNode struct {
	expr string
}

type ifBranch struct {
	cond string
	body []node
}

type ifNode struct {
	branches []ifBranch
	elseBody []node
}

type forNode struct {
	keyVar   string
	valueVar string
	iter     string
	body     []node
	elseBody []node
}

type setNode struct {
	name string
	expr string
}

type parser struct {
	tokens []token
	pos    int
}

func parse(src string) ([]node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	nodes, stop, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if stop != nil {
		return nil, fmt.Errorf("line %d: unexpected {%% %s %%}", stop.line, stop.text)
	}
	return nodes, nil
}

// parseBlock parses nodes until one of the stop keywords (or the end of
// input) and returns the tag token that stopped it.
func (p *parser) parseBlock(stops ...string) ([]node, *token, error) {
	var nodes []node
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		switch tok.kind {
		case tokenText:
			nodes = append(nodes, textNode{text: tok.text})
		case tokenOutput:
			if tok.text == "" {
				return nil, nil, fmt.Errorf("line %d: empty expression", tok.line)
			}
			nodes = append(nodes, outputNode{expr: rewriteFilters(tok.text)})
		case tokenTag:
			keyword, rest := splitKeyword(tok.text)
			for _, stop := range stops {
				if keyword == stop {
					return nodes, &tok, nil
				}
			}
			n, err := p.parseTag(tok, keyword, rest)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, n)
		}
	}
	if len(stops) > 0 {
		return nil, nil, fmt.Errorf("missing {%% %s %%}", stops[len(stops)-1])
	}
	return nodes, nil, nil
}

func (p *parser) parseTag(tok token, keyword, rest string) (node, error) {
	switch keyword {
	case "if":
		return p.parseIf(tok, rest)
	case "for":
		return p.parseFor(tok, rest)
	case "set":
		name, expr, ok := strings.Cut(rest, "=")
		name = strings.TrimSpace(name)
		expr = strings.TrimSpace(expr)
		if !ok || strings.HasPrefix(expr, "=") || !isIdent(name) || expr == "" {
			return nil, fmt.Errorf("line %d: set expects {%% set name = expression %%}", tok.line)
		}
		return setNode{name: name, expr: rewriteFilters(expr)}, nil
	default:
		return nil, fmt.Errorf("line %d: unexpected {%% %s %%}", tok.line, tok.text)
	}
}

func (p *parser) parseIf(tok token, cond string) (node, error) {
	if cond == "" {
		return nil, fmt.Errorf("line %d: if requires a condition", tok.line)
	}

	n := ifNode{}
	for {
		body, stop, err := p.parseBlock("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		n.branches = append(n.branches, ifBranch{cond: rewriteFilters(cond), body: body})

		keyword, rest := splitKeyword(stop.text)
		switch keyword {
		case "elif":
			if rest == "" {
				return nil, fmt.Errorf("line %d: elif requires a condition", stop.line)
			}
			cond = rest
		case "else":
			n.elseBody, _, err = p.parseBlock("endif")
			if err != nil {
				return nil, err
			}
			return n, nil
		default:
			return n, nil
		}
	}
}

func (p *parser) parseFor(tok token, rest string) (node, error) {
	vars, iter, ok := strings.Cut(rest, " in ")
	iter = strings.TrimSpace(iter)
	if !ok || iter == "" {
		return nil, fmt.Errorf("line %d: for expects {%% for item in expression %%}", tok.line)
	}

	n := forNode{iter: rewriteFilters(iter)}
	names := strings.Split(vars, ",")
	switch len(names) {
	case 1:
		n.valueVar = strings.TrimSpace(names[0])
	case 2:
		n.keyVar = strings.TrimSpace(names[0])
		n.valueVar = strings.TrimSpace(names[1])
		if !isIdent(n.keyVar) {
			return nil, fmt.Errorf("line %d: invalid loop variable %q", tok.line, n.keyVar)
		}
	default:
		return nil, fmt.Errorf("line %d: for accepts one or two loop variables", tok.line)
	}
	if !isIdent(n.valueVar) {
		return nil, fmt.Errorf("line %d: invalid loop variable %q", tok.line, n.valueVar)
	}

	body, stop, err := p.parseBlock("else", "endfor")
	if err != nil {
		return nil, err
	}
	n.body = body
	if keyword, _ := splitKeyword(stop.text); keyword == "else" {
		n.elseBody, _, err = p.parseBlock("endfor")
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

func splitKeyword(tag string) (keyword, rest string) {
	i := strings.IndexAny(tag, " \t\r\n")
	if i < 0 {
		return tag, ""
	}
	return tag[:i], strings.TrimSpace(tag[i:])
}

func isIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
