package template

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenOutput
	tokenTag
)

type token struct {
	kind tokenKind
	text string
	line int
}

type delimiter struct {
	open, close string
	kind        tokenKind
	comment     bool
}

var delimiters = []delimiter{
	{open: "{{", close: "}}", kind: tokenOutput},
	{open: "{%", close: "%}", kind: tokenTag},
	{open: "{#", close: "#}", comment: true},
}

// HasSyntax reports whether s contains template markup.
func HasSyntax(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%") || strings.Contains(s, "{#")
}

// lex splits src into text, output and tag tokens. A "-" just inside a
// delimiter trims whitespace from the neighbouring text. Comments are
// dropped.
func lex(src string) ([]token, error) {
	var tokens []token
	trimNext := false
	line := 1

	emitText := func(text string) {
		if trimNext {
			text = strings.TrimLeft(text, " \t\r\n")
			trimNext = false
		}
		if text != "" {
			tokens = append(tokens, token{kind: tokenText, text: text, line: line})
		}
	}

	rest := src
	for rest != "" {
		start, d := nextDelimiter(rest)
		if start < 0 {
			emitText(rest)
			break
		}

		inner := rest[start+len(d.open):]
		end := strings.Index(inner, d.close)
		if end < 0 {
			return nil, fmt.Errorf("line %d: unclosed %s", line+strings.Count(rest[:start], "\n"), d.open)
		}
		inner = inner[:end]

		trimLeft := strings.HasPrefix(inner, "-")
		trimRight := strings.HasSuffix(inner, "-") && len(inner) > 1
		if trimLeft {
			inner = inner[1:]
		}
		if trimRight {
			inner = inner[:len(inner)-1]
		}

		text := rest[:start]
		if trimLeft {
			text = strings.TrimRight(text, " \t\r\n")
		}
		emitText(text)
		line += strings.Count(rest[:start], "\n")

		if !d.comment {
			tokens = append(tokens, token{kind: d.kind, text: strings.TrimSpace(inner), line: line})
		}
		line += strings.Count(inner, "\n")
		trimNext = trimRight

		rest = rest[start+len(d.open)+end+len(d.close):]
	}
	return tokens, nil
}

func nextDelimiter(s string) (int, delimiter) {
	best := -1
	var found delimiter
	for _, d := range delimiters {
		if i := strings.Index(s, d.open); i >= 0 && (best < 0 || i < best) {
			best, found = i, d
		}
	}
	return best, found
}

// rewriteFilters turns Jinja-style filters into expr pipe calls:
// "x | length" becomes "x | length()". Calls that already have arguments
// are left alone and "||" is not a filter.
func rewriteFilters(expr string) string {
	if !strings.Contains(expr, "|") {
		return expr
	}

	var b strings.Builder
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		b.WriteByte(c)

		if quote != 0 {
			if c == '\\' && i+1 < len(expr) {
				i++
				b.WriteByte(expr[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
			continue
		case '|':
		default:
			continue
		}
		if (i+1 < len(expr) && expr[i+1] == '|') || (i > 0 && expr[i-1] == '|') {
			if i+1 < len(expr) && expr[i+1] == '|' {
				i++
				b.WriteByte('|')
			}
			continue
		}

		// copy spaces and the filter name, then add () if missing
		j := i + 1
		for j < len(expr) && expr[j] == ' ' {
			j++
		}
		k := j
		for k < len(expr) && isIdentByte(expr[k]) {
			k++
		}
		if k == j {
			continue
		}
		b.WriteString(expr[i+1 : k])
		m := k
		for m < len(expr) && expr[m] == ' ' {
			m++
		}
		if m >= len(expr) || expr[m] != '(' {
			b.WriteString("()")
		}
		i = k - 1
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
