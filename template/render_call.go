package template

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// renderCall is one `{{ xnovu_render('key', {...}) }}` occurrence found in a
// template body. Start and End delimit the full call including the mustache
// braces. Err is set when the argument list does not parse; the renderer
// substitutes the error placeholder in that case.
type renderCall struct {
	Start int
	End   int
	Key   string
	Vars  map[string]any
	Err   error
}

const renderFuncName = "xnovu_render"

// findRenderCalls scans the template body for render calls in order of
// appearance. Plain `{{ path }}` placeholders never match; they carry no
// parentheses.
func findRenderCalls(s string) []renderCall {
	var calls []renderCall
	for i := 0; i < len(s); {
		open := strings.Index(s[i:], "{{")
		if open < 0 {
			break
		}
		start := i + open
		p := &callParser{s: s, i: start + 2}
		p.ws()
		if !p.literal(renderFuncName) {
			i = start + 2
			continue
		}
		call := p.parseCall(start)
		calls = append(calls, call)
		i = call.End
	}
	return calls
}

// callParser is a minimal recursive-descent parser over the render call
// argument list. It understands double, single, and backtick quotes on keys
// and values, bare identifiers as keys, and nested objects, arrays, numbers,
// booleans, and null as values. It is deliberately not a general JSON or
// JavaScript parser.
type callParser struct {
	s string
	i int
}

// parseCall parses from just after the function name through the closing
// mustache. On malformed input it records the error and resynchronizes at
// the next `}}` so the renderer can substitute a placeholder.
func (p *callParser) parseCall(start int) renderCall {
	call := renderCall{Start: start}
	fail := func(err error) renderCall {
		call.Err = err
		if end := strings.Index(p.s[p.i:], "}}"); end >= 0 {
			call.End = p.i + end + 2
		} else {
			call.End = len(p.s)
		}
		return call
	}

	p.ws()
	if !p.literal("(") {
		return fail(fmt.Errorf("expected '(' after %s", renderFuncName))
	}
	p.ws()
	key, err := p.parseQuoted()
	if err != nil {
		return fail(fmt.Errorf("template key: %w", err))
	}
	call.Key = key
	p.ws()
	vars := map[string]any{}
	if p.literal(",") {
		p.ws()
		vars, err = p.parseObject()
		if err != nil {
			return fail(fmt.Errorf("variable object: %w", err))
		}
		p.ws()
	}
	if !p.literal(")") {
		return fail(fmt.Errorf("expected ')' closing %s call", renderFuncName))
	}
	p.ws()
	if !p.literal("}}") {
		return fail(fmt.Errorf("expected '}}' closing render call"))
	}
	call.Vars = vars
	call.End = p.i
	return call
}

func (p *callParser) ws() {
	for p.i < len(p.s) && unicode.IsSpace(rune(p.s[p.i])) {
		p.i++
	}
}

func (p *callParser) literal(lit string) bool {
	if strings.HasPrefix(p.s[p.i:], lit) {
		p.i += len(lit)
		return true
	}
	return false
}

func (p *callParser) peek() byte {
	if p.i < len(p.s) {
		return p.s[p.i]
	}
	return 0
}

func (p *callParser) parseObject() (map[string]any, error) {
	if !p.literal("{") {
		return nil, fmt.Errorf("expected '{' at offset %d", p.i)
	}
	obj := map[string]any{}
	p.ws()
	if p.literal("}") {
		return obj, nil
	}
	for {
		p.ws()
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		p.ws()
		if !p.literal(":") {
			return nil, fmt.Errorf("expected ':' after key %q", key)
		}
		p.ws()
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		obj[key] = val
		p.ws()
		if p.literal(",") {
			continue
		}
		if p.literal("}") {
			return obj, nil
		}
		return nil, fmt.Errorf("expected ',' or '}' after value of %q", key)
	}
}

func (p *callParser) parseKey() (string, error) {
	switch p.peek() {
	case '"', '\'', '`':
		return p.parseQuoted()
	}
	start := p.i
	for p.i < len(p.s) && (isIdentByte(p.s[p.i]) || (p.i > start && p.s[p.i] >= '0' && p.s[p.i] <= '9')) {
		p.i++
	}
	if p.i == start {
		return "", fmt.Errorf("expected object key at offset %d", start)
	}
	return p.s[start:p.i], nil
}

func (p *callParser) parseValue() (any, error) {
	switch c := p.peek(); {
	case c == '"' || c == '\'' || c == '`':
		return p.parseQuoted()
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	case p.literal("true"):
		return true, nil
	case p.literal("false"):
		return false, nil
	case p.literal("null"):
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected value at offset %d", p.i)
	}
}

func (p *callParser) parseArray() ([]any, error) {
	if !p.literal("[") {
		return nil, fmt.Errorf("expected '[' at offset %d", p.i)
	}
	var arr []any
	p.ws()
	if p.literal("]") {
		return arr, nil
	}
	for {
		p.ws()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
		p.ws()
		if p.literal(",") {
			continue
		}
		if p.literal("]") {
			return arr, nil
		}
		return nil, fmt.Errorf("expected ',' or ']' at offset %d", p.i)
	}
}

func (p *callParser) parseQuoted() (string, error) {
	quote := p.peek()
	if quote != '"' && quote != '\'' && quote != '`' {
		return "", fmt.Errorf("expected quoted string at offset %d", p.i)
	}
	p.i++
	var b strings.Builder
	for p.i < len(p.s) {
		c := p.s[p.i]
		switch c {
		case '\\':
			if p.i+1 >= len(p.s) {
				return "", fmt.Errorf("unterminated escape at offset %d", p.i)
			}
			next := p.s[p.i+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(next)
			}
			p.i += 2
		case quote:
			p.i++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.i++
		}
	}
	return "", fmt.Errorf("unterminated string at offset %d", p.i)
}

func (p *callParser) parseNumber() (any, error) {
	start := p.i
	if p.peek() == '-' {
		p.i++
	}
	for p.i < len(p.s) && (p.s[p.i] >= '0' && p.s[p.i] <= '9' || p.s[p.i] == '.') {
		p.i++
	}
	text := p.s[start:p.i]
	if strings.Contains(text, ".") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed number %q", text)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed number %q", text)
	}
	return float64(n), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
