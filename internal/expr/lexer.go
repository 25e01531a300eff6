package expr

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokVariable // ${...}; text holds the inner source
	tokOp
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// Longest operators first so "===" wins over "==".
var operators = []string{
	"===", "!==",
	"==", "!=", "<=", ">=", "&&", "||", "=~", "!~",
	"!", "-", "+", "*", "/", "%", "<", ">", "(", ")", "[", "]", ",", ".", "?", ":",
}

type lexer struct {
	src string
	pos int
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	var out []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

func (lx *lexer) errorf(pos int, msg string) error {
	return &SyntaxError{Source: lx.src, Pos: pos, Msg: msg}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		lx.pos += size
	}
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: lx.pos}, nil
	}

	start := lx.pos
	c := lx.src[lx.pos]
	switch {
	case isDigit(c) || (c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])):
		return lx.number()
	case c == '\'' || c == '"':
		return lx.string(c)
	case c == '$' && strings.HasPrefix(lx.src[lx.pos:], "${"):
		return lx.variable()
	case isIdentStart(c):
		for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tokIdent, text: lx.src[start:lx.pos], pos: start}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(lx.src[lx.pos:], op) {
			lx.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	return token{}, lx.errorf(start, "unexpected character "+strconv.QuoteRune(rune(c)))
}

func (lx *lexer) number() (token, error) {
	start := lx.pos
	if strings.HasPrefix(lx.src[lx.pos:], "0x") || strings.HasPrefix(lx.src[lx.pos:], "0X") {
		lx.pos += 2
		for lx.pos < len(lx.src) && isHexDigit(lx.src[lx.pos]) {
			lx.pos++
		}
		n, err := strconv.ParseInt(lx.src[start+2:lx.pos], 16, 64)
		if err != nil {
			return token{}, lx.errorf(start, "invalid hex literal")
		}
		return token{kind: tokNumber, num: float64(n), text: lx.src[start:lx.pos], pos: start}, nil
	}
	for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' {
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		lx.pos++
		if lx.pos < len(lx.src) && (lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-') {
			lx.pos++
		}
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	text := lx.src[start:lx.pos]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, lx.errorf(start, "invalid number "+strconv.Quote(text))
	}
	return token{kind: tokNumber, num: n, text: text, pos: start}, nil
}

func (lx *lexer) string(quote byte) (token, error) {
	start := lx.pos
	lx.pos++
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == quote:
			lx.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case c == '\\' && lx.pos+1 < len(lx.src):
			lx.pos++
			esc := lx.src[lx.pos]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'u':
				if lx.pos+4 < len(lx.src) {
					if r, err := strconv.ParseUint(lx.src[lx.pos+1:lx.pos+5], 16, 32); err == nil {
						sb.WriteRune(rune(r))
						lx.pos += 4
						break
					}
				}
				sb.WriteByte(esc)
			default:
				sb.WriteByte(esc)
			}
			lx.pos++
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
	return token{}, lx.errorf(start, "unterminated string")
}

// variable scans "${...}", allowing nested brackets and quoted strings so
// that ${feature['a}b']} stays one token.
func (lx *lexer) variable() (token, error) {
	start := lx.pos
	lx.pos += 2
	depth := 0
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch c {
		case '\'', '"':
			end := strings.IndexByte(lx.src[lx.pos+1:], c)
			if end < 0 {
				return token{}, lx.errorf(lx.pos, "unterminated string in variable")
			}
			lx.pos += end + 2
			continue
		case '[', '(', '{':
			depth++
		case ']', ')':
			depth--
		case '}':
			if depth == 0 {
				inner := lx.src[start+2 : lx.pos]
				lx.pos++
				return token{kind: tokVariable, text: strings.TrimSpace(inner), pos: start}, nil
			}
			depth--
		}
		lx.pos++
	}
	return token{}, lx.errorf(start, "unterminated variable")
}

func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }
func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
