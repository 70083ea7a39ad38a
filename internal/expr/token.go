package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenIdent
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenPower
	tokenLParen
	tokenRParen
	tokenComma
	tokenDot
	tokenLT
	tokenGT
	tokenLE
	tokenGE
	tokenEQ
	tokenNE
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression into tokens. Only the characters the sub-language
// grammar needs are accepted; anything else is a lex error.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			seenDot := false
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.' && !seenDot) {
				if src[i] == '.' {
					// a dot followed by a letter ends the number (dotted name)
					if i+1 < len(src) && !isDigit(src[i+1]) {
						break
					}
					seenDot = true
				}
				i++
			}
			tokens = append(tokens, token{tokenNumber, src[start:i], start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			tokens = append(tokens, token{tokenIdent, src[start:i], start})
		case c == '+':
			tokens = append(tokens, token{tokenPlus, "+", i})
			i++
		case c == '-':
			tokens = append(tokens, token{tokenMinus, "-", i})
			i++
		case c == '*':
			if i+1 < len(src) && src[i+1] == '*' {
				tokens = append(tokens, token{tokenPower, "**", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenStar, "*", i})
				i++
			}
		case c == '/':
			tokens = append(tokens, token{tokenSlash, "/", i})
			i++
		case c == '%':
			tokens = append(tokens, token{tokenPercent, "%", i})
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokenComma, ",", i})
			i++
		case c == '.':
			tokens = append(tokens, token{tokenDot, ".", i})
			i++
		case c == '<':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokenLE, "<=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenLT, "<", i})
				i++
			}
		case c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokenGE, ">=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenGT, ">", i})
				i++
			}
		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokenEQ, "==", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '=' at position %d (use '==')", i)
			}
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokenNE, "!=", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '!' at position %d", i)
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	tokens = append(tokens, token{tokenEOF, "", len(src)})
	return tokens, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// comparisonOps maps operator spellings used in condition rules to token
// kinds.
var comparisonOps = map[string]tokenKind{
	"<": tokenLT, ">": tokenGT, "<=": tokenLE, ">=": tokenGE, "==": tokenEQ, "!=": tokenNE,
}

// ValidOp reports whether op is one of the six comparison operators allowed
// in condition rules.
func ValidOp(op string) bool {
	_, ok := comparisonOps[strings.TrimSpace(op)]
	return ok
}
