package token

import "unicode"

type Type int

const (
	LParen Type = iota
	RParen
	Ident
	String
	Number
)

func (t Type) String() string {
	switch t {
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case Ident:
		return "identifier"
	case String:
		return "string"
	case Number:
		return "number"
	}
	return "unknown"
}

type Token struct {
	Value string
	Type  Type
	Line  int
}

// Tokenize splits WAT source into tokens. Comments are dropped.
func Tokenize(input string) []Token {
	var tokens []Token
	line := 1
	runes := []rune(input)
	n := len(runes)

	for i := 0; i < n; i++ {
		r := runes[i]
		switch {
		case r == '\n':
			line++
		case unicode.IsSpace(r):
		case r == ';' && i+1 < n && runes[i+1] == ';':
			for i < n && runes[i] != '\n' {
				i++
			}
			line++
		case r == '(' && i+1 < n && runes[i+1] == ';':
			depth := 1
			for i += 2; i < n && depth > 0; i++ {
				switch {
				case runes[i] == '\n':
					line++
				case runes[i] == '(' && i+1 < n && runes[i+1] == ';':
					depth++
					i++
				case runes[i] == ';' && i+1 < n && runes[i+1] == ')':
					depth--
					i++
				}
			}
			i--
		case r == '(':
			tokens = append(tokens, Token{"(", LParen, line})
		case r == ')':
			tokens = append(tokens, Token{")", RParen, line})
		case r == '"':
			start := i + 1
			for i++; i < n && runes[i] != '"'; i++ {
				if runes[i] == '\\' {
					i++
				}
			}
			tokens = append(tokens, Token{string(runes[start:min(i, n)]), String, line})
		case r == '-' || r == '+' || unicode.IsDigit(r):
			start := i
			for i++; i < n && isNumberRune(runes[i]); i++ {
			}
			tokens = append(tokens, Token{string(runes[start:i]), Number, line})
			i--
		case r == '$' || r == '_' || r == '.' || unicode.IsLetter(r):
			start := i
			for i++; i < n && isIdentRune(runes[i]); i++ {
			}
			tokens = append(tokens, Token{string(runes[start:i]), Ident, line})
			i--
		}
	}
	return tokens
}

func isNumberRune(r rune) bool {
	return unicode.IsDigit(r) || r == '_' || r == 'x' || r == 'X' ||
		(r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		r == '_' || r == '.' || r == '$' || r == '-' || r == ':' || r == '='
}
