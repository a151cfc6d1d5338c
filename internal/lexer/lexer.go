package lexer

import "fmt"

const (
	// Special
	EOF     = "EOF"
	ILLEGAL = "ILLEGAL"

	// Literals
	IDENT  = "IDENT"  // identifiers: x, fib, _tmp1, …
	NUMBER = "NUMBER" // numeric literals: 0, 42, 3.14, 1.0e10, …

	// Keywords
	DEF    = "DEF"
	EXTERN = "EXTERN"
	IF     = "IF"
	THEN   = "THEN"
	ELSE   = "ELSE"
	FOR    = "FOR"
	IN     = "IN"
	VAR    = "VAR"

	// Delimiters
	LPAREN    = "LPAREN"    // (
	RPAREN    = "RPAREN"    // )
	LBRACE    = "LBRACE"    // {
	RBRACE    = "RBRACE"    // }
	COMMA     = "COMMA"     // ,
	SEMICOLON = "SEMICOLON" // ;
	COLON     = "COLON"     // :

	// Operators
	ASSIGN = "ASSIGN" // =
	DEFINE = "DEFINE" // :=
	PLUS   = "PLUS"   // +
	MINUS  = "MINUS"  // -
	STAR   = "STAR"   // *
	SLASH  = "SLASH"  // /
	LT     = "LT"     // <
	GT     = "GT"     // >
)

// keywords maps reserved words to their token types.
var keywords = map[string]string{
	"def":    DEF,
	"extern": EXTERN,
	"if":     IF,
	"then":   THEN,
	"else":   ELSE,
	"for":    FOR,
	"in":     IN,
	"var":    VAR,
}

// Token represents a single lexical token produced by the lexer.
type Token struct {
	Type   string
	Value  string
	Line   int
	Column int
}

// LexError represents a recoverable error encountered during lexing.
type LexError struct {
	Message string
	Lexeme  string
	Line    int
	Column  int
}

func (e LexError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s (got %q)", e.Line, e.Column, e.Message, e.Lexeme)
}

// Lex splits input into tokens. Unknown characters and unterminated block
// comments are reported as LexErrors; lexing continues past them. The token
// slice always ends with an EOF token.
func Lex(input string) ([]Token, []LexError) {
	var tokens []Token
	var errors []LexError
	line, col, i := 1, 1, 0

	for i < len(input) {
		ch := input[i]
		if isWhitespace(ch) {
			if ch == '\n' {
				line++
				col = 1
			} else if ch != '\r' {
				col++
			}
			i++
			continue
		}

		// Comments: # … and // … run to end of line, /* … */ may span lines.
		if ch == '#' {
			i, col = skipLineComment(input, i, col)
			continue
		}
		if ch == '/' && i+1 < len(input) {
			if input[i+1] == '/' {
				i, col = skipLineComment(input, i, col)
				continue
			}
			if input[i+1] == '*' {
				var err *LexError
				i, line, col, err = skipBlockComment(input, i, line, col)
				if err != nil {
					errors = append(errors, *err)
				}
				continue
			}
		}

		// Numbers, including a leading-dot form such as .5
		if isDigit(ch) || (ch == '.' && i+1 < len(input) && isDigit(input[i+1])) {
			tok, newI, newCol := lexNumber(input, i, line, col)
			tokens = append(tokens, tok)
			i, col = newI, newCol
			continue
		}

		// Keywords and identifiers
		if isIdentStart(ch) {
			tok, newI, newCol := lexIdentifier(input, i, line, col)
			tokens = append(tokens, tok)
			i, col = newI, newCol
			continue
		}

		if tok, width := lexOperatorOrDelimiter(input, i, line, col); width > 0 {
			tokens = append(tokens, tok)
			i += width
			col += width
			continue
		}

		errors = append(errors, LexError{
			Message: "unexpected character",
			Lexeme:  string(ch),
			Line:    line,
			Column:  col,
		})
		i++
		col++
	}

	tokens = append(tokens, Token{EOF, "", line, col})
	return tokens, errors
}

func skipLineComment(input string, i int, col int) (int, int) {
	for i < len(input) && input[i] != '\n' {
		i++
		col++
	}
	return i, col
}

func skipBlockComment(input string, i int, line int, col int) (int, int, int, *LexError) {
	startLine, startCol := line, col
	i += 2
	col += 2

	for i < len(input) {
		if input[i] == '*' && i+1 < len(input) && input[i+1] == '/' {
			i += 2
			col += 2
			return i, line, col, nil
		}
		if input[i] == '\n' {
			line++
			col = 1
		} else if input[i] != '\r' {
			col++
		}
		i++
	}

	return i, line, col, &LexError{
		Message: "unterminated block comment",
		Lexeme:  "/*",
		Line:    startLine,
		Column:  startCol,
	}
}

// lexNumber scans a decimal literal with an optional fraction and exponent
// (42, 3.14, .5, 1.5e10, 2.0E-3). Every literal has the one numeric type, so
// there is no int/float split.
func lexNumber(input string, start int, line int, col int) (Token, int, int) {
	i := start
	startCol := col

	for i < len(input) && isDigit(input[i]) {
		i++
		col++
	}

	if i < len(input) && input[i] == '.' {
		i++
		col++
		for i < len(input) && isDigit(input[i]) {
			i++
			col++
		}
	}

	// Exponent: only when e/E is followed by a digit or a signed digit, so
	// that "2else" style input does not swallow the keyword.
	if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
		j := i + 1
		if j < len(input) && (input[j] == '+' || input[j] == '-') {
			j++
		}
		if j < len(input) && isDigit(input[j]) {
			col += j - i
			i = j
			for i < len(input) && isDigit(input[i]) {
				i++
				col++
			}
		}
	}

	return Token{NUMBER, input[start:i], line, startCol}, i, col
}

func lexIdentifier(input string, start int, line int, col int) (Token, int, int) {
	i := start
	startCol := col
	for i < len(input) && isIdentPart(input[i]) {
		i++
		col++
	}
	word := input[start:i]
	tokType := IDENT
	if kw, ok := keywords[word]; ok {
		tokType = kw
	}
	return Token{tokType, word, line, startCol}, i, col
}

// lexOperatorOrDelimiter tries to match a 1- or 2-character operator or
// delimiter starting at input[i]. Returns the token and the number of
// characters consumed (0 if nothing matched).
func lexOperatorOrDelimiter(input string, i int, line int, col int) (Token, int) {
	ch := input[i]
	var next byte
	if i+1 < len(input) {
		next = input[i+1]
	}

	switch ch {
	case ':':
		if next == '=' {
			return Token{DEFINE, ":=", line, col}, 2
		}
		return Token{COLON, ":", line, col}, 1
	case '(':
		return Token{LPAREN, "(", line, col}, 1
	case ')':
		return Token{RPAREN, ")", line, col}, 1
	case '{':
		return Token{LBRACE, "{", line, col}, 1
	case '}':
		return Token{RBRACE, "}", line, col}, 1
	case ',':
		return Token{COMMA, ",", line, col}, 1
	case ';':
		return Token{SEMICOLON, ";", line, col}, 1
	case '=':
		return Token{ASSIGN, "=", line, col}, 1
	case '+':
		return Token{PLUS, "+", line, col}, 1
	case '-':
		return Token{MINUS, "-", line, col}, 1
	case '*':
		return Token{STAR, "*", line, col}, 1
	case '/':
		return Token{SLASH, "/", line, col}, 1
	case '<':
		return Token{LT, "<", line, col}, 1
	case '>':
		return Token{GT, ">", line, col}, 1
	}

	return Token{}, 0
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentStart(ch byte) bool {
	return isLetter(ch) || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_'
}
