package lexer

import (
	"testing"
)

func tokenTypes(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Type
	}
	return out
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	tokens, errs := Lex("def extern if then else for in var foo _bar baz42 define")
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	expected := []struct {
		typ string
		val string
	}{
		{DEF, "def"},
		{EXTERN, "extern"},
		{IF, "if"},
		{THEN, "then"},
		{ELSE, "else"},
		{FOR, "for"},
		{IN, "in"},
		{VAR, "var"},
		{IDENT, "foo"},
		{IDENT, "_bar"},
		{IDENT, "baz42"},
		{IDENT, "define"},
		{EOF, ""},
	}
	if len(tokens) != len(expected) {
		t.Fatalf("token count: got %d, want %d", len(tokens), len(expected))
	}
	for i, exp := range expected {
		if tokens[i].Type != exp.typ || tokens[i].Value != exp.val {
			t.Errorf("token[%d]: got (%s, %q), want (%s, %q)",
				i, tokens[i].Type, tokens[i].Value, exp.typ, exp.val)
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	tokens, errs := Lex("0 42 3.14 .5 1.0e10 2E-3 7.")
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	expected := []string{"0", "42", "3.14", ".5", "1.0e10", "2E-3", "7."}
	for i, exp := range expected {
		if tokens[i].Type != NUMBER || tokens[i].Value != exp {
			t.Errorf("token[%d]: got (%s, %q), want (NUMBER, %q)",
				i, tokens[i].Type, tokens[i].Value, exp)
		}
	}
}

func TestExponentNeedsDigits(t *testing.T) {
	// "2else" must not be read as a malformed exponent.
	tokens, errs := Lex("2else")
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	got := tokenTypes(tokens)
	want := []string{NUMBER, ELSE, EOF}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOperatorsAndDelimiters(t *testing.T) {
	tokens, errs := Lex("( ) { } , ; : := = + - * / < >")
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []string{
		LPAREN, RPAREN, LBRACE, RBRACE, COMMA, SEMICOLON, COLON, DEFINE,
		ASSIGN, PLUS, MINUS, STAR, SLASH, LT, GT, EOF,
	}
	got := tokenTypes(tokens)
	if len(got) != len(want) {
		t.Fatalf("token count: got %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDefineWithoutSpaces(t *testing.T) {
	tokens, errs := Lex("x:=x+1")
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []string{IDENT, DEFINE, IDENT, PLUS, NUMBER, EOF}
	got := tokenTypes(tokens)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestComments(t *testing.T) {
	src := "# hash comment\nx // line comment\n/* block\ncomment */ y"
	tokens, errs := Lex(src)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d: %v", len(tokens), tokenTypes(tokens))
	}
	if tokens[0].Value != "x" || tokens[0].Line != 2 {
		t.Errorf("first token: got %q on line %d", tokens[0].Value, tokens[0].Line)
	}
	if tokens[1].Value != "y" || tokens[1].Line != 4 {
		t.Errorf("second token: got %q on line %d", tokens[1].Value, tokens[1].Line)
	}
}

func TestUnterminatedBlockComment(t *testing.T) {
	_, errs := Lex("x /* never closed")
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if errs[0].Line != 1 || errs[0].Column != 3 {
		t.Errorf("error position: got %d:%d, want 1:3", errs[0].Line, errs[0].Column)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	tokens, errs := Lex("a $ b")
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if errs[0].Lexeme != "$" {
		t.Errorf("lexeme: got %q, want %q", errs[0].Lexeme, "$")
	}
	// Lexing continues after the bad character.
	if len(tokens) != 3 || tokens[1].Value != "b" {
		t.Errorf("expected tokens a, b, EOF; got %v", tokenTypes(tokens))
	}
}

func TestPositions(t *testing.T) {
	tokens, _ := Lex("def f(x)\n  x + 1")
	plus := tokens[6]
	if plus.Type != PLUS {
		t.Fatalf("token[6]: got %s, want PLUS", plus.Type)
	}
	if plus.Line != 2 || plus.Column != 5 {
		t.Errorf("plus position: got %d:%d, want 2:5", plus.Line, plus.Column)
	}
}
