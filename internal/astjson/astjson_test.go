package astjson

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nikandfor/errors"

	"kaleido/internal/ast"
	"kaleido/internal/lexer"
	"kaleido/internal/parser"
)

const sample = `{
  "version": "1.2.0",
  "items": [
    {"kind": "extern", "proto": {"name": "sin", "params": ["x"]}},
    {"kind": "def", "proto": {"name": "double", "params": ["x"], "line": 2, "col": 1},
     "body": {"kind": "binary", "op": "*", "left": {"kind": "var", "name": "x", "line": 2, "col": 15},
              "right": {"kind": "number", "value": 2}}},
    {"kind": "expr", "body": {"kind": "call", "callee": "double", "args": [{"kind": "number", "value": 21}]}}
  ]
}`

func TestDecodeSample(t *testing.T) {
	items, err := DecodeBytes([]byte(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if ext, ok := items[0].(*ast.Extern); !ok || ext.Proto.Name != "sin" {
		t.Fatalf("expected extern sin, got %#v", items[0])
	}
	fn, ok := items[1].(*ast.Function)
	if !ok {
		t.Fatalf("expected function, got %T", items[1])
	}
	if got := ast.ExprString(fn.Body); got != "(x * 2)" {
		t.Fatalf("unexpected body %s", got)
	}
	bin := fn.Body.(*ast.BinaryExpr)
	if pos := bin.Left.GetPos(); pos.Line != 2 || pos.Column != 15 {
		t.Fatalf("expected position 2:15, got %v", pos)
	}
	if _, ok := items[2].(*ast.TopExpr); !ok {
		t.Fatalf("expected top-level expression, got %T", items[2])
	}
}

func TestDecodeVersion(t *testing.T) {
	for _, v := range []string{"2.0.0", "0.9.0", "banana", ""} {
		doc := `{"version": "` + v + `", "items": []}`
		_, err := DecodeBytes([]byte(doc))
		if !errors.Is(err, ErrVersion) {
			t.Errorf("version %q: expected ErrVersion, got %v", v, err)
		}
	}
	if _, err := DecodeBytes([]byte(`{"version": "1.0.0", "items": []}`)); err != nil {
		t.Fatalf("expected 1.0.0 accepted, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown kind":   `{"kind": "expr", "body": {"kind": "lambda"}}`,
		"bad operator":   `{"kind": "expr", "body": {"kind": "binary", "op": "%", "left": {"kind": "number", "value": 1}, "right": {"kind": "number", "value": 1}}}`,
		"missing value":  `{"kind": "expr", "body": {"kind": "number"}}`,
		"missing child":  `{"kind": "expr", "body": {"kind": "if", "cond": {"kind": "number", "value": 1}}}`,
		"nameless proto": `{"kind": "extern", "proto": {"params": []}}`,
	}
	for name, it := range cases {
		doc := `{"version": "1.0.0", "items": [` + it + `]}`
		if _, err := DecodeBytes([]byte(doc)); !errors.Is(err, ErrNode) {
			t.Errorf("%s: expected ErrNode, got %v", name, err)
		}
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := DecodeBytes([]byte(`{"version": "1.0.0", "items": [], "extra": true}`))
	if err == nil {
		t.Fatalf("expected unknown field rejected")
	}
}

func TestDecodeDefaults(t *testing.T) {
	doc := `{"version": "1.0.0", "items": [{"kind": "expr", "body":
		{"kind": "varin", "bindings": [{"name": "a"}],
		 "body": {"kind": "for", "var": "i", "start": {"kind": "number", "value": 0},
		          "cond": {"kind": "var", "name": "i"}, "body": {"kind": "var", "name": "a"}}}}]}`
	items, err := DecodeBytes([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := ast.ExprString(items[0].(*ast.TopExpr).Body)
	if got != "(var a = 0 in (for i = 0, i, 1 { a }))" {
		t.Fatalf("unexpected tree %s", got)
	}
}

func TestEncodeDecodeKeepsTree(t *testing.T) {
	src := `
		extern putchard(c);
		def f(x, y) var a = x, b in (for i = 0, i < y, 2 { a := a + i : b := b - 1 }) : if a > b then a else b;
		f(1, 10)`
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	items, parseErrs := parser.Parse(tokens)
	if len(parseErrs) > 0 {
		t.Fatalf("parse errors: %v", parseErrs)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, items); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(buf.String(), `"version": "1.0.0"`) {
		t.Fatalf("expected version in output:\n%s", buf.String())
	}
	back, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want, got := ast.DebugString(items), ast.DebugString(back); want != got {
		t.Fatalf("tree changed:\nwant:\n%s\ngot:\n%s", want, got)
	}
}
