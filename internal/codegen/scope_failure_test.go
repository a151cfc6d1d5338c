package codegen

import (
	"testing"

	"kaleido/internal/ast"
)

// Failures inside a loop or a var body must leave the scope table exactly as
// it was before the construct was entered.

func num(x float64) ast.Expr    { return &ast.NumberExpr{Value: x} }
func ref(name string) ast.Expr  { return &ast.VariableExpr{Name: name} }
func lt(l, r ast.Expr) ast.Expr { return &ast.BinaryExpr{Op: ast.OpLess, Left: l, Right: r} }

func bind(name string, init ast.Expr) ast.Binding {
	return ast.Binding{Name: name, Init: init}
}

func assertScope(t *testing.T, l *Lowerer, want map[string]Slot) {
	t.Helper()
	got := l.Scope().Snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected scope %v, got %v", want, got)
	}
	for name, slot := range want {
		if got[name] != slot {
			t.Fatalf("expected %s bound to %v, got %v", name, slot, got[name])
		}
	}
}

func TestScopeRestoredAfterLoopFailure(t *testing.T) {
	cases := []struct {
		name string
		loop *ast.ForExpr
	}{
		{"cond", &ast.ForExpr{Var: "i", Start: num(0), Cond: ref("missing"), Step: num(1), Body: num(0)}},
		{"body", &ast.ForExpr{Var: "i", Start: num(0), Cond: lt(ref("i"), num(3)), Step: num(1), Body: ref("missing")}},
		{"step", &ast.ForExpr{Var: "i", Start: num(0), Cond: lt(ref("i"), num(3)), Step: ref("missing"), Body: num(0)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l, b := newTestLowerer(t, nil)
			enterTestFunc(t, l, b)
			outer := b.NewSlot(l.fn, "i")
			l.Scope().Bind("i", outer)
			before := l.Scope().Snapshot()

			if _, err := l.LowerExpr(c.loop); KindOf(err) != UnknownVariable {
				t.Fatalf("expected UnknownVariable, got %v", err)
			}
			assertScope(t, l, before)
		})
	}
}

func TestScopeRestoredAfterLoopFailureWithoutOuter(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	enterTestFunc(t, l, b)

	loop := &ast.ForExpr{Var: "i", Start: num(0), Cond: lt(ref("i"), num(3)), Step: num(1), Body: ref("missing")}
	if _, err := l.LowerExpr(loop); err == nil {
		t.Fatalf("expected failure")
	}
	if _, ok := l.Scope().Lookup("i"); ok {
		t.Fatalf("expected loop variable gone")
	}
}

func TestScopeRestoredAfterVarBodyFailure(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	enterTestFunc(t, l, b)
	outer := b.NewSlot(l.fn, "x")
	l.Scope().Bind("x", outer)
	before := l.Scope().Snapshot()

	v := &ast.VarExpr{
		Bindings: []ast.Binding{bind("x", num(1)), bind("y", ref("x"))},
		Body:     ref("missing"),
	}
	if _, err := l.LowerExpr(v); KindOf(err) != UnknownVariable {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
	assertScope(t, l, before)
}

func TestScopeRestoredAfterVarInitializerFailure(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	enterTestFunc(t, l, b)

	v := &ast.VarExpr{
		Bindings: []ast.Binding{bind("a", num(1)), bind("b", ref("missing")), bind("c", num(3))},
		Body:     ref("a"),
	}
	if _, err := l.LowerExpr(v); KindOf(err) != UnknownVariable {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
	assertScope(t, l, map[string]Slot{})
}

func TestScopeRestoredAfterNestedFailure(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	enterTestFunc(t, l, b)
	outer := b.NewSlot(l.fn, "i")
	l.Scope().Bind("i", outer)
	before := l.Scope().Snapshot()

	// var i = 1 in for i = i, i < 3 { var j = i in missing }
	v := &ast.VarExpr{
		Bindings: []ast.Binding{bind("i", num(1))},
		Body: &ast.ForExpr{
			Var: "i", Start: ref("i"), Cond: lt(ref("i"), num(3)), Step: num(1),
			Body: &ast.VarExpr{Bindings: []ast.Binding{bind("j", ref("i"))}, Body: ref("missing")},
		},
	}
	if _, err := l.LowerExpr(v); KindOf(err) != UnknownVariable {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
	assertScope(t, l, before)
}

func TestScopeRestoredAfterSuccess(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	enterTestFunc(t, l, b)
	outer := b.NewSlot(l.fn, "x")
	l.Scope().Bind("x", outer)
	before := l.Scope().Snapshot()

	v := &ast.VarExpr{
		Bindings: []ast.Binding{bind("x", num(1)), bind("x", ref("x"))},
		Body: &ast.ForExpr{
			Var: "x", Start: num(0), Cond: lt(ref("x"), num(2)), Step: num(1), Body: ref("x"),
		},
	}
	if _, err := l.LowerExpr(v); err != nil {
		t.Fatalf("lower: %v", err)
	}
	assertScope(t, l, before)
}
