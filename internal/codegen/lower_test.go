package codegen

import (
	"strings"
	"testing"

	"github.com/nikandfor/errors"

	"kaleido/internal/ast"
	"kaleido/internal/ir"
	"kaleido/internal/lexer"
	"kaleido/internal/parser"
)

// helper: lex and parse source, failing the test on any front-end error.
func mustParse(t *testing.T, src string) []ast.TopLevel {
	t.Helper()
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	items, parseErrs := parser.Parse(tokens)
	if len(parseErrs) > 0 {
		t.Fatalf("parse errors: %v", parseErrs)
	}
	return items
}

// helper: a lowering session over a fresh ir module.
func newTestLowerer(t *testing.T, opts *Options) (*Lowerer, *ir.Builder) {
	t.Helper()
	b := ir.NewBuilder(nil)
	return NewLowerer(b, opts), b
}

// helper: lower every item of src, returning the first failure.
func lowerSource(t *testing.T, l *Lowerer, src string) error {
	t.Helper()
	for _, item := range mustParse(t, src) {
		var err error
		switch it := item.(type) {
		case *ast.Function:
			_, err = l.LowerFunction(it)
		case *ast.Extern:
			_, err = l.LowerPrototype(it.Proto)
		default:
			t.Fatalf("unexpected top-level item %T", item)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func mustLower(t *testing.T, l *Lowerer, src string) {
	t.Helper()
	if err := lowerSource(t, l, src); err != nil {
		t.Fatalf("lower: %v", err)
	}
}

func mustEval(t *testing.T, b *ir.Builder, name string, args ...float64) float64 {
	t.Helper()
	v, err := b.Module().Eval(name, args...)
	if err != nil {
		t.Fatalf("eval %s%v: %v\n%s", name, args, err, b.Module().DebugDump())
	}
	return v
}

// helper: make l lower into a fresh nullary function, as if inside a body.
func enterTestFunc(t *testing.T, l *Lowerer, b *ir.Builder) *ir.Block {
	t.Helper()
	fn := b.DeclareFunc("host", nil)
	l.fn = fn
	entry := b.NewBlock("entry")
	l.enterBlock(entry)
	return entry.(*ir.Block)
}

func countOps(fn *ir.Func, op ir.Op) int {
	n := 0
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Op == op {
				n++
			}
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func TestLowerNumberIsExactConstant(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	for _, x := range []float64{0, 2.5, -1e300, 1.0 / 3} {
		v, err := l.LowerExpr(&ast.NumberExpr{Value: x})
		if err != nil {
			t.Fatalf("lower %v: %v", x, err)
		}
		if v != ir.Const(x) {
			t.Fatalf("expected constant %v, got %v", x, v)
		}
	}
}

func TestLowerLiteralFunction(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def answer() 42; def big() 1.5e3")

	if got := mustEval(t, b, "answer"); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
	if got := mustEval(t, b, "big"); got != 1500 {
		t.Fatalf("expected 1500, got %v", got)
	}
}

func TestLowerArithmetic(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def f(a, b) (a + b) * (a - b) / 2")

	if got := mustEval(t, b, "f", 5, 3); got != 8 {
		t.Fatalf("expected 8, got %v", got)
	}
	fn := b.Module().Lookup("f")
	for _, op := range []ir.Op{ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRet} {
		if countOps(fn, op) != 1 {
			t.Errorf("expected one %s in:\n%s", op, fn)
		}
	}
}

func TestLowerComparisonWidens(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def lt(a, b) a < b; def gt(a, b) a > b")

	cases := []struct {
		name string
		a, b float64
		want float64
	}{
		{"lt", 1, 2, 1},
		{"lt", 2, 1, 0},
		{"lt", 2, 2, 0},
		{"gt", 3, 1, 1},
		{"gt", 1, 3, 0},
	}
	for _, c := range cases {
		if got := mustEval(t, b, c.name, c.a, c.b); got != c.want {
			t.Errorf("%s(%v, %v): expected %v, got %v", c.name, c.a, c.b, c.want, got)
		}
	}
	if countOps(b.Module().Lookup("lt"), ir.OpWiden) != 1 {
		t.Errorf("expected comparison result widened")
	}
}

func TestLowerSequence(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def f(x) x + 1 : x * 10")

	if got := mustEval(t, b, "f", 4); got != 40 {
		t.Fatalf("expected 40, got %v", got)
	}
}

func TestLowerUnknownVariable(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	err := lowerSource(t, l, "def f(x) y")

	if !errors.Is(err, ErrUnknownVariable) || KindOf(err) != UnknownVariable {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
	pos, ok := PosOf(err)
	if !ok || pos.Line != 1 || pos.Column != 10 {
		t.Fatalf("expected position 1:10, got %v (%v)", pos, ok)
	}
	if !strings.Contains(err.Error(), "def f") || !strings.Contains(err.Error(), `unknown variable "y"`) {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if _, ok := l.Funcs().Lookup("f"); ok {
		t.Fatalf("expected f removed from the function table")
	}
	if b.Module().Lookup("f") != nil {
		t.Fatalf("expected f removed from the module")
	}
}

func TestLowerUndefinedFunction(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	err := lowerSource(t, l, "def f() g(1)")

	if !errors.Is(err, ErrUndefinedFunction) {
		t.Fatalf("expected UndefinedFunction, got %v", err)
	}
	if !strings.Contains(err.Error(), `"g"`) {
		t.Fatalf("expected callee name in %q", err.Error())
	}
}

func TestLowerArityMismatchEmitsNoCall(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "extern g(a)")
	entry := enterTestFunc(t, l, b)

	call := &ast.CallExpr{Callee: "g", Args: []ast.Expr{
		&ast.BinaryExpr{Op: ast.OpAdd, Left: &ast.NumberExpr{Value: 1}, Right: &ast.NumberExpr{Value: 2}},
		&ast.NumberExpr{Value: 3},
	}}
	_, err := l.LowerExpr(call)

	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != ArityMismatch {
		t.Fatalf("expected ArityMismatch, got %v", err)
	}
	if lerr.Want != 1 || lerr.Got != 2 {
		t.Fatalf("expected want 1 got 2, got want %d got %d", lerr.Want, lerr.Got)
	}
	if len(entry.Instrs) != 0 {
		t.Fatalf("expected nothing emitted, got %d instructions", len(entry.Instrs))
	}
}

func TestLowerCallAndRecursion(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, `
		def fib(n) if n < 2 then n else fib(n - 1) + fib(n - 2);
		def twice(x) fib(x) * 2`)

	if got := mustEval(t, b, "fib", 10); got != 55 {
		t.Fatalf("expected 55, got %v", got)
	}
	if got := mustEval(t, b, "twice", 7); got != 26 {
		t.Fatalf("expected 26, got %v", got)
	}
}

func TestLowerOutsideFunction(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	_, err := l.LowerExpr(&ast.IfExpr{
		Cond: &ast.NumberExpr{Value: 1},
		Then: &ast.NumberExpr{Value: 2},
		Else: &ast.NumberExpr{Value: 3},
	})
	if KindOf(err) != PropagatedFailure || err == nil {
		t.Fatalf("expected PropagatedFailure, got %v", err)
	}
}

func TestLowerNilExpr(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	if _, err := l.LowerExpr(nil); err == nil || KindOf(err) != PropagatedFailure {
		t.Fatalf("expected PropagatedFailure, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestLowerIfConstant(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def yes() if 1 then 3 else 4; def no() if 0 then 3 else 4")

	if got := mustEval(t, b, "yes"); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
	if got := mustEval(t, b, "no"); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
	fn := b.Module().Lookup("yes")
	if countOps(fn, ir.OpPhi) != 1 || countOps(fn, ir.OpJmpIf) != 1 {
		t.Fatalf("expected one phi and one conditional jump:\n%s", fn)
	}
}

func TestLowerNestedIfPhiPredecessors(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def sign(x) if x < 0 then 0 - 1 else if x > 0 then 1 else 0")

	for x, want := range map[float64]float64{-5: -1, 0: 0, 9: 1} {
		if got := mustEval(t, b, "sign", x); got != want {
			t.Errorf("sign(%v): expected %v, got %v", x, want, got)
		}
	}

	// The outer phi must name the inner merge block, not the else block.
	fn := b.Module().Lookup("sign")
	last := fn.Blocks[len(fn.Blocks)-1]
	phi := last.Instrs[0]
	if phi.Op != ir.OpPhi {
		t.Fatalf("expected phi at top of %s", last.Name)
	}
	if !strings.HasPrefix(phi.Preds[1].Name, "ifcont") {
		t.Fatalf("expected else incoming from inner merge, got %s", phi.Preds[1].Name)
	}
}

func TestLowerForLoopAccumulates(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def sum() var acc in (for i = 1, i < 5, 1.0 in acc := acc + i) : acc")

	if got := mustEval(t, b, "sum"); got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
}

func TestLowerForLoopDefaultStepAndValue(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def loop(n) for i = 0, i < n { i }")

	if got := mustEval(t, b, "loop", 3); got != 0 {
		t.Fatalf("expected loop value 0, got %v", got)
	}
	fn := b.Module().Lookup("loop")
	var names []string
	for _, bb := range fn.Blocks {
		names = append(names, bb.Name)
	}
	if strings.Join(names, " ") != "entry loop0 loopbody1 afterloop2" {
		t.Fatalf("unexpected block layout %v", names)
	}
}

func TestLowerLoopVariableNotVisibleAfter(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	err := lowerSource(t, l, "def f() (for i = 0, i < 3 in 0) : i")

	if KindOf(err) != UnknownVariable {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
}

func TestLowerLoopRestoresOuterBinding(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def f(i) (for i = 0, i < 3 in 0) : i")

	if got := mustEval(t, b, "f", 7); got != 7 {
		t.Fatalf("expected outer i = 7, got %v", got)
	}
}

func TestLowerVarBindings(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def f() var x = 1, y = x + 1 in x + y")

	if got := mustEval(t, b, "f"); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestLowerVarNotVisibleAfter(t *testing.T) {
	for _, src := range []string{
		"def f() (var x = 1, y = 2 in x + y) : x",
		"def f() (var x = 1, y = 2 in x + y) : y",
	} {
		l, _ := newTestLowerer(t, nil)
		if err := lowerSource(t, l, src); KindOf(err) != UnknownVariable {
			t.Errorf("%s: expected UnknownVariable, got %v", src, err)
		}
	}
}

func TestLowerVarInitializerSeesOuterBinding(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def f(x) var x = x + 1 in x * 10")

	if got := mustEval(t, b, "f", 1); got != 20 {
		t.Fatalf("expected 20, got %v", got)
	}
}

func TestLowerVarDefaultsToZero(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def f() var z in z + 5")

	if got := mustEval(t, b, "f"); got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
}

func TestLowerAssign(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def set(x) x := 5; def bump(x) (x := x + 1) : x * 2")

	if got := mustEval(t, b, "set", 1); got != 5 {
		t.Fatalf("expected assignment value 5, got %v", got)
	}
	if got := mustEval(t, b, "bump", 1); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
}

func TestLowerAssignUnknownVariable(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	if err := lowerSource(t, l, "def f() y := 1"); KindOf(err) != UnknownVariable {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Functions and prototypes
// ---------------------------------------------------------------------------

func TestLowerRedefinitionKeepsFirst(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "def f() 1")
	err := lowerSource(t, l, "def f() 2")

	if !errors.Is(err, ErrRedefinition) {
		t.Fatalf("expected Redefinition, got %v", err)
	}
	if got := mustEval(t, b, "f"); got != 1 {
		t.Fatalf("expected first definition to survive, got %v", got)
	}
}

func TestLowerExternThenDefine(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "extern f(a); def g(x) f(x) + 1; def f(x) x * 2")

	entry, ok := l.Funcs().Lookup("f")
	if !ok || !entry.Defined {
		t.Fatalf("expected f defined")
	}
	if got := entry.Proto.Params; len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected definition parameter names, got %v", got)
	}
	if got := b.Module().Lookup("f").ParamNames; got[0] != "x" {
		t.Fatalf("expected module parameter names from the definition, got %v", got)
	}
	if got := mustEval(t, b, "g", 4); got != 9 {
		t.Fatalf("expected 9, got %v", got)
	}
}

func TestLowerFailedDefinitionKeepsForwardDeclaration(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "extern f(a)")

	if err := lowerSource(t, l, "def f(x) nope"); KindOf(err) != UnknownVariable {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
	entry, ok := l.Funcs().Lookup("f")
	if !ok || entry.Defined {
		t.Fatalf("expected f still declared and undefined, got %+v", entry)
	}
	fn := b.Module().Lookup("f")
	if fn == nil || fn.HasBody() {
		t.Fatalf("expected bodiless declaration in module")
	}
	if fn.ParamNames[0] != "a" {
		t.Fatalf("expected declaration parameter names restored, got %v", fn.ParamNames)
	}

	mustLower(t, l, "def f(x) x + 1")
	if got := mustEval(t, b, "f", 1); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}

func TestLowerRedeclareArityMismatch(t *testing.T) {
	for _, src := range []string{
		"extern f(a); extern f(a, b)",
		"extern f(a); def f(a, b) a",
		"def f(a) a; extern f()",
	} {
		l, _ := newTestLowerer(t, nil)
		err := lowerSource(t, l, src)
		if !errors.Is(err, ErrArityMismatch) {
			t.Errorf("%s: expected ArityMismatch, got %v", src, err)
		}
	}
}

func TestLowerRedeclareSameArity(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	mustLower(t, l, "extern f(a); extern f(b); def f(c) c; extern f(d)")

	if l.Funcs().Len() != 1 {
		t.Fatalf("expected one function, got %v", l.Funcs().Names())
	}
}

func TestLowerDuplicateParameter(t *testing.T) {
	for _, src := range []string{"def f(x, x) x", "extern f(a, b, a)"} {
		l, b := newTestLowerer(t, nil)
		err := lowerSource(t, l, src)
		if !errors.Is(err, ErrRedefinition) {
			t.Errorf("%s: expected Redefinition, got %v", src, err)
			continue
		}
		if !strings.Contains(err.Error(), "declared twice") {
			t.Errorf("%s: unexpected message %q", src, err.Error())
		}
		if b.Module().Lookup("f") != nil || l.Funcs().Len() != 0 {
			t.Errorf("%s: expected nothing declared", src)
		}
	}
}

func TestLowerDuplicateParameterKeepsDeclaration(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "extern f(a, b)")
	if err := lowerSource(t, l, "def f(x, x) x"); !errors.Is(err, ErrRedefinition) {
		t.Fatalf("expected Redefinition, got %v", err)
	}
	fn := b.Module().Lookup("f")
	if fn == nil || fn.HasBody() || strings.Join(fn.ParamNames, ",") != "a,b" {
		t.Fatalf("expected declaration f(a, b) untouched, got %v", fn)
	}
}

func TestLowerFailureClearsScope(t *testing.T) {
	l, _ := newTestLowerer(t, nil)
	_ = lowerSource(t, l, "def f(a, b) var c = 1 in (for i = 0, i < 1 in missing)")

	if l.Scope().Len() != 0 {
		t.Fatalf("expected empty scope, got %v", l.Scope().Names())
	}
}

// ---------------------------------------------------------------------------
// Optimizer hook
// ---------------------------------------------------------------------------

type failingOptimizer struct{ calls int }

func (o *failingOptimizer) Optimize(fn Func) error {
	o.calls++
	return errors.New("boom")
}

func TestLowerOptimizerFailurePropagates(t *testing.T) {
	opt := &failingOptimizer{}
	l, b := newTestLowerer(t, &Options{Optimizer: opt})
	err := lowerSource(t, l, "def f(x) x")

	if err == nil || KindOf(err) != PropagatedFailure {
		t.Fatalf("expected PropagatedFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected optimizer message in %q", err.Error())
	}
	if opt.calls != 1 || b.Module().Lookup("f") != nil {
		t.Fatalf("expected one optimizer call and f removed")
	}
}

func TestLowerOptimizerNotCalledOnFailure(t *testing.T) {
	opt := &failingOptimizer{}
	l, _ := newTestLowerer(t, &Options{Optimizer: opt})
	_ = lowerSource(t, l, "def f(x) y")

	if opt.calls != 0 {
		t.Fatalf("expected optimizer untouched, got %d calls", opt.calls)
	}
}

func TestLowerWithPassManager(t *testing.T) {
	b := ir.NewBuilder(nil)
	l := NewLowerer(b, &Options{Optimizer: ir.NewPassManager(b.Module())})
	mustLower(t, l, `
		def f(x) var y = x * 2 in if 1 then y + 1 else y - 1;
		def sum(n) var acc in (for i = 0, i < n in acc := acc + i) : acc`)

	fn := b.Module().Lookup("f")
	if countOps(fn, ir.OpLoad)+countOps(fn, ir.OpStore) != 0 || countOps(fn, ir.OpPhi) != 0 {
		t.Fatalf("expected slots promoted and branch folded:\n%s", fn)
	}
	if got := mustEval(t, b, "f", 3); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
	if got := mustEval(t, b, "sum", 5); got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Builder agreement
// ---------------------------------------------------------------------------

// forgetfulBuilder declares functions but never finds them again.
type forgetfulBuilder struct {
	*ir.Builder
}

func (forgetfulBuilder) LookupFunc(name string) (Func, bool) { return nil, false }

func TestLowerFunctionChecksBuilderLookup(t *testing.T) {
	b := ir.NewBuilder(nil)
	l := NewLowerer(forgetfulBuilder{b}, nil)
	err := lowerSource(t, l, "def f(x) x")

	if err == nil || KindOf(err) != PropagatedFailure {
		t.Fatalf("expected PropagatedFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "lookup") {
		t.Fatalf("expected lookup stage in %q", err.Error())
	}
	if b.Module().Lookup("f") != nil || l.Funcs().Len() != 0 {
		t.Fatalf("expected f removed from module and table")
	}
}

func TestBuilderLookupFunc(t *testing.T) {
	l, b := newTestLowerer(t, nil)
	mustLower(t, l, "extern g(a); def f(x) g(x)")

	for _, name := range []string{"f", "g"} {
		fn, ok := b.LookupFunc(name)
		entry, _ := l.Funcs().Lookup(name)
		if !ok || fn != entry.Func {
			t.Errorf("expected builder and table to agree on %s", name)
		}
	}
	if fn, ok := b.LookupFunc("h"); ok || fn != nil {
		t.Fatalf("expected h missing, got %v", fn)
	}
}
