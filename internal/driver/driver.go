// Package driver runs source text or decoded trees through the lowering core
// item by item, reports failed items on a diagnostics writer and evaluates
// top-level expressions.
package driver

import (
	"fmt"
	"io"
	"os"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"kaleido/internal/ast"
	"kaleido/internal/codegen"
	"kaleido/internal/ir"
	"kaleido/internal/lexer"
	"kaleido/internal/llvmgen"
	"kaleido/internal/parser"
)

// AnonName is the name top-level expressions are lowered under.
const AnonName = "__anon_expr"

// Backend selects the Builder the session emits through.
type Backend string

const (
	BackendIR   Backend = "ir"   // in-house block IR, can be evaluated
	BackendLLVM Backend = "llvm" // LLVM assembly text through llir/llvm
)

var (
	ErrFailed       = errors.New("compilation failed")
	ErrBackend      = errors.New("unknown backend")
	ErrPass         = errors.New("unknown pass")
	ErrNotEvaluable = errors.New("backend cannot evaluate")
)

// ---------------------------------------------------------------------------
// Options controls the behaviour of the driver.
// ---------------------------------------------------------------------------

// Options configures a Driver.
type Options struct {
	// Backend to emit through. Defaults to BackendIR.
	Backend Backend

	// Optimize runs the ir pass pipeline on every definition (ir backend
	// only).
	Optimize bool

	// Passes names the passes to run, in order. Empty means the default
	// pipeline.
	Passes []string

	// Eval evaluates top-level expressions and prints their value to Out
	// (ir backend only).
	Eval bool

	// Diag receives one line per failed item. Defaults to os.Stderr.
	Diag io.Writer

	// Out receives evaluated values and output of putchard/printd.
	// Defaults to os.Stdout.
	Out io.Writer

	// Verbose dumps each lowered function to Diag.
	Verbose bool

	// MaxSteps bounds the instructions executed per evaluation.
	MaxSteps int

	// ModuleName is recorded in the emitted module where the backend
	// supports it.
	ModuleName string
}

// DefaultOptions returns sensible defaults: ir backend, optimized,
// evaluating, writing to the standard streams.
func DefaultOptions() *Options {
	return &Options{
		Backend:    BackendIR,
		Optimize:   true,
		Eval:       true,
		Diag:       os.Stderr,
		Out:        os.Stdout,
		MaxSteps:   ir.DefaultMaxSteps,
		ModuleName: "kaleido",
	}
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

// Outcome describes what handling one item produced.
type Outcome struct {
	Name      string  // function name, AnonName for top-level expressions
	Evaluated bool    // Value is set
	Value     float64 // result of a top-level expression
}

// Driver owns one compilation session.
type Driver struct {
	opts *Options

	low *codegen.Lowerer
	irb *ir.Builder
	llb *llvmgen.Builder

	failures int
}

// New starts a session. opts may be nil.
func New(opts *Options) (*Driver, error) {
	o := DefaultOptions()
	if opts != nil {
		cp := *opts
		o = &cp
	}
	if o.Backend == "" {
		o.Backend = BackendIR
	}
	if o.Diag == nil {
		o.Diag = os.Stderr
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}

	d := &Driver{opts: o}
	copts := codegen.DefaultOptions()

	switch o.Backend {
	case BackendIR:
		d.irb = ir.NewBuilder(nil)
		if o.Optimize {
			passes, err := resolvePasses(o.Passes)
			if err != nil {
				return nil, err
			}
			copts.Optimizer = ir.NewPassManager(d.irb.Module(), passes...)
		}
		d.low = codegen.NewLowerer(d.irb, copts)
	case BackendLLVM:
		d.llb = llvmgen.NewBuilder(o.ModuleName)
		d.low = codegen.NewLowerer(d.llb, copts)
	default:
		return nil, errors.Wrap(ErrBackend, "%q", o.Backend)
	}

	tlog.V("driver").Printw("session", "backend", o.Backend, "optimize", o.Optimize, "passes", o.Passes)
	return d, nil
}

func resolvePasses(names []string) ([]ir.Pass, error) {
	passes := make([]ir.Pass, 0, len(names))
	for _, name := range names {
		p, ok := ir.PassByName(name)
		if !ok {
			return nil, errors.Wrap(ErrPass, "%q", name)
		}
		passes = append(passes, p)
	}
	return passes, nil
}

// Lowerer exposes the session's lowering core.
func (d *Driver) Lowerer() *codegen.Lowerer { return d.low }

// Failures returns how many items have failed so far.
func (d *Driver) Failures() int { return d.failures }

// Functions lists the names known to the session.
func (d *Driver) Functions() []string { return d.low.Funcs().Names() }

// Dump renders the whole module in the backend's text format.
func (d *Driver) Dump() string {
	if d.irb != nil {
		return d.irb.Module().DebugDump()
	}
	return d.llb.String()
}

// IRModule returns the ir module, or nil for other backends.
func (d *Driver) IRModule() *ir.Module {
	if d.irb == nil {
		return nil
	}
	return d.irb.Module()
}

// Call evaluates a defined function (ir backend only).
func (d *Driver) Call(name string, args ...float64) (float64, error) {
	if d.irb == nil {
		return 0, errors.Wrap(ErrNotEvaluable, "%s", d.opts.Backend)
	}
	it := ir.NewInterp(d.irb.Module(), &ir.EvalOptions{
		MaxSteps: d.opts.MaxSteps,
		Externs:  ir.Builtins(d.opts.Out),
	})
	return it.Call(name, args...)
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// CompileSource lexes, parses and handles every item of src. Front-end
// errors are reported like lowering failures; items that parsed are still
// handled.
func (d *Driver) CompileSource(src string) error {
	tokens, lexErrs := lexer.Lex(src)
	for _, e := range lexErrs {
		d.report(ast.Position{Line: e.Line, Column: e.Column}, fmt.Sprintf("%s (got %q)", e.Message, e.Lexeme))
	}
	items, parseErrs := parser.Parse(tokens)
	for _, e := range parseErrs {
		d.report(ast.Position{Line: e.Line, Column: e.Column}, e.Message)
	}
	d.failures += len(lexErrs) + len(parseErrs)

	runErr := d.Run(items)
	if len(lexErrs)+len(parseErrs) > 0 && runErr == nil {
		return errors.Wrap(ErrFailed, "%d front-end errors", len(lexErrs)+len(parseErrs))
	}
	return runErr
}

// Run handles every item in order. A failed item does not stop the run;
// the returned error wraps ErrFailed if any item failed.
func (d *Driver) Run(items []ast.TopLevel) error {
	failed := 0
	for _, item := range items {
		if _, err := d.Handle(item); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return errors.Wrap(ErrFailed, "%d of %d items", failed, len(items))
	}
	return nil
}

// Handle lowers one item. On failure one diagnostic line is written and the
// error is returned; the session stays usable.
func (d *Driver) Handle(item ast.TopLevel) (*Outcome, error) {
	tr := tlog.V("driver")

	var out *Outcome
	var err error
	switch it := item.(type) {
	case *ast.Function:
		tr.Printw("def", "name", it.Proto.Name)
		_, err = d.low.LowerFunction(it)
		out = &Outcome{Name: it.Proto.Name}
	case *ast.Extern:
		tr.Printw("extern", "name", it.Proto.Name)
		_, err = d.low.LowerPrototype(it.Proto)
		out = &Outcome{Name: it.Proto.Name}
	case *ast.TopExpr:
		out, err = d.handleTopExpr(it)
	default:
		err = errors.New("unsupported top-level item %T", item)
	}

	if err != nil {
		d.failures++
		d.reportErr(item, err)
		return nil, err
	}
	if d.opts.Verbose {
		d.verbose(out.Name)
	}
	return out, nil
}

// handleTopExpr lowers e as the body of a nullary function, evaluates it
// when possible and removes the function again.
func (d *Driver) handleTopExpr(e *ast.TopExpr) (*Outcome, error) {
	def := &ast.Function{
		Proto: &ast.Prototype{Name: AnonName, Pos: e.Pos},
		Body:  e.Body,
		Pos:   e.Pos,
	}
	fn, err := d.low.LowerFunction(def)
	if err != nil {
		return nil, err
	}
	defer d.removeAnon(fn)

	out := &Outcome{Name: AnonName}
	if d.opts.Verbose {
		d.verbose(AnonName)
	}
	if !d.opts.Eval || d.irb == nil {
		return out, nil
	}

	v, err := d.Call(AnonName)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	out.Value, out.Evaluated = v, true
	fmt.Fprintf(d.opts.Out, "Evaluated to %g\n", v)
	tlog.V("driver").Printw("evaluated", "value", v)
	return out, nil
}

func (d *Driver) removeAnon(fn codegen.Func) {
	d.low.Builder().RemoveFunc(fn)
	d.low.Funcs().Remove(AnonName)
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func (d *Driver) reportErr(item ast.TopLevel, err error) {
	pos, ok := codegen.PosOf(err)
	if !ok {
		pos = item.GetPos()
	}
	tlog.V("driver").Printw("failed", failureAttrs(pos, err)...)
	d.report(pos, err.Error())
}

// failureAttrs lists the log attributes of a failed item, including where
// in the lowering code a diagnosed error was raised.
func failureAttrs(pos ast.Position, err error) []any {
	kv := []any{"pos", pos, "kind", codegen.KindOf(err), "err", err}

	var e *codegen.Error
	if errors.As(err, &e) {
		kv = append(kv, "from", e.From)
	}
	return kv
}

// report writes one "line:col: error: message" line.
func (d *Driver) report(pos ast.Position, msg string) {
	if pos.IsValid() {
		fmt.Fprintf(d.opts.Diag, "%s: error: %s\n", pos, msg)
		return
	}
	fmt.Fprintf(d.opts.Diag, "error: %s\n", msg)
}

func (d *Driver) verbose(name string) {
	if d.irb != nil {
		if fn := d.irb.Module().Lookup(name); fn != nil {
			fmt.Fprintf(d.opts.Diag, "[driver] %s", fn)
		}
		return
	}
	if fn := d.llb.Lookup(name); fn != nil {
		fmt.Fprintf(d.opts.Diag, "[driver] %s\n", fn.LLString())
	}
}
