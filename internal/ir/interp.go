package ir

import (
	"fmt"
	"io"
	"math"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
)

// Evaluation limits used when EvalOptions leaves them zero.
const (
	DefaultMaxSteps = 50_000_000
	DefaultMaxDepth = 10_000
)

var (
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrCallDepth     = errors.New("call depth exceeded")
	ErrNoDefinition  = errors.New("function has no definition")
	ErrBadArgs       = errors.New("wrong number of arguments")
	ErrFellOffBlock  = errors.New("block has no terminator")
	ErrPhiNoIncoming = errors.New("phi has no value for predecessor")
)

// Extern implements a declared-only function in Go.
type Extern func(args []float64) (float64, error)

// EvalOptions configures an Interp.
type EvalOptions struct {
	MaxSteps int // instructions executed across all calls
	MaxDepth int // nested calls
	Externs  map[string]Extern
}

// Interp executes IR functions directly. It exists to check what lowered
// code computes without a native toolchain.
type Interp struct {
	mod   *Module
	opts  EvalOptions
	steps int
}

// NewInterp returns an interpreter over m. opts may be nil.
func NewInterp(m *Module, opts *EvalOptions) *Interp {
	it := &Interp{mod: m}
	if opts != nil {
		it.opts = *opts
	}
	if it.opts.MaxSteps <= 0 {
		it.opts.MaxSteps = DefaultMaxSteps
	}
	if it.opts.MaxDepth <= 0 {
		it.opts.MaxDepth = DefaultMaxDepth
	}
	return it
}

// Steps returns the number of instructions executed so far.
func (it *Interp) Steps() int { return it.steps }

// Call runs the named function with args. The step budget is shared by all
// calls made through the same Interp.
func (it *Interp) Call(name string, args ...float64) (float64, error) {
	fn := it.mod.Lookup(name)
	if fn == nil {
		if ext, ok := it.opts.Externs[name]; ok {
			return ext(args)
		}
		return 0, errors.Wrap(ErrNoDefinition, "%s", name)
	}
	v, err := it.call(fn, args, 0)
	tlog.V("eval").Printw("call", "func", name, "result", v, "steps", it.steps, "err", err)
	return v, err
}

func (it *Interp) callByName(name string, args []float64, depth int) (float64, error) {
	fn := it.mod.Lookup(name)
	if fn == nil || !fn.HasBody() {
		if ext, ok := it.opts.Externs[name]; ok {
			return ext(args)
		}
		return 0, errors.Wrap(ErrNoDefinition, "%s", name)
	}
	return it.call(fn, args, depth)
}

func (it *Interp) call(fn *Func, args []float64, depth int) (float64, error) {
	if !fn.HasBody() {
		return it.callByName(fn.Name, args, depth)
	}
	if depth >= it.opts.MaxDepth {
		return 0, errors.Wrap(ErrCallDepth, "%s", fn.Name)
	}
	if len(args) != len(fn.ParamNames) {
		return 0, errors.Wrap(ErrBadArgs, "%s: got %d, want %d", fn.Name, len(args), len(fn.ParamNames))
	}

	regs := make([]float64, fn.nextReg)
	slots := make([]float64, len(fn.Slots))
	val := func(o Operand) float64 {
		switch o.Kind {
		case KindReg:
			return regs[o.Reg]
		case KindConst:
			return o.Const
		case KindParam:
			return args[o.Index]
		}
		return math.NaN()
	}

	var prev *Block
	b := fn.Blocks[0]

blocks:
	for {
		k := 0

		// Phis read their inputs before any of them is written.
		var phiVals []float64
		for ; k < len(b.Instrs) && b.Instrs[k].Op == OpPhi; k++ {
			in := b.Instrs[k]
			found := false
			for p, pred := range in.Preds {
				if pred == prev {
					phiVals = append(phiVals, val(in.Args[p]))
					found = true
					break
				}
			}
			if !found {
				return 0, errors.Wrap(ErrPhiNoIncoming, "%s: block %s", fn.Name, b.Name)
			}
		}
		for p, v := range phiVals {
			regs[b.Instrs[p].Dst.Reg] = v
		}

		for ; k < len(b.Instrs); k++ {
			in := b.Instrs[k]
			it.steps++
			if it.steps > it.opts.MaxSteps {
				return 0, errors.Wrap(ErrStepLimit, "%s: after %d steps", fn.Name, it.opts.MaxSteps)
			}

			switch in.Op {
			case OpAdd:
				regs[in.Dst.Reg] = val(in.Src1) + val(in.Src2)
			case OpSub:
				regs[in.Dst.Reg] = val(in.Src1) - val(in.Src2)
			case OpMul:
				regs[in.Dst.Reg] = val(in.Src1) * val(in.Src2)
			case OpDiv:
				regs[in.Dst.Reg] = val(in.Src1) / val(in.Src2)
			case OpCmpLT:
				regs[in.Dst.Reg] = boolf(val(in.Src1) < val(in.Src2))
			case OpCmpGT:
				regs[in.Dst.Reg] = boolf(val(in.Src1) > val(in.Src2))
			case OpCmpNE:
				regs[in.Dst.Reg] = boolf(orderedNE(val(in.Src1), val(in.Src2)))
			case OpWiden:
				regs[in.Dst.Reg] = boolf(val(in.Src1) != 0)
			case OpLoad:
				regs[in.Dst.Reg] = slots[in.Src1.Index]
			case OpStore:
				slots[in.Src1.Index] = val(in.Src2)
			case OpCall:
				cargs := make([]float64, len(in.Args))
				for i, a := range in.Args {
					cargs[i] = val(a)
				}
				v, err := it.callByName(in.Callee, cargs, depth+1)
				if err != nil {
					return 0, err
				}
				regs[in.Dst.Reg] = v
			case OpJmp:
				prev, b = b, in.Targets[0]
				continue blocks
			case OpJmpIf:
				next := in.Targets[1]
				if val(in.Src1) != 0 {
					next = in.Targets[0]
				}
				prev, b = b, next
				continue blocks
			case OpRet:
				return val(in.Src1), nil
			default:
				return 0, errors.New("%s: block %s: cannot execute %s", fn.Name, b.Name, in.Op)
			}
		}
		return 0, errors.Wrap(ErrFellOffBlock, "%s: block %s", fn.Name, b.Name)
	}
}

// orderedNE is false when either operand is NaN.
func orderedNE(l, r float64) bool {
	return !math.IsNaN(l) && !math.IsNaN(r) && l != r
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Builtins returns the host functions a program may declare with extern:
// putchard and printd write to w, the rest are from package math.
func Builtins(w io.Writer) map[string]Extern {
	unary := func(f func(float64) float64) Extern {
		return func(args []float64) (float64, error) {
			if len(args) != 1 {
				return 0, errors.Wrap(ErrBadArgs, "got %d, want 1", len(args))
			}
			return f(args[0]), nil
		}
	}
	return map[string]Extern{
		"putchard": func(args []float64) (float64, error) {
			if len(args) != 1 {
				return 0, errors.Wrap(ErrBadArgs, "putchard: got %d, want 1", len(args))
			}
			_, err := fmt.Fprintf(w, "%c", rune(args[0]))
			return 0, err
		},
		"printd": func(args []float64) (float64, error) {
			if len(args) != 1 {
				return 0, errors.Wrap(ErrBadArgs, "printd: got %d, want 1", len(args))
			}
			_, err := fmt.Fprintf(w, "%f\n", args[0])
			return 0, err
		},
		"sin":  unary(math.Sin),
		"cos":  unary(math.Cos),
		"sqrt": unary(math.Sqrt),
		"exp":  unary(math.Exp),
		"log":  unary(math.Log),
		"fabs": unary(math.Abs),
	}
}

// Eval runs the named function with a fresh interpreter and default limits.
func (m *Module) Eval(name string, args ...float64) (float64, error) {
	return NewInterp(m, nil).Call(name, args...)
}
