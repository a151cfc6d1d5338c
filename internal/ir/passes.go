package ir

import (
	"strings"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
)

// Pass rewrites one function in place and reports whether anything changed.
type Pass interface {
	Name() string
	Run(fn *Func) bool
}

// DefaultPasses is the pipeline used when no passes are named explicitly.
func DefaultPasses() []Pass {
	return []Pass{PromoteSlots{}, ConstFold{}, RemoveUnreachable{}, DeadCode{}}
}

// PassByName resolves a pass by its command-line name.
func PassByName(name string) (Pass, bool) {
	for _, p := range []Pass{PromoteSlots{}, ConstFold{}, RemoveUnreachable{}, DeadCode{}} {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// maxRounds bounds how often a pipeline is repeated while it keeps making
// changes.
const maxRounds = 8

// PassManager runs a pipeline over each function handed to it until nothing
// changes, then re-verifies the result.
type PassManager struct {
	mod    *Module
	passes []Pass
}

// NewPassManager returns a manager running passes in order. With no passes
// it runs DefaultPasses. m is used to check calls when re-verifying; it may
// be nil.
func NewPassManager(m *Module, passes ...Pass) *PassManager {
	if len(passes) == 0 {
		passes = DefaultPasses()
	}
	return &PassManager{mod: m, passes: passes}
}

// Optimize runs the pipeline over fn, which must be a *Func.
func (pm *PassManager) Optimize(fn any) error {
	f, ok := fn.(*Func)
	if !ok {
		return errors.New("optimize: expected *ir.Func, got %T", fn)
	}
	tr := tlog.V("passes")
	for round := 0; round < maxRounds; round++ {
		dirty := false
		for _, p := range pm.passes {
			changed := p.Run(f)
			tr.Printw("pass", "func", f.Name, "pass", p.Name(), "round", round, "changed", changed)
			dirty = dirty || changed
		}
		if !dirty {
			break
		}
	}
	if err := VerifyFunc(pm.mod, f); err != nil {
		return errors.Wrap(err, "after passes")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shared rewriting helpers
// ---------------------------------------------------------------------------

// substitute rewrites every register use found in sub, following chains.
func substitute(fn *Func, sub map[int]Operand) {
	if len(sub) == 0 {
		return
	}
	resolve := func(o Operand) Operand {
		for i := 0; o.Kind == KindReg && i <= len(sub); i++ {
			r, ok := sub[o.Reg]
			if !ok {
				break
			}
			o = r
		}
		return o
	}
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			for _, o := range in.operands() {
				*o = resolve(*o)
			}
		}
	}
}

// filter keeps the instructions of b for which keep returns true.
func filter(b *Block, keep func(*Instr) bool) bool {
	out := b.Instrs[:0]
	for _, in := range b.Instrs {
		if keep(in) {
			out = append(out, in)
		}
	}
	removed := len(out) != len(b.Instrs)
	for i := len(out); i < len(b.Instrs); i++ {
		b.Instrs[i] = nil
	}
	b.Instrs = out
	return removed
}

// dropIncoming removes pred from every phi of b.
func dropIncoming(b *Block, pred *Block) {
	for _, in := range b.Instrs {
		if in.Op != OpPhi {
			break
		}
		for k := 0; k < len(in.Preds); {
			if in.Preds[k] == pred {
				in.Preds = append(in.Preds[:k], in.Preds[k+1:]...)
				in.Args = append(in.Args[:k], in.Args[k+1:]...)
				continue
			}
			k++
		}
	}
}

// ---------------------------------------------------------------------------
// PromoteSlots
// ---------------------------------------------------------------------------

// PromoteSlots forwards the stored value of every slot that is written
// exactly once, in the entry block, before any load of it. Such slots are
// parameters and var bindings that are never reassigned.
type PromoteSlots struct{}

func (PromoteSlots) Name() string { return "promote" }

func (PromoteSlots) Run(fn *Func) bool {
	if !fn.HasBody() {
		return false
	}
	type slotInfo struct {
		stores   int
		store    *Instr
		storeIdx int
		inEntry  bool
		early    bool // loaded in entry before the store
	}
	info := make([]slotInfo, len(fn.Slots))
	entry := fn.Blocks[0]

	for _, b := range fn.Blocks {
		for k, in := range b.Instrs {
			if in.Src1.Kind != KindSlot {
				continue
			}
			s := &info[in.Src1.Index]
			switch in.Op {
			case OpStore:
				s.stores++
				s.store, s.storeIdx, s.inEntry = in, k, b == entry
			case OpLoad:
				if b == entry && (s.store == nil || s.storeIdx > k) {
					s.early = true
				}
			}
		}
	}

	sub := make(map[int]Operand)
	promoted := make(map[int]bool)
	for i, s := range info {
		if s.stores == 1 && s.inEntry && !s.early {
			promoted[i] = true
		}
	}
	if len(promoted) == 0 {
		return false
	}

	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Op == OpLoad && promoted[in.Src1.Index] {
				sub[in.Dst.Reg] = info[in.Src1.Index].store.Src2
			}
		}
	}
	for _, b := range fn.Blocks {
		filter(b, func(in *Instr) bool {
			return !((in.Op == OpLoad || in.Op == OpStore) && promoted[in.Src1.Index])
		})
	}
	substitute(fn, sub)
	return true
}

// ---------------------------------------------------------------------------
// ConstFold
// ---------------------------------------------------------------------------

// ConstFold evaluates instructions whose operands are all constants,
// collapses phis with a single distinct incoming value and turns
// conditional jumps on a constant into plain jumps.
type ConstFold struct{}

func (ConstFold) Name() string { return "constfold" }

func (ConstFold) Run(fn *Func) bool {
	dirty := false
	for {
		sub := make(map[int]Operand)
		changed := false

		for _, b := range fn.Blocks {
			for _, in := range b.Instrs {
				if v, ok := fold(in); ok {
					sub[in.Dst.Reg] = v
				}
			}
			if t := b.Terminator(); t != nil && t.Op == OpJmpIf && t.Src1.Kind == KindConst {
				taken, dropped := t.Targets[0], t.Targets[1]
				if t.Src1.Const == 0 {
					taken, dropped = dropped, taken
				}
				if taken != dropped {
					dropIncoming(dropped, b)
				}
				t.Op, t.Src1, t.Targets = OpJmp, None(), []*Block{taken}
				changed = true
			}
		}

		if len(sub) > 0 {
			for _, b := range fn.Blocks {
				filter(b, func(in *Instr) bool {
					_, folded := sub[in.Dst.Reg]
					return !(in.Dst.Kind == KindReg && folded)
				})
			}
			substitute(fn, sub)
			changed = true
		}
		if !changed {
			return dirty
		}
		dirty = true
	}
}

// fold returns the value in computes when it is known at compile time.
func fold(in *Instr) (Operand, bool) {
	if in.Dst.Kind != KindReg {
		return Operand{}, false
	}
	if in.Op == OpPhi {
		return foldPhi(in)
	}

	switch in.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpCmpLT, OpCmpGT, OpCmpNE:
		if in.Src1.Kind != KindConst || in.Src2.Kind != KindConst {
			return Operand{}, false
		}
	case OpWiden:
		if in.Src1.Kind != KindConst {
			return Operand{}, false
		}
	default:
		return Operand{}, false
	}

	l, r := in.Src1.Const, in.Src2.Const
	switch in.Op {
	case OpAdd:
		return Const(l + r), true
	case OpSub:
		return Const(l - r), true
	case OpMul:
		return Const(l * r), true
	case OpDiv:
		return Const(l / r), true
	case OpCmpLT:
		return truth(l < r), true
	case OpCmpGT:
		return truth(l > r), true
	case OpCmpNE:
		return truth(orderedNE(l, r)), true
	case OpWiden:
		return truth(l != 0), true
	}
	return Operand{}, false
}

func foldPhi(in *Instr) (Operand, bool) {
	if len(in.Args) == 0 {
		return Operand{}, false
	}
	first := in.Args[0]
	for _, a := range in.Args[1:] {
		if a != first {
			return Operand{}, false
		}
	}
	if first.Kind == KindReg && first.Reg == in.Dst.Reg {
		return Operand{}, false
	}
	return first, true
}

func truth(b bool) Operand {
	if b {
		return Const(1)
	}
	return Const(0)
}

// ---------------------------------------------------------------------------
// RemoveUnreachable
// ---------------------------------------------------------------------------

// RemoveUnreachable drops blocks that cannot be reached from the entry
// block and the phi incomings that referred to them.
type RemoveUnreachable struct{}

func (RemoveUnreachable) Name() string { return "unreachable" }

func (RemoveUnreachable) Run(fn *Func) bool {
	if !fn.HasBody() {
		return false
	}
	reached := map[*Block]bool{fn.Blocks[0]: true}
	work := []*Block{fn.Blocks[0]}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range b.Succs() {
			if !reached[s] {
				reached[s] = true
				work = append(work, s)
			}
		}
	}
	if len(reached) == len(fn.Blocks) {
		return false
	}

	kept := fn.Blocks[:0]
	var dead []*Block
	for _, b := range fn.Blocks {
		if reached[b] {
			kept = append(kept, b)
		} else {
			dead = append(dead, b)
		}
	}
	fn.Blocks = kept
	for _, d := range dead {
		d.Parent = nil
		for _, b := range kept {
			dropIncoming(b, d)
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// DeadCode
// ---------------------------------------------------------------------------

// DeadCode removes pure instructions whose result is never used, and stores
// into slots that are never loaded.
type DeadCode struct{}

func (DeadCode) Name() string { return "dce" }

func (DeadCode) Run(fn *Func) bool {
	changed := false
	for {
		used := make(map[int]bool)
		loaded := make(map[int]bool)
		for _, b := range fn.Blocks {
			for _, in := range b.Instrs {
				for _, o := range in.operands() {
					if o.Kind == KindReg {
						used[o.Reg] = true
					}
				}
				if in.Op == OpLoad {
					loaded[in.Src1.Index] = true
				}
			}
		}

		removed := false
		for _, b := range fn.Blocks {
			if filter(b, func(in *Instr) bool {
				if in.Op == OpStore {
					return loaded[in.Src1.Index]
				}
				return !(in.Op.pure() && in.Dst.Kind == KindReg && !used[in.Dst.Reg])
			}) {
				removed = true
			}
		}
		if !removed {
			return changed
		}
		changed = true
	}
}

// PassNames lists the names of a pipeline, comma separated.
func PassNames(passes []Pass) string {
	names := make([]string, len(passes))
	for i, p := range passes {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}
