package ir

import (
	"github.com/nikandfor/errors"
)

// ErrMalformed is wrapped by every verifier failure.
var ErrMalformed = errors.New("malformed IR")

// VerifyFunc checks the structural well-formedness of fn:
//
//   - the function has at least one block and every block belongs to it
//   - every block ends in exactly one terminator
//   - phis come first in their block and name each predecessor exactly once
//   - branch targets are blocks of the function
//   - registers are defined once and every use has a definition
//   - parameter and slot references are in range
//   - calls name a function of m with a matching argument count
//
// m may be nil, in which case calls are not checked.
func VerifyFunc(m *Module, fn *Func) error {
	if !fn.HasBody() {
		return errors.Wrap(ErrMalformed, "func %s: no blocks", fn.Name)
	}

	owned := make(map[*Block]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		if owned[b] {
			return errors.Wrap(ErrMalformed, "func %s: block %s listed twice", fn.Name, b.Name)
		}
		if b.Parent != fn {
			return errors.Wrap(ErrMalformed, "func %s: block %s has another parent", fn.Name, b.Name)
		}
		owned[b] = true
	}

	defs := make(map[int]bool)
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Dst.Kind != KindReg {
				continue
			}
			if defs[in.Dst.Reg] {
				return errors.Wrap(ErrMalformed, "func %s: %s defined twice", fn.Name, in.Dst)
			}
			defs[in.Dst.Reg] = true
		}
	}

	preds := fn.preds()

	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			return errors.Wrap(ErrMalformed, "func %s: block %s is empty", fn.Name, b.Name)
		}
		if b.Terminator() == nil {
			return errors.Wrap(ErrMalformed, "func %s: block %s does not end in a terminator", fn.Name, b.Name)
		}

		inPhis := true
		for k, in := range b.Instrs {
			if in.Op.IsTerminator() && k != len(b.Instrs)-1 {
				return errors.Wrap(ErrMalformed, "func %s: block %s: %s before end of block", fn.Name, b.Name, in.Op)
			}
			if in.Op == OpPhi {
				if !inPhis {
					return errors.Wrap(ErrMalformed, "func %s: block %s: phi after non-phi", fn.Name, b.Name)
				}
				if err := verifyPhi(fn, b, in, preds[b]); err != nil {
					return err
				}
			} else {
				inPhis = false
			}

			for _, t := range in.Targets {
				if !owned[t] {
					return errors.Wrap(ErrMalformed, "func %s: block %s: branch to foreign block", fn.Name, b.Name)
				}
			}
			if err := verifyOperands(fn, b, in, defs); err != nil {
				return err
			}
			if in.Op == OpCall && m != nil {
				callee := m.Lookup(in.Callee)
				if callee == nil {
					return errors.Wrap(ErrMalformed, "func %s: call to unknown function %s", fn.Name, in.Callee)
				}
				if len(callee.ParamNames) != len(in.Args) {
					return errors.Wrap(ErrMalformed, "func %s: call to %s with %d args, want %d",
						fn.Name, in.Callee, len(in.Args), len(callee.ParamNames))
				}
			}
		}
	}
	return nil
}

func verifyPhi(fn *Func, b *Block, in *Instr, preds []*Block) error {
	if len(in.Args) != len(in.Preds) {
		return errors.Wrap(ErrMalformed, "func %s: block %s: phi has %d values for %d blocks",
			fn.Name, b.Name, len(in.Args), len(in.Preds))
	}
	if len(in.Preds) != len(preds) {
		return errors.Wrap(ErrMalformed, "func %s: block %s: phi has %d incoming, block has %d predecessors",
			fn.Name, b.Name, len(in.Preds), len(preds))
	}
	seen := make(map[*Block]bool, len(in.Preds))
	for _, p := range in.Preds {
		if seen[p] || !containsBlock(preds, p) {
			return errors.Wrap(ErrMalformed, "func %s: block %s: phi incoming %s is not a predecessor",
				fn.Name, b.Name, blockName([]*Block{p}, 0))
		}
		seen[p] = true
	}
	return nil
}

func verifyOperands(fn *Func, b *Block, in *Instr, defs map[int]bool) error {
	for _, o := range in.operands() {
		switch o.Kind {
		case KindReg:
			if !defs[o.Reg] {
				return errors.Wrap(ErrMalformed, "func %s: block %s: use of undefined %s", fn.Name, b.Name, o)
			}
		case KindParam:
			if o.Index < 0 || o.Index >= len(fn.ParamNames) {
				return errors.Wrap(ErrMalformed, "func %s: block %s: parameter %d out of range", fn.Name, b.Name, o.Index)
			}
		case KindSlot:
			if o.Index < 0 || o.Index >= len(fn.Slots) {
				return errors.Wrap(ErrMalformed, "func %s: block %s: slot %d out of range", fn.Name, b.Name, o.Index)
			}
		}
	}

	switch in.Op {
	case OpLoad, OpStore:
		if in.Src1.Kind != KindSlot {
			return errors.Wrap(ErrMalformed, "func %s: block %s: %s through non-slot %s", fn.Name, b.Name, in.Op, in.Src1)
		}
	case OpJmp:
		if len(in.Targets) != 1 {
			return errors.Wrap(ErrMalformed, "func %s: block %s: jmp needs one target", fn.Name, b.Name)
		}
	case OpJmpIf:
		if len(in.Targets) != 2 {
			return errors.Wrap(ErrMalformed, "func %s: block %s: jmp_if needs two targets", fn.Name, b.Name)
		}
	}
	return nil
}
