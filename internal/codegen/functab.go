package codegen

import (
	"github.com/nikandfor/tlog"
	"github.com/rickypai/natsort"

	"kaleido/internal/ast"
)

// FuncEntry is one function known to the compilation session.
type FuncEntry struct {
	Proto   *ast.Prototype
	Func    Func
	Defined bool // false for forward/external declarations
}

// FuncTable maps function names to their signatures and builder handles.
// It outlives individual function lowerings: it is the session's single flat
// namespace of functions.
type FuncTable struct {
	entries map[string]*FuncEntry
}

// NewFuncTable returns an empty function table.
func NewFuncTable() *FuncTable {
	return &FuncTable{entries: make(map[string]*FuncEntry)}
}

// Lookup returns the entry for name.
func (t *FuncTable) Lookup(name string) (*FuncEntry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Declare records a declared-only entry and returns it.
func (t *FuncTable) Declare(proto *ast.Prototype, fn Func) *FuncEntry {
	e := &FuncEntry{Proto: proto, Func: fn}
	t.entries[proto.Name] = e
	tlog.V("functab").Printw("declare", "name", proto.Name, "params", len(proto.Params))
	return e
}

// Remove forgets name.
func (t *FuncTable) Remove(name string) {
	delete(t.entries, name)
	tlog.V("functab").Printw("remove", "name", name)
}

// Len returns the number of entries.
func (t *FuncTable) Len() int { return len(t.entries) }

// Names returns every function name in natural order (f2 before f10).
func (t *FuncTable) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	natsort.Strings(names)
	return names
}
