package codegen

import (
	"github.com/nikandfor/tlog"
	"github.com/rickypai/natsort"
)

// Scope maps variable names to their active storage slot. At any point of a
// function's lowering a name resolves to at most one slot; a new binding
// hides the previous one until it is restored.
type Scope struct {
	slots map[string]Slot
}

// Saved records what Bind replaced so Restore can put it back.
type Saved struct {
	name string
	prev Slot
	had  bool
}

// NewScope returns an empty scope table.
func NewScope() *Scope {
	return &Scope{slots: make(map[string]Slot)}
}

// Lookup returns the active slot for name.
func (s *Scope) Lookup(name string) (Slot, bool) {
	slot, ok := s.slots[name]
	return slot, ok
}

// Bind makes slot the active binding for name and returns the binding it
// shadowed.
func (s *Scope) Bind(name string, slot Slot) Saved {
	prev, had := s.slots[name]
	s.slots[name] = slot
	tlog.V("scope").Printw("bind", "name", name, "shadows", had)
	return Saved{name: name, prev: prev, had: had}
}

// Restore reinstates the binding recorded by Bind, or removes the name if
// there was none. Restores must run in reverse order of the Binds.
func (s *Scope) Restore(sv Saved) {
	if sv.had {
		s.slots[sv.name] = sv.prev
	} else {
		delete(s.slots, sv.name)
	}
	tlog.V("scope").Printw("restore", "name", sv.name, "outer", sv.had)
}

// Clear drops every binding.
func (s *Scope) Clear() {
	for name := range s.slots {
		delete(s.slots, name)
	}
}

// Len returns the number of visible names.
func (s *Scope) Len() int { return len(s.slots) }

// Names returns the visible names in natural order (f2 before f10).
func (s *Scope) Names() []string {
	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	natsort.Strings(names)
	return names
}

// Snapshot copies the current name → slot mapping.
func (s *Scope) Snapshot() map[string]Slot {
	out := make(map[string]Slot, len(s.slots))
	for name, slot := range s.slots {
		out[name] = slot
	}
	return out
}
