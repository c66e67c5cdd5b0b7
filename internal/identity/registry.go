// Package identity translates the session-local unit numbering used inside
// one snapshot into globally stable compilation-unit IDs. Each compiler
// session numbers its dependencies relative to itself; the registry gives
// every (name, disambiguator) pair one persistent ID so references can be
// compared across units and across rebuilds.
package identity

import (
	"sync"

	"github.com/standardbeagle/uci/internal/types"
)

// Registry is the persistent (name, disambiguator) → CompilationUnitID
// table. It is single-writer, many-reader: allocation takes the write lock,
// lookups take the read lock. IDs are never reused.
type Registry struct {
	mu   sync.RWMutex
	byID map[types.CompilationUnitID]types.UnitIdentity
	ids  map[types.UnitIdentity]types.CompilationUnitID
	next types.CompilationUnitID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[types.CompilationUnitID]types.UnitIdentity),
		ids:  make(map[types.UnitIdentity]types.CompilationUnitID),
		next: 1,
	}
}

// Resolve returns the stable ID for the identity, allocating one on first
// sight. Resolving the same identity twice always yields the same ID.
func (r *Registry) Resolve(ident types.UnitIdentity) types.CompilationUnitID {
	r.mu.RLock()
	id, ok := r.ids[ident]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[ident]; ok {
		return id
	}
	id = r.next
	r.next++
	r.ids[ident] = id
	r.byID[id] = ident
	return id
}

// Lookup returns the ID for an identity without allocating.
func (r *Registry) Lookup(ident types.UnitIdentity) (types.CompilationUnitID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[ident]
	return id, ok
}

// IdentityOf returns the identity registered for an ID.
func (r *Registry) IdentityOf(id types.CompilationUnitID) (types.UnitIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.byID[id]
	return ident, ok
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
