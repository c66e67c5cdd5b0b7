// Package errors defines the typed errors used across the unit code index.
// Per-unit failures are always contained: nothing here is ever fatal to the
// process, and callers use errors.As to branch on the failure class.
package errors

import (
	"fmt"
	"time"

	"github.com/standardbeagle/uci/internal/types"
)

// ErrorType labels the broad class of a failure.
type ErrorType string

const (
	ErrorTypeMalformedSnapshot ErrorType = "malformed_snapshot"
	ErrorTypeCompileFailure    ErrorType = "compile_failure"
	ErrorTypeIdentityConflict  ErrorType = "identity_conflict"
	ErrorTypeCache             ErrorType = "cache"
	ErrorTypeInternal          ErrorType = "internal"
)

// SnapshotError reports a structurally malformed snapshot. The offending
// unit's previous database state is retained unchanged.
type SnapshotError struct {
	Type       ErrorType
	Unit       types.UnitIdentity
	Detail     string
	Underlying error
	Timestamp  time.Time
}

// NewSnapshotError creates a malformed-snapshot error for the given unit.
func NewSnapshotError(unit types.UnitIdentity, detail string) *SnapshotError {
	return &SnapshotError{
		Type:      ErrorTypeMalformedSnapshot,
		Unit:      unit,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *SnapshotError) Error() string {
	if e.Unit.Name == "" {
		return fmt.Sprintf("malformed snapshot: %s", e.Detail)
	}
	return fmt.Sprintf("malformed snapshot for %s: %s", e.Unit, e.Detail)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SnapshotError) Unwrap() error {
	return e.Underlying
}

// CompileError reports that the compiler frontend failed for one unit. The
// unit's last-good snapshot stays queryable, flagged stale, and dependents
// are marked blocked.
type CompileError struct {
	Type       ErrorType
	Unit       types.UnitIdentity
	UnitID     types.CompilationUnitID
	Underlying error
	Timestamp  time.Time
}

// NewCompileError creates a compile-failure error for the given unit.
func NewCompileError(id types.CompilationUnitID, unit types.UnitIdentity, err error) *CompileError {
	return &CompileError{
		Type:       ErrorTypeCompileFailure,
		Unit:       unit,
		UnitID:     id,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compile failed for %s: %v", e.Unit, e.Underlying)
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Underlying
}

// IdentityConflictError reports a prelude whose dependency table is
// ambiguous: the same session-local index bound to two different unit
// identities. The snapshot is rejected and logged, never fatal.
type IdentityConflictError struct {
	Type      ErrorType
	Unit      types.UnitIdentity
	Index     types.SessionLocalIndex
	First     types.UnitIdentity
	Second    types.UnitIdentity
	Timestamp time.Time
}

// NewIdentityConflictError creates an identity-conflict error.
func NewIdentityConflictError(unit types.UnitIdentity, idx types.SessionLocalIndex, first, second types.UnitIdentity) *IdentityConflictError {
	return &IdentityConflictError{
		Type:      ErrorTypeIdentityConflict,
		Unit:      unit,
		Index:     idx,
		First:     first,
		Second:    second,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict in prelude of %s: session index %d bound to both %s and %s",
		e.Unit, e.Index, e.First, e.Second)
}

// CacheError reports a failure reading or writing the persisted snapshot
// cache. Cache failures degrade to a recompile, never to a build failure.
type CacheError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewCacheError creates a cache error with operation context.
func NewCacheError(op, path string, err error) *CacheError {
	return &CacheError{
		Type:       ErrorTypeCache,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error.
func (e *CacheError) Unwrap() error {
	return e.Underlying
}
