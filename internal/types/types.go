// Package types defines the identifier and span primitives shared by every
// part of the unit code index. All identifiers here are value types so they
// can be used as map keys without indirection.
package types

import "fmt"

// CompilationUnitID is the globally stable identifier of one compiled unit.
// IDs are allocated by the identity registry and never reused within a
// process. The zero value is invalid.
type CompilationUnitID uint32

// InvalidUnit is the zero CompilationUnitID, never assigned to a real unit.
const InvalidUnit CompilationUnitID = 0

// IsValid reports whether the ID refers to an allocated unit.
func (id CompilationUnitID) IsValid() bool { return id != InvalidUnit }

// LocalNodeID identifies a node within one unit's own numbering. It is only
// meaningful when paired with a CompilationUnitID (see GlobalID) or a
// SessionLocalIndex inside a single snapshot.
type LocalNodeID uint32

// SessionLocalIndex numbers the units visible to one compiler session.
// Index 0 always denotes the session's own unit; indexes >= 1 refer to the
// entries of the snapshot prelude's dependency table. The value is never
// persisted outside lowering.
type SessionLocalIndex uint32

// SelfUnit is the SessionLocalIndex of the snapshot's own unit.
const SelfUnit SessionLocalIndex = 0

// UnitIdentity is the persistent identity of a compilation unit: its declared
// name plus a disambiguator separating logically distinct builds that share a
// name (a library and its test-harness rebuild, for example).
type UnitIdentity struct {
	Name          string
	Disambiguator string
}

// String returns the canonical "name/disambiguator" form used in logs.
func (u UnitIdentity) String() string {
	if u.Disambiguator == "" {
		return u.Name
	}
	return u.Name + "/" + u.Disambiguator
}

// GlobalID is the only identifier stored long-term: a unit identity paired
// with that unit's own node numbering. It stays stable across rebuilds of the
// unit as long as its (name, disambiguator) identity is unchanged.
type GlobalID struct {
	Unit CompilationUnitID
	Node LocalNodeID
}

// IsValid reports whether the GlobalID refers to an allocated unit.
func (g GlobalID) IsValid() bool { return g.Unit.IsValid() }

// String formats the ID for logs and debug output.
func (g GlobalID) String() string {
	return fmt.Sprintf("u%d:n%d", g.Unit, g.Node)
}

// Span is a half-open byte range [Start, End) within one file.
type Span struct {
	File  string
	Start uint32
	End   uint32
}

// Contains reports whether other lies entirely within s, in the same file.
func (s Span) Contains(other Span) bool {
	return s.File == other.File && s.Start <= other.Start && other.End <= s.End
}

// Covers reports whether the byte offset lies within s.
func (s Span) Covers(offset uint32) bool {
	return s.Start <= offset && offset < s.End
}

// Len returns the span length in bytes.
func (s Span) Len() uint32 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// String formats the span as file:start-end.
func (s Span) String() string {
	return fmt.Sprintf("%s:%d-%d", s.File, s.Start, s.End)
}

// DefKind classifies a definition.
type DefKind uint8

const (
	KindUnknown DefKind = iota
	KindModule
	KindFunction
	KindMethod
	KindType
	KindTrait
	KindEnum
	KindVariant
	KindField
	KindConst
	KindStatic
	KindMacro
)

var defKindNames = [...]string{
	KindUnknown:  "unknown",
	KindModule:   "module",
	KindFunction: "function",
	KindMethod:   "method",
	KindType:     "type",
	KindTrait:    "trait",
	KindEnum:     "enum",
	KindVariant:  "variant",
	KindField:    "field",
	KindConst:    "const",
	KindStatic:   "static",
	KindMacro:    "macro",
}

func (k DefKind) String() string {
	if int(k) < len(defKindNames) {
		return defKindNames[k]
	}
	return "unknown"
}

// RelationKind classifies an edge between two global IDs.
type RelationKind uint8

const (
	// RelationImplements links an impl to the trait it implements.
	RelationImplements RelationKind = iota + 1
	// RelationSupertrait links a trait to a trait it extends.
	RelationSupertrait
	// RelationImplFor links an impl to the type it is written for.
	RelationImplFor
)

var relationKindNames = map[RelationKind]string{
	RelationImplements: "implements",
	RelationSupertrait: "supertrait",
	RelationImplFor:    "impl-for",
}

func (k RelationKind) String() string {
	if s, ok := relationKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("relation(%d)", uint8(k))
}
