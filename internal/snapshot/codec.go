package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"

	"github.com/standardbeagle/uci/internal/types"
)

// Persisted snapshot file layout:
//
//	magic (4) | version (2) | body length (4) | xxhash64 of body (8) | s2 body
//
// The body is the length-prefixed encoding produced by encodeBody. The
// checksum covers the compressed body so corruption is caught before
// decompression.
const (
	magicNumber  uint32 = 0x55434953 // "UCIS"
	codecVersion uint16 = 1

	// maxBodySize bounds the compressed body to keep a corrupt length field
	// from triggering a huge allocation.
	maxBodySize = 1 << 30
)

// Encode writes the snapshot to w in the persisted cache format.
func Encode(w io.Writer, snap *Snapshot) error {
	var body bytes.Buffer
	if err := encodeBody(&body, snap); err != nil {
		return err
	}
	compressed := s2.Encode(nil, body.Bytes())

	var header [18]byte
	binary.LittleEndian.PutUint32(header[0:4], magicNumber)
	binary.LittleEndian.PutUint16(header[4:6], codecVersion)
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(compressed)))
	binary.LittleEndian.PutUint64(header[10:18], xxhash.Sum64(compressed))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

// Decode reads a snapshot in the persisted cache format.
func Decode(r io.Reader) (*Snapshot, error) {
	var header [18]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	if m := binary.LittleEndian.Uint32(header[0:4]); m != magicNumber {
		return nil, fmt.Errorf("bad snapshot magic 0x%08x", m)
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != codecVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", v)
	}
	size := binary.LittleEndian.Uint32(header[6:10])
	if size > maxBodySize {
		return nil, fmt.Errorf("snapshot body size %d exceeds limit", size)
	}
	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("snapshot body: %w", err)
	}
	if sum := xxhash.Sum64(compressed); sum != binary.LittleEndian.Uint64(header[10:18]) {
		return nil, fmt.Errorf("snapshot checksum mismatch")
	}
	body, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snapshot decompress: %w", err)
	}
	return decodeBody(bytes.NewReader(body))
}

func encodeBody(buf *bytes.Buffer, snap *Snapshot) error {
	enc := encoder{buf: buf}
	enc.str(snap.Prelude.Identity.Name)
	enc.str(snap.Prelude.Identity.Disambiguator)
	enc.str(snap.Prelude.RootFile)
	enc.u32(uint32(len(snap.Prelude.Deps)))
	for _, d := range snap.Prelude.Deps {
		enc.u32(uint32(d.Index))
		enc.str(d.Identity.Name)
		enc.str(d.Identity.Disambiguator)
	}
	enc.u32(uint32(len(snap.Definitions)))
	for i := range snap.Definitions {
		d := &snap.Definitions[i]
		enc.u32(uint32(d.Node))
		enc.u32(uint32(d.Kind))
		enc.str(d.QualifiedName)
		enc.span(d.Span)
		enc.u32(uint32(d.Parent))
		enc.str(d.Signature)
		enc.str(d.Doc)
		enc.u32(uint32(len(d.Attributes)))
		for _, a := range d.Attributes {
			enc.str(a)
		}
	}
	enc.u32(uint32(len(snap.References)))
	for i := range snap.References {
		r := &snap.References[i]
		enc.span(r.Span)
		enc.target(r.Target)
	}
	enc.u32(uint32(len(snap.Implementations)))
	for i := range snap.Implementations {
		im := &snap.Implementations[i]
		enc.span(im.Span)
		enc.target(im.From)
		enc.target(im.To)
	}
	enc.u32(uint32(len(snap.Relations)))
	for i := range snap.Relations {
		rel := &snap.Relations[i]
		enc.u32(uint32(rel.Kind))
		enc.span(rel.Span)
		enc.target(rel.From)
		enc.target(rel.To)
	}
	enc.u32(uint32(len(snap.Imports)))
	for i := range snap.Imports {
		enc.u32(uint32(snap.Imports[i].Unit))
		enc.span(snap.Imports[i].Span)
	}
	return enc.err
}

func decodeBody(r *bytes.Reader) (*Snapshot, error) {
	dec := decoder{r: r}
	snap := &Snapshot{}
	snap.Prelude.Identity.Name = dec.str()
	snap.Prelude.Identity.Disambiguator = dec.str()
	snap.Prelude.RootFile = dec.str()
	for n := dec.count(); n > 0; n-- {
		var d DependencyEntry
		d.Index = types.SessionLocalIndex(dec.u32())
		d.Identity.Name = dec.str()
		d.Identity.Disambiguator = dec.str()
		snap.Prelude.Deps = append(snap.Prelude.Deps, d)
	}
	for n := dec.count(); n > 0; n-- {
		var d Definition
		d.Node = types.LocalNodeID(dec.u32())
		d.Kind = types.DefKind(dec.u32())
		d.QualifiedName = dec.str()
		d.Span = dec.span()
		d.Parent = types.LocalNodeID(dec.u32())
		d.Signature = dec.str()
		d.Doc = dec.str()
		for a := dec.count(); a > 0; a-- {
			d.Attributes = append(d.Attributes, dec.str())
		}
		snap.Definitions = append(snap.Definitions, d)
	}
	for n := dec.count(); n > 0; n-- {
		var ref Reference
		ref.Span = dec.span()
		ref.Target = dec.target()
		snap.References = append(snap.References, ref)
	}
	for n := dec.count(); n > 0; n-- {
		var im Implementation
		im.Span = dec.span()
		im.From = dec.target()
		im.To = dec.target()
		snap.Implementations = append(snap.Implementations, im)
	}
	for n := dec.count(); n > 0; n-- {
		var rel Relation
		rel.Kind = types.RelationKind(dec.u32())
		rel.Span = dec.span()
		rel.From = dec.target()
		rel.To = dec.target()
		snap.Relations = append(snap.Relations, rel)
	}
	for n := dec.count(); n > 0; n-- {
		var im Import
		im.Unit = types.SessionLocalIndex(dec.u32())
		im.Span = dec.span()
		snap.Imports = append(snap.Imports, im)
	}
	if dec.err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", dec.err)
	}
	return snap, nil
}

type encoder struct {
	buf *bytes.Buffer
	err error
}

func (e *encoder) u32(v uint32) {
	if e.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) str(s string) {
	if e.err != nil {
		return
	}
	if len(s) > math.MaxUint32 {
		e.err = fmt.Errorf("string too long: %d bytes", len(s))
		return
	}
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) span(s types.Span) {
	e.str(s.File)
	e.u32(s.Start)
	e.u32(s.End)
}

func (e *encoder) target(t TargetRef) {
	e.u32(uint32(t.Unit))
	e.u32(uint32(t.Node))
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.err = err
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

// count reads a length prefix, bounding it by the remaining input so a
// corrupt prefix cannot drive an unbounded loop.
func (d *decoder) count() uint32 {
	n := d.u32()
	if d.err == nil && int64(n) > int64(d.r.Len()) {
		d.err = fmt.Errorf("count %d exceeds remaining input", n)
		return 0
	}
	return n
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if int64(n) > int64(d.r.Len()) {
		d.err = fmt.Errorf("string length %d exceeds remaining input", n)
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
		return ""
	}
	return string(b)
}

func (d *decoder) span() types.Span {
	var s types.Span
	s.File = d.str()
	s.Start = d.u32()
	s.End = d.u32()
	return s
}

func (d *decoder) target() TargetRef {
	var t TargetRef
	t.Unit = types.SessionLocalIndex(d.u32())
	t.Node = types.LocalNodeID(d.u32())
	return t
}
