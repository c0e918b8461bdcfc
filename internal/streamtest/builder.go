// Package streamtest builds typedstream buffers for tests.
package streamtest

import (
	"encoding/binary"
	"math"
)

const (
	tagInteger2      = 0x81
	tagInteger4      = 0x82
	tagFloatingPoint = 0x83
	tagNew           = 0x84
	tagNil           = 0x85
	tagEndOfObject   = 0x86

	firstReference = -110
)

// Def names a class in a chain written by Class.
type Def struct {
	Name    string
	Version int64
}

// Builder appends typedstream entries. It tracks the shared string and object
// tables the way a reader numbers them, so repeated strings and classes are
// written as references.
type Builder struct {
	buf     []byte
	order   binary.ByteOrder
	strings map[string]int
	nstr    int
	classes map[string]int
	nobj    int
	scratch [8]byte
}

// New starts a little-endian stream with the usual header.
func New() *Builder {
	return newBuilder("streamtyped", binary.LittleEndian)
}

// NewBigEndian starts a big-endian stream.
func NewBigEndian() *Builder {
	return newBuilder("typedstream", binary.BigEndian)
}

// Headerless returns a builder with no preamble, for fragments.
func Headerless() *Builder {
	return &Builder{order: binary.LittleEndian, strings: map[string]int{}, classes: map[string]int{}}
}

func newBuilder(sig string, order binary.ByteOrder) *Builder {
	b := &Builder{order: order, strings: map[string]int{}, classes: map[string]int{}}
	b.buf = append(b.buf, 4, byte(len(sig)))
	b.buf = append(b.buf, sig...)
	b.Int(1000)
	return b
}

func (b *Builder) Bytes() []byte { return b.buf }

func (b *Builder) Len() int { return len(b.buf) }

// Raw appends bytes verbatim.
func (b *Builder) Raw(p ...byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Int appends an encoded integer using the narrowest form.
func (b *Builder) Int(v int64) *Builder {
	switch {
	case v >= firstReference && v <= 127:
		b.buf = append(b.buf, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		b.order.PutUint16(b.scratch[:2], uint16(int16(v)))
		b.buf = append(b.buf, tagInteger2)
		b.buf = append(b.buf, b.scratch[:2]...)
	default:
		b.order.PutUint32(b.scratch[:4], uint32(int32(v)))
		b.buf = append(b.buf, tagInteger4)
		b.buf = append(b.buf, b.scratch[:4]...)
	}
	return b
}

func (b *Builder) Float32(f float32) *Builder {
	b.order.PutUint32(b.scratch[:4], math.Float32bits(f))
	b.buf = append(b.buf, tagFloatingPoint)
	b.buf = append(b.buf, b.scratch[:4]...)
	return b
}

func (b *Builder) Float64(f float64) *Builder {
	b.order.PutUint64(b.scratch[:8], math.Float64bits(f))
	b.buf = append(b.buf, tagFloatingPoint)
	b.buf = append(b.buf, b.scratch[:8]...)
	return b
}

func (b *Builder) Nil() *Builder { return b.Raw(tagNil) }

func (b *Builder) End() *Builder { return b.Raw(tagEndOfObject) }

// Ref appends a reference to table slot n.
func (b *Builder) Ref(n int) *Builder { return b.Int(int64(firstReference + n)) }

// Unshared appends a length-prefixed byte run.
func (b *Builder) Unshared(p []byte) *Builder {
	b.Int(int64(len(p)))
	return b.Raw(p...)
}

// Shared appends s as a new shared string, or a reference if already written.
func (b *Builder) Shared(s string) *Builder {
	if n, ok := b.strings[s]; ok {
		return b.Ref(n)
	}
	b.strings[s] = b.nstr
	b.nstr++
	b.Raw(tagNew)
	return b.Unshared([]byte(s))
}

// Group starts a typed value group.
func (b *Builder) Group(enc string) *Builder { return b.Shared(enc) }

// Class appends a class chain, most derived first. The chain stops at the
// first class already written (as a reference) or ends with nil.
func (b *Builder) Class(chain ...Def) *Builder {
	for _, d := range chain {
		if n, ok := b.classes[d.Name]; ok {
			return b.Ref(n)
		}
		b.classes[d.Name] = b.nobj
		b.nobj++
		b.Raw(tagNew)
		b.Shared(d.Name)
		b.Int(d.Version)
	}
	return b.Nil()
}

// BeginObject appends a new object of the given class chain and returns its
// object table slot. Close it with End.
func (b *Builder) BeginObject(chain ...Def) int {
	slot := b.nobj
	b.nobj++
	b.Raw(tagNew)
	b.Class(chain...)
	return slot
}

// NSString appends an "@" group holding an NSString with text s.
func (b *Builder) NSString(s string) *Builder {
	b.Group("@")
	b.BeginObject(Def{"NSString", 1}, Def{"NSObject", 0})
	b.Group("+").Unshared([]byte(s))
	return b.End()
}

// AttributedBody appends the shape Messages stores in attributedBody: an
// NSAttributedString holding an NSString and an attribute dictionary.
func (b *Builder) AttributedBody(text string) *Builder {
	b.Group("@")
	b.BeginObject(Def{"NSAttributedString", 0}, Def{"NSObject", 0})
	b.NSString(text)
	b.Group("i").Int(1)
	b.Group("I").Int(int64(len(text)))
	b.Group("@")
	b.BeginObject(Def{"NSDictionary", 0}, Def{"NSObject", 0})
	b.Group("i").Int(1)
	b.NSString("__kIMMessagePartAttributeName")
	b.Group("@")
	b.BeginObject(Def{"NSNumber", 0}, Def{"NSValue", 0}, Def{"NSObject", 0})
	b.Group("*").Shared("i")
	b.Group("i").Int(0)
	b.End()
	b.End()
	return b.End()
}

// Malformed payload: valid header followed by an unknown tag.
func Malformed() []byte {
	return New().Raw(0x84, 0x01, 'Z').Bytes()
}
