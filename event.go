package typedstream

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind tags the variant carried by an Event.
type Kind uint8

const (
	KindInteger Kind = iota + 1
	KindFloat
	KindBytes // '+' byte strings
	KindText  // '+' byte strings inside a text-bearing class, valid UTF-8
	KindCString
	KindAtom
	KindSelector
	KindClass // '#' values
	KindObjectStart
	KindObjectEnd
	KindObjectRef
	KindNull
	KindGroupStart
	KindGroupEnd
	KindArrayStart
	KindArrayEnd
	KindStructStart
	KindStructEnd
	KindByteArray // [Nc] and [NC] char arrays, not text
)

var kindNames = [...]string{
	KindInteger:     "integer",
	KindFloat:       "float",
	KindBytes:       "bytes",
	KindText:        "text",
	KindCString:     "cstring",
	KindAtom:        "atom",
	KindSelector:    "selector",
	KindClass:       "class",
	KindObjectStart: "object-start",
	KindObjectEnd:   "object-end",
	KindObjectRef:   "object-ref",
	KindNull:        "null",
	KindGroupStart:  "group-start",
	KindGroupEnd:    "group-end",
	KindArrayStart:  "array-start",
	KindArrayEnd:    "array-end",
	KindStructStart: "struct-start",
	KindStructEnd:   "struct-end",
	KindByteArray:   "byte-array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Event is one decoded unit of a stream, yielded in stream order.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind   Kind
	Offset int // byte offset the entry starts at

	Int    int64
	Float  float64
	Width  int // bytes the scalar occupied on the wire, tag excluded
	Signed bool

	Bytes []byte

	Class *Class // ObjectStart, ObjectRef, Class
	Ref   int    // object table slot for ObjectStart and ObjectRef

	Encoding string // group encodings, array encoding, struct name
	Len      int    // array element count
}

// IsTextLike reports whether the event carries a byte-string payload a caller
// looking for message text should accept.
func (e Event) IsTextLike() bool {
	return e.Kind == KindText || e.Kind == KindBytes
}

// Text returns the payload of string-like events as UTF-8, replacing invalid
// sequences with U+FFFD.
func (e Event) Text() (string, bool) {
	switch e.Kind {
	case KindText, KindBytes, KindCString, KindAtom, KindSelector, KindByteArray:
	default:
		return "", false
	}
	if utf8.Valid(e.Bytes) {
		return string(e.Bytes), true
	}
	return strings.ToValidUTF8(string(e.Bytes), "�"), true
}

func (e Event) String() string {
	switch e.Kind {
	case KindInteger:
		return fmt.Sprintf("%d %s %d", e.Offset, e.Kind, e.Int)
	case KindFloat:
		return fmt.Sprintf("%d %s %g", e.Offset, e.Kind, e.Float)
	case KindBytes, KindText, KindCString, KindAtom, KindSelector:
		s, _ := e.Text()
		return fmt.Sprintf("%d %s %q", e.Offset, e.Kind, s)
	case KindByteArray:
		return fmt.Sprintf("%d %s %x", e.Offset, e.Kind, e.Bytes)
	case KindClass:
		return fmt.Sprintf("%d %s %s", e.Offset, e.Kind, e.Class)
	case KindObjectStart, KindObjectRef:
		return fmt.Sprintf("%d %s #%d %s", e.Offset, e.Kind, e.Ref, e.Class)
	case KindGroupStart, KindStructStart:
		return fmt.Sprintf("%d %s %q", e.Offset, e.Kind, e.Encoding)
	case KindArrayStart:
		return fmt.Sprintf("%d %s %q len=%d", e.Offset, e.Kind, e.Encoding, e.Len)
	default:
		return fmt.Sprintf("%d %s", e.Offset, e.Kind)
	}
}
