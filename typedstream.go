// Package typedstream reads the NeXT/Apple typedstream archive format and
// yields the values it contains as a lazy sequence of events.
//
// Header: streamer version, signature ("streamtyped" little-endian,
// "typedstream" big-endian), system version
// Body: typed value groups until end of buffer; each group is a shared type
// encoding string followed by one value per encoding
package typedstream

import (
	"encoding/binary"
	"io"
	"iter"
	"unicode/utf8"
)

const (
	signatureLE = "streamtyped"
	signatureBE = "typedstream"

	defaultMaxDepth = 64
)

type Options struct {
	// ZeroCopy lets event payloads alias the input buffer; caller must keep
	// the buffer alive and unmodified while it holds events.
	ZeroCopy bool
	// MaxDepth bounds object, array and struct nesting. Zero means 64.
	MaxDepth int
	// Classes overrides the built-in class rules by class name.
	Classes map[string]ClassRule
	// Unknown applies to objects whose class chain has no rule.
	Unknown ClassRule
}

// Header is the fixed preamble of a stream.
type Header struct {
	Version       int
	Signature     string
	SystemVersion int64
	ByteOrder     binary.ByteOrder
}

type slot struct {
	class   *Class
	isClass bool
}

// Reader decodes one buffer. It is single use and not safe for concurrent use.
type Reader struct {
	opts    Options
	c       cursor
	header  *Header
	strings [][]byte
	objects []slot
	quiet   int
	yield   func(Event, error) bool
	used    bool

	next func() (Event, error, bool)
	stop func()
}

func NewReader(buf []byte, opts Options) *Reader {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	return &Reader{opts: opts, c: cursor{buf: buf}}
}

// Decode returns the events of buf with default options. A nil or empty
// buffer yields no events.
func Decode(buf []byte) iter.Seq2[Event, error] {
	return NewReader(buf, Options{}).Events()
}

// FirstText returns the first text or byte-string payload of buf decoded as
// UTF-8. Decoding stops at the first match.
func FirstText(buf []byte, opts Options) (string, bool, error) {
	// Text copies out of buf
	opts.ZeroCopy = true
	for ev, err := range NewReader(buf, opts).Events() {
		if err != nil {
			return "", false, err
		}
		if ev.IsTextLike() {
			s, _ := ev.Text()
			return s, true, nil
		}
	}
	return "", false, nil
}

// Header parses the stream preamble. It does not consume events.
func (r *Reader) Header() (Header, error) {
	if r.header != nil {
		return *r.header, nil
	}
	c := cursor{buf: r.c.buf}
	h, err := parseHeader(&c)
	if err != nil {
		return Header{}, err
	}
	return h, nil
}

func parseHeader(c *cursor) (Header, error) {
	var h Header
	v, err := c.head("streamer version")
	if err != nil {
		return h, err
	}
	if v != 3 && v != 4 {
		return h, malformed(0, "unsupported streamer version %d", v)
	}
	h.Version = int(v)
	n, err := c.head("signature length")
	if err != nil {
		return h, err
	}
	if int(n) != len(signatureLE) {
		return h, malformed(1, "bad signature length %d", n)
	}
	sig, err := c.take(len(signatureLE), "signature")
	if err != nil {
		return h, err
	}
	switch string(sig) {
	case signatureLE:
		c.order = binary.LittleEndian
	case signatureBE:
		c.order = binary.BigEndian
	default:
		return h, malformed(2, "bad signature %q", sig)
	}
	h.Signature = string(sig)
	h.ByteOrder = c.order
	h.SystemVersion, _, err = c.integer(true, "system version")
	if err != nil {
		return h, err
	}
	return h, nil
}

// Events returns the lazy event sequence. Iteration ends after the first
// error. Stopping early leaves nothing pending.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if r.used {
			yield(Event{}, ErrReaderUsed)
			return
		}
		r.used = true
		if len(r.c.buf) == 0 {
			return
		}
		r.yield = yield
		defer func() { r.yield = nil }()
		if err := r.run(); err != nil && err != errStop {
			yield(Event{}, err)
		}
	}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (Event, error) {
	if r.next == nil {
		r.next, r.stop = iter.Pull2(r.Events())
	}
	ev, err, ok := r.next()
	if !ok {
		return Event{}, io.EOF
	}
	if err != nil {
		r.Stop()
	}
	return ev, err
}

// Stop releases a pull iterator started by Next.
func (r *Reader) Stop() {
	if r.stop != nil {
		r.stop()
	}
}

func (r *Reader) run() error {
	h, err := parseHeader(&r.c)
	if err != nil {
		return err
	}
	r.header = &h
	for !r.c.eof() {
		if err := r.readGroup(0, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) emit(ev Event) error {
	if r.quiet > 0 {
		return nil
	}
	if !r.opts.ZeroCopy && ev.Bytes != nil {
		ev.Bytes = append([]byte(nil), ev.Bytes...)
	}
	if !r.yield(ev, nil) {
		return errStop
	}
	return nil
}

func (r *Reader) deeper(depth, off int) error {
	if depth > r.opts.MaxDepth {
		return malformed(off, "nesting deeper than %d", r.opts.MaxDepth)
	}
	return nil
}

// sharedString reads nil, a new string or a string table reference.
func (r *Reader) sharedString(what string) ([]byte, bool, error) {
	start := r.c.pos
	h, err := r.c.head(what)
	if err != nil {
		return nil, false, err
	}
	switch h {
	case tagNil:
		return nil, false, nil
	case tagNew:
		b, isNil, err := r.c.unshared(what)
		if err != nil {
			return nil, false, err
		}
		if isNil {
			return nil, false, malformed(start, "new %s without body", what)
		}
		r.strings = append(r.strings, b)
		return b, true, nil
	}
	n, _, err := r.c.readInteger(h, true, what+" reference")
	if err != nil {
		return nil, false, err
	}
	idx := n - firstReference
	if idx < 0 || idx >= int64(len(r.strings)) {
		return nil, false, malformed(start, "%s reference %d out of range (%d defined)", what, idx, len(r.strings))
	}
	return r.strings[idx], true, nil
}

func (r *Reader) objectRef(h int8, start int) (int, error) {
	n, _, err := r.c.readInteger(h, true, "object reference")
	if err != nil {
		return 0, err
	}
	idx := n - firstReference
	if idx < 0 || idx >= int64(len(r.objects)) {
		return 0, malformed(start, "object reference %d out of range (%d defined)", idx, len(r.objects))
	}
	return int(idx), nil
}

// readClass reads a class and its super class chain.
func (r *Reader) readClass(depth int) (*Class, error) {
	start := r.c.pos
	if err := r.deeper(depth, start); err != nil {
		return nil, err
	}
	h, err := r.c.head("class")
	if err != nil {
		return nil, err
	}
	switch h {
	case tagNil:
		return nil, nil
	case tagNew:
		// the slot is taken before the name so subclasses number first
		idx := len(r.objects)
		r.objects = append(r.objects, slot{isClass: true})
		name, ok, err := r.sharedString("class name")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, malformed(start, "class without name")
		}
		version, _, err := r.c.integer(true, "class version")
		if err != nil {
			return nil, err
		}
		super, err := r.readClass(depth + 1)
		if err != nil {
			return nil, err
		}
		cls := &Class{Name: string(name), Version: version, Super: super}
		r.objects[idx].class = cls
		return cls, nil
	}
	idx, err := r.objectRef(h, start)
	if err != nil {
		return nil, err
	}
	s := r.objects[idx]
	if !s.isClass {
		return nil, malformed(start, "reference %d names an object where a class is expected", idx)
	}
	if s.class == nil {
		return nil, malformed(start, "class %d referenced inside its own definition", idx)
	}
	return s.class, nil
}

func (r *Reader) readObject(depth int) error {
	start := r.c.pos
	if err := r.deeper(depth, start); err != nil {
		return err
	}
	h, err := r.c.head("object")
	if err != nil {
		return err
	}
	switch h {
	case tagNil:
		return r.emit(Event{Kind: KindNull, Offset: start})
	case tagNew:
	default:
		idx, err := r.objectRef(h, start)
		if err != nil {
			return err
		}
		s := r.objects[idx]
		if s.isClass {
			return malformed(start, "reference %d names a class where an object is expected", idx)
		}
		return r.emit(Event{Kind: KindObjectRef, Offset: start, Ref: idx, Class: s.class})
	}

	idx := len(r.objects)
	r.objects = append(r.objects, slot{})
	cls, err := r.readClass(depth + 1)
	if err != nil {
		return err
	}
	if cls == nil {
		return malformed(start, "object %d without class", idx)
	}
	r.objects[idx].class = cls

	if err := r.emit(Event{Kind: KindObjectStart, Offset: start, Ref: idx, Class: cls}); err != nil {
		return err
	}
	rule := r.opts.ruleFor(cls)
	if rule == RuleSkip {
		r.quiet++
	}
	for {
		h, ok := r.c.peek()
		if !ok {
			return malformed(r.c.pos, "truncated object %d (%s): missing end of object", idx, cls.Name)
		}
		if h == tagEndOfObject {
			r.c.pos++
			break
		}
		if err := r.readGroup(depth+1, rule == RuleText); err != nil {
			return err
		}
	}
	if rule == RuleSkip {
		r.quiet--
	}
	return r.emit(Event{Kind: KindObjectEnd, Offset: r.c.pos - 1, Ref: idx, Class: cls})
}

func (r *Reader) readGroup(depth int, textual bool) error {
	start := r.c.pos
	enc, ok, err := r.sharedString("type encoding")
	if err != nil {
		return err
	}
	if !ok {
		return malformed(start, "typed values without type encoding")
	}
	encs, err := plans.get(enc)
	if err != nil {
		return malformed(start, "%v", err)
	}
	if err := r.emit(Event{Kind: KindGroupStart, Offset: start, Encoding: string(enc)}); err != nil {
		return err
	}
	for _, e := range encs {
		if err := r.readValue(e, depth, textual); err != nil {
			return err
		}
	}
	return r.emit(Event{Kind: KindGroupEnd, Offset: r.c.pos})
}

func (r *Reader) readValue(e *typeEnc, depth int, textual bool) error {
	start := r.c.pos
	if err := r.deeper(depth, start); err != nil {
		return err
	}
	switch e.code {
	case 'c', 'C', 's', 'S', 'i', 'I', 'l', 'L', 'q', 'Q':
		signed := isSigned(e.code)
		v, w, err := r.c.integer(signed, "integer")
		if err != nil {
			return err
		}
		return r.emit(Event{Kind: KindInteger, Offset: start, Int: v, Width: w, Signed: signed})
	case 'f', 'd':
		width := 4
		if e.code == 'd' {
			width = 8
		}
		v, w, err := r.c.readFloat(width)
		if err != nil {
			return err
		}
		return r.emit(Event{Kind: KindFloat, Offset: start, Float: v, Width: w, Signed: true})
	case '+':
		b, isNil, err := r.c.unshared("byte string")
		if err != nil {
			return err
		}
		if isNil {
			return r.emit(Event{Kind: KindNull, Offset: start})
		}
		kind := KindBytes
		if textual && utf8.Valid(b) {
			kind = KindText
		}
		return r.emit(Event{Kind: kind, Offset: start, Bytes: b, Encoding: e.text})
	case '*', '%', ':':
		b, ok, err := r.sharedString("string")
		if err != nil {
			return err
		}
		if !ok {
			return r.emit(Event{Kind: KindNull, Offset: start})
		}
		kind := KindCString
		if e.code == '%' {
			kind = KindAtom
		} else if e.code == ':' {
			kind = KindSelector
		}
		return r.emit(Event{Kind: kind, Offset: start, Bytes: b, Encoding: e.text})
	case '#':
		cls, err := r.readClass(depth + 1)
		if err != nil {
			return err
		}
		if cls == nil {
			return r.emit(Event{Kind: KindNull, Offset: start})
		}
		return r.emit(Event{Kind: KindClass, Offset: start, Class: cls})
	case '@':
		return r.readObject(depth + 1)
	case '[':
		return r.readArray(e, depth, textual)
	case '{':
		if err := r.emit(Event{Kind: KindStructStart, Offset: start, Encoding: e.name}); err != nil {
			return err
		}
		for _, f := range e.fields {
			if err := r.readValue(f, depth+1, textual); err != nil {
				return err
			}
		}
		return r.emit(Event{Kind: KindStructEnd, Offset: r.c.pos})
	}
	return r.skip(e)
}

func (r *Reader) readArray(e *typeEnc, depth int, textual bool) error {
	start := r.c.pos
	if e.min > r.c.remaining() {
		return malformed(start, "truncated array %s: need at least %d bytes, have %d", e.text, e.min, r.c.remaining())
	}
	if e.elem.code == 'c' || e.elem.code == 'C' {
		b, err := r.c.take(e.count, "char array")
		if err != nil {
			return err
		}
		return r.emit(Event{Kind: KindByteArray, Offset: start, Bytes: b, Encoding: e.text, Len: e.count})
	}
	if err := r.emit(Event{Kind: KindArrayStart, Offset: start, Encoding: e.text, Len: e.count}); err != nil {
		return err
	}
	for i := 0; i < e.count; i++ {
		if err := r.readValue(e.elem, depth+1, textual); err != nil {
			return err
		}
	}
	return r.emit(Event{Kind: KindArrayEnd, Offset: r.c.pos})
}

// skip consumes a value the reader recognizes but does not extract.
func (r *Reader) skip(e *typeEnc) error {
	w, ok := skipWidth[e.code]
	if !ok {
		return malformed(r.c.pos, "no rule for type encoding %q", e.text)
	}
	if w < 0 {
		_, _, err := r.c.integer(true, e.text)
		return err
	}
	_, err := r.c.take(w, e.text)
	return err
}
