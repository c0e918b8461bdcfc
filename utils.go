package typedstream

import (
	"encoding/binary"
	"math"
)

// head tags; everything in [firstTag, lastTag] is reserved
const (
	tagInteger2      int8 = -127 // 0x81
	tagInteger4      int8 = -126 // 0x82
	tagFloatingPoint int8 = -125 // 0x83
	tagNew           int8 = -124 // 0x84
	tagNil           int8 = -123 // 0x85
	tagEndOfObject   int8 = -122 // 0x86

	firstTag       = -128
	lastTag        = -111
	firstReference = lastTag + 1 // 0x92 is slot 0
)

func isTag(h int8) bool {
	return h >= firstTag && h <= lastTag
}

// cursor is the position of one decode pass over buf.
type cursor struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) eof() bool { return c.pos >= len(c.buf) }

func (c *cursor) take(n int, what string) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, malformed(c.pos, "truncated %s: need %d bytes, have %d", what, n, c.remaining())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) head(what string) (int8, error) {
	if c.eof() {
		return 0, malformed(c.pos, "truncated %s: end of buffer", what)
	}
	h := int8(c.buf[c.pos])
	c.pos++
	return h, nil
}

func (c *cursor) peek() (int8, bool) {
	if c.eof() {
		return 0, false
	}
	return int8(c.buf[c.pos]), true
}

// readInteger decodes the integer introduced by h and returns it with the
// number of bytes its value occupied.
func (c *cursor) readInteger(h int8, signed bool, what string) (int64, int, error) {
	switch {
	case h == tagInteger2:
		b, err := c.take(2, what)
		if err != nil {
			return 0, 0, err
		}
		v := c.order.Uint16(b)
		if signed {
			return int64(int16(v)), 2, nil
		}
		return int64(v), 2, nil
	case h == tagInteger4:
		b, err := c.take(4, what)
		if err != nil {
			return 0, 0, err
		}
		v := c.order.Uint32(b)
		if signed {
			return int64(int32(v)), 4, nil
		}
		return int64(v), 4, nil
	case isTag(h):
		return 0, 0, malformed(c.pos-1, "unexpected tag 0x%02x where %s expected", uint8(h), what)
	case signed:
		return int64(h), 1, nil
	default:
		return int64(uint8(h)), 1, nil
	}
}

func (c *cursor) integer(signed bool, what string) (int64, int, error) {
	h, err := c.head(what)
	if err != nil {
		return 0, 0, err
	}
	return c.readInteger(h, signed, what)
}

// readFloat decodes a float of the given width (4 or 8). Without the
// floating point tag the value was written as an integer.
func (c *cursor) readFloat(width int) (float64, int, error) {
	h, err := c.head("float")
	if err != nil {
		return 0, 0, err
	}
	if h != tagFloatingPoint {
		v, w, err := c.readInteger(h, true, "float")
		return float64(v), w, err
	}
	b, err := c.take(width, "float")
	if err != nil {
		return 0, 0, err
	}
	if width == 4 {
		return float64(math.Float32frombits(c.order.Uint32(b))), 4, nil
	}
	return math.Float64frombits(c.order.Uint64(b)), 8, nil
}

// unshared reads a length-prefixed byte run; lengths are unsigned. isNil
// reports an explicit nil.
func (c *cursor) unshared(what string) (b []byte, isNil bool, err error) {
	h, err := c.head(what + " length")
	if err != nil {
		return nil, false, err
	}
	if h == tagNil {
		return nil, true, nil
	}
	n, _, err := c.readInteger(h, false, what+" length")
	if err != nil {
		return nil, false, err
	}
	if n > int64(c.remaining()) {
		return nil, false, malformed(c.pos, "truncated %s: need %d bytes, have %d", what, n, c.remaining())
	}
	b, err = c.take(int(n), what)
	return b, false, err
}
