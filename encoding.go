package typedstream

import (
	"fmt"
	"sync"
)

// typeEnc is one parsed Objective-C type encoding.
type typeEnc struct {
	code   byte
	text   string
	count  int        // arrays
	elem   *typeEnc   // arrays, pointers
	name   string     // structs
	fields []*typeEnc // structs
	min    int        // minimum bytes a value occupies on the wire
}

const (
	maxEncodingDepth = 64
	maxCachedPlans   = 4096
)

// per-tag widths for encodings whose values are consumed but not extracted;
// -1 means one encoded integer
var skipWidth = map[byte]int{
	'v': 0,
	'B': -1,
	'!': -1,
	'b': -1,
	'^': -1,
}

// method qualifiers that may prefix an encoding
func isQualifier(c byte) bool {
	switch c {
	case 'r', 'n', 'N', 'o', 'O', 'R', 'V':
		return true
	}
	return false
}

// encodingCache holds parsed group encodings. Results are immutable, so one
// cache serves every concurrent decode.
type encodingCache struct {
	mu    sync.RWMutex
	plans map[string][]*typeEnc
}

var plans = &encodingCache{plans: make(map[string][]*typeEnc)}

func (c *encodingCache) get(s []byte) ([]*typeEnc, error) {
	c.mu.RLock()
	if p, ok := c.plans[string(s)]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	p, err := parseEncodings(string(s))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Double-check
	if cached, ok := c.plans[string(s)]; ok {
		return cached, nil
	}
	if len(c.plans) < maxCachedPlans {
		c.plans[string(s)] = p
	}
	return p, nil
}

func parseEncodings(s string) ([]*typeEnc, error) {
	if s == "" {
		return nil, fmt.Errorf("empty type encoding")
	}
	var out []*typeEnc
	for i := 0; i < len(s); {
		e, next, err := parseOne(s, i, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		i = next
	}
	return out, nil
}

func parseOne(s string, i, depth int) (*typeEnc, int, error) {
	if depth > maxEncodingDepth {
		return nil, 0, fmt.Errorf("type encoding %q nested deeper than %d", s, maxEncodingDepth)
	}
	for i < len(s) && isQualifier(s[i]) {
		i++
	}
	if i >= len(s) {
		return nil, 0, fmt.Errorf("type encoding %q ends after qualifier", s)
	}
	start := i
	c := s[i]
	e := &typeEnc{code: c}
	i++
	switch c {
	case 'c', 'C', 's', 'S', 'i', 'I', 'l', 'L', 'q', 'Q', 'f', 'd',
		'*', '%', ':', '+', '#', '@', 'B', '!':
		e.min = 1
	case 'v':
	case 'b':
		j := digits(s, i)
		if j == i {
			return nil, 0, fmt.Errorf("bitfield without width in %q", s)
		}
		i = j
		e.min = 1
	case '^':
		elem, next, err := parseOne(s, i, depth+1)
		if err != nil {
			return nil, 0, err
		}
		e.elem = elem
		i = next
		e.min = 1
	case '[':
		j := digits(s, i)
		if j == i {
			return nil, 0, fmt.Errorf("array without count in %q", s)
		}
		n, err := atoi(s[i:j])
		if err != nil {
			return nil, 0, fmt.Errorf("array count in %q: %w", s, err)
		}
		elem, next, err := parseOne(s, j, depth+1)
		if err != nil {
			return nil, 0, err
		}
		if next >= len(s) || s[next] != ']' {
			return nil, 0, fmt.Errorf("unterminated array in %q", s)
		}
		if elem.min == 0 && n > 0 {
			return nil, 0, fmt.Errorf("array of zero-width elements in %q", s)
		}
		e.count, e.elem = n, elem
		e.min = satMul(n, elem.min)
		i = next + 1
	case '{':
		j := i
		for j < len(s) && s[j] != '=' && s[j] != '}' {
			j++
		}
		if j >= len(s) {
			return nil, 0, fmt.Errorf("unterminated struct in %q", s)
		}
		e.name = s[i:j]
		i = j
		if s[i] == '=' {
			i++
			for i < len(s) && s[i] != '}' {
				f, next, err := parseOne(s, i, depth+1)
				if err != nil {
					return nil, 0, err
				}
				e.fields = append(e.fields, f)
				e.min = satAdd(e.min, f.min)
				i = next
			}
			if i >= len(s) {
				return nil, 0, fmt.Errorf("unterminated struct in %q", s)
			}
		}
		i++ // '}'
	default:
		return nil, 0, fmt.Errorf("unknown type encoding %q in %q", c, s)
	}
	e.text = s[start:i]
	return e, i, nil
}

func digits(s string, i int) int {
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i
}

func atoi(s string) (int, error) {
	n := 0
	for _, c := range []byte(s) {
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			return 0, fmt.Errorf("%s too large", s)
		}
	}
	return n, nil
}

func satAdd(a, b int) int {
	if a > 1<<30-b {
		return 1 << 30
	}
	return a + b
}

func satMul(a, b int) int {
	if b != 0 && a > (1<<30)/b {
		return 1 << 30
	}
	return a * b
}

func isSigned(code byte) bool {
	switch code {
	case 'C', 'S', 'I', 'L', 'Q':
		return false
	}
	return true
}
