package typedstream

import "strings"

// Class describes a class as it appears in the stream. A Class is never
// modified once it occupies an object table slot.
type Class struct {
	Name    string
	Version int64
	Super   *Class
}

func (c *Class) String() string {
	if c == nil {
		return "<nil>"
	}
	var sb strings.Builder
	for k := c; k != nil; k = k.Super {
		if k != c {
			sb.WriteString(" : ")
		}
		sb.WriteString(k.Name)
	}
	return sb.String()
}

// ClassRule decides what the reader does with the contents of an object.
type ClassRule uint8

const (
	// RuleSkip consumes the contents without emitting events for them.
	RuleSkip ClassRule = iota
	// RuleWalk emits the contents.
	RuleWalk
	// RuleText emits the contents and reports valid UTF-8 byte strings as
	// KindText.
	RuleText
)

var defaultRules = map[string]ClassRule{
	"NSString":                  RuleText,
	"NSMutableString":           RuleText,
	"NSObject":                  RuleWalk,
	"NSAttributedString":        RuleWalk,
	"NSMutableAttributedString": RuleWalk,
	"NSArray":                   RuleWalk,
	"NSMutableArray":            RuleWalk,
	"NSDictionary":              RuleWalk,
	"NSMutableDictionary":       RuleWalk,
	"NSNumber":                  RuleWalk,
	"NSValue":                   RuleWalk,
	"NSData":                    RuleWalk,
	"NSMutableData":             RuleWalk,
	"NSDate":                    RuleWalk,
	"NSURL":                     RuleWalk,
	"NSColor":                   RuleWalk,
	"NSFont":                    RuleWalk,
}

// ruleFor returns the rule of the nearest class in the chain that has one.
func (o *Options) ruleFor(c *Class) ClassRule {
	for k := c; k != nil; k = k.Super {
		if r, ok := o.Classes[k.Name]; ok {
			return r
		}
		if r, ok := defaultRules[k.Name]; ok {
			return r
		}
	}
	return o.Unknown
}
