package script

import (
	"fmt"
)

// Kind tags the payload of a Setting.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return TypeInt
	case KindFloat:
		return TypeFloat
	case KindString:
		return TypeString
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Setting is a typed scalar exported by a template instead of being applied
// to a graph element. Only the field matching Kind is meaningful.
type Setting struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
}

func IntSetting(v int64) Setting     { return Setting{Kind: KindInt, Int: v} }
func FloatSetting(v float64) Setting { return Setting{Kind: KindFloat, Float: v} }
func StringSetting(v string) Setting { return Setting{Kind: KindString, Str: v} }

// ParseSetting parses raw according to an int, float or string type tag,
// using the same rules as SetProperty.
func ParseSetting(typeTag, raw string) (Setting, error) {
	if typeTag == TypeOrientation {
		return Setting{}, newError(CodeType, "unknown setting type: %s", typeTag)
	}
	v, err := coerce(typeTag, raw)
	if err != nil {
		return Setting{}, err
	}
	switch v := v.(type) {
	case int64:
		return IntSetting(v), nil
	case float64:
		return FloatSetting(v), nil
	case string:
		return StringSetting(v), nil
	}
	return Setting{}, newError(CodeType, "unknown setting type: %s", typeTag)
}

// Value returns the payload as an interface value.
func (s Setting) Value() any {
	switch s.Kind {
	case KindInt:
		return s.Int
	case KindFloat:
		return s.Float
	}
	return s.Str
}

func (s Setting) String() string {
	return fmt.Sprint(s.Value())
}

// AsInt returns the setting as an int, failing for any other kind.
func (s Setting) AsInt() (int, error) {
	if s.Kind != KindInt {
		return 0, fmt.Errorf("setting %v is %s, not int", s.Value(), s.Kind)
	}
	return int(s.Int), nil
}
