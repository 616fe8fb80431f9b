package script

import (
	"strconv"

	"github.com/AaronLay10/LiveMix/internal/media"
)

// Property type tags.
const (
	TypeInt         = "int"
	TypeFloat       = "float"
	TypeString      = "string"
	TypeOrientation = "GstOrientation"
)

var orientations = map[string]media.VideoOrientation{
	"0": media.OrientationIdentity,
	"1": media.Orientation90R,
	"2": media.Orientation180,
	"3": media.Orientation90L,
}

// coerce converts raw into the value passed to the engine for typeTag.
func coerce(typeTag, raw string) (any, error) {
	switch typeTag {
	case TypeInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, newError(CodeType, "unable to parse %s as %s", raw, typeTag)
		}
		return v, nil
	case TypeFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, newError(CodeType, "unable to parse %s as %s", raw, typeTag)
		}
		return v, nil
	case TypeString:
		return raw, nil
	case TypeOrientation:
		v, ok := orientations[raw]
		if !ok {
			return nil, newError(CodeType, "unknown %s index: %s", TypeOrientation, raw)
		}
		return v, nil
	}
	return nil, newError(CodeType, "unknown parameter type: %s", typeTag)
}

// SetProperty parses raw per typeTag and applies it to el. Every scalar
// handed to the engine goes through here.
func SetProperty(el media.Element, prop, typeTag, raw string) error {
	v, err := coerce(typeTag, raw)
	if err != nil {
		return err
	}
	if err := el.SetProperty(prop, v); err != nil {
		return wrapError(CodeEngine, err, "set %s on %s", prop, el.Name())
	}
	return nil
}
