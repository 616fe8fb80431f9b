package script

import (
	"strconv"
	"strings"

	"github.com/AaronLay10/LiveMix/internal/media"
)

const (
	// SettingsTarget is the assignment target that exports a setting instead
	// of configuring an element.
	SettingsTarget = "raw"

	templateEnd = "war"
	argPrefix   = "$"
)

// Assignment is one deferred property instruction of a template body.
type Assignment struct {
	Property string
	Type     string
	Value    string
}

// Template is a reusable graph blueprint. It is never mutated after parsing.
type Template struct {
	Name        string
	Description string
	ArgCount    int

	targets     []string
	assignments map[string][]Assignment
}

// Targets returns the assignment targets in first-appearance order.
func (t *Template) Targets() []string {
	return append([]string{}, t.targets...)
}

// Assignments returns the instructions recorded for target.
func (t *Template) Assignments(target string) []Assignment {
	return append([]Assignment{}, t.assignments[target]...)
}

// ParseTemplate parses a complete "raw <name> <argc> <description...>" block
// terminated by a "war" line.
func ParseTemplate(src string) (*Template, error) {
	r := newLineReader(SplitLines(src))
	first, ok := r.next()
	if !ok {
		return nil, newError(CodeUnexpectedEnd, "empty template")
	}
	fields := first.Fields()
	if fields[0] != cmdRaw {
		return nil, atLine(newError(CodeSyntax, "template must start with %s, got %q", cmdRaw, fields[0]), first.Number)
	}
	t, err := parseTemplate(fields[1:], r)
	if err != nil {
		return nil, atLine(err, first.Number)
	}
	return t, nil
}

// parseTemplate reads the header tokens following "raw" and then body lines
// from r until the closing sentinel.
func parseTemplate(header []string, r *lineReader) (*Template, error) {
	if len(header) < 3 {
		return nil, newError(CodeSyntax, "template header needs <name> <argc> <description>, got %q", strings.Join(header, " "))
	}
	argc, err := strconv.Atoi(header[1])
	if err != nil || argc < 0 {
		return nil, newError(CodeSyntax, "could not parse parameter count %q", header[1])
	}

	t := &Template{
		Name:        header[0],
		Description: strings.Join(header[2:], " "),
		ArgCount:    argc,
		assignments: make(map[string][]Assignment),
	}

	for {
		line, ok := r.next()
		if !ok {
			return nil, newError(CodeUnexpectedEnd, "input ended before %s closing template %s", templateEnd, t.Name)
		}
		vals := line.Fields()
		if vals[0] == templateEnd {
			return t, nil
		}
		if len(vals) != 4 {
			return nil, atLine(newError(CodeSyntax, "template instruction needs 4 fields, got %q", line.Text), line.Number)
		}
		if err := checkAssignmentType(vals[0], vals[2]); err != nil {
			return nil, atLine(err, line.Number)
		}

		target := vals[0]
		if _, seen := t.assignments[target]; !seen {
			t.targets = append(t.targets, target)
		}
		t.assignments[target] = append(t.assignments[target], Assignment{
			Property: vals[1],
			Type:     vals[2],
			Value:    vals[3],
		})
	}
}

func checkAssignmentType(target, typeTag string) error {
	switch typeTag {
	case TypeInt, TypeFloat, TypeString:
		return nil
	case TypeOrientation:
		if target != SettingsTarget {
			return nil
		}
	}
	return newError(CodeType, "unknown type %s for target %s", typeTag, target)
}

// resolve substitutes a "$N" reference with the N-th argument (1-indexed).
func resolve(value string, args []string) (string, error) {
	if !strings.HasPrefix(value, argPrefix) {
		return value, nil
	}
	index, err := strconv.Atoi(value[len(argPrefix):])
	if err != nil {
		return "", newError(CodeSyntax, "could not parse argument index %q", value)
	}
	if index < 1 || index > len(args) {
		return "", newError(CodeArgumentCount, "argument index %d out of range 1..%d", index, len(args))
	}
	return args[index-1], nil
}

// Generate renders the template with args into a pipe named name.
func (t *Template) Generate(engine media.Engine, name string, args []string) (*Pipe, error) {
	if len(args) != t.ArgCount {
		return nil, newError(CodeArgumentCount, "template %s expects %d arguments, got %d", t.Name, t.ArgCount, len(args))
	}

	rendered, err := engine.ParseLaunch(t.Description)
	if err != nil {
		return nil, wrapError(CodeEngine, err, "could not render pipeline")
	}
	if err := SetProperty(rendered, "name", TypeString, name); err != nil {
		return nil, Annotate(err, "could not name pipeline")
	}
	pipeline, err := media.AsPipeline(rendered)
	if err != nil {
		return nil, wrapError(CodeEngine, err, "could not cast pipeline")
	}

	exports := make(map[string]Setting)
	for _, target := range t.targets {
		for _, a := range t.assignments[target] {
			val, err := resolve(a.Value, args)
			if err != nil {
				return nil, Annotate(err, target+"."+a.Property)
			}
			if target == SettingsTarget {
				s, err := ParseSetting(a.Type, val)
				if err != nil {
					return nil, Annotate(err, target+"."+a.Property)
				}
				exports[a.Property] = s
				continue
			}
			el, ok := pipeline.ByName(target)
			if !ok {
				return nil, newError(CodeUnknownReference, "could not obtain element %s", target)
			}
			if err := SetProperty(el, a.Property, a.Type, val); err != nil {
				return nil, Annotate(err, "set_property")
			}
		}
	}

	return &Pipe{Name: name, Template: t.Name, Pipeline: pipeline, Exports: exports}, nil
}
