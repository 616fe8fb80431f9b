package script

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/media"
)

// Action list keywords.
const (
	condTerminate = "terminate"
	condAct       = "act"
	condWrap      = "wrap"
	wrapEnd       = "parw"

	verbProp   = "prop"
	verbPlay   = "play"
	verbSeek   = "seek"
	verbWindow = "window"
)

var playStates = map[string]media.State{
	"start": media.StatePlaying,
	"pause": media.StatePaused,
	"ready": media.StateReady,
	"stop":  media.StateNull,
	"null":  media.StateNull,
}

// parseLeadingEvent compiles the action list starting at tokens. A wrap
// block pulls its inner lines from r.
func (c *compiler) parseLeadingEvent(tokens []string, r *lineReader) ([]Action, error) {
	if len(tokens) == 0 {
		return nil, newError(CodeSyntax, "missing action list")
	}

	switch tokens[0] {
	case condTerminate:
		if len(tokens) != 1 {
			return nil, newError(CodeSyntax, "unexpected tokens after %s: %q", condTerminate, strings.Join(tokens[1:], " "))
		}
		return []Action{&WindowAction{Verb: command.Terminate, out: c.queue}}, nil

	case condAct:
		a, err := c.parseSingleEvent(tokens)
		if err != nil {
			return nil, Annotate(err, condAct)
		}
		return []Action{a}, nil

	case condWrap:
		if len(tokens) != 1 {
			return nil, newError(CodeSyntax, "unexpected tokens after %s: %q", condWrap, strings.Join(tokens[1:], " "))
		}
		actions := []Action{}
		for {
			line, ok := r.next()
			if !ok {
				return nil, newError(CodeUnexpectedEnd, "input ended before %s closing %s block", wrapEnd, condWrap)
			}
			fields := line.Fields()
			if fields[0] == wrapEnd {
				return actions, nil
			}
			a, err := c.parseSingleEvent(fields)
			if err != nil {
				return nil, atLine(Annotate(err, condWrap), line.Number)
			}
			actions = append(actions, a)
		}
	}

	return nil, newError(CodeUnknownCommand, "unknown condition: %s", tokens[0])
}

// parseSingleEvent compiles one "act <pipe> <verb> ..." action.
func (c *compiler) parseSingleEvent(tokens []string) (Action, error) {
	if tokens[0] != condAct {
		return nil, newError(CodeUnknownCommand, "unknown event header: %s", tokens[0])
	}
	if len(tokens) < 3 {
		return nil, newError(CodeSyntax, "expected act <pipe> <verb> ..., got %q", strings.Join(tokens, " "))
	}
	pipe, err := c.pipe(tokens[1])
	if err != nil {
		return nil, err
	}

	switch tokens[2] {
	case verbProp:
		if len(tokens) < 7 {
			return nil, newError(CodeSyntax, "expected prop <element> <property> <type> <value>, got %q", strings.Join(tokens[2:], " "))
		}
		el, ok := pipe.Pipeline.ByName(tokens[3])
		if !ok {
			return nil, newError(CodeUnknownReference, "unknown element %s in pipe %s", tokens[3], pipe.Name)
		}
		value := strings.Join(tokens[6:], " ")
		if _, err := coerce(tokens[5], value); err != nil {
			return nil, err
		}
		return &SetPropAction{
			Pipe:     pipe.Name,
			Element:  tokens[3],
			Property: tokens[4],
			Type:     tokens[5],
			Value:    value,
			element:  el,
		}, nil

	case verbPlay:
		if len(tokens) != 4 {
			return nil, newError(CodeSyntax, "expected play <state>, got %q", strings.Join(tokens[2:], " "))
		}
		state, ok := playStates[tokens[3]]
		if !ok {
			return nil, newError(CodeType, "unknown pipeline state: %s", tokens[3])
		}
		return &PlayAction{Pipe: pipe.Name, State: state, pipeline: pipe.Pipeline}, nil

	case verbSeek:
		if len(tokens) != 5 {
			return nil, newError(CodeSyntax, "expected seek <time> <rate>, got %q", strings.Join(tokens[2:], " "))
		}
		at, err := ParseSeconds(tokens[3])
		if err != nil {
			return nil, err
		}
		rate, err := strconv.ParseFloat(tokens[4], 64)
		if err != nil || rate == 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return nil, newError(CodeType, "could not parse as rate: %s", tokens[4])
		}
		return &SeekAction{Pipe: pipe.Name, Rate: rate, Position: at, pipeline: pipe.Pipeline}, nil

	case verbWindow:
		if len(tokens) < 4 {
			return nil, newError(CodeSyntax, "expected window <verb> [args...], got %q", strings.Join(tokens[2:], " "))
		}
		return &WindowAction{
			Window: pipe.Name,
			Verb:   tokens[3],
			Args:   append([]string{}, tokens[4:]...),
			out:    c.queue,
		}, nil
	}

	return nil, newError(CodeUnknownCommand, "unknown event type: %s", tokens[2])
}

// maxSeconds is the first seconds value that no longer fits a time.Duration.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseSeconds converts a seconds value to a duration, truncating to whole
// nanoseconds. Values must lie in [0, maxSeconds).
func ParseSeconds(tok string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, newError(CodeType, "could not parse as float: %s", tok)
	}
	if secs < 0 {
		return 0, newError(CodeType, "negative time: %s", tok)
	}
	if secs >= maxSeconds {
		return 0, newError(CodeType, "time out of range: %s", tok)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
