package script

import (
	"fmt"
	"time"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/media"
)

// Sender accepts serialized window commands. *command.Queue implements it.
type Sender interface {
	Send(cmd string) error
}

// Action is a compiled, repeatable command against a pipe or a window. The
// set of actions is closed: WindowAction, PlayAction, SeekAction and
// SetPropAction.
type Action interface {
	Exec() error
	isAction()
}

// WindowAction serializes a window command onto the command queue so the
// scheduler applies it on its own goroutine.
type WindowAction struct {
	Window string
	Verb   string
	Args   []string
	out    Sender
}

func (a *WindowAction) Exec() error {
	line := command.Format(a.Window, a.Verb, a.Args)
	if err := a.out.Send(line); err != nil {
		return fmt.Errorf("send %q: %w", line, err)
	}
	return nil
}

// PlayAction moves a pipe to a playback state.
type PlayAction struct {
	Pipe  string
	State media.State

	pipeline media.Pipeline
}

func (a *PlayAction) Exec() error {
	if err := a.pipeline.SetState(a.State); err != nil {
		return fmt.Errorf("set %s to %s: %w", a.Pipe, a.State, err)
	}
	events.Emit(events.LevelInfo, "pipe.state", "", map[string]interface{}{
		"pipe":  a.Pipe,
		"state": string(a.State),
	})
	return nil
}

// SeekAction flush-seeks a pipe to an absolute position at a rate.
type SeekAction struct {
	Pipe     string
	Rate     float64
	Position time.Duration

	pipeline media.Pipeline
}

func (a *SeekAction) Exec() error {
	if err := a.pipeline.Seek(a.Rate, a.Position); err != nil {
		return fmt.Errorf("seek %s: %w", a.Pipe, err)
	}
	events.Emit(events.LevelInfo, "pipe.seek", "", map[string]interface{}{
		"pipe":     a.Pipe,
		"rate":     a.Rate,
		"position": a.Position.Seconds(),
	})
	return nil
}

// SetPropAction applies a typed property to an element of a pipe.
type SetPropAction struct {
	Pipe     string
	Element  string
	Property string
	Type     string
	Value    string

	element media.Element
}

func (a *SetPropAction) Exec() error {
	if err := SetProperty(a.element, a.Property, a.Type, a.Value); err != nil {
		return err
	}
	events.Emit(events.LevelDebug, "property.set", "", map[string]interface{}{
		"pipe":     a.Pipe,
		"element":  a.Element,
		"property": a.Property,
		"value":    a.Value,
	})
	return nil
}

func (*WindowAction) isAction()  {}
func (*PlayAction) isAction()    {}
func (*SeekAction) isAction()    {}
func (*SetPropAction) isAction() {}

// Describe returns event fields identifying an action.
func Describe(a Action) map[string]interface{} {
	switch a := a.(type) {
	case *WindowAction:
		return map[string]interface{}{"action": "window", "window": a.Window, "verb": a.Verb}
	case *PlayAction:
		return map[string]interface{}{"action": "play", "pipe": a.Pipe, "state": string(a.State)}
	case *SeekAction:
		return map[string]interface{}{"action": "seek", "pipe": a.Pipe, "rate": a.Rate}
	case *SetPropAction:
		return map[string]interface{}{"action": "prop", "pipe": a.Pipe, "element": a.Element, "property": a.Property}
	}
	panic(fmt.Sprintf("script: unhandled action %T", a))
}

// Run executes actions in order. A failing action is reported as
// action.failed and the remaining actions still run.
func Run(actions []Action) {
	for _, a := range actions {
		if err := a.Exec(); err != nil {
			fields := Describe(a)
			fields["error"] = err.Error()
			events.Emit(events.LevelError, "action.failed", "action failed", fields)
		}
	}
}
