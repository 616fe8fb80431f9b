// Package orchestrator runs a compiled show: it creates the video windows,
// replays startup actions and drives the fixed-tick loop that fires progress
// triggers, applies runtime commands and animates windows.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/media"
	"github.com/AaronLay10/LiveMix/internal/script"
	"github.com/AaronLay10/LiveMix/internal/window"
)

// DefaultTick is the scheduler period.
const DefaultTick = 10 * time.Millisecond

// SinkElement is the element of a window pipe that renders into the surface.
const SinkElement = "sink"

// ErrTerminated is returned by Tick and Run after a terminate command.
var ErrTerminated = errors.New("show terminated")

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Ticks            uint64
	Commands         uint64
	CommandFailures  uint64
	TriggersFired    uint64
	ActiveAnimations int64
	Windows          int64
	PendingCommands  int
}

// Scheduler owns all window and animation state. Tick must only be called
// from one goroutine; other goroutines reach the scheduler through the
// command queue.
type Scheduler struct {
	pattern *script.Pattern
	queue   *command.Queue

	windows map[string]window.Surface
	fired   map[script.TimeKey]bool
	moving  []*MovingPart

	ticks         atomic.Uint64
	commands      atomic.Uint64
	failures      atomic.Uint64
	triggersFired atomic.Uint64
	animations    atomic.Int64
	windowCount   atomic.Int64
}

func NewScheduler(p *script.Pattern) *Scheduler {
	return &Scheduler{
		pattern: p,
		queue:   p.Queue,
		windows: make(map[string]window.Surface),
		fired:   make(map[script.TimeKey]bool),
	}
}

// Queue returns the command queue the scheduler drains.
func (s *Scheduler) Queue() *command.Queue {
	return s.queue
}

// SetupWindows creates a hidden surface for every pipe that exported the
// window tag and binds the pipe's sink to it.
func (s *Scheduler) SetupWindows(f window.Factory) error {
	for _, name := range s.pattern.PipeNames() {
		pipe := s.pattern.Pipes[name]
		if !pipe.WantsWindow() {
			continue
		}
		g, err := pipe.Geometry()
		if err != nil {
			return err
		}
		surface, err := f.Create(g.X, g.Y, g.Width, g.Height)
		if err != nil {
			return fmt.Errorf("create window %s: %w", name, err)
		}
		surface.Hide()

		sink, ok := pipe.Pipeline.ByName(SinkElement)
		if !ok {
			return fmt.Errorf("pipe %s has no %s element", name, SinkElement)
		}
		overlay, err := media.AsOverlay(sink)
		if err != nil {
			return fmt.Errorf("pipe %s: %w", name, err)
		}
		overlay.SetWindowHandle(surface.Handle())

		s.windows[name] = surface
		s.windowCount.Add(1)
		events.Emit(events.LevelInfo, "window.created", "", map[string]interface{}{
			"window": name,
			"x":      g.X,
			"y":      g.Y,
			"width":  g.Width,
			"height": g.Height,
		})
	}
	return nil
}

// RunPreEvents executes the startup action list.
func (s *Scheduler) RunPreEvents() {
	s.pattern.RunPreEvents()
}

// Run ticks every interval until ctx ends or a terminate command arrives.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				return err
			}
		}
	}
}

// Tick drains pending commands, fires crossed progress triggers and advances
// animations. It returns ErrTerminated when a terminate command was read;
// commands queued after it are left unread.
func (s *Scheduler) Tick() error {
	s.ticks.Add(1)

	for {
		line, ok := s.queue.TryRecv()
		if !ok {
			break
		}
		if err := s.dispatch(line); err != nil {
			return err
		}
	}

	s.fireTimeEvents()
	s.animate()
	return nil
}

func (s *Scheduler) dispatch(line string) error {
	s.commands.Add(1)

	cmd, err := command.Parse(line)
	if err != nil {
		s.commandFailed(line, err)
		return nil
	}
	events.Emit(events.LevelDebug, "command.received", "", map[string]interface{}{
		"command": line,
	})

	switch cmd.Kind {
	case command.KindTerminate:
		return ErrTerminated
	case command.KindPre:
		s.pattern.RunPreEvents()
		return nil
	}

	if err := s.windowCommand(cmd); err != nil {
		s.commandFailed(line, err)
	}
	return nil
}

func (s *Scheduler) commandFailed(line string, err error) {
	s.failures.Add(1)
	events.Emit(events.LevelWarning, "command.failed", err.Error(), map[string]interface{}{
		"command": line,
	})
}

func (s *Scheduler) windowCommand(cmd command.Command) error {
	surface, ok := s.windows[cmd.Window]
	if !ok {
		return fmt.Errorf("unknown window: %s", cmd.Window)
	}

	switch cmd.Verb {
	case command.VerbShow:
		surface.Show()
		events.Emit(events.LevelInfo, "window.shown", "", map[string]interface{}{"window": cmd.Window})
		return nil
	case command.VerbHide:
		surface.Hide()
		events.Emit(events.LevelInfo, "window.hidden", "", map[string]interface{}{"window": cmd.Window})
		return nil
	case command.VerbMove:
		part, err := s.parseMove(cmd, surface)
		if err != nil {
			return err
		}
		s.moving = append(s.moving, part)
		s.animations.Store(int64(len(s.moving)))
		events.Emit(events.LevelInfo, "animation.started", "", map[string]interface{}{
			"window": part.Window,
			"clock":  part.Clock,
			"start":  part.Start.Seconds(),
			"end":    part.End.Seconds(),
			"to_x":   part.EndX,
			"to_y":   part.EndY,
		})
		return nil
	}
	return fmt.Errorf("unknown window action: %s", cmd.Verb)
}

// parseMove reads "[clock] <t0> <x0> <y0> <t1> <x1> <y1> <curveX> <curveY>".
// Without the clock field the pipe named like the window is the clock.
func (s *Scheduler) parseMove(cmd command.Command, surface window.Surface) (*MovingPart, error) {
	args := cmd.Args
	clock := cmd.Window
	switch len(args) {
	case 8:
	case 9:
		clock, args = args[0], args[1:]
	default:
		return nil, fmt.Errorf("move expects 8 or 9 arguments, got %d", len(args))
	}

	pipe, ok := s.pattern.Pipes[clock]
	if !ok {
		return nil, fmt.Errorf("unknown clock pipe: %s", clock)
	}

	part := &MovingPart{
		Window:   cmd.Window,
		Clock:    clock,
		CurveX:   args[6],
		CurveY:   args[7],
		surface:  surface,
		pipeline: pipe.Pipeline,
	}
	var err error
	if part.Start, err = script.ParseSeconds(args[0]); err != nil {
		return nil, err
	}
	if part.End, err = script.ParseSeconds(args[3]); err != nil {
		return nil, err
	}
	if part.End < part.Start {
		return nil, fmt.Errorf("move ends at %v before it starts at %v", part.End, part.Start)
	}
	for i, dst := range []*int{&part.StartX, &part.StartY} {
		if *dst, err = strconv.Atoi(args[1+i]); err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", args[1+i])
		}
	}
	for i, dst := range []*int{&part.EndX, &part.EndY} {
		if *dst, err = strconv.Atoi(args[4+i]); err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", args[4+i])
		}
	}
	return part, nil
}

// fireTimeEvents runs each progress trigger the first time its pipe is seen
// past the threshold. Pipes without a position are retried next tick.
func (s *Scheduler) fireTimeEvents() {
	for _, te := range s.pattern.TimeEvents {
		if s.fired[te.TimeKey] {
			continue
		}
		pipe, ok := s.pattern.Pipes[te.Pipe]
		if !ok {
			continue
		}
		pos, ok := pipe.Pipeline.Position()
		if !ok || pos <= te.At {
			continue
		}

		s.fired[te.TimeKey] = true
		s.triggersFired.Add(1)
		events.Emit(events.LevelInfo, "trigger.fired", "", map[string]interface{}{
			"pipe":     te.Pipe,
			"at":       te.At.Seconds(),
			"position": pos.Seconds(),
			"actions":  len(te.Actions),
		})
		script.Run(te.Actions)
	}
}

// animate moves every active window. Finished parts are retired after the
// pass, keeping the order of the rest.
func (s *Scheduler) animate() {
	if len(s.moving) == 0 {
		return
	}

	kept := s.moving[:0]
	for _, part := range s.moving {
		pos, ok := part.pipeline.Position()
		if !ok {
			kept = append(kept, part)
			continue
		}
		x, y, active, done := part.At(pos)
		if active {
			part.surface.Move(x, y)
		}
		if done {
			events.Emit(events.LevelInfo, "animation.finished", "", map[string]interface{}{
				"window": part.Window,
				"x":      x,
				"y":      y,
			})
			continue
		}
		kept = append(kept, part)
	}
	for i := len(kept); i < len(s.moving); i++ {
		s.moving[i] = nil
	}
	s.moving = kept
	s.animations.Store(int64(len(s.moving)))
}

// Stats returns current counters. Safe to call from any goroutine.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:            s.ticks.Load(),
		Commands:         s.commands.Load(),
		CommandFailures:  s.failures.Load(),
		TriggersFired:    s.triggersFired.Load(),
		ActiveAnimations: s.animations.Load(),
		Windows:          s.windowCount.Load(),
		PendingCommands:  s.queue.Len(),
	}
}
