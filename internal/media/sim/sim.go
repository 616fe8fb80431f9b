// Package sim is an in-process media engine. It understands the launch syntax
// used by scripts ("factory key=value ! factory name=x ..."), keeps element
// properties, and derives playback position from a clock. It moves no media.
package sim

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/LiveMix/internal/media"
)

// overlayFactories are the sink factories that accept a native window handle.
var overlayFactories = map[string]bool{
	"xvimagesink":   true,
	"ximagesink":    true,
	"glimagesink":   true,
	"autovideosink": true,
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used to derive playback positions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithStreamDuration gives every rendered pipeline a finite stream length.
// Zero means streams never end on their own.
func WithStreamDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.streamDuration = d
	}
}

// Engine renders launch descriptions into simulated pipelines.
type Engine struct {
	now            func() time.Time
	streamDuration time.Duration

	mu        sync.Mutex
	rendered  int
	pipelines []*Pipeline
}

// NewEngine creates a simulated engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseLaunch renders a launch description into a *Pipeline.
func (e *Engine) ParseLaunch(description string) (media.Element, error) {
	tokens := strings.Fields(description)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty pipeline description")
	}

	e.mu.Lock()
	e.rendered++
	id := e.rendered
	e.mu.Unlock()

	p := &Pipeline{
		name:     fmt.Sprintf("pipeline%d", id-1),
		props:    make(map[string]any),
		byName:   make(map[string]media.Element),
		state:    media.StateNull,
		rate:     1.0,
		duration: e.streamDuration,
		now:      e.now,
	}

	counts := make(map[string]int)
	var current *Element
	expectElement := true
	for i, tok := range tokens {
		switch {
		case tok == "!":
			if expectElement {
				return nil, fmt.Errorf("unexpected link at token %d", i+1)
			}
			expectElement = true
		case strings.HasSuffix(tok, ".") && !strings.Contains(tok, "="):
			// pad reference such as "demux."; the next element branches from it
			current = nil
			expectElement = false
		case strings.Contains(tok, "="):
			if current == nil {
				return nil, fmt.Errorf("property %q has no element", tok)
			}
			key, value, _ := strings.Cut(tok, "=")
			if key == "name" {
				if _, exists := p.byName[value]; exists {
					return nil, fmt.Errorf("duplicate element name %q", value)
				}
				delete(p.byName, current.name)
				current.name = value
				p.byName[value] = current.handle()
				continue
			}
			current.props[key] = value
		default:
			if !expectElement && current != nil {
				return nil, fmt.Errorf("element %q is not linked", tok)
			}
			current = newElement(tok, fmt.Sprintf("%s%d", tok, counts[tok]))
			counts[tok]++
			if _, exists := p.byName[current.name]; exists {
				return nil, fmt.Errorf("duplicate element name %q", current.name)
			}
			p.byName[current.name] = current.handle()
			p.elements = append(p.elements, current)
			expectElement = false
		}
	}
	if expectElement {
		return nil, fmt.Errorf("dangling link at end of description")
	}

	e.mu.Lock()
	e.pipelines = append(e.pipelines, p)
	e.mu.Unlock()
	return p, nil
}

// Pipelines returns every pipeline rendered so far.
func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Pipeline{}, e.pipelines...)
}

// Element is a simulated graph element.
type Element struct {
	mu      sync.Mutex
	factory string
	name    string
	props   map[string]any
	overlay *VideoSink
}

func newElement(factory, name string) *Element {
	el := &Element{
		factory: factory,
		name:    name,
		props:   make(map[string]any),
	}
	if overlayFactories[factory] {
		el.overlay = &VideoSink{Element: el}
	}
	return el
}

// handle returns the value exposed to callers; sinks expose the overlay capability.
func (e *Element) handle() media.Element {
	if e.overlay != nil {
		return e.overlay
	}
	return e
}

func (e *Element) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// Factory returns the factory the element was created from.
func (e *Element) Factory() string {
	return e.factory
}

func (e *Element) SetProperty(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "name" {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("property name of %s expects a string, got %T", e.name, value)
		}
		e.name = s
		return nil
	}
	e.props[name] = value
	return nil
}

// Property returns the last value set for a property.
func (e *Element) Property(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[name]
	return v, ok
}

// VideoSink is an element that can draw into a native window.
type VideoSink struct {
	*Element
	windowHandle uintptr
}

func (s *VideoSink) SetWindowHandle(handle uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowHandle = handle
}

// WindowHandle returns the bound native window handle, zero when unbound.
func (s *VideoSink) WindowHandle() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowHandle
}

// Pipeline is a simulated playable graph.
type Pipeline struct {
	mu       sync.Mutex
	name     string
	props    map[string]any
	elements []*Element
	byName   map[string]media.Element

	state    media.State
	base     time.Duration
	started  time.Time
	rate     float64
	duration time.Duration
	now      func() time.Time
	eosTimer *time.Timer
	eos      []func()
}

func (p *Pipeline) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *Pipeline) SetProperty(name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == "name" {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("property name of %s expects a string, got %T", p.name, value)
		}
		p.name = s
		return nil
	}
	p.props[name] = value
	return nil
}

func (p *Pipeline) ByName(name string) (media.Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.byName[name]
	return el, ok
}

// State returns the current playback state.
func (p *Pipeline) State() media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Rate returns the playback rate set by the last seek.
func (p *Pipeline) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *Pipeline) SetState(state media.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch state {
	case media.StatePlaying, media.StatePaused, media.StateReady, media.StateNull:
	default:
		return fmt.Errorf("unknown state %q", state)
	}
	if state == p.state {
		return nil
	}

	if p.state == media.StatePlaying {
		p.base = p.positionLocked()
	}
	switch state {
	case media.StatePlaying:
		p.started = p.now()
	case media.StateReady, media.StateNull:
		p.base = 0
		p.rate = 1.0
	}
	p.state = state
	p.scheduleEOSLocked()
	return nil
}

func (p *Pipeline) Seek(rate float64, position time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rate == 0 {
		return fmt.Errorf("seek rate must not be zero")
	}
	if p.state != media.StatePlaying && p.state != media.StatePaused {
		return fmt.Errorf("pipeline %s cannot seek in state %s", p.name, p.state)
	}
	if position < 0 {
		position = 0
	}
	p.base = position
	p.rate = rate
	p.started = p.now()
	p.scheduleEOSLocked()
	return nil
}

func (p *Pipeline) Position() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != media.StatePlaying && p.state != media.StatePaused {
		return 0, false
	}
	return p.positionLocked(), true
}

func (p *Pipeline) positionLocked() time.Duration {
	pos := p.base
	if p.state == media.StatePlaying {
		pos += time.Duration(float64(p.now().Sub(p.started)) * p.rate)
	}
	if pos < 0 {
		pos = 0
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *Pipeline) OnEOS(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eos = append(p.eos, fn)
}

// EmitEOS delivers end of stream to every registered handler on a new goroutine.
func (p *Pipeline) EmitEOS() {
	p.mu.Lock()
	handlers := append([]func(){}, p.eos...)
	p.mu.Unlock()

	go func() {
		for _, fn := range handlers {
			fn()
		}
	}()
}

// scheduleEOSLocked arms a wall-clock timer for the end of a finite stream.
func (p *Pipeline) scheduleEOSLocked() {
	if p.eosTimer != nil {
		p.eosTimer.Stop()
		p.eosTimer = nil
	}
	if p.duration <= 0 || p.state != media.StatePlaying || p.rate <= 0 {
		return
	}
	remaining := time.Duration(float64(p.duration-p.base) / p.rate)
	if remaining < 0 {
		remaining = 0
	}
	p.eosTimer = time.AfterFunc(remaining, p.EmitEOS)
}

// Element returns the simulated element with the given name.
func (p *Pipeline) Element(name string) (*Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range p.elements {
		if el.Name() == name {
			return el, true
		}
	}
	return nil, false
}
