// Package media defines the capabilities LiveMix needs from a media-graph engine.
//
// The engine itself (graph rendering, streaming threads, decoding) lives outside
// this module. Script compilation and scheduling only talk to these interfaces,
// so any engine binding can be plugged in; internal/media/sim provides an
// in-process one.
package media

import (
	"fmt"
	"time"
)

// State is a playback state a pipeline can be moved to.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateReady   State = "ready"
	StateNull    State = "null"
)

// BridgeProperty is the property set on a receiving element to bind it to a
// sending element in another pipeline.
const BridgeProperty = "proxysink"

// VideoOrientation is an orientation method understood by video elements.
type VideoOrientation int

const (
	OrientationIdentity VideoOrientation = iota
	Orientation90R
	Orientation180
	Orientation90L
)

func (o VideoOrientation) String() string {
	switch o {
	case OrientationIdentity:
		return "identity"
	case Orientation90R:
		return "90r"
	case Orientation180:
		return "180"
	case Orientation90L:
		return "90l"
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// Element is a named node of a rendered graph.
type Element interface {
	Name() string
	SetProperty(name string, value any) error
}

// Pipeline is a composable, playable graph.
type Pipeline interface {
	Element

	// ByName looks up a sub-element by its name.
	ByName(name string) (Element, bool)
	SetState(state State) error
	// Seek flushes the pipeline and jumps to an absolute position at the given rate.
	Seek(rate float64, position time.Duration) error
	// Position reports the current playback position. ok is false when the
	// engine cannot answer right now; callers retry later.
	Position() (pos time.Duration, ok bool)
	// OnEOS registers fn to be called whenever the pipeline reaches end of
	// stream. fn runs on an engine-owned goroutine.
	OnEOS(fn func())
}

// Overlay is implemented by video sinks that can render into a native window.
type Overlay interface {
	SetWindowHandle(handle uintptr)
}

// Engine renders textual graph descriptions.
type Engine interface {
	ParseLaunch(description string) (Element, error)
}

// AsPipeline casts a rendered element to a Pipeline.
func AsPipeline(e Element) (Pipeline, error) {
	p, ok := e.(Pipeline)
	if !ok {
		return nil, fmt.Errorf("element %s is not a pipeline", e.Name())
	}
	return p, nil
}

// AsOverlay casts an element to an Overlay.
func AsOverlay(e Element) (Overlay, error) {
	o, ok := e.(Overlay)
	if !ok {
		return nil, fmt.Errorf("element %s does not support window overlay", e.Name())
	}
	return o, nil
}
