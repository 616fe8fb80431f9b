package orchestrator

import (
	"math"
	"time"

	"github.com/AaronLay10/LiveMix/internal/media"
	"github.com/AaronLay10/LiveMix/internal/window"
)

// Interpolation curve identifiers accepted by the move command.
const (
	CurveEase   = "mcos"
	CurveLinear = "linear"
)

// MovingPart animates one window between two points over a playback-time
// interval measured on a pipe's position.
type MovingPart struct {
	Window string
	Clock  string

	Start, End     time.Duration
	StartX, StartY int
	EndX, EndY     int
	CurveX, CurveY string

	surface  window.Surface
	pipeline media.Pipeline
}

// progress maps curve onto frac in [0,1]. Unknown curves jump to the end.
func progress(curve string, frac float64) float64 {
	switch curve {
	case CurveEase:
		return 1 - math.Cos(frac*math.Pi/2)
	case CurveLinear:
		return frac
	}
	return 1
}

func lerp(from, to int, t float64) int {
	return from + int(math.Round(float64(to-from)*t))
}

// At returns where the window belongs at playback time t. active is false
// before the start time; done is true once t reaches the end time.
func (m *MovingPart) At(t time.Duration) (x, y int, active, done bool) {
	if t < m.Start {
		return 0, 0, false, false
	}
	if t >= m.End {
		return m.EndX, m.EndY, true, true
	}
	frac := float64(t-m.Start) / float64(m.End-m.Start)
	x = lerp(m.StartX, m.EndX, progress(m.CurveX, frac))
	y = lerp(m.StartY, m.EndY, progress(m.CurveY, frac))
	return x, y, true, false
}
