// Package window defines the on-screen surface capability used for video
// compositing, plus a headless implementation.
package window

import (
	"sync"
	"sync/atomic"
)

// Surface is a borderless rectangle on screen.
type Surface interface {
	Show()
	Hide()
	Move(x, y int)
	// Handle is the native handle a video sink renders into.
	Handle() uintptr
}

// Factory creates surfaces.
type Factory interface {
	Create(x, y, width, height int) (Surface, error)
}

// Headless is a Factory whose surfaces only remember their geometry.
type Headless struct {
	next atomic.Uintptr

	mu       sync.Mutex
	surfaces []*HeadlessSurface
}

// NewHeadless creates a headless factory. Handles start at 1.
func NewHeadless() *Headless {
	return &Headless{}
}

func (h *Headless) Create(x, y, width, height int) (Surface, error) {
	s := &HeadlessSurface{
		handle:  h.next.Add(1),
		x:       x,
		y:       y,
		width:   width,
		height:  height,
		visible: true,
	}
	h.mu.Lock()
	h.surfaces = append(h.surfaces, s)
	h.mu.Unlock()
	return s, nil
}

// Surfaces returns every surface created so far, in creation order.
func (h *Headless) Surfaces() []*HeadlessSurface {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*HeadlessSurface{}, h.surfaces...)
}

// HeadlessSurface records the state a real surface would display.
type HeadlessSurface struct {
	handle uintptr

	mu      sync.Mutex
	x, y    int
	width   int
	height  int
	visible bool
	moves   int
}

func (s *HeadlessSurface) Show() {
	s.mu.Lock()
	s.visible = true
	s.mu.Unlock()
}

func (s *HeadlessSurface) Hide() {
	s.mu.Lock()
	s.visible = false
	s.mu.Unlock()
}

func (s *HeadlessSurface) Move(x, y int) {
	s.mu.Lock()
	s.x, s.y = x, y
	s.moves++
	s.mu.Unlock()
}

func (s *HeadlessSurface) Handle() uintptr {
	return s.handle
}

// Position returns the last position the surface was moved to.
func (s *HeadlessSurface) Position() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

// Size returns the surface size.
func (s *HeadlessSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Visible reports whether the surface is shown.
func (s *HeadlessSurface) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Moves counts calls to Move.
func (s *HeadlessSurface) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}
