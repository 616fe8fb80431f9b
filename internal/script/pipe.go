package script

import (
	"fmt"

	"github.com/AaronLay10/LiveMix/internal/media"
)

// Exported setting keys read by window setup.
const (
	ExportTag    = "gtktag"
	ExportX      = "x"
	ExportY      = "y"
	ExportWidth  = "width"
	ExportHeight = "height"

	// WindowTag marks a pipe that renders into its own surface.
	WindowTag = "window"
)

// Pipe is a live instance of a template. Pipeline.Name() always equals Name.
type Pipe struct {
	Name     string
	Template string
	Pipeline media.Pipeline
	Exports  map[string]Setting
}

// Export returns an exported setting.
func (p *Pipe) Export(key string) (Setting, bool) {
	s, ok := p.Exports[key]
	return s, ok
}

// WantsWindow reports whether the pipe exported the window tag.
func (p *Pipe) WantsWindow() bool {
	s, ok := p.Exports[ExportTag]
	return ok && s.Kind == KindString && s.Str == WindowTag
}

// Geometry is a window rectangle.
type Geometry struct {
	X, Y, Width, Height int
}

// Geometry reads the exported x, y, width and height.
func (p *Pipe) Geometry() (Geometry, error) {
	var g Geometry
	for _, f := range []struct {
		key string
		dst *int
	}{
		{ExportX, &g.X},
		{ExportY, &g.Y},
		{ExportWidth, &g.Width},
		{ExportHeight, &g.Height},
	} {
		s, ok := p.Exports[f.key]
		if !ok {
			return Geometry{}, fmt.Errorf("pipe %s does not export %s", p.Name, f.key)
		}
		v, err := s.AsInt()
		if err != nil {
			return Geometry{}, fmt.Errorf("pipe %s: %w", p.Name, err)
		}
		*f.dst = v
	}
	return g, nil
}

// fields renders exports for event payloads.
func (p *Pipe) fields() map[string]interface{} {
	exports := make(map[string]interface{}, len(p.Exports))
	for k, v := range p.Exports {
		exports[k] = v.Value()
	}
	return map[string]interface{}{
		"pipe":     p.Name,
		"template": p.Template,
		"exports":  exports,
	}
}
