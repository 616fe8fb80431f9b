package orchestrator

import (
	"fmt"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/media"
	"github.com/AaronLay10/LiveMix/internal/script"
	"github.com/AaronLay10/LiveMix/internal/window"
)

// LoadShow compiles the script at path and prepares a scheduler with its
// windows created.
func LoadShow(path string, engine media.Engine, windows window.Factory, queue *command.Queue) (*Scheduler, error) {
	p, err := script.Load(path, engine, queue)
	if err != nil {
		return nil, err
	}

	s := NewScheduler(p)
	if err := s.SetupWindows(windows); err != nil {
		return nil, fmt.Errorf("failed to set up windows: %w", err)
	}
	return s, nil
}
