package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},

	// script
	"script.loaded": {},
	"script.failed": {},

	// pipe
	"pipe.created": {},
	"pipe.plugged": {},
	"pipe.state":   {},
	"pipe.seek":    {},
	"pipe.eos":     {},
	"property.set": {},

	// actions and triggers
	"action.failed":      {},
	"trigger.registered": {},
	"trigger.fired":      {},

	// windows
	"window.created":     {},
	"window.shown":       {},
	"window.hidden":      {},
	"animation.started":  {},
	"animation.finished": {},

	// runtime commands
	"command.received": {},
	"command.failed":   {},
}

// Validate rejects event names outside the registry.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
