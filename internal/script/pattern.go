// Package script compiles show scripts. A script instantiates graph templates
// into pipes, wires pipes together and registers action lists against
// triggers: startup, end of stream and playback progress.
package script

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/media"
)

// Top-level commands.
const (
	cmdRaw  = "raw"
	cmdNew  = "new"
	cmdPlug = "plug"
	cmdOn   = "on"

	onCallback = "callback"
	onPre      = "pre"
	onProgress = "progress"

	callbackEnd = "end"
)

// Built-in templates available to every script.
var presets = []string{
	"raw mp3input 1 filesrc name=src ! decodebin ! audioconvert ! audioresample ! proxysink name=audio_out\n" +
		"src location string $1\n" +
		"war",
	"raw mp4input 1 filesrc name=src ! decodebin name=demux " +
		"demux. ! videoconvert ! proxysink name=video_out " +
		"demux. ! audioconvert ! audioresample ! proxysink name=audio_out\n" +
		"src location string $1\n" +
		"war",
	"raw aoutput 0 proxysrc name=audio_in ! alsasink name=sink\n" +
		"war",
	"raw xoutput 4 proxysrc name=video_in ! xvimagesink name=sink\n" +
		"raw gtktag string window\n" +
		"raw x int $1\n" +
		"raw y int $2\n" +
		"raw width int $3\n" +
		"raw height int $4\n" +
		"war",
}

// TimeKey identifies a progress trigger.
type TimeKey struct {
	Pipe string
	At   time.Duration
}

// TimeEvent is the action list fired once when Pipe plays past At.
type TimeEvent struct {
	TimeKey
	Actions []Action
}

// Pattern is a compiled script.
type Pattern struct {
	Blocks map[string]*Template
	Pipes  map[string]*Pipe
	// Queue carries window commands to the scheduler.
	Queue     *command.Queue
	PreEvents []Action
	// TimeEvents are kept in first-registration order of their keys.
	TimeEvents []*TimeEvent

	pipeOrder []string
	timeIndex map[TimeKey]*TimeEvent
}

func newPattern(queue *command.Queue) *Pattern {
	p := &Pattern{
		Blocks:    make(map[string]*Template),
		Pipes:     make(map[string]*Pipe),
		Queue:     queue,
		timeIndex: make(map[TimeKey]*TimeEvent),
	}
	for _, src := range presets {
		t, err := ParseTemplate(src)
		if err != nil {
			panic(fmt.Sprintf("script: bad preset: %v", err))
		}
		p.Blocks[t.Name] = t
	}
	return p
}

// PipeNames returns pipe names in creation order.
func (p *Pattern) PipeNames() []string {
	return append([]string{}, p.pipeOrder...)
}

// RunPreEvents executes the startup action list.
func (p *Pattern) RunPreEvents() {
	Run(p.PreEvents)
}

func (p *Pattern) addTimeEvent(key TimeKey, actions []Action) {
	if te, ok := p.timeIndex[key]; ok {
		te.Actions = append(te.Actions, actions...)
		return
	}
	te := &TimeEvent{TimeKey: key, Actions: actions}
	p.timeIndex[key] = te
	p.TimeEvents = append(p.TimeEvents, te)
}

type compiler struct {
	engine  media.Engine
	queue   *command.Queue
	pattern *Pattern
}

func (c *compiler) pipe(name string) (*Pipe, error) {
	p, ok := c.pattern.Pipes[name]
	if !ok {
		return nil, newError(CodeUnknownReference, "unknown pipe: %s", name)
	}
	return p, nil
}

func (c *compiler) element(pipeName, elemName string) (media.Element, error) {
	p, err := c.pipe(pipeName)
	if err != nil {
		return nil, err
	}
	el, ok := p.Pipeline.ByName(elemName)
	if !ok {
		return nil, newError(CodeUnknownReference, "unknown element %s in pipe %s", elemName, pipeName)
	}
	return el, nil
}

// Compile compiles script source. Window actions are sent on queue; a nil
// queue gets a default-sized one.
func Compile(src string, engine media.Engine, queue *command.Queue) (*Pattern, error) {
	if queue == nil {
		queue = command.NewQueue(command.DefaultQueueSize)
	}
	c := &compiler{
		engine:  engine,
		queue:   queue,
		pattern: newPattern(queue),
	}

	r := newLineReader(SplitLines(src))
	for {
		line, ok := r.next()
		if !ok {
			break
		}
		if err := c.command(line, r); err != nil {
			return nil, atLine(err, line.Number)
		}
	}
	return c.pattern, nil
}

// Load reads and compiles the script at path.
func Load(path string, engine media.Engine, queue *command.Queue) (*Pattern, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(CodeIO, err, "could not read script")
	}
	p, err := Compile(string(b), engine, queue)
	if err != nil {
		events.Emit(events.LevelError, "script.failed", err.Error(), map[string]interface{}{
			"path": path,
		})
		return nil, err
	}
	events.Emit(events.LevelInfo, "script.loaded", "", map[string]interface{}{
		"path":        path,
		"pipes":       len(p.Pipes),
		"templates":   len(p.Blocks),
		"pre_events":  len(p.PreEvents),
		"time_events": len(p.TimeEvents),
	})
	return p, nil
}

func (c *compiler) command(line Line, r *lineReader) error {
	args := line.Fields()
	switch args[0] {
	case cmdRaw:
		t, err := parseTemplate(args[1:], r)
		if err != nil {
			return Annotate(err, cmdRaw)
		}
		c.pattern.Blocks[t.Name] = t
		return nil
	case cmdNew:
		return c.newPipe(args)
	case cmdPlug:
		return c.plug(args)
	case cmdOn:
		return c.on(args, r)
	}
	return newError(CodeUnknownCommand, "unknown command: %s", args[0])
}

// newPipe handles "new <template> <name> <args...>".
func (c *compiler) newPipe(args []string) error {
	if len(args) < 3 {
		return newError(CodeSyntax, "expected new <template> <name> [args...], got %q", strings.Join(args, " "))
	}
	key, name := args[1], args[2]

	t, ok := c.pattern.Blocks[key]
	if !ok {
		return newError(CodeUnknownReference, "unknown template: %s", key)
	}
	if _, exists := c.pattern.Pipes[name]; exists {
		return newError(CodeSyntax, "pipe %s already exists", name)
	}

	p, err := t.Generate(c.engine, name, args[3:])
	if err != nil {
		return Annotate(err, "new "+name)
	}
	c.pattern.Pipes[name] = p
	c.pattern.pipeOrder = append(c.pattern.pipeOrder, name)

	events.Emit(events.LevelInfo, "pipe.created", "", p.fields())
	return nil
}

// plug handles "plug <elemA> <pipeA> <elemB> <pipeB>": elemB receives from elemA.
func (c *compiler) plug(args []string) error {
	if len(args) != 5 {
		return newError(CodeSyntax, "expected plug <elemA> <pipeA> <elemB> <pipeB>, got %q", strings.Join(args, " "))
	}
	src, err := c.element(args[2], args[1])
	if err != nil {
		return Annotate(err, cmdPlug)
	}
	dst, err := c.element(args[4], args[3])
	if err != nil {
		return Annotate(err, cmdPlug)
	}
	if err := dst.SetProperty(media.BridgeProperty, src); err != nil {
		return wrapError(CodeEngine, err, "plug %s.%s into %s.%s", args[2], args[1], args[4], args[3])
	}

	events.Emit(events.LevelInfo, "pipe.plugged", "", map[string]interface{}{
		"from_pipe":    args[2],
		"from_element": args[1],
		"to_pipe":      args[4],
		"to_element":   args[3],
	})
	return nil
}

func (c *compiler) on(args []string, r *lineReader) error {
	if len(args) < 2 {
		return newError(CodeSyntax, "expected on <callback|pre|progress> ...")
	}

	switch args[1] {
	case onCallback:
		if len(args) < 5 {
			return newError(CodeSyntax, "expected on callback <pipe> end <actions>, got %q", strings.Join(args, " "))
		}
		p, err := c.pipe(args[2])
		if err != nil {
			return err
		}
		if args[3] != callbackEnd {
			return newError(CodeUnknownCommand, "unknown callback: %s", args[3])
		}
		actions, err := c.parseLeadingEvent(args[4:], r)
		if err != nil {
			return Annotate(err, "callback end")
		}
		name := p.Name
		p.Pipeline.OnEOS(func() {
			events.Emit(events.LevelInfo, "pipe.eos", "", map[string]interface{}{"pipe": name})
			Run(actions)
		})
		c.registered(onCallback, name, len(actions))
		return nil

	case onPre:
		actions, err := c.parseLeadingEvent(args[2:], r)
		if err != nil {
			return Annotate(err, onPre)
		}
		c.pattern.PreEvents = append(c.pattern.PreEvents, actions...)
		c.registered(onPre, "", len(actions))
		return nil

	case onProgress:
		if len(args) < 5 {
			return newError(CodeSyntax, "expected on progress <pipe> <seconds> <actions>, got %q", strings.Join(args, " "))
		}
		p, err := c.pipe(args[2])
		if err != nil {
			return err
		}
		at, err := ParseSeconds(args[3])
		if err != nil {
			return Annotate(err, onProgress)
		}
		actions, err := c.parseLeadingEvent(args[4:], r)
		if err != nil {
			return Annotate(err, onProgress)
		}
		c.pattern.addTimeEvent(TimeKey{Pipe: p.Name, At: at}, actions)
		c.registered(onProgress, p.Name, len(actions))
		return nil
	}

	return newError(CodeUnknownCommand, "unknown event type: %s", args[1])
}

func (c *compiler) registered(trigger, pipe string, n int) {
	events.Emit(events.LevelDebug, "trigger.registered", "", map[string]interface{}{
		"trigger": trigger,
		"pipe":    pipe,
		"actions": n,
	})
}
