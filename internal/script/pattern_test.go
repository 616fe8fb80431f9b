package script

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/media"
	"github.com/AaronLay10/LiveMix/internal/media/sim"
)

// manualClock only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const radioScript = `// two pipes and a pause at two seconds
new mp3input music /media/song.mp3
new aoutput speakers

plug audio_out music audio_in speakers
on pre wrap
act music play start
act speakers play start
parw
on progress music 2.0 act music play pause
`

func compile(t *testing.T, src string) (*Pattern, *command.Queue) {
	t.Helper()
	q := command.NewQueue(16)
	p, err := Compile(src, sim.NewEngine(), q)
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	return p, q
}

func TestCompileRadio(t *testing.T) {
	p, _ := compile(t, radioScript)

	if names := p.PipeNames(); len(names) != 2 || names[0] != "music" || names[1] != "speakers" {
		t.Errorf("unexpected pipes %v", names)
	}
	if len(p.PreEvents) != 2 {
		t.Errorf("expected 2 pre events, got %d", len(p.PreEvents))
	}
	if len(p.TimeEvents) != 1 {
		t.Fatalf("expected 1 time event, got %d", len(p.TimeEvents))
	}
	te := p.TimeEvents[0]
	if te.Pipe != "music" || te.At != 2*time.Second {
		t.Errorf("unexpected time key %+v", te.TimeKey)
	}
	play, ok := te.Actions[0].(*PlayAction)
	if !ok || play.Pipe != "music" || play.State != media.StatePaused {
		t.Errorf("unexpected action %#v", te.Actions[0])
	}

	music := p.Pipes["music"].Pipeline.(*sim.Pipeline)
	src, _ := music.Element("src")
	if v, _ := src.Property("location"); v != "/media/song.mp3" {
		t.Errorf("expected location set, got %v", v)
	}

	speakers := p.Pipes["speakers"].Pipeline.(*sim.Pipeline)
	in, _ := speakers.Element("audio_in")
	out, _ := music.ByName("audio_out")
	if v, _ := in.Property(media.BridgeProperty); v != out {
		t.Errorf("expected audio_in bridged to music audio_out, got %v", v)
	}
}

func TestPreEventsStartPipes(t *testing.T) {
	p, _ := compile(t, radioScript)
	p.RunPreEvents()

	for _, name := range []string{"music", "speakers"} {
		if st := p.Pipes[name].Pipeline.(*sim.Pipeline).State(); st != media.StatePlaying {
			t.Errorf("expected %s playing, got %s", name, st)
		}
	}
}

func TestProgressEventsMergeByKey(t *testing.T) {
	p, _ := compile(t, `new mp3input music a.mp3
on progress music 1.5 act music seek 0 1.0
on progress music 3 act music play stop
on progress music 1.5 wrap
act music window show
parw
`)
	if len(p.TimeEvents) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(p.TimeEvents))
	}
	first := p.TimeEvents[0]
	if first.At != 1500*time.Millisecond || len(first.Actions) != 2 {
		t.Errorf("expected merged 1.5s list with 2 actions, got %+v", first)
	}
	if _, ok := first.Actions[1].(*WindowAction); !ok {
		t.Errorf("expected merged actions kept in registration order")
	}
	if p.TimeEvents[1].At != 3*time.Second {
		t.Errorf("expected second key at 3s, got %v", p.TimeEvents[1].At)
	}
}

func TestWrapBlockEmpty(t *testing.T) {
	p, _ := compile(t, "on pre wrap\nparw\n")
	if p.PreEvents == nil || len(p.PreEvents) != 0 {
		t.Errorf("expected empty pre event list, got %v", p.PreEvents)
	}
}

func TestWindowActionsUseQueue(t *testing.T) {
	p, q := compile(t, `new xoutput winA 0 0 320 240
on pre wrap
act winA window show
act winA window move 0 0 0 2 100 100 mcos mcos
parw
on pre terminate
`)
	p.RunPreEvents()

	want := []string{"winA show", "winA move 0 0 0 2 100 100 mcos mcos", " terminate"}
	for _, w := range want {
		got, ok := q.TryRecv()
		if !ok || got != w {
			t.Errorf("expected %q, got %q (ok=%v)", w, got, ok)
		}
	}
}

func TestEndOfStreamRunsCallback(t *testing.T) {
	p, q := compile(t, `new mp3input music a.mp3
on callback music end terminate
`)
	p.Pipes["music"].Pipeline.(*sim.Pipeline).EmitEOS()

	deadline := time.After(time.Second)
	for {
		if line, ok := q.TryRecv(); ok {
			if line != " terminate" {
				t.Errorf("expected terminate, got %q", line)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for end-of-stream action")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSeekAndPropActions(t *testing.T) {
	clock := newManualClock()
	q := command.NewQueue(4)
	p, err := Compile(`new mp4input film a.mp4
on pre wrap
act film play start
act film seek 10 2
act film prop src location string /media/b c.mp4
parw
`, sim.NewEngine(sim.WithClock(clock.Now)), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.RunPreEvents()

	film := p.Pipes["film"].Pipeline.(*sim.Pipeline)
	if film.Rate() != 2 {
		t.Errorf("expected rate 2, got %v", film.Rate())
	}
	clock.Advance(time.Second)
	if pos, _ := film.Position(); pos != 12*time.Second {
		t.Errorf("expected position 12s, got %v", pos)
	}
	src, _ := film.Element("src")
	if v, _ := src.Property("location"); v != "/media/b c.mp4" {
		t.Errorf("expected value tokens joined, got %v", v)
	}
}

func TestRunReportsFailures(t *testing.T) {
	events.Clear()
	p, q := compile(t, `new xoutput winA 0 0 320 240
on pre act winA window show
on pre act winA play pause
`)
	for i := 0; i < 16; i++ {
		_ = q.Send("filler show")
	}
	p.RunPreEvents()

	failed := events.Find("action.failed")
	if len(failed) != 1 {
		t.Fatalf("expected 1 action.failed event, got %d", len(failed))
	}
	if !strings.Contains(failed[0].Fields["error"].(string), command.ErrQueueFull.Error()) {
		t.Errorf("unexpected failure %v", failed[0].Fields["error"])
	}
	if st := p.Pipes["winA"].Pipeline.(*sim.Pipeline).State(); st != media.StatePaused {
		t.Errorf("expected later actions to run after a failure, got %s", st)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code Code
		line int
	}{
		{"unknown command", "new mp3input a x\nlaunch a", CodeUnknownCommand, 2},
		{"unknown template", "new mp5input a x", CodeUnknownReference, 1},
		{"argument count", "new mp3input a", CodeArgumentCount, 1},
		{"duplicate pipe", "new aoutput a\nnew aoutput a", CodeSyntax, 2},
		{"plug unknown pipe", "new aoutput a\nplug audio_out ghost audio_in a", CodeUnknownReference, 2},
		{"plug unknown element", "new aoutput a\nnew aoutput b\nplug nope a audio_in b", CodeUnknownReference, 3},
		{"plug arity", "new aoutput a\nplug audio_in a", CodeSyntax, 2},
		{"unknown callback", "new aoutput a\non callback a start terminate", CodeUnknownCommand, 2},
		{"callback unknown pipe", "on callback ghost end terminate", CodeUnknownReference, 1},
		{"unknown on kind", "on boot terminate", CodeUnknownCommand, 1},
		{"unknown condition", "on pre maybe", CodeUnknownCommand, 1},
		{"missing actions", "on pre", CodeSyntax, 1},
		{"progress unknown pipe", "on progress ghost 1 terminate", CodeUnknownReference, 1},
		{"progress bad time", "new aoutput a\non progress a soon terminate", CodeType, 2},
		{"progress negative time", "new aoutput a\non progress a -1 terminate", CodeType, 2},
		{"progress time overflows", "new aoutput a\non progress a 1e10 terminate", CodeType, 2},
		{"progress time NaN", "new aoutput a\non progress a NaN terminate", CodeType, 2},
		{"seek time overflows", "new aoutput a\non pre act a seek 9.3e9 1", CodeType, 2},
		{"seek time infinite", "new aoutput a\non pre act a seek +Inf 1", CodeType, 2},
		{"wrap without sentinel", "new aoutput a\non pre wrap\nact a play start", CodeUnexpectedEnd, 2},
		{"wrap bad inner line", "new aoutput a\non pre wrap\nact a play start\nact a jump\nparw", CodeUnknownCommand, 4},
		{"wrap inner header", "new aoutput a\non pre wrap\nplay a start\nparw", CodeUnknownCommand, 3},
		{"unknown play state", "new aoutput a\non pre act a play rewind", CodeType, 2},
		{"bad seek time", "new aoutput a\non pre act a seek x 1", CodeType, 2},
		{"bad seek rate", "new aoutput a\non pre act a seek 1 fast", CodeType, 2},
		{"zero seek rate", "new aoutput a\non pre act a seek 1 0", CodeType, 2},
		{"prop unknown element", "new aoutput a\non pre act a prop ghost volume float 1", CodeUnknownReference, 2},
		{"prop bad value", "new aoutput a\non pre act a prop sink volume float loud", CodeType, 2},
		{"prop arity", "new aoutput a\non pre act a prop sink volume", CodeSyntax, 2},
		{"act unknown pipe", "on pre act ghost play start", CodeUnknownReference, 1},
		{"window without verb", "new aoutput a\non pre act a window", CodeSyntax, 2},
		{"raw without sentinel", "raw t 0 fakesrc ! fakesink\nsrc a string b", CodeUnexpectedEnd, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src, sim.NewEngine(), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("expected *Error, got %T: %v", err, err)
			}
			if se.Code != tt.code {
				t.Errorf("expected code %s, got %s (%v)", tt.code, se.Code, err)
			}
			if se.Line != tt.line {
				t.Errorf("expected line %d, got %d (%v)", tt.line, se.Line, err)
			}
		})
	}
}

func TestCompileErrorContext(t *testing.T) {
	_, err := Compile("new aoutput a\non pre wrap\nact a seek 1 fast\nparw", sim.NewEngine(), nil)
	want := "line 3: pre: wrap: could not parse as rate: fast"
	if err == nil || err.Error() != want {
		t.Errorf("got %v, want %q", err, want)
	}
}

func TestCustomTemplate(t *testing.T) {
	p, _ := compile(t, `raw tone 1 audiotestsrc name=gen ! proxysink name=audio_out
gen freq float $1
raw gain float 0.8
war
new tone beep 440
`)
	beep := p.Pipes["beep"]
	gen, _ := beep.Pipeline.(*sim.Pipeline).Element("gen")
	if v, _ := gen.Property("freq"); v != 440.0 {
		t.Errorf("expected freq 440, got %v", v)
	}
	if s, _ := beep.Export("gain"); s != FloatSetting(0.8) {
		t.Errorf("unexpected gain %+v", s)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "show.lm")
	if err := os.WriteFile(path, []byte(radioScript), 0644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	events.Clear()
	if _, err := Load(path, sim.NewEngine(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events.Find("script.loaded")) != 1 {
		t.Error("expected script.loaded event")
	}

	_, err := Load(filepath.Join(dir, "missing.lm"), sim.NewEngine(), nil)
	if !IsCode(err, CodeIO) {
		t.Errorf("expected io error, got %v", err)
	}
}
