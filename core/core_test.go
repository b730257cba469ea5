package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mfosse/marlinctl/console"
	"github.com/mfosse/marlinctl/jobreader"
	"github.com/mfosse/marlinctl/link"
	"github.com/mfosse/marlinctl/protocol"
)

// scriptedPort feeds one canned reply line per Read and records every line
// written, so a test can verify the exact wire trace of a Core exchange.
type scriptedPort struct {
	replies []string
	written []string
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.replies) == 0 {
		return 0, nil
	}
	next := p.replies[0]
	p.replies = p.replies[1:]
	return copy(b, next+"\n"), nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.written = append(p.written, strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

func (p *scriptedPort) Close() error { return nil }

func (p *scriptedPort) SetReadTimeout(time.Duration) error { return nil }

func (p *scriptedPort) ResetInputBuffer() error { return nil }

func newScriptedCore(port *scriptedPort) *Core {
	return &Core{
		link:         link.NewFromPort(port, "/dev/fake"),
		console:      console.New(),
		state:        StateConnected,
		axisMode:     protocol.Absolute,
		extruderMode: protocol.Absolute,
		fanSpeeds:    make(map[uint]float64),
		envelope:     DefaultMoveEnvelope,
		lastTick:     time.Now(),
	}
}

func writeTempJob(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.gcode")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func newBareCore() *Core {
	return &Core{
		state:        StateConnected,
		axisMode:     protocol.Absolute,
		extruderMode: protocol.Absolute,
		fanSpeeds:    make(map[uint]float64),
		envelope:     DefaultMoveEnvelope,
	}
}

func TestManualControlRequiresAllLinearAxesHomed(t *testing.T) {
	c := newBareCore()
	if c.ManualControlEnabled() {
		t.Fatalf("manual control should start disabled")
	}
	c.homedAxes = protocol.NewAxisSet(protocol.AxisX, protocol.AxisY)
	if c.ManualControlEnabled() {
		t.Fatalf("manual control should require Z too")
	}
	c.homedAxes = protocol.AllLinearAxes
	if !c.ManualControlEnabled() {
		t.Fatalf("manual control should be enabled once XYZ are homed")
	}
}

func TestManualControlEnabledWhilePaused(t *testing.T) {
	c := newBareCore()
	c.state = StatePaused
	if !c.ManualControlEnabled() {
		t.Fatalf("manual control should be enabled while paused regardless of homing")
	}
}

func TestMoveRelativeRejectsOutsideEnvelope(t *testing.T) {
	c := newBareCore()
	c.homedAxes = protocol.AllLinearAxes
	err := c.MoveRelative(protocol.Position{X: 999})
	if err == nil {
		t.Fatalf("expected an error for an out-of-envelope move")
	}
}

func TestMoveRelativeRejectsWithoutManualControl(t *testing.T) {
	c := newBareCore()
	err := c.MoveRelative(protocol.Position{X: 1})
	if err == nil {
		t.Fatalf("expected an error, manual control not yet enabled")
	}
}

func TestApplyEffectTracksHomedAxesAndFanState(t *testing.T) {
	c := newBareCore()
	c.applyEffect(protocol.OutgoingEffect{Kind: protocol.EffectHomeAxes, Axes: protocol.NewAxisSet(protocol.AxisX, protocol.AxisY)})
	if c.homedAxes != protocol.NewAxisSet(protocol.AxisX, protocol.AxisY) {
		t.Fatalf("homedAxes = %v", c.homedAxes)
	}
	c.applyEffect(protocol.OutgoingEffect{Kind: protocol.EffectHomeAxes, Axes: protocol.NewAxisSet(protocol.AxisZ)})
	if !c.homedAxes.Contains(protocol.AllLinearAxes) {
		t.Fatalf("homedAxes should accumulate across calls: %v", c.homedAxes)
	}
	c.applyEffect(protocol.OutgoingEffect{Kind: protocol.EffectFanSpeedChange, FanIndex: 1, FanTarget: 0.5})
	if c.fanSpeeds[1] != 0.5 {
		t.Fatalf("fanSpeeds = %v", c.fanSpeeds)
	}
}

func TestMergeTemperaturesUpdatesExistingProbe(t *testing.T) {
	c := newBareCore()
	c.mergeTemperatures([]protocol.Temperature{{Probe: protocol.ProbeHotEnd, Current: 100}})
	c.mergeTemperatures([]protocol.Temperature{{Probe: protocol.ProbeHotEnd, Current: 150}})
	if len(c.temps) != 1 || c.temps[0].Current != 150 {
		t.Fatalf("temps = %+v", c.temps)
	}
}

func TestNackDrivenResendRetransmitsLine(t *testing.T) {
	port := &scriptedPort{replies: []string{
		"ok",
		"Error:Line Number is not Last Line Number+1, Last Line: 1",
		"ok",
		"ok",
		"ok",
	}}
	c := newScriptedCore(port)

	jr, err := jobreader.Open(writeTempJob(t, "G1 X1\nG1 X2\nG1 X3\n"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer jr.Close()
	c.job = jr
	c.state = StateStarted

	for i := 0; i < 5 && c.state == StateStarted; i++ {
		if err := c.Tick(time.Now()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if c.state != StateDone {
		t.Fatalf("state = %v, want Done", c.state)
	}

	want := []string{
		protocol.Frame(1, "G1 X1"),
		protocol.Frame(2, "G1 X2"),
		protocol.Frame(2, "G1 X2"),
		protocol.Frame(3, "G1 X3"),
	}
	if len(port.written) != len(want) {
		t.Fatalf("wire trace = %v", port.written)
	}
	for i := range want {
		if port.written[i] != want[i] {
			t.Fatalf("wire trace[%d] = %q, want %q", i, port.written[i], want[i])
		}
	}
	if jr.CurCommandLine() != 3 {
		t.Fatalf("command counter = %d, want 3", jr.CurCommandLine())
	}
}

func TestPauseResumeRestoresSavedPosition(t *testing.T) {
	// Pause reads a position report + ok for M114, then ok for each of the
	// four retract commands; resume reads ok for each of its three.
	port := &scriptedPort{replies: []string{
		"X:10.00 Y:20.00 Z:5.00 E:0.00 Count X:800 Y:1600 Z:4000",
		"ok", "ok", "ok", "ok", "ok",
		"ok", "ok", "ok",
	}}
	c := newScriptedCore(port)

	jr, err := jobreader.Open(writeTempJob(t, "G1 X1\nG1 X2\n"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer jr.Close()
	c.job = jr
	c.state = StateStarted

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if c.state != StatePaused {
		t.Fatalf("state = %v, want Paused", c.state)
	}
	if c.savedPosition != (protocol.Position{X: 10, Y: 20, Z: 5}) {
		t.Fatalf("savedPosition = %+v", c.savedPosition)
	}

	pauseWrites := len(port.written)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.state != StateStarted {
		t.Fatalf("state = %v, want Started", c.state)
	}

	resume := port.written[pauseWrites:]
	want := []string{"G90", "G1 X10.00000 Y20.00000 Z5.00000", "G11"}
	if len(resume) != len(want) {
		t.Fatalf("resume trace = %v", resume)
	}
	for i := range want {
		if resume[i] != want[i] {
			t.Fatalf("resume trace[%d] = %q, want %q", i, resume[i], want[i])
		}
	}
}

func TestConsoleLineForwardedOnTick(t *testing.T) {
	port := &scriptedPort{replies: []string{"ok"}}
	c := newScriptedCore(port)
	ch := c.OpenConsole()
	ch.TX <- console.Message{Line: "M105"}

	if err := c.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(port.written) != 1 || port.written[0] != "M105" {
		t.Fatalf("written = %v, want unframed M105", port.written)
	}

	m := <-ch.RX
	if !m.IsEcho || m.Line != "M105" {
		t.Fatalf("echo = %+v", m)
	}
	m = <-ch.RX
	if m.IsEcho || m.Line != "ok" {
		t.Fatalf("reply = %+v", m)
	}
}

func TestStartAfterStopRewindsJob(t *testing.T) {
	port := &scriptedPort{replies: []string{"ok", "ok", "ok"}}
	c := newScriptedCore(port)

	jr, err := jobreader.Open(writeTempJob(t, "G1 X1\nG1 X2\n"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer jr.Close()
	c.job = jr
	c.state = StateStarted

	if err := c.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if jr.CurCommandLine() != 0 {
		t.Fatalf("command counter = %d, want rewound to 0", jr.CurCommandLine())
	}
}

func TestStateTransitionGuards(t *testing.T) {
	c := newBareCore()
	if err := c.Pause(); err == nil {
		t.Fatalf("Pause from Connected should fail")
	}
	if err := c.Start(); err == nil {
		t.Fatalf("Start with no job loaded should fail")
	}
}
