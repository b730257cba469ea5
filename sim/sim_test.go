package sim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mfosse/marlinctl/console"
	"github.com/mfosse/marlinctl/core"
	"github.com/mfosse/marlinctl/protocol"
)

func writeTempJob(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "job.gcode")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestSimLifecycle(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	path := writeTempJob(t, "G28\nG1 X1\nG1 X2\n")

	if err := s.SetJobFile(path); err != nil {
		t.Fatalf("SetJobFile: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.GetStatus().State != core.StateStarted {
		t.Fatalf("state = %v, want Started", s.GetStatus().State)
	}

	now := s.lastLineAdvance
	for i := 0; i < 10 && s.GetStatus().State == core.StateStarted; i++ {
		now = now.Add(DefaultLineInterval + time.Millisecond)
		if err := s.Tick(now); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if s.GetStatus().State != core.StateDone {
		t.Fatalf("state = %v, want Done after the job drains", s.GetStatus().State)
	}
}

func TestSimDerivesLineIntervalFromDeclaredDuration(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	path := writeTempJob(t, ";TIME:4\nG28\nG1 X1\nG1 X2\nG1 X3\n")

	if err := s.SetJobFile(path); err != nil {
		t.Fatalf("SetJobFile: %v", err)
	}
	// 4 declared seconds over 5 physical lines.
	want := 4 * time.Second / 5
	if s.lineInterval != want {
		t.Fatalf("lineInterval = %v, want %v", s.lineInterval, want)
	}
}

func TestSimFallsBackToDefaultIntervalWithoutTimeMetadata(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	path := writeTempJob(t, "G28\nG1 X1\n")

	if err := s.SetJobFile(path); err != nil {
		t.Fatalf("SetJobFile: %v", err)
	}
	if s.lineInterval != DefaultLineInterval {
		t.Fatalf("lineInterval = %v, want default %v", s.lineInterval, DefaultLineInterval)
	}
}

func TestSimManualMoveRequiresHoming(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	if err := s.MoveRelative(protocol.Position{X: 1}); err == nil {
		t.Fatalf("expected manual move to be rejected before homing")
	}
	if err := s.Home(protocol.AxisSet(0)); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if err := s.MoveRelative(protocol.Position{X: 1}); err != nil {
		t.Fatalf("MoveRelative after homing: %v", err)
	}
}

func TestSimTemperatureTargetBoundary(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	if err := s.SetTemperature(protocol.TemperatureTarget{Probe: protocol.ProbeBed, Target: 300}); err != nil {
		t.Fatalf("target 300 should be accepted: %v", err)
	}
	if err := s.SetTemperature(protocol.TemperatureTarget{Probe: protocol.ProbeBed, Target: 300.001}); err == nil {
		t.Fatalf("target 300.001 should be rejected")
	}
}

func TestSimMoveEnvelopeBoundary(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	if err := s.Home(protocol.AxisSet(0)); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if err := s.MoveRelative(protocol.Position{X: 20.0}); err != nil {
		t.Fatalf("x=20.0 should be accepted: %v", err)
	}
	if err := s.MoveRelative(protocol.Position{X: 20.001}); err == nil {
		t.Fatalf("x=20.001 should be rejected")
	}
}

func TestSimConsoleEchoesSubscriberLines(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	ch := s.OpenConsole()
	ch.TX <- console.Message{Line: "M105"}
	if err := s.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var got []console.Message
	for len(got) < 2 {
		select {
		case m := <-ch.RX:
			got = append(got, m)
		default:
			t.Fatalf("got %v, want echo + ok", got)
		}
	}
	if !got[0].IsEcho || got[0].Line != "M105" {
		t.Fatalf("first message = %+v, want echoed M105", got[0])
	}
	if got[1].IsEcho || got[1].Line != "ok" {
		t.Fatalf("second message = %+v, want firmware ok", got[1])
	}
}

func TestSimTemperatureNudgesTowardTarget(t *testing.T) {
	s := New(core.DefaultMoveEnvelope)
	if err := s.SetTemperature(protocol.TemperatureTarget{Probe: protocol.ProbeHotEnd, Target: 200}); err != nil {
		t.Fatalf("SetTemperature: %v", err)
	}
	s.lastTempNudge = time.Now().Add(-2 * TempNudgeInterval)
	if err := s.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if s.temps[0].Current <= 0 {
		t.Fatalf("expected temperature to nudge upward, got %+v", s.temps[0])
	}
}
