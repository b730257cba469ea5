// Package sim implements a timing-faithful fake printer for UI
// development: it satisfies the same operational contract as core.Core
// (see broker.Printer) without opening a serial port, advancing a loaded
// job at a fixed line interval and nudging simulated temperatures toward
// their targets.
package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/mfosse/marlinctl/console"
	"github.com/mfosse/marlinctl/core"
	"github.com/mfosse/marlinctl/errs"
	"github.com/mfosse/marlinctl/jobreader"
	"github.com/mfosse/marlinctl/protocol"
)

// DefaultLineInterval is how long the simulator pretends each physical line
// takes to execute when the loaded job carries no time metadata to derive
// a faithful interval from.
const DefaultLineInterval = 20 * time.Millisecond

// TempNudgeInterval is how often simulated temperatures step toward target.
const TempNudgeInterval = 750 * time.Millisecond

// Sim is a fake PrinterCore driven by a deterministic clock rather than a
// real serial link.
type Sim struct {
	console *console.Console
	job     *jobreader.JobReader

	state     core.State
	homedAxes protocol.AxisSet

	axisMode     protocol.PositionMode
	extruderMode protocol.PositionMode

	temps     []protocol.Temperature
	fanSpeeds map[uint]float64
	position  protocol.Position

	savedPosition protocol.Position
	savedAxisMode protocol.PositionMode
	savedExtMode  protocol.PositionMode

	elapsed         time.Duration
	lastTick        time.Time
	lastLineAdvance time.Time
	lastTempNudge   time.Time
	lineInterval    time.Duration

	envelope core.MoveEnvelope
	rng      *rand.Rand
}

// New creates an unconnected simulator already in StateConnected, mirroring
// what core.Connect leaves behind after a real handshake. envelope bounds
// manual relative moves the same way it does for core.Core.
func New(envelope core.MoveEnvelope) *Sim {
	now := time.Now()
	return &Sim{
		console:         console.New(),
		state:           core.StateConnected,
		axisMode:        protocol.Absolute,
		extruderMode:    protocol.Absolute,
		fanSpeeds:       make(map[uint]float64),
		lastTick:        now,
		lastLineAdvance: now,
		lastTempNudge:   now,
		lineInterval:    DefaultLineInterval,
		envelope:        envelope,
		rng:             rand.New(rand.NewSource(1)),
	}
}

func (s *Sim) requireState(allowed ...core.State) error {
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	return fmt.Errorf("sim: operation not valid in state %s: %w", s.state, errs.ErrInvalidInput)
}

// ManualControlEnabled mirrors core.Core's rule.
func (s *Sim) ManualControlEnabled() bool {
	return s.homedAxes.Contains(protocol.AllLinearAxes) || s.state == core.StatePaused
}

// Info reports a synthetic capability map, shaped like a real handshake
// reply so UI code can't tell the difference at this layer.
func (s *Sim) Info() map[string]string {
	return map[string]string{"FIRMWARE_NAME": "Marlin-Sim 1.0", "PROTOCOL_VERSION": "1.0"}
}

// OpenConsole attaches a new console subscriber.
func (s *Sim) OpenConsole() console.ClientChannels { return s.console.Attach() }

// Close is a no-op: there is no real link to release.
func (s *Sim) Close() error { return nil }
