// Package core implements PrinterCore: the connected printer's lifecycle
// state machine, its command/response correlation loop over one serial
// Link, job streaming, and the status cache the broker reads back. Every
// method here runs on the broker's single control thread; nothing in this
// package takes a lock.
package core

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mfosse/marlinctl/console"
	"github.com/mfosse/marlinctl/errs"
	"github.com/mfosse/marlinctl/jobreader"
	"github.com/mfosse/marlinctl/link"
	"github.com/mfosse/marlinctl/protocol"
)

// State is PrinterCore's lifecycle state.
type State int

const (
	StateConnected State = iota
	StateStarted
	StatePaused
	StateDone
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStarted:
		return "started"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// DefaultRetractMM is the extruder retraction applied on pause and undone
// on resume.
const DefaultRetractMM = 2.0

// MoveEnvelope bounds a manual relative-move request, configurable per
// printer so a larger bed doesn't inherit a smaller one's limits.
type MoveEnvelope struct {
	MaxXYZ float64
	MaxE   float64
}

// DefaultMoveEnvelope is used when nothing more specific is configured.
var DefaultMoveEnvelope = MoveEnvelope{MaxXYZ: 20, MaxE: 100}

// Core is PrinterCore: one connected, real printer.
type Core struct {
	link *link.Link
	caps map[string]string

	console *console.Console
	job     *jobreader.JobReader
	jobPath string

	state State

	homedAxes     protocol.AxisSet
	axisMode      protocol.PositionMode
	extruderMode  protocol.PositionMode
	isBusy        bool
	temps         []protocol.Temperature
	fanSpeeds     map[uint]float64
	position      protocol.Position
	savedPosition protocol.Position
	savedAxisMode protocol.PositionMode
	savedExtMode  protocol.PositionMode

	elapsed  time.Duration
	lastTick time.Time

	envelope MoveEnvelope
}

// Connect opens path at baud, performs the capability handshake, and
// leaves the printer in StateConnected with periodic temperature reports
// enabled. envelope bounds manual relative moves; pass DefaultMoveEnvelope
// when the caller has no calibration of its own.
func Connect(path string, baud int, envelope MoveEnvelope) (*Core, error) {
	l, caps, err := link.Open(path, baud)
	if err != nil {
		return nil, err
	}
	c := &Core{
		link:         l,
		caps:         caps,
		console:      console.New(),
		state:        StateConnected,
		axisMode:     protocol.Absolute,
		extruderMode: protocol.Absolute,
		fanSpeeds:    make(map[uint]float64),
		envelope:     envelope,
		lastTick:     time.Now(),
	}
	if err := c.sendAllAndWait(protocol.GenEnableTemperatureReports(protocol.DefaultTemperatureReportInterval)); err != nil {
		l.Close()
		return nil, err
	}
	return c, nil
}

// sendAndWait frames cmd (if lineNo is non-nil) or sends it raw, applies
// the outbound tap, writes it, mirrors it to the console, and blocks until
// a terminal reply (Ok or Busy) arrives, folding any Temperature/Position/
// Nack replies seen along the way into local state.
func (c *Core) sendAndWait(cmd string, lineNo *uint32) error {
	if eff, ok := protocol.ParseOutgoing(cmd); ok {
		c.applyEffect(eff)
	}

	wire := cmd
	if lineNo != nil {
		wire = protocol.Frame(*lineNo, cmd)
	}
	c.console.PushRX(wire, true)
	if err := c.link.WriteLine(wire); err != nil {
		c.state = StateDead
		return err
	}

	for {
		line, err := c.link.ReadLine()
		if err != nil {
			if errors.Is(err, link.ErrTimeout) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			c.state = StateDead
			return err
		}
		c.console.PushRX(line, false)

		resp, perr := protocol.ParseRX(line)
		if perr != nil {
			if errors.Is(perr, errs.ErrInvalidData) {
				log.Printf("core: ignoring unparsable line %q: %v", line, perr)
				continue
			}
			c.state = StateDead
			return perr
		}

		switch resp.Kind {
		case protocol.RespNone:
			time.Sleep(5 * time.Millisecond)
		case protocol.RespBusy:
			c.isBusy = true
			return nil
		case protocol.RespOK:
			c.isBusy = false
			return nil
		case protocol.RespNack:
			c.isBusy = false
			if c.job == nil {
				c.state = StateDead
				return fmt.Errorf("core: NACK with no job loaded: %w", errs.ErrBrokenPipe)
			}
			if err := c.job.RequestResend(resp.ExpectedLine); err != nil {
				c.state = StateDead
				return err
			}
		case protocol.RespTemperature:
			c.mergeTemperatures(resp.Temperatures)
		case protocol.RespPosition:
			c.position = resp.Position
		}
	}
}

func (c *Core) sendAllAndWait(cmds []string) error {
	for _, cmd := range cmds {
		if err := c.sendAndWait(cmd, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) mergeTemperatures(readings []protocol.Temperature) {
	for _, r := range readings {
		found := false
		for i := range c.temps {
			if c.temps[i].Probe == r.Probe && c.temps[i].Index == r.Index {
				c.temps[i] = r
				found = true
				break
			}
		}
		if !found {
			c.temps = append(c.temps, r)
		}
	}
}

func (c *Core) applyEffect(eff protocol.OutgoingEffect) {
	switch eff.Kind {
	case protocol.EffectPositionModeAll:
		c.axisMode = eff.Mode
		c.extruderMode = eff.Mode
	case protocol.EffectPositionModeExtruderOnly:
		c.extruderMode = eff.Mode
	case protocol.EffectFanSpeedChange:
		c.fanSpeeds[eff.FanIndex] = eff.FanTarget
	case protocol.EffectHomeAxes:
		c.homedAxes = c.homedAxes.Union(eff.Axes)
	}
}

// ManualControlEnabled reports whether manual moves are currently allowed:
// either all linear axes have been homed, or the printer is mid-pause
// (where a manual nudge is how an operator clears a jam before resuming).
func (c *Core) ManualControlEnabled() bool {
	return c.homedAxes.Contains(protocol.AllLinearAxes) || c.state == StatePaused
}

func (c *Core) requireState(allowed ...State) error {
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("core: operation not valid in state %s: %w", c.state, errs.ErrInvalidInput)
}

// Close shuts down the link.
func (c *Core) Close() error {
	return c.link.Close()
}

// Info returns the capability map obtained at connect time.
func (c *Core) Info() map[string]string { return c.caps }

// OpenConsole attaches a new console subscriber.
func (c *Core) OpenConsole() console.ClientChannels { return c.console.Attach() }
