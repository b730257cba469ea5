package core

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mfosse/marlinctl/errs"
	"github.com/mfosse/marlinctl/jobreader"
	"github.com/mfosse/marlinctl/link"
	"github.com/mfosse/marlinctl/protocol"
)

// SetJobFile loads path as the job to print next. Valid from Connected or
// Done; resets the streaming cursor. Nothing is sent to the printer here:
// its line-number expectation is reset by Start before streaming begins.
func (c *Core) SetJobFile(path string) error {
	if err := c.requireState(StateConnected, StateDone); err != nil {
		return err
	}
	jr, err := jobreader.Open(path)
	if err != nil {
		return err
	}
	if c.job != nil {
		c.job.Close()
	}
	c.job = jr
	c.jobPath = path
	c.state = StateConnected
	return nil
}

// Start transitions Connected/Done/Paused into Started, streaming from the
// beginning for Connected/Done and resuming in place for Paused.
func (c *Core) Start() error {
	if err := c.requireState(StateConnected, StateDone, StatePaused); err != nil {
		return err
	}
	if c.job == nil {
		return fmt.Errorf("core: no job file loaded: %w", errs.ErrInvalidInput)
	}

	switch c.state {
	case StateConnected, StateDone:
		// A cursor past zero means a previous print was stopped mid-stream;
		// starting again replays the job from the top either way.
		if c.state == StateDone || c.job.CurCommandLine() > 0 {
			if err := c.job.Reset(); err != nil {
				return err
			}
		}
		if err := c.sendAllAndWait(protocol.GenResetLineNumber(0)); err != nil {
			return err
		}
		c.elapsed = 0
	case StatePaused:
		cmds := []string{"G90"}
		cmds = append(cmds, fmt.Sprintf("G1 X%s Y%s Z%s", fmtCoord(c.savedPosition.X), fmtCoord(c.savedPosition.Y), fmtCoord(c.savedPosition.Z)))
		cmds = append(cmds, protocol.GenRestorePosition()...)
		if c.savedAxisMode == protocol.Relative {
			cmds = append(cmds, "G91")
		}
		if c.savedExtMode == protocol.Relative {
			cmds = append(cmds, "M83")
		}
		if err := c.sendAllAndWait(cmds); err != nil {
			return err
		}
	}

	c.lastTick = time.Now()
	c.state = StateStarted
	return nil
}

func fmtCoord(v float64) string {
	return fmt.Sprintf("%.5f", v)
}

// Pause queries the live position, retracts the extruder, and transitions
// Started into Paused.
func (c *Core) Pause() error {
	if err := c.requireState(StateStarted); err != nil {
		return err
	}
	if err := c.sendAllAndWait(protocol.GenSavePosition()); err != nil {
		return err
	}
	c.savedPosition = c.position
	c.savedAxisMode = c.axisMode
	c.savedExtMode = c.extruderMode

	retract := protocol.GenRelativeMove(protocol.Position{E: -DefaultRetractMM}, c.axisMode, c.extruderMode)
	if err := c.sendAllAndWait(retract); err != nil {
		return err
	}

	c.state = StatePaused
	return nil
}

// Stop halts printing and returns to Connected, silencing any
// in-progress motion, heaters, and fans the controller knows about.
func (c *Core) Stop() error {
	if err := c.requireState(StateStarted, StatePaused, StateDone); err != nil {
		return err
	}
	if c.isBusy {
		if err := c.sendAllAndWait(protocol.GenStop(false)); err != nil {
			return err
		}
	}
	if _, ok := c.fanSpeeds[0]; !ok {
		// The part-cooling fan may never have been commanded through us;
		// turn it off anyway.
		c.fanSpeeds[0] = 0
	}
	for fanIdx := range c.fanSpeeds {
		if err := c.sendAllAndWait(protocol.GenFanSpeed(protocol.FanSpeedTarget{Index: fanIdx, Target: 0})); err != nil {
			return err
		}
	}
	for _, t := range c.temps {
		cmds, err := protocol.GenSetTemperature(protocol.TemperatureTarget{Probe: t.Probe, Index: t.Index, Target: 0})
		if err != nil {
			continue
		}
		if err := c.sendAllAndWait(cmds); err != nil {
			return err
		}
	}
	c.state = StateConnected
	return nil
}

// Home homes axes (empty means all). The axes are marked homed by the
// outbound tap as the G28 command is sent, before the printer replies.
// Valid any time manual motion would otherwise be allowed.
func (c *Core) Home(axes protocol.AxisSet) error {
	if err := c.requireState(StateConnected, StateDone, StatePaused); err != nil {
		return err
	}
	if err := c.sendAllAndWait(protocol.GenHome(axes)); err != nil {
		return err
	}
	if c.state == StateDone {
		c.state = StateConnected
	}
	return nil
}

// MoveRelative issues a bounded manual jog. Requires manual control to be
// currently enabled.
func (c *Core) MoveRelative(pos protocol.Position) error {
	if err := c.requireState(StateConnected, StateDone, StatePaused); err != nil {
		return err
	}
	if !c.ManualControlEnabled() {
		return fmt.Errorf("core: manual control not enabled: %w", errs.ErrInvalidInput)
	}
	if !withinEnvelope(pos, c.envelope) {
		return fmt.Errorf("core: move %+v outside envelope %+v: %w", pos, c.envelope, errs.ErrInvalidInput)
	}
	return c.sendAllAndWait(protocol.GenRelativeMove(pos, c.axisMode, c.extruderMode))
}

func withinEnvelope(pos protocol.Position, env MoveEnvelope) bool {
	inRange := func(v, max float64) bool { return v >= 0 && v <= max }
	return inRange(pos.X, env.MaxXYZ) && inRange(pos.Y, env.MaxXYZ) && inRange(pos.Z, env.MaxXYZ) && inRange(pos.E, env.MaxE)
}

// SetTemperature sets one heater's target. Valid in any state but Dead.
func (c *Core) SetTemperature(t protocol.TemperatureTarget) error {
	if c.state == StateDead {
		return fmt.Errorf("core: printer is dead: %w", errs.ErrDead)
	}
	if t.Target < 0 || t.Target > 300 {
		return fmt.Errorf("core: temperature target %.1f out of range: %w", t.Target, errs.ErrInvalidInput)
	}
	cmds, err := protocol.GenSetTemperature(t)
	if err != nil {
		return err
	}
	return c.sendAllAndWait(cmds)
}

// SetFanSpeed sets one fan's duty cycle. Valid in any state but Dead.
func (c *Core) SetFanSpeed(t protocol.FanSpeedTarget) error {
	if c.state == StateDead {
		return fmt.Errorf("core: printer is dead: %w", errs.ErrDead)
	}
	if t.Target < 0 || t.Target > 1 {
		return fmt.Errorf("core: fan target %.2f out of range: %w", t.Target, errs.ErrInvalidInput)
	}
	return c.sendAllAndWait(protocol.GenFanSpeed(t))
}

// Tick advances the printer by one unit of work: a console line queued by
// the subscriber is forwarded first, then, while printing, either inbound
// replies are drained (when a command is outstanding) or the next job line
// is streamed. Idle states still drain, so unsolicited temperature reports
// keep the status cache warm between prints.
func (c *Core) Tick(now time.Time) error {
	if c.state == StateDead {
		return nil
	}

	if c.state == StateStarted {
		c.elapsed += now.Sub(c.lastTick)
		c.lastTick = now
	}

	if line, ok := c.console.PopTX(); ok {
		return c.sendAndWait(line, nil)
	}

	if c.state != StateStarted || c.isBusy {
		return c.drainNonBlocking()
	}

	cmdLine, text, err := c.job.Next()
	if err != nil {
		c.state = StateDead
		return err
	}
	if text == "" {
		c.state = StateDone
		return nil
	}
	ln := cmdLine
	return c.sendAndWait(text, &ln)
}

// drainNonBlocking makes one non-blocking read attempt, when idle or while
// a streamed command is outstanding, folding any reply seen into local
// state.
func (c *Core) drainNonBlocking() error {
	line, err := c.link.ReadLine()
	if err != nil {
		if errors.Is(err, link.ErrTimeout) {
			return nil
		}
		c.state = StateDead
		return err
	}
	c.console.PushRX(line, false)

	resp, perr := protocol.ParseRX(line)
	if perr != nil {
		if errors.Is(perr, errs.ErrInvalidData) {
			log.Printf("core: ignoring unparsable line %q: %v", line, perr)
			return nil
		}
		c.state = StateDead
		return perr
	}

	switch resp.Kind {
	case protocol.RespOK:
		c.isBusy = false
	case protocol.RespBusy:
		c.isBusy = true
	case protocol.RespTemperature:
		c.mergeTemperatures(resp.Temperatures)
	case protocol.RespPosition:
		c.position = resp.Position
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
	}
	return nil
}
