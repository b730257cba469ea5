package sim

import (
	"fmt"
	"time"

	"github.com/mfosse/marlinctl/core"
	"github.com/mfosse/marlinctl/errs"
	"github.com/mfosse/marlinctl/jobreader"
	"github.com/mfosse/marlinctl/protocol"
)

// SetJobFile loads path as the job to print next.
func (s *Sim) SetJobFile(path string) error {
	if err := s.requireState(core.StateConnected, core.StateDone); err != nil {
		return err
	}
	jr, err := jobreader.Open(path)
	if err != nil {
		return err
	}
	if s.job != nil {
		s.job.Close()
	}
	s.job = jr
	s.state = core.StateConnected
	s.lineInterval = lineIntervalFor(jr)
	return nil
}

// lineIntervalFor derives a timing-faithful per-physical-line interval from
// the job's own time metadata (jobreader.JobReader.Duration), falling back
// to DefaultLineInterval when the file carries no ;TIME or ;TIME_ELAPSED
// comment or has too few lines to divide by.
func lineIntervalFor(jr *jobreader.JobReader) time.Duration {
	total, ok := jr.Duration()
	if !ok {
		return DefaultLineInterval
	}
	_, totalLines := jr.Progress()
	if totalLines == 0 {
		return DefaultLineInterval
	}
	return total / time.Duration(totalLines)
}

// Start transitions into Started, resetting the simulated job cursor and
// print timer when starting fresh and restoring position when resuming
// from a pause, the same shape as core.Core.Start.
func (s *Sim) Start() error {
	if err := s.requireState(core.StateConnected, core.StateDone, core.StatePaused); err != nil {
		return err
	}
	if s.job == nil {
		return fmt.Errorf("sim: no job file loaded: %w", errs.ErrInvalidInput)
	}

	switch s.state {
	case core.StateConnected, core.StateDone:
		if s.state == core.StateDone || s.job.CurCommandLine() > 0 {
			if err := s.job.Reset(); err != nil {
				return err
			}
		}
		s.elapsed = 0
	case core.StatePaused:
		s.position = s.savedPosition
		s.axisMode = s.savedAxisMode
		s.extruderMode = s.savedExtMode
	}

	now := time.Now()
	s.lastTick = now
	s.lastLineAdvance = now
	s.state = core.StateStarted
	return nil
}

// Pause saves the current position and transitions into Paused.
func (s *Sim) Pause() error {
	if err := s.requireState(core.StateStarted); err != nil {
		return err
	}
	s.savedPosition = s.position
	s.savedAxisMode = s.axisMode
	s.savedExtMode = s.extruderMode
	s.state = core.StatePaused
	return nil
}

// Stop returns to Connected, zeroing simulated heaters and fans.
func (s *Sim) Stop() error {
	if err := s.requireState(core.StateStarted, core.StatePaused, core.StateDone); err != nil {
		return err
	}
	for fanIdx := range s.fanSpeeds {
		s.fanSpeeds[fanIdx] = 0
	}
	for i := range s.temps {
		s.temps[i].Target = 0
	}
	s.state = core.StateConnected
	return nil
}

// Home marks axes as homed instantly.
func (s *Sim) Home(axes protocol.AxisSet) error {
	if err := s.requireState(core.StateConnected, core.StateDone, core.StatePaused); err != nil {
		return err
	}
	if axes.IsEmpty() {
		axes = protocol.AllLinearAxes
	}
	s.homedAxes = s.homedAxes.Union(axes)
	if s.state == core.StateDone {
		s.state = core.StateConnected
	}
	return nil
}

// MoveRelative applies a bounded manual jog instantly.
func (s *Sim) MoveRelative(pos protocol.Position) error {
	if err := s.requireState(core.StateConnected, core.StateDone, core.StatePaused); err != nil {
		return err
	}
	if !s.ManualControlEnabled() {
		return fmt.Errorf("sim: manual control not enabled: %w", errs.ErrInvalidInput)
	}
	env := s.envelope
	inRange := func(v, max float64) bool { return v >= 0 && v <= max }
	if !inRange(pos.X, env.MaxXYZ) || !inRange(pos.Y, env.MaxXYZ) || !inRange(pos.Z, env.MaxXYZ) || !inRange(pos.E, env.MaxE) {
		return fmt.Errorf("sim: move %+v outside envelope: %w", pos, errs.ErrInvalidInput)
	}
	s.position.X += pos.X
	s.position.Y += pos.Y
	s.position.Z += pos.Z
	s.position.E += pos.E
	return nil
}

// SetTemperature sets one simulated heater's target.
func (s *Sim) SetTemperature(t protocol.TemperatureTarget) error {
	if s.state == core.StateDead {
		return fmt.Errorf("sim: printer is dead: %w", errs.ErrDead)
	}
	if t.Target < 0 || t.Target > 300 {
		return fmt.Errorf("sim: temperature target %.1f out of range: %w", t.Target, errs.ErrInvalidInput)
	}
	for i := range s.temps {
		if s.temps[i].Probe == t.Probe && s.temps[i].Index == t.Index {
			s.temps[i].Target = t.Target
			return nil
		}
	}
	s.temps = append(s.temps, protocol.Temperature{Probe: t.Probe, Index: t.Index, Target: t.Target})
	return nil
}

// SetFanSpeed sets one simulated fan's duty cycle.
func (s *Sim) SetFanSpeed(t protocol.FanSpeedTarget) error {
	if s.state == core.StateDead {
		return fmt.Errorf("sim: printer is dead: %w", errs.ErrDead)
	}
	if t.Target < 0 || t.Target > 1 {
		return fmt.Errorf("sim: fan target %.2f out of range: %w", t.Target, errs.ErrInvalidInput)
	}
	s.fanSpeeds[t.Index] = t.Target
	return nil
}

// Tick advances simulated time: one job line every lineInterval, and a
// small randomized step toward each heater's target every
// TempNudgeInterval. It also bridges any console input the subscriber
// queued, echoing it back as if the firmware itself had replied "ok".
func (s *Sim) Tick(now time.Time) error {
	s.bridgeConsole()

	if now.Sub(s.lastTempNudge) >= TempNudgeInterval {
		s.lastTempNudge = now
		s.nudgeTemperatures()
	}

	if s.state != core.StateStarted {
		return nil
	}
	s.elapsed += now.Sub(s.lastTick)
	s.lastTick = now

	if now.Sub(s.lastLineAdvance) < s.lineInterval {
		return nil
	}
	s.lastLineAdvance = now

	_, text, err := s.job.Next()
	if err != nil {
		s.state = core.StateDead
		return err
	}
	if text == "" {
		s.state = core.StateDone
		return nil
	}
	if eff, ok := protocol.ParseOutgoing(text); ok {
		s.applyEffect(eff)
	}
	s.console.PushRX(text, true)
	s.console.PushRX("ok", false)
	return nil
}

func (s *Sim) applyEffect(eff protocol.OutgoingEffect) {
	switch eff.Kind {
	case protocol.EffectPositionModeAll:
		s.axisMode = eff.Mode
		s.extruderMode = eff.Mode
	case protocol.EffectPositionModeExtruderOnly:
		s.extruderMode = eff.Mode
	case protocol.EffectFanSpeedChange:
		s.fanSpeeds[eff.FanIndex] = eff.FanTarget
	case protocol.EffectHomeAxes:
		s.homedAxes = s.homedAxes.Union(eff.Axes)
	}
}

func (s *Sim) nudgeTemperatures() {
	for i := range s.temps {
		t := &s.temps[i]
		if t.Current == t.Target {
			continue
		}
		step := 0.5 + s.rng.Float64()*0.75
		if t.Current < t.Target {
			t.Current += step
			if t.Current > t.Target {
				t.Current = t.Target
			}
		} else {
			t.Current -= step
			if t.Current < t.Target {
				t.Current = t.Target
			}
		}
	}
}

// bridgeConsole drains any lines a subscriber queued, echoes each one back
// marked as a host echo, and follows it with an "ok" marked as a firmware
// reply, the same wire-shaped loop a real console would see.
func (s *Sim) bridgeConsole() {
	for {
		line, ok := s.console.PopTX()
		if !ok {
			return
		}
		s.console.PushRX(line, true)
		s.console.PushRX("ok", false)
	}
}

// GetStatus snapshots the simulated printer's status.
func (s *Sim) GetStatus() core.Status {
	fans := make(map[uint]float64, len(s.fanSpeeds))
	for k, v := range s.fanSpeeds {
		fans[k] = v
	}
	temps := make([]protocol.Temperature, len(s.temps))
	copy(temps, s.temps)

	st := core.Status{
		Connected:            s.state != core.StateDead,
		State:                s.state,
		ManualControlEnabled: s.ManualControlEnabled(),
		Temperatures:         temps,
		Position:             s.position,
		FanSpeeds:            fans,
		HomedAxes:            s.homedAxes,
		Elapsed:              s.elapsed,
	}
	if s.job != nil {
		phys, total := s.job.Progress()
		js := &core.JobStatus{
			Name:         s.job.Name(),
			PhysicalLine: phys,
			TotalLines:   total,
			CommandLine:  s.job.CurCommandLine(),
		}
		if _, ok := s.job.Duration(); ok {
			remaining := s.job.Remaining(s.job.CurCommandLine(), s.elapsed)
			js.RemainingEstimate = &remaining
		}
		st.Job = js
	}
	return st
}
