package core

import (
	"time"

	"github.com/mfosse/marlinctl/protocol"
)

// JobStatus describes the currently loaded job, if any.
type JobStatus struct {
	Name              string
	PhysicalLine      uint32
	TotalLines        uint32
	CommandLine       uint32
	RemainingEstimate *time.Duration
}

// Status is a point-in-time snapshot of everything a UI needs to render.
// The zero value is what an unattached broker reports: not connected,
// nothing else meaningful.
type Status struct {
	Connected            bool
	State                State
	ManualControlEnabled bool
	Temperatures         []protocol.Temperature
	Position             protocol.Position
	FanSpeeds            map[uint]float64
	HomedAxes            protocol.AxisSet
	Job                  *JobStatus
	Elapsed              time.Duration
}

// GetStatus snapshots the printer's current status.
func (c *Core) GetStatus() Status {
	fans := make(map[uint]float64, len(c.fanSpeeds))
	for k, v := range c.fanSpeeds {
		fans[k] = v
	}
	temps := make([]protocol.Temperature, len(c.temps))
	copy(temps, c.temps)

	st := Status{
		Connected:            c.state != StateDead,
		State:                c.state,
		ManualControlEnabled: c.ManualControlEnabled(),
		Temperatures:         temps,
		Position:             c.position,
		FanSpeeds:            fans,
		HomedAxes:            c.homedAxes,
		Elapsed:              c.elapsed,
	}

	if c.job != nil {
		phys, total := c.job.Progress()
		js := &JobStatus{
			Name:         c.job.Name(),
			PhysicalLine: phys,
			TotalLines:   total,
			CommandLine:  c.job.CurCommandLine(),
		}
		if _, ok := c.job.Duration(); ok {
			remaining := c.job.Remaining(c.job.CurCommandLine(), c.elapsed)
			js.RemainingEstimate = &remaining
		}
		st.Job = js
	}
	return st
}
