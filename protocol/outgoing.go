package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mfosse/marlinctl/errs"
)

// GenEnableTemperatureReports returns the command that makes the firmware
// push unsolicited temperature lines at the given interval.
func GenEnableTemperatureReports(interval time.Duration) []string {
	return []string{fmt.Sprintf("M155 S%d", int(interval.Seconds()))}
}

// GenResetLineNumber returns the command telling the firmware to expect the
// next framed line to carry lineNo+1.
func GenResetLineNumber(lineNo uint32) []string {
	return []string{fmt.Sprintf("M110 N%d", lineNo)}
}

// GenHome returns the enable-steppers and homing commands for axes. An
// empty AxisSet means "home everything".
func GenHome(axes AxisSet) []string {
	letters := axes.Letters()
	if len(letters) == 0 {
		return []string{"M17", "G28"}
	}
	return []string{"M17", "G28 " + strings.Join(letters, " ")}
}

var tempCode = map[Probe]string{
	ProbeHotEnd:  "M104",
	ProbeBed:     "M140",
	ProbeChamber: "M141",
	ProbeCooler:  "M143",
}

// GenSetTemperature returns the command to set one heater's target. Probes
// outside {HotEnd, Bed, Chamber, Cooler} are refused: an empty slice and a
// wrapped errs.ErrInvalidInput are returned.
func GenSetTemperature(t TemperatureTarget) ([]string, error) {
	code, ok := tempCode[t.Probe]
	if !ok {
		return nil, fmt.Errorf("protocol: probe %d cannot take a temperature target: %w", t.Probe, errs.ErrInvalidInput)
	}
	if t.Probe == ProbeHotEnd {
		return []string{fmt.Sprintf("%s T%d S%d", code, t.Index, int(math.Round(t.Target)))}, nil
	}
	return []string{fmt.Sprintf("%s S%d", code, int(math.Round(t.Target)))}, nil
}

// GenRelativeMove returns the command sequence for a manual relative jog:
// switch to relative mode, issue the move, then restore whichever of the
// two independent position modes (linear axes, extruder) was previously
// absolute. A mode that was already relative needs no restore, since the
// move itself left it relative.
func GenRelativeMove(pos Position, priorAxisMode, priorExtruderMode PositionMode) []string {
	cmds := []string{
		"G91",
		fmt.Sprintf("G1 E%s X%s Y%s Z%s", fmtMM(pos.E), fmtMM(pos.X), fmtMM(pos.Y), fmtMM(pos.Z)),
	}
	if priorAxisMode == Absolute {
		cmds = append(cmds, "G90")
	}
	if priorExtruderMode == Absolute {
		cmds = append(cmds, "M82")
	}
	return cmds
}

func fmtMM(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}

// GenFanSpeed returns the command to set one fan's duty cycle. A target at
// or below zero emits the off command instead of M106 S0, matching how the
// firmware's own status line distinguishes "off" (M107) from "lowest duty"
// (M106 S0).
func GenFanSpeed(t FanSpeedTarget) []string {
	if t.Target <= 0 {
		return []string{fmt.Sprintf("M107 P%d", t.Index)}
	}
	speed := int(math.Round(math.Min(1, t.Target) * 255))
	return []string{fmt.Sprintf("M106 P%d S%d", t.Index, speed)}
}

// GenStop returns the print-stop command: M112 for an emergency stop, M0
// for a graceful one.
func GenStop(emergency bool) []string {
	if emergency {
		return []string{"M112"}
	}
	return []string{"M0"}
}

// GenSavePosition returns the command that queries the live position,
// which the caller folds into its own state via the resulting
// RespPosition reply rather than any local bookkeeping here.
func GenSavePosition() []string { return []string{"M114"} }

// GenRestorePosition returns the command that un-retracts the extruder
// after a pause-induced retraction.
func GenRestorePosition() []string { return []string{"G11"} }

// ParseOutgoing inspects a raw outbound command (before framing) and
// reports any side effect the host should mirror locally without waiting
// for a reply. The second return value is false when the command has no
// recognized side effect.
func ParseOutgoing(cmd string) (OutgoingEffect, bool) {
	trimmed := strings.TrimSpace(cmd)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return OutgoingEffect{}, false
	}
	switch fields[0] {
	case "G90":
		return OutgoingEffect{Kind: EffectPositionModeAll, Mode: Absolute}, true
	case "G91":
		return OutgoingEffect{Kind: EffectPositionModeAll, Mode: Relative}, true
	case "M82":
		return OutgoingEffect{Kind: EffectPositionModeExtruderOnly, Mode: Absolute}, true
	case "M83":
		return OutgoingEffect{Kind: EffectPositionModeExtruderOnly, Mode: Relative}, true
	case "M106":
		idx, speed := uint(0), 255
		for _, f := range fields[1:] {
			switch {
			case strings.HasPrefix(f, "P"):
				if n, err := strconv.ParseUint(f[1:], 10, 32); err == nil {
					idx = uint(n)
				}
			case strings.HasPrefix(f, "S"):
				if n, err := strconv.Atoi(f[1:]); err == nil {
					speed = n
				}
			}
		}
		return OutgoingEffect{Kind: EffectFanSpeedChange, FanIndex: idx, FanTarget: float64(speed) / 255.0}, true
	case "M107":
		idx := uint(0)
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "P") {
				if n, err := strconv.ParseUint(f[1:], 10, 32); err == nil {
					idx = uint(n)
				}
			}
		}
		return OutgoingEffect{Kind: EffectFanSpeedChange, FanIndex: idx, FanTarget: 0}, true
	case "G28":
		var axes AxisSet
		for _, f := range fields[1:] {
			switch f {
			case "X":
				axes = axes.Union(AxisSet(AxisX))
			case "Y":
				axes = axes.Union(AxisSet(AxisY))
			case "Z":
				axes = axes.Union(AxisSet(AxisZ))
			}
		}
		if axes.IsEmpty() {
			axes = AllLinearAxes
		}
		return OutgoingEffect{Kind: EffectHomeAxes, Axes: axes}, true
	default:
		return OutgoingEffect{}, false
	}
}
