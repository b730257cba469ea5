package protocol

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mfosse/marlinctl/errs"
)

var (
	tempRegex      = regexp.MustCompile(`([TBCPLR])([0-9]?):(-?[0-9]+\.[0-9]+) */(-?[0-9]+\.[0-9]+)`)
	dutyRegex      = regexp.MustCompile(`([BC]?)@([0-9]?):([0-9]+)`)
	residencyRegex = regexp.MustCompile(`W:(\?|[0-9]+)`)
	posRegex       = regexp.MustCompile(`([XYZE]):(-?[0-9]+\.[0-9]+)`)
	nackRegex      = regexp.MustCompile(`Last Line:\s*(-?[0-9]+)`)
)

// ParseRX parses one inbound line from the printer into a Response. A blank
// line or a redundant "Resend:" echo yields RespNone with no error. A line
// that matches none of the known shapes is InvalidData.
func ParseRX(line string) (Response, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Response{Kind: RespNone}, nil
	}
	if strings.Contains(trimmed, "Resend:") {
		return Response{Kind: RespNone}, nil
	}
	if strings.HasPrefix(trimmed, "ok") {
		return Response{Kind: RespOK}, nil
	}
	if strings.Contains(trimmed, "busy:") {
		return Response{Kind: RespBusy}, nil
	}
	if m := nackRegex.FindStringSubmatch(trimmed); m != nil {
		last, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Response{}, fmt.Errorf("protocol: parsing nack line %q: %w: %v", line, errs.ErrInvalidData, err)
		}
		return Response{Kind: RespNack, ExpectedLine: uint32(last + 1)}, nil
	}
	if strings.HasPrefix(trimmed, "T:") || strings.Contains(trimmed, " T:") {
		return parseTemperatureLine(trimmed)
	}
	if strings.HasPrefix(trimmed, "X:") {
		return parsePositionLine(trimmed)
	}
	return Response{}, fmt.Errorf("protocol: unrecognized line %q: %w", line, errs.ErrInvalidData)
}

func parseTemperatureLine(line string) (Response, error) {
	matches := tempRegex.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return Response{}, fmt.Errorf("protocol: no temperature tokens in %q: %w", line, errs.ErrInvalidData)
	}

	temps := make([]Temperature, 0, len(matches))
	type key struct {
		p Probe
		i uint
	}
	idx := make(map[key]int, len(matches))
	for _, m := range matches {
		probe := probeFromLetter(m[1][0])
		var index uint
		if m[2] != "" {
			n, _ := strconv.ParseUint(m[2], 10, 32)
			index = uint(n)
		}
		cur, _ := strconv.ParseFloat(m[3], 64)
		tgt, _ := strconv.ParseFloat(m[4], 64)
		idx[key{probe, index}] = len(temps)
		temps = append(temps, Temperature{Probe: probe, Index: index, Current: cur, Target: tgt})
	}

	for _, m := range dutyRegex.FindAllStringSubmatch(line, -1) {
		var probe Probe
		switch m[1] {
		case "B":
			probe = ProbeBed
		case "C":
			probe = ProbeChamber
		default:
			probe = ProbeHotEnd
		}
		var index uint
		if m[2] != "" {
			n, _ := strconv.ParseUint(m[2], 10, 32)
			index = uint(n)
		}
		duty, _ := strconv.ParseUint(m[3], 10, 32)
		if i, ok := idx[key{probe, index}]; ok {
			temps[i].Duty = math.Min(1, float64(duty)/127.0)
		}
	}

	var residency *uint32
	if m := residencyRegex.FindStringSubmatch(line); m != nil && m[1] != "?" {
		n, _ := strconv.ParseUint(m[1], 10, 32)
		v := uint32(n)
		residency = &v
	}

	return Response{Kind: RespTemperature, Temperatures: temps, Residency: residency}, nil
}

func parsePositionLine(line string) (Response, error) {
	matches := posRegex.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return Response{}, fmt.Errorf("protocol: no position tokens in %q: %w", line, errs.ErrInvalidData)
	}
	var pos Position
	for _, m := range matches {
		v, _ := strconv.ParseFloat(m[2], 64)
		switch m[1] {
		case "X":
			pos.X = v
		case "Y":
			pos.Y = v
		case "Z":
			pos.Z = v
		case "E":
			pos.E = v
		}
	}
	return Response{Kind: RespPosition, Position: pos}, nil
}
