package protocol

import (
	"regexp"
	"strings"
)

var capTokenRegex = regexp.MustCompile(`[A-Z]+(_[A-Z]+)*:`)

// ParseCapabilities parses an M115 reply into a flat key/value map: the
// first line is scanned for KEY: tokens, the value of each running to the
// byte before the next token; subsequent "Cap:KEY:VALUE" lines are parsed
// as colon-separated pairs with the leading "Cap" token dropped.
func ParseCapabilities(reply string) map[string]string {
	caps := make(map[string]string)
	lines := strings.Split(reply, "\n")
	if len(lines) == 0 {
		return caps
	}

	first := lines[0]
	idxs := capTokenRegex.FindAllStringIndex(first, -1)
	for i, loc := range idxs {
		key := strings.TrimSuffix(first[loc[0]:loc[1]], ":")
		valStart := loc[1]
		var valEnd int
		if i+1 < len(idxs) {
			valEnd = idxs[i+1][0] - 1
			if valEnd < valStart {
				valEnd = valStart
			}
		} else {
			valEnd = len(first)
		}
		caps[key] = strings.TrimSpace(first[valStart:valEnd])
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Cap") {
			continue
		}
		parts := strings.Split(line, ":")
		var kv []string
		for _, p := range parts {
			if p != "Cap" {
				kv = append(kv, p)
			}
		}
		if len(kv) != 2 {
			continue
		}
		caps[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return caps
}

// IsAcceptableFirmware reports whether the parsed capability map came from
// a Marlin-family firmware this controller knows how to drive.
func IsAcceptableFirmware(caps map[string]string) bool {
	name, ok := caps["FIRMWARE_NAME"]
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(name), "marlin")
}
