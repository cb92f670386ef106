package spot

import (
	"regexp"
	"strings"
)

// ukCallsign matches UK callsigns whose regional prefix variants all refer to
// the same operator (e.g. GM/GW/GI are the Scottish/Welsh/Northern Irish
// variants of a G licence). Group 1 is the prefix, group 2 the remainder.
var ukCallsign = regexp.MustCompile(`^(2[DEIJMUW]|G[DIJMUW]?|M[DIJMUW]?)(\d[A-Z]{2,3})$`)

// HomeCallsign derives the canonical root of a callsign for deduplicating
// regional and portable variants: the longest '/'-delimited segment, with UK
// regional prefixes normalized to their 2E/G/M roots for comparison.
func HomeCallsign(callsign string) string {
	longest := ""
	for _, part := range strings.Split(callsign, "/") {
		if len(part) > len(longest) {
			longest = part
		}
	}

	matches := ukCallsign.FindStringSubmatch(longest)
	if matches == nil {
		return longest
	}

	prefix := matches[1]
	switch prefix[0] {
	case '2':
		prefix = "2E"
	case 'G':
		prefix = "G"
	case 'M':
		prefix = "M"
	}
	return prefix + matches[2]
}

// CallsignVariations expands a home callsign into all regional prefix
// variants an operator might appear under. Non-UK callsigns have exactly one
// variant: themselves. Used for known-operator membership checks.
func CallsignVariations(callsign string) []string {
	matches := ukCallsign.FindStringSubmatch(callsign)
	if matches == nil {
		return []string{callsign}
	}

	suffix := matches[2]
	switch matches[1][0] {
	case '2':
		return []string{"2D" + suffix, "2E" + suffix, "2I" + suffix, "2J" + suffix, "2M" + suffix, "2U" + suffix, "2W" + suffix}
	case 'G':
		return []string{"GD" + suffix, "G" + suffix, "GI" + suffix, "GJ" + suffix, "GM" + suffix, "GU" + suffix, "GW" + suffix}
	case 'M':
		return []string{"MD" + suffix, "M" + suffix, "MI" + suffix, "MJ" + suffix, "MM" + suffix, "MU" + suffix, "MW" + suffix}
	}
	return []string{callsign}
}
