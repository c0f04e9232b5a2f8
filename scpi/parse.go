package scpi

import "strings"

// ParseOnOff maps a boolean-style instrument reply to "off" or "on" by its
// leading digit. Replies that start with neither digit are passed through
// unchanged; callers rely on seeing the raw reply in that case.
func ParseOnOff(reply string) string {
	switch {
	case strings.HasPrefix(reply, "0"):
		return "off"
	case strings.HasPrefix(reply, "1"):
		return "on"
	default:
		return reply
	}
}

// NormalizeToken trims surrounding whitespace and uppercases an enumerated
// reply so it can be matched against a value alias table.
func NormalizeToken(reply string) string {
	return strings.ToUpper(strings.TrimSpace(reply))
}
