// Package trading holds small trading vocabulary shared across packages.
package trading

import "strings"

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// NormalizeSide maps loose user input ("LONG", "buy", " short ") onto a Side.
// Unknown input yields "".
func NormalizeSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return Long
	case "short", "sell":
		return Short
	default:
		return ""
	}
}

func (s Side) Valid() bool { return s == Long || s == Short }

func (s Side) String() string { return string(s) }
