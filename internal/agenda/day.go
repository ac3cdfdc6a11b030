package agenda

import (
	"fmt"
	"strings"
)

// Day is the calendar day an agenda pertains to.
type Day int

const (
	Today Day = iota
	Tomorrow
)

// LastOrder is the lookup order used when asking for "the last plan".
var LastOrder = []Day{Today, Tomorrow}

// ParseDay accepts "today" or "tomorrow" in any case. An empty value means Today.
func ParseDay(s string) (Day, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return Today, nil
	case "tomorrow":
		return Tomorrow, nil
	default:
		return Today, fmt.Errorf("unknown day %q", s)
	}
}

// String returns the wire name of the day bucket.
func (d Day) String() string {
	switch d {
	case Today:
		return "today"
	case Tomorrow:
		return "tomorrow"
	default:
		return fmt.Sprintf("day(%d)", int(d))
	}
}

// Label is the human form used inside agenda messages ("План на сегодня").
func (d Day) Label() string {
	switch d {
	case Tomorrow:
		return "завтра"
	default:
		return "сегодня"
	}
}
