package behavior

import (
	"fmt"
	"time"
)

// Interval is the width of the buckets of a counter.
type Interval int

const (
	Minutes Interval = iota
	Hours
	Days
	Weeks
	// Months are 28 days.
	Months
	// Years are 365 days.
	Years
)

var intervalNames = []string{"Minutes", "Hours", "Days", "Weeks", "Months", "Years"}

// Intervals lists every Interval.
var Intervals = []Interval{Minutes, Hours, Days, Weeks, Months, Years}

func (i Interval) String() string {
	if i < 0 || int(i) >= len(intervalNames) {
		return fmt.Sprintf("Interval(%d)", int(i))
	}
	return intervalNames[i]
}

// ParseInterval is the inverse of String.
func ParseInterval(s string) (Interval, error) {
	for i, name := range intervalNames {
		if name == s {
			return Interval(i), nil
		}
	}
	return 0, &Error{Reason: fmt.Sprintf("%q is not a valid interval", s)}
}

func (i Interval) MarshalText() ([]byte, error) {
	if i < 0 || int(i) >= len(intervalNames) {
		return nil, &Error{Reason: fmt.Sprintf("bad interval %d", int(i))}
	}
	return []byte(i.String()), nil
}

func (i *Interval) UnmarshalText(bs []byte) error {
	x, err := ParseInterval(string(bs))
	if err != nil {
		return err
	}
	*i = x
	return nil
}

// unit is the fixed length of one interval.
func (i Interval) unit() time.Duration {
	day := 24 * time.Hour
	switch i {
	case Minutes:
		return time.Minute
	case Hours:
		return time.Hour
	case Days:
		return day
	case Weeks:
		return 7 * day
	case Months:
		return 28 * day
	default:
		return 365 * day
	}
}

// Rotations is the number of whole intervals from then to now,
// truncated toward zero.
func (i Interval) Rotations(then, now time.Time) int {
	return int(now.Sub(then) / i.unit())
}

// Duration is the length of n intervals.
func (i Interval) Duration(n int) time.Duration {
	return time.Duration(n) * i.unit()
}
