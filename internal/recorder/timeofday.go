package recorder

import (
	"fmt"
	"time"
)

const (
	clockLayout = "15:04:05"
	dateLayout  = "2006-01-02"
)

// TimeOfDay is a wall-clock time without a date, to the second.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// ParseTimeOfDay parses an HH:MM:SS string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q: want HH:MM:SS", ErrInvalidStartTime, s)
	}
	return TimeOfDayOf(t), nil
}

// TimeOfDayOf returns the time of day of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
