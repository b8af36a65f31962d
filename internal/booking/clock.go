package booking

import (
	"encoding/json"
	"fmt"
	"time"
)

// Clock is a time of day with second precision, stored as seconds after midnight.
type Clock int

const (
	clockLayout      = "15:04:05"
	clockShortLayout = "15:04"
	secondsPerDay    = 24 * 60 * 60
)

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{clockLayout, clockShortLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM or HH:MM:SS)", s)
}

// ClockOf takes the wall-clock part of t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func NewClock(hour, minute, second int) Clock {
	return Clock(hour*3600 + minute*60 + second)
}

func (c Clock) Valid() bool { return c >= 0 && c < secondsPerDay }

func (c Clock) Hour() int { return int(c) / 3600 }
func (c Clock) Minute() int { return int(c) % 3600 / 60 }
func (c Clock) Second() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour(), c.Minute(), c.Second())
}

// HHMM drops the seconds.
func (c Clock) HHMM() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Duration is the offset from midnight.
func (c Clock) Duration() time.Duration { return time.Duration(c) * time.Second }

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
