package responder

import "time"

// Clock is the source of the current time for routes that report it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the host wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// TimestampLayout renders microsecond precision with an explicit offset,
// e.g. 2026-10-17T09:30:00.123456Z. Values parse with time.RFC3339Nano.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp converts t to loc and renders it with TimestampLayout.
// A nil loc means UTC.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimestampLayout)
}
