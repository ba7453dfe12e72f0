package evcore

import "time"

// monotonicStart anchors the microsecond deadlines stored on events to
// process start, so they fit comfortably in an int64 and never observe
// a backward jump from wall-clock adjustment.
var monotonicStart = time.Now()

func nowMicros() int64 {
	return time.Since(monotonicStart).Microseconds()
}

func deadlineFor(d time.Duration) int64 {
	return nowMicros() + d.Microseconds()
}
