package evcore

// EventFlags is the interest/result mask carried by an Event.
type EventFlags uint16

const (
	TIMEOUT        EventFlags = 0x01 // result-only: fired because its deadline elapsed
	READ           EventFlags = 0x02
	WRITE          EventFlags = 0x04
	SIGNAL         EventFlags = 0x08
	PERSIST        EventFlags = 0x10
	EDGE_TRIGGERED EventFlags = 0x20
	FINALIZE       EventFlags = 0x40
	CLOSED         EventFlags = 0x80
)

// interestMask is the subset of flags that can be requested from a
// backend; TIMEOUT/FINALIZE never reach the backend.
const interestMask = READ | WRITE | CLOSED | EDGE_TRIGGERED

func (f EventFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	names := []struct {
		bit  EventFlags
		name string
	}{
		{TIMEOUT, "TIMEOUT"},
		{READ, "READ"},
		{WRITE, "WRITE"},
		{SIGNAL, "SIGNAL"},
		{PERSIST, "PERSIST"},
		{EDGE_TRIGGERED, "ET"},
		{FINALIZE, "FINALIZE"},
		{CLOSED, "CLOSED"},
	}
	s := ""
	for _, n := range names {
		if f&n.bit == n.bit {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// lifecycle is the event's own state-machine flag, kept distinct from
// EventFlags because the two occupy separate bit-space entirely.
type lifecycle uint8

const (
	lcInit lifecycle = iota
	lcInserted
	lcActive
	lcActiveLater
	lcFinalizing
)

// internal is an orthogonal bit, not part of the lifecycle enum: it
// marks events the library itself owns (bucket heads, the base's
// self-pipe wakeup event) and excludes them from "is the base empty"
// checks.
