package cluster

import "time"

// WorkerState tracks a supervised worker process through its lifecycle.
type WorkerState int

const (
	StateForked WorkerState = iota
	StateOnline
	StateListening
	StateDisconnected
	StateExited
)

func (s WorkerState) String() string {
	switch s {
	case StateForked:
		return "forked"
	case StateOnline:
		return "online"
	case StateListening:
		return "listening"
	case StateDisconnected:
		return "disconnected"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// WorkerRecord is the primary's bookkeeping entry for one fork event. A
// replacement fork gets a fresh record (and a fresh readiness relay).
type WorkerRecord struct {
	ID       string
	Index    int
	Pid      int
	ForkedAt time.Time
	State    WorkerState
	Address  string
}

// ExitEvent describes an observed worker exit.
type ExitEvent struct {
	ID     string
	Pid    int
	Code   int
	Signal string
}

// shouldReplace decides whether an exited worker gets a replacement fork.
// Exits that are part of an in-flight shutdown request are final; any
// other exit is self-healed by forking anew.
func shouldReplace(_ ExitEvent, shutdownInFlight bool) bool {
	return !shutdownInFlight
}
