// Package cluster implements the process-supervision core: a primary
// process that owns the database bootstrap, forks one worker per logical
// CPU, relays readiness, and drives graceful drain-on-shutdown.
//
// The primary and its workers talk over the child's standard pipes as
// newline-delimited JSON: control messages travel primary->worker on the
// worker's stdin, lifecycle events travel worker->primary on its stdout.
// Worker logs go to stderr and are passed through untouched.
package cluster

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ControlType identifies a primary->worker instruction.
type ControlType string

const (
	// ControlDatabaseConnected grants a worker permission to open its
	// listener: the shared database connection is up.
	ControlDatabaseConnected ControlType = "DATABASE_CONNECTED"
	// ControlShutdown instructs a worker to drain and exit.
	ControlShutdown ControlType = "SHUTDOWN"
)

// ControlMessage is one line on a worker's stdin.
type ControlMessage struct {
	Type ControlType `json:"type"`
	// ExitCode accompanies SHUTDOWN: the code the worker should exit with.
	ExitCode int `json:"exitCode,omitempty"`
}

// EventType identifies a worker->primary lifecycle event.
type EventType string

const (
	// EventOnline is emitted once the worker's runtime is up and its
	// control channel is being read.
	EventOnline EventType = "online"
	// EventListening is emitted after the worker's listener is bound.
	EventListening EventType = "listening"
	// EventLog carries an arbitrary observability message.
	EventLog EventType = "log"
)

// Event is one line on a worker's stdout.
type Event struct {
	Type    EventType `json:"event"`
	Address string    `json:"address,omitempty"`
	Message string    `json:"message,omitempty"`
}

// lineWriter serializes newline-delimited JSON writes. Both sides of the
// channel write complete lines; the mutex keeps concurrent senders from
// interleaving mid-line.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (lw *lineWriter) write(v any) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.enc.Encode(v)
}

// readControls scans newline-delimited control messages until EOF or a
// read error, invoking fn for each. Messages are delivered strictly in
// order, one handled to completion before the next is read.
func readControls(r io.Reader, fn func(ControlMessage)) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var msg ControlMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return fmt.Errorf("malformed control message %q: %w", line, err)
		}
		fn(msg)
	}
	return s.Err()
}

// readEvents scans a worker's stdout until EOF. JSON lines are decoded as
// lifecycle events; anything else is forwarded as a log event so a stray
// print inside a worker never breaks the channel.
func readEvents(r io.Reader, fn func(Event)) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev.Type == "" {
			fn(Event{Type: EventLog, Message: line})
			continue
		}
		fn(ev)
	}
	return s.Err()
}
