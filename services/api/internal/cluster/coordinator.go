package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerHandle is the primary's grip on one spawned worker process.
type WorkerHandle interface {
	ID() string
	Pid() int
	// Send delivers a control message on the worker's stdin channel.
	Send(msg ControlMessage) error
	Kill() error
}

// EventSink receives worker lifecycle events. The Coordinator implements
// it; spawners must invoke it from their own goroutines, never from
// inside the spawn call.
type EventSink interface {
	WorkerOnline(id string)
	WorkerListening(id string, addr string)
	WorkerMessage(id string, msg string)
	WorkerDisconnected(id string)
	WorkerExited(id string, code int, signal string)
}

// SpawnFunc forks a worker process and wires its pipes to the sink.
type SpawnFunc func(index int, id string, sink EventSink) (WorkerHandle, error)

// ShutdownRequest is the in-flight, de-duplicated intent to stop the
// fleet and then the primary.
type ShutdownRequest struct {
	Reason   string
	ExitCode int
}

// Options configures a Coordinator. Zero values pick production defaults.
type Options struct {
	// Workers is the fleet size; 0 means one per logical CPU.
	Workers int
	// ShutdownWait bounds the graceful-shutdown broadcast wait, after
	// which the primary force-exits regardless of worker confirmation.
	ShutdownWait time.Duration
	Spawn        SpawnFunc
	// Exit terminates the primary process. Defaults to os.Exit.
	Exit   func(code int)
	Logger *slog.Logger
}

const defaultShutdownWait = 10 * time.Second

// Coordinator supervises the worker fleet around the single bootstrap
// event. All bookkeeping is instance state touched under one mutex, so
// event handling is strictly sequential; cross-process coordination
// happens only through the pipe channel.
type Coordinator struct {
	boot    *Bootstrap
	spawn   SpawnFunc
	workers int
	wait    time.Duration
	exitFn  func(int)
	log     *slog.Logger

	mu        sync.Mutex
	records   map[string]*WorkerRecord
	handles   map[string]WorkerHandle
	pending   map[string]bool // readiness relay owed for this fork event
	connected map[string]bool // control channel still open

	shutdownActive atomic.Bool
	shutdown       ShutdownRequest
	timer          *time.Timer
	exitOnce       sync.Once
}

func NewCoordinator(boot *Bootstrap, opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wait := opts.ShutdownWait
	if wait <= 0 {
		wait = defaultShutdownWait
	}
	exitFn := opts.Exit
	if exitFn == nil {
		exitFn = os.Exit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		boot:      boot,
		spawn:     opts.Spawn,
		workers:   workers,
		wait:      wait,
		exitFn:    exitFn,
		log:       logger.With("label", "primary"),
		records:   make(map[string]*WorkerRecord),
		handles:   make(map[string]WorkerHandle),
		pending:   make(map[string]bool),
		connected: make(map[string]bool),
	}
}

// Start runs the bootstrap and, on success, forks the initial fleet. A
// bootstrap failure is terminal: no workers are forked and the caller is
// expected to exit non-zero.
func (c *Coordinator) Start(ctx context.Context) error {
	info, err := c.boot.Connect(ctx)
	if err != nil {
		return fmt.Errorf("dependency bootstrap failed: %w", err)
	}
	c.log.Info("database connected", "uri", info.URI, "database", info.Database)

	for i := 0; i < c.workers; i++ {
		if err := c.fork(i); err != nil {
			return fmt.Errorf("forking worker %d: %w", i, err)
		}
	}
	c.log.Info("worker fleet forked", "count", c.workers)
	return nil
}

// fork spawns one worker and records it. Called without the mutex held:
// spawners report events from their own goroutines and those land back
// here under the mutex.
func (c *Coordinator) fork(index int) error {
	id := uuid.NewString()
	handle, err := c.spawn(index, id, c)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.records[id] = &WorkerRecord{
		ID:       id,
		Index:    index,
		Pid:      handle.Pid(),
		ForkedAt: time.Now(),
		State:    StateForked,
	}
	c.handles[id] = handle
	c.pending[id] = true
	c.connected[id] = true
	c.mu.Unlock()

	c.log.Info("worker forked", "worker", id, "index", index, "pid", handle.Pid())
	return nil
}

// WorkerOnline relays readiness to a freshly forked worker. The relay is
// per fork event, not per process: a replacement worker is told again.
func (c *Coordinator) WorkerOnline(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return
	}
	if rec.State == StateForked {
		rec.State = StateOnline
	}
	if c.pending[id] {
		delete(c.pending, id)
		if err := c.handles[id].Send(ControlMessage{Type: ControlDatabaseConnected}); err != nil {
			c.log.Error("failed to relay readiness", "worker", id, "error", err)
			return
		}
		c.log.Info("readiness relayed", "worker", id)
	}
}

// WorkerListening records the bound address. Event ordering across pipes
// is not globally synchronized, so this tolerates arriving while online
// bookkeeping is still pending.
func (c *Coordinator) WorkerListening(id string, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return
	}
	rec.State = StateListening
	rec.Address = addr
	c.log.Info("worker listening", "worker", id, "address", addr)
}

// WorkerMessage logs an application-level message from a worker. The
// primary does not interpret these.
func (c *Coordinator) WorkerMessage(id string, msg string) {
	c.log.Info("worker message", "worker", id, "message", msg)
}

// WorkerDisconnected records the lost control channel. Log only: a
// disconnect is expected to be followed by an exit event, which does
// trigger corrective action.
func (c *Coordinator) WorkerDisconnected(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The disconnect and exit events arrive from separate pipe goroutines,
	// so the exit may already have removed the worker. Writing bookkeeping
	// for an unknown id would leak one entry per replaced worker.
	rec, ok := c.records[id]
	if !ok {
		return
	}
	c.connected[id] = false
	if rec.State != StateExited {
		rec.State = StateDisconnected
		c.log.Warn("worker channel disconnected", "worker", id)
	}
}

// WorkerExited removes the worker from the active set and either forks a
// replacement (self-healing) or, during a shutdown request, lets the
// fleet wind down.
func (c *Coordinator) WorkerExited(id string, code int, signal string) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	rec.State = StateExited
	index := rec.Index
	delete(c.records, id)
	delete(c.handles, id)
	delete(c.pending, id)
	delete(c.connected, id)
	remaining := len(c.records)

	inFlight := c.shutdownActive.Load()
	// Snapshot the request while the mutex is held: Shutdown writes it
	// under the same mutex, and the last exit must observe the real code.
	req := c.shutdown
	exit := ExitEvent{ID: id, Pid: rec.Pid, Code: code, Signal: signal}
	replace := shouldReplace(exit, inFlight)
	c.mu.Unlock()

	c.log.Warn("worker exited", "worker", id, "code", code, "signal", signal, "replacing", replace)

	if replace {
		if err := c.fork(index); err != nil {
			c.log.Error("failed to fork replacement worker", "index", index, "error", err)
		}
		return
	}
	if inFlight && remaining == 0 {
		c.log.Info("all workers stopped", "reason", req.Reason)
		c.exitNow(req.ExitCode)
	}
}

// Shutdown broadcasts SHUTDOWN to every connected worker and arms the
// bounded wait. Guarded to run at most once: signals, uncaught faults and
// async faults all funnel here, and only the first trigger acts.
func (c *Coordinator) Shutdown(reason string, exitCode int) {
	c.mu.Lock()
	// The flag flips under the mutex so an exit event never observes it
	// set before the request itself is recorded.
	if !c.shutdownActive.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.log.Info("shutdown already in flight", "reason", reason)
		return
	}
	c.shutdown = ShutdownRequest{Reason: reason, ExitCode: exitCode}
	c.log.Warn("shutting down", "reason", reason, "exit_code", exitCode, "workers", len(c.records))

	for id, handle := range c.handles {
		if !c.connected[id] {
			continue
		}
		if err := handle.Send(ControlMessage{Type: ControlShutdown, ExitCode: exitCode}); err != nil {
			c.log.Error("failed to send shutdown", "worker", id, "error", err)
		}
	}

	if len(c.records) == 0 {
		c.mu.Unlock()
		c.exitNow(exitCode)
		return
	}

	// A hung worker must never block restart tooling indefinitely.
	c.timer = time.AfterFunc(c.wait, func() {
		c.log.Error("graceful shutdown timed out, force exiting", "wait", c.wait)
		c.exitNow(exitCode)
	})
	c.mu.Unlock()
}

// Fail reports a primary-side fault (uncaught panic or an asynchronous
// error surfaced by a background goroutine).
func (c *Coordinator) Fail(err error) {
	c.Shutdown(fmt.Sprintf("fault: %v", err), 1)
}

func (c *Coordinator) exitNow(code int) {
	c.exitOnce.Do(func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()
		c.exitFn(code)
	})
}
