package cluster

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Phase is a worker's position in its lifecycle state machine.
type Phase int

const (
	PhaseWaitingForReadiness Phase = iota
	PhaseServing
	PhaseDraining
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForReadiness:
		return "waiting-for-readiness"
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// InputKind is an event fed to the worker state machine.
type InputKind int

const (
	InputDatabaseConnected InputKind = iota
	InputShutdown
	InputFault
)

// Input is one state-machine event with the exit code it carries.
type Input struct {
	Kind InputKind
	// ExitCode applies to InputShutdown; faults always exit 1.
	ExitCode int
}

// Effect is the side effect a transition demands of the runtime.
type Effect int

const (
	EffectNone Effect = iota
	EffectStartListener
	// EffectDrain stops accepting connections, finishes in-flight work
	// bounded by the drain timeout, then exits.
	EffectDrain
	// EffectExitImmediately skips the drain: nothing is serving yet.
	EffectExitImmediately
)

// handleInput is the pure transition function. Keeping it free of side
// effects makes every transition testable without processes or signals.
func handleInput(phase Phase, in Input) (Phase, Effect, int) {
	switch phase {
	case PhaseWaitingForReadiness:
		switch in.Kind {
		case InputDatabaseConnected:
			return PhaseServing, EffectStartListener, 0
		case InputShutdown:
			// Shutdown raced against startup: no listener was ever
			// opened, so there is nothing to drain.
			return PhaseStopped, EffectExitImmediately, 0
		case InputFault:
			return PhaseStopped, EffectExitImmediately, 1
		}
	case PhaseServing:
		switch in.Kind {
		case InputDatabaseConnected:
			return PhaseServing, EffectNone, 0
		case InputShutdown:
			return PhaseDraining, EffectDrain, in.ExitCode
		case InputFault:
			return PhaseDraining, EffectDrain, 1
		}
	case PhaseDraining, PhaseStopped:
		// A drain is already in progress or the worker is done; later
		// inputs must not restart or double-run the exit path.
		return phase, EffectNone, 0
	}
	return phase, EffectNone, 0
}

// Server is the worker's network-facing collaborator: the HTTP router and
// WebSocket handler behind one listener, plus its data dependencies. It
// must not be started before readiness is granted.
type Server interface {
	// Start opens the listener and begins serving. It returns the bound
	// address and must not block.
	Start(ctx context.Context) (addr string, err error)
	// Drain stops accepting new connections and waits for in-flight
	// requests until ctx expires, then closes everything.
	Drain(ctx context.Context) error
}

// WorkerConfig identifies one worker within the fleet, passed explicitly
// at spawn time.
type WorkerConfig struct {
	Index int
	ID    string
}

// Worker is the worker-process side of the supervision core: it waits for
// explicit permission, serves, and drains on instruction. It also watches
// for its own faults so a single worker's crash drains cleanly without
// primary involvement.
type Worker struct {
	server       Server
	log          *slog.Logger
	out          *lineWriter
	in           io.Reader
	drainTimeout time.Duration
	exitFn       func(int)

	mu    sync.Mutex
	phase Phase
}

// WorkerOptions configures a Worker runtime.
type WorkerOptions struct {
	Config       WorkerConfig
	Server       Server
	DrainTimeout time.Duration
	// In is the control channel (stdin in production).
	In io.Reader
	// Out is the event channel (stdout in production).
	Out io.Writer
	// Exit terminates the worker process. Defaults to os.Exit.
	Exit   func(code int)
	Logger *slog.Logger
}

const defaultDrainTimeout = 8 * time.Second

func NewWorker(opts WorkerOptions) *Worker {
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	exitFn := opts.Exit
	if exitFn == nil {
		exitFn = os.Exit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		server:       opts.Server,
		log:          logger.With("label", "worker", "worker", opts.Config.ID, "index", opts.Config.Index),
		out:          newLineWriter(opts.Out),
		in:           opts.In,
		drainTimeout: drain,
		exitFn:       exitFn,
	}
}

// Run announces the worker online and processes control messages until
// the channel closes or a terminal transition exits the process. Messages
// are handled strictly one at a time.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.Fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := w.out.write(Event{Type: EventOnline}); err != nil {
		w.log.Error("failed to announce online", "error", err)
		w.exitFn(1)
		return
	}
	w.log.Info("worker online")

	err := readControls(w.in, func(msg ControlMessage) {
		switch msg.Type {
		case ControlDatabaseConnected:
			w.apply(ctx, Input{Kind: InputDatabaseConnected})
		case ControlShutdown:
			w.apply(ctx, Input{Kind: InputShutdown, ExitCode: msg.ExitCode})
		default:
			w.log.Warn("unknown control message", "type", string(msg.Type))
		}
	})
	if err != nil {
		w.Fail(fmt.Errorf("control channel: %w", err))
		return
	}

	// EOF: the primary is gone. Drain as if instructed to stop.
	w.apply(ctx, Input{Kind: InputShutdown, ExitCode: 0})
}

// Fail runs the local fault path: drain independently and exit 1, without
// waiting for a primary-issued shutdown.
func (w *Worker) Fail(err error) {
	w.log.Error("worker fault", "error", err)
	w.apply(context.Background(), Input{Kind: InputFault})
}

func (w *Worker) apply(ctx context.Context, in Input) {
	w.mu.Lock()
	next, effect, code := handleInput(w.phase, in)
	prev := w.phase
	w.phase = next
	w.mu.Unlock()

	if prev != next {
		w.log.Info("worker transition", "from", prev.String(), "to", next.String())
	}

	switch effect {
	case EffectStartListener:
		addr, err := w.server.Start(ctx)
		if err != nil {
			w.Fail(fmt.Errorf("starting listener: %w", err))
			return
		}
		if err := w.out.write(Event{Type: EventListening, Address: addr}); err != nil {
			w.log.Error("failed to announce listening", "error", err)
		}
		w.log.Info("listening", "address", addr)
	case EffectDrain:
		w.drain(code)
	case EffectExitImmediately:
		w.finish(code)
	}
}

func (w *Worker) drain(code int) {
	drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	if err := w.server.Drain(drainCtx); err != nil {
		w.log.Warn("drain incomplete, closing remaining connections", "error", err)
	}
	w.finish(code)
}

func (w *Worker) finish(code int) {
	w.mu.Lock()
	w.phase = PhaseStopped
	w.mu.Unlock()
	w.log.Info("worker stopped", "exit_code", code)
	w.exitFn(code)
}
