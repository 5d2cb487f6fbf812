package cluster

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// Flag names the primary passes when re-executing itself in the worker
// role. The worker's identity travels on argv at spawn time rather than
// through ambient environment.
const (
	FlagWorker      = "cluster-worker"
	FlagWorkerIndex = "cluster-worker-index"
	FlagWorkerID    = "cluster-worker-id"
)

// processHandle wraps one forked worker process.
type processHandle struct {
	id    string
	cmd   *exec.Cmd
	stdin *lineWriter
}

func (h *processHandle) ID() string { return h.id }

func (h *processHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *processHandle) Send(msg ControlMessage) error {
	return h.stdin.write(msg)
}

func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// NewSelfSpawner returns a SpawnFunc that re-executes the current binary
// in the worker role. The worker's stdout is scanned for lifecycle events
// while stderr is forwarded to the primary's stderr untouched, so worker
// logs remain visible.
func NewSelfSpawner(logger *slog.Logger) SpawnFunc {
	return func(index int, id string, sink EventSink) (WorkerHandle, error) {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving executable: %w", err)
		}

		cmd := exec.Command(executable,
			"--"+FlagWorker,
			"--"+FlagWorkerIndex, strconv.Itoa(index),
			"--"+FlagWorkerID, id,
		)
		cmd.Env = os.Environ()
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("opening stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("opening stdout pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("starting worker: %w", err)
		}

		// Scan the event channel until the pipe closes, then report the
		// disconnect; the exit event follows from Wait below.
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			err := readEvents(stdout, func(ev Event) {
				switch ev.Type {
				case EventOnline:
					sink.WorkerOnline(id)
				case EventListening:
					sink.WorkerListening(id, ev.Address)
				default:
					sink.WorkerMessage(id, ev.Message)
				}
			})
			if err != nil {
				logger.Error("worker event channel read failed", "worker", id, "error", err)
			}
			sink.WorkerDisconnected(id)
		}()

		go func() {
			// Wait must not run until the stdout reader has drained the
			// pipe, per the os/exec pipe contract. This also keeps the
			// disconnect event ahead of the exit event.
			<-readerDone
			waitErr := cmd.Wait()
			code := 0
			signal := ""
			if state := cmd.ProcessState; state != nil {
				code = state.ExitCode()
				if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					signal = ws.Signal().String()
				}
			} else if waitErr != nil {
				code = 1
			}
			sink.WorkerExited(id, code, signal)
		}()

		return &processHandle{id: id, cmd: cmd, stdin: newLineWriter(stdin)}, nil
	}
}
