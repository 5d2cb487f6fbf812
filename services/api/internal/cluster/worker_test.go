package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleInputTransitions(t *testing.T) {
	tests := []struct {
		name       string
		phase      Phase
		input      Input
		wantPhase  Phase
		wantEffect Effect
		wantCode   int
	}{
		{
			name:       "readiness starts the listener",
			phase:      PhaseWaitingForReadiness,
			input:      Input{Kind: InputDatabaseConnected},
			wantPhase:  PhaseServing,
			wantEffect: EffectStartListener,
		},
		{
			name:       "shutdown before readiness exits clean with no listener",
			phase:      PhaseWaitingForReadiness,
			input:      Input{Kind: InputShutdown, ExitCode: 0},
			wantPhase:  PhaseStopped,
			wantEffect: EffectExitImmediately,
		},
		{
			name:       "fault before readiness exits 1 with no drain",
			phase:      PhaseWaitingForReadiness,
			input:      Input{Kind: InputFault},
			wantPhase:  PhaseStopped,
			wantEffect: EffectExitImmediately,
			wantCode:   1,
		},
		{
			name:       "shutdown while serving drains with the supplied code",
			phase:      PhaseServing,
			input:      Input{Kind: InputShutdown, ExitCode: 1},
			wantPhase:  PhaseDraining,
			wantEffect: EffectDrain,
			wantCode:   1,
		},
		{
			name:       "fault while serving drains with code 1",
			phase:      PhaseServing,
			input:      Input{Kind: InputFault},
			wantPhase:  PhaseDraining,
			wantEffect: EffectDrain,
			wantCode:   1,
		},
		{
			name:       "duplicate readiness is a no-op",
			phase:      PhaseServing,
			input:      Input{Kind: InputDatabaseConnected},
			wantPhase:  PhaseServing,
			wantEffect: EffectNone,
		},
		{
			name:       "shutdown while draining does not double-run the exit path",
			phase:      PhaseDraining,
			input:      Input{Kind: InputShutdown, ExitCode: 0},
			wantPhase:  PhaseDraining,
			wantEffect: EffectNone,
		},
		{
			name:       "inputs after stopped are ignored",
			phase:      PhaseStopped,
			input:      Input{Kind: InputDatabaseConnected},
			wantPhase:  PhaseStopped,
			wantEffect: EffectNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, effect, code := handleInput(tt.phase, tt.input)
			assert.Equal(t, tt.wantPhase, phase)
			assert.Equal(t, tt.wantEffect, effect)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

// stubServer records listener lifecycle calls.
type stubServer struct {
	mu       sync.Mutex
	started  int
	drained  int
	startErr error
	addr     string
}

func (s *stubServer) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return "", s.startErr
	}
	s.started++
	return s.addr, nil
}

func (s *stubServer) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained++
	return nil
}

func (s *stubServer) counts() (started, drained int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.drained
}

// syncBuffer is a goroutine-safe event sink for the worker's out channel.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) events(t *testing.T) []Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var evs []Event
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		evs = append(evs, ev)
	}
	return evs
}

type workerHarness struct {
	worker  *Worker
	server  *stubServer
	out     *syncBuffer
	control *io.PipeWriter
	exited  chan int
	done    chan struct{}
}

func startWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	server := &stubServer{addr: "127.0.0.1:8080"}
	exited := make(chan int, 4)

	w := NewWorker(WorkerOptions{
		Config:       WorkerConfig{Index: 0, ID: "test-worker"},
		Server:       server,
		DrainTimeout: 100 * time.Millisecond,
		In:           pr,
		Out:          out,
		Exit:         func(code int) { exited <- code },
		Logger:       discardLogger(),
	})

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	return &workerHarness{worker: w, server: server, out: out, control: pw, exited: exited, done: done}
}

func (h *workerHarness) send(t *testing.T, msg ControlMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	_, err = h.control.Write(append(data, '\n'))
	require.NoError(t, err)
}

func (h *workerHarness) waitExit(t *testing.T) int {
	t.Helper()
	select {
	case code := <-h.exited:
		return code
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
		return -1
	}
}

func TestWorkerServesAfterReadinessThenDrains(t *testing.T) {
	h := startWorkerHarness(t)
	defer h.control.Close()

	h.send(t, ControlMessage{Type: ControlDatabaseConnected})
	h.send(t, ControlMessage{Type: ControlShutdown, ExitCode: 0})

	code := h.waitExit(t)
	assert.Equal(t, 0, code)

	started, drained := h.server.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, drained)

	evs := h.out.events(t)
	require.Len(t, evs, 2)
	assert.Equal(t, EventOnline, evs[0].Type)
	assert.Equal(t, EventListening, evs[1].Type)
	assert.Equal(t, "127.0.0.1:8080", evs[1].Address)
}

func TestWorkerShutdownBeforeReadinessNeverListens(t *testing.T) {
	h := startWorkerHarness(t)
	defer h.control.Close()

	h.send(t, ControlMessage{Type: ControlShutdown, ExitCode: 0})

	code := h.waitExit(t)
	assert.Equal(t, 0, code)

	started, drained := h.server.counts()
	assert.Equal(t, 0, started)
	assert.Equal(t, 0, drained)

	for _, ev := range h.out.events(t) {
		assert.NotEqual(t, EventListening, ev.Type)
	}
}

func TestWorkerDuplicateReadinessStartsListenerOnce(t *testing.T) {
	h := startWorkerHarness(t)
	defer h.control.Close()

	h.send(t, ControlMessage{Type: ControlDatabaseConnected})
	h.send(t, ControlMessage{Type: ControlDatabaseConnected})
	h.send(t, ControlMessage{Type: ControlShutdown, ExitCode: 0})

	h.waitExit(t)
	started, _ := h.server.counts()
	assert.Equal(t, 1, started)
}

func TestWorkerLocalFaultDrainsIndependently(t *testing.T) {
	h := startWorkerHarness(t)
	defer h.control.Close()

	h.send(t, ControlMessage{Type: ControlDatabaseConnected})

	// Wait for the listener before injecting the fault.
	require.Eventually(t, func() bool {
		started, _ := h.server.counts()
		return started == 1
	}, time.Second, 5*time.Millisecond)

	h.worker.Fail(errors.New("unhandled rejection"))

	code := h.waitExit(t)
	assert.Equal(t, 1, code)

	_, drained := h.server.counts()
	assert.Equal(t, 1, drained)
}

func TestWorkerFaultBeforeReadinessExitsWithoutDrain(t *testing.T) {
	h := startWorkerHarness(t)
	defer h.control.Close()

	h.worker.Fail(errors.New("boom"))

	code := h.waitExit(t)
	assert.Equal(t, 1, code)

	started, drained := h.server.counts()
	assert.Equal(t, 0, started)
	assert.Equal(t, 0, drained)
}

func TestWorkerControlChannelEOFDrains(t *testing.T) {
	h := startWorkerHarness(t)

	h.send(t, ControlMessage{Type: ControlDatabaseConnected})
	require.Eventually(t, func() bool {
		started, _ := h.server.counts()
		return started == 1
	}, time.Second, 5*time.Millisecond)

	// The primary is gone: the pipe closes and the worker drains clean.
	require.NoError(t, h.control.Close())

	code := h.waitExit(t)
	assert.Equal(t, 0, code)

	_, drained := h.server.counts()
	assert.Equal(t, 1, drained)

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("worker run loop did not return")
	}
}

func TestWorkerListenerStartFailureIsAFault(t *testing.T) {
	h := startWorkerHarness(t)
	defer h.control.Close()

	h.server.mu.Lock()
	h.server.startErr = errors.New("address in use")
	h.server.mu.Unlock()

	h.send(t, ControlMessage{Type: ControlDatabaseConnected})

	code := h.waitExit(t)
	assert.Equal(t, 1, code)
}
