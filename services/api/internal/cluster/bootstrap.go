package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionInfo describes the established shared dependency connection.
type ConnectionInfo struct {
	URI         string
	Database    string
	ConnectedAt time.Time
}

// DialFunc establishes the shared external connection (document database
// plus cache ping). It is called at most once per successful bootstrap.
type DialFunc func(ctx context.Context) (ConnectionInfo, error)

// Bootstrap performs the one-time idempotent connection step that gates
// worker startup. A failed dial is terminal for the caller: the primary
// must not fork workers and exits non-zero. Failure is not cached, but
// within this core nothing retries it either.
type Bootstrap struct {
	mu    sync.Mutex
	dial  DialFunc
	ready atomic.Bool
	info  ConnectionInfo
}

func NewBootstrap(dial DialFunc) *Bootstrap {
	return &Bootstrap{dial: dial}
}

// Connect dials the shared dependency. A second call while already
// connected returns the cached result without re-dialing, and the
// readiness flag transitions false->true exactly once.
func (b *Bootstrap) Connect(ctx context.Context) (ConnectionInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready.Load() {
		return b.info, nil
	}

	info, err := b.dial(ctx)
	if err != nil {
		return ConnectionInfo{}, err
	}
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}

	b.info = info
	b.ready.Store(true)
	return info, nil
}

// Ready reports whether the shared dependency connection has succeeded.
// It is never reset during normal operation.
func (b *Bootstrap) Ready() bool {
	return b.ready.Load()
}
