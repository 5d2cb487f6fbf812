package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapConnectIsIdempotent(t *testing.T) {
	dials := 0
	boot := NewBootstrap(func(ctx context.Context) (ConnectionInfo, error) {
		dials++
		return ConnectionInfo{URI: "mongodb://localhost:27017", Database: "pixelpost"}, nil
	})

	first, err := boot.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, boot.Ready())

	// A second call while connected returns the cached success without a
	// second underlying dial.
	second, err := boot.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dials)
	assert.Equal(t, first, second)
	assert.False(t, first.ConnectedAt.IsZero())
}

func TestBootstrapConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	boot := NewBootstrap(func(ctx context.Context) (ConnectionInfo, error) {
		return ConnectionInfo{}, dialErr
	})

	_, err := boot.Connect(context.Background())
	require.ErrorIs(t, err, dialErr)
	assert.False(t, boot.Ready())
}

func TestBootstrapReadyStartsFalse(t *testing.T) {
	boot := NewBootstrap(func(ctx context.Context) (ConnectionInfo, error) {
		return ConnectionInfo{}, nil
	})
	assert.False(t, boot.Ready())
}
