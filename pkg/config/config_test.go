package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load("")

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pixelpost", cfg.Database.Name)
	assert.Equal(t, 10*time.Second, cfg.Cluster.ShutdownWait)
	assert.Equal(t, 8*time.Second, cfg.Cluster.DrainTimeout)
	assert.Equal(t, 0, cfg.Cluster.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg := Load("")
	require.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = "test-secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateDrainMustFitInsideShutdownWait(t *testing.T) {
	cfg := Load("")
	cfg.Auth.JWTSecret = "test-secret"

	cfg.Cluster.DrainTimeout = cfg.Cluster.ShutdownWait
	assert.Error(t, cfg.Validate())

	cfg.Cluster.DrainTimeout = cfg.Cluster.ShutdownWait / 2
	assert.NoError(t, cfg.Validate())
}
