package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core/coretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchEngineFailsOnDeath(t *testing.T) {
	engine := coretest.NewEngine()
	done := make(chan error, 1)
	go func() { done <- watchEngine(context.Background(), engine) }()

	cause := errors.New("worker exited")
	engine.Kill(cause)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not return")
	}
}

func TestWatchEngineStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, watchEngine(ctx, coretest.NewEngine()))
}

func TestApplyLogConfigKeepsUnknownLevel(t *testing.T) {
	setupLogger()
	assert.NotPanics(t, func() {
		applyLogConfig(&config.Config{Mode: "debug", LogLevel: "nonsense"})
	})
}
