package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, path string, port int) {
	t.Helper()

	content := `
server:
  port: ` + strconv.Itoa(port) + `
store:
  type: memory
rateLimit:
  store: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcher_LoadsInitialConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	writeTestConfig(t, path, 8081)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	writeTestConfig(t, path, 8081)

	var reloads atomic.Int32
	var lastPort atomic.Int32

	callback := func(cfg *Config) {
		reloads.Add(1)
		lastPort.Store(int32(cfg.Server.Port))
	}

	w, err := NewWatcher(path, callback, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	writeTestConfig(t, path, 8082)

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1 && lastPort.Load() == 8082
	}, 5*time.Second, 25*time.Millisecond)

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 8082, cfg.Server.Port)
}

func TestWatcher_KeepsLastConfigOnInvalidChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	writeTestConfig(t, path, 8081)

	var errs atomic.Int32
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(error) { errs.Add(1) }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	// Invalid store type fails validation; the last good config stays.
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: dynamo\n"), 0o600))

	require.Eventually(t, func() bool {
		return errs.Load() >= 1
	}, 5*time.Second, 25*time.Millisecond)

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestWatcher_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	writeTestConfig(t, path, 8081)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop())
}
