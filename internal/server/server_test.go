package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arshealth/keygate/internal/auth/apikey"
	"github.com/arshealth/keygate/internal/auth/token"
	"github.com/arshealth/keygate/internal/config"
	"github.com/arshealth/keygate/internal/health"
	"github.com/arshealth/keygate/internal/keys"
	"github.com/arshealth/keygate/internal/observability"
	"github.com/arshealth/keygate/internal/store"
)

// minimalOptions returns valid Options over in-memory collaborators.
func minimalOptions(t *testing.T) Options {
	t.Helper()

	st := store.NewMemoryStore()
	hasher, err := keys.NewHasher(keys.AlgorithmSHA256, testPepper)
	require.NoError(t, err)

	validator, err := apikey.NewValidator(hasher, st)
	require.NoError(t, err)

	verifier, err := token.NewVerifier(token.Config{
		Key:      testSigningKey,
		Issuer:   "keygate",
		Audience: "keygate-management",
	})
	require.NoError(t, err)

	return Options{
		Config:    config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Store:     st,
		Generator: keys.NewGenerator("ars_"),
		Hasher:    hasher,
		Validator: validator,
		Verifier:  verifier,
	}
}

func TestNew_RequiredDependencies(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr string
	}{
		{"missing store", func(o *Options) { o.Store = nil }, "store is required"},
		{"missing generator", func(o *Options) { o.Generator = nil }, "key generator is required"},
		{"missing hasher", func(o *Options) { o.Hasher = nil }, "key hasher is required"},
		{"missing validator", func(o *Options) { o.Validator = nil }, "api key validator is required"},
		{"missing verifier", func(o *Options) { o.Verifier = nil }, "token verifier is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := minimalOptions(t)
			tt.mutate(&opts)

			_, err := New(opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_DefaultsCollaborators(t *testing.T) {
	// Logger, audit and limiter are optional; New fills in no-ops.
	srv, err := New(minimalOptions(t))
	require.NoError(t, err)

	assert.NotNil(t, srv.Engine())
	assert.False(t, srv.IsRunning())
}

func TestServer_Start(t *testing.T) {
	t.Run("returns error if already running", func(t *testing.T) {
		srv, err := New(minimalOptions(t))
		require.NoError(t, err)

		srv.mu.Lock()
		srv.running = true
		srv.mu.Unlock()

		err = srv.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server already running")
	})

	t.Run("start and stop round trip", func(t *testing.T) {
		srv, err := New(minimalOptions(t))
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		time.Sleep(100 * time.Millisecond)
		assert.True(t, srv.IsRunning())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))
		assert.False(t, srv.IsRunning())

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Start did not return after Stop")
		}
	})
}

func TestServer_Stop_NotRunning(t *testing.T) {
	srv, err := New(minimalOptions(t))
	require.NoError(t, err)

	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServer_HealthRoutes(t *testing.T) {
	opts := minimalOptions(t)
	opts.Health = health.NewHandler(observability.NopLogger())

	srv, err := New(opts)
	require.NoError(t, err)

	for _, path := range []string{"/health", "/healthz", "/livez", "/readyz", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.Engine().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	srv, err := New(minimalOptions(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
