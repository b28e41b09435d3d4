package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arshealth/keygate/internal/config"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("env provider", func(t *testing.T) {
		t.Parallel()

		p, err := New(&config.SecretsConfig{
			Provider:  config.SecretsProviderEnv,
			EnvPrefix: "KEYGATE_SECRET_",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, ProviderTypeEnv, p.Type())
	})

	t.Run("file provider", func(t *testing.T) {
		t.Parallel()

		p, err := New(&config.SecretsConfig{
			Provider: config.SecretsProviderFile,
			FilePath: t.TempDir(),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, ProviderTypeFile, p.Type())
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()

		_, err := New(&config.SecretsConfig{Provider: "consul"}, nil)
		assert.ErrorIs(t, err, ErrInvalidProviderType)
	})

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()

		_, err := New(nil, nil)
		assert.ErrorIs(t, err, ErrProviderNotConfigured)
	})
}

func TestSecret_GetString(t *testing.T) {
	t.Parallel()

	secret := &Secret{
		Name: "test",
		Data: map[string][]byte{"value": []byte("v1"), "other": []byte("v2")},
	}

	v, ok := secret.GetString("value")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = secret.GetString("missing")
	assert.False(t, ok)

	var nilSecret *Secret
	_, ok = nilSecret.GetString("value")
	assert.False(t, ok)
}

func TestGetValue(t *testing.T) {
	p, err := NewEnvProvider(&EnvProviderConfig{Prefix: "KEYGATE_GV_"})
	require.NoError(t, err)

	t.Run("named key", func(t *testing.T) {
		t.Setenv("KEYGATE_GV_CREDS", `{"pepper":"named"}`)

		v, err := GetValue(context.Background(), p, "creds", "pepper")
		require.NoError(t, err)
		assert.Equal(t, "named", v)
	})

	t.Run("falls back to value key", func(t *testing.T) {
		t.Setenv("KEYGATE_GV_PEPPER", "scalar-pepper")

		v, err := GetValue(context.Background(), p, "pepper", "pepper")
		require.NoError(t, err)
		assert.Equal(t, "scalar-pepper", v)
	})

	t.Run("key absent everywhere", func(t *testing.T) {
		t.Setenv("KEYGATE_GV_PARTIAL", `{"unrelated":"x"}`)

		_, err := GetValue(context.Background(), p, "partial", "pepper")
		assert.ErrorIs(t, err, ErrSecretNotFound)
	})

	t.Run("provider error propagates", func(t *testing.T) {
		_, err := GetValue(context.Background(), p, "never-set-anywhere", "pepper")
		assert.ErrorIs(t, err, ErrSecretNotFound)
	})
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	// Exercise both result label paths.
	RecordOperation(ProviderTypeEnv, "get", time.Millisecond, nil)
	RecordOperation(ProviderTypeEnv, "get", time.Millisecond, ErrSecretNotFound)
	RecordHealthStatus(ProviderTypeEnv, true)
	RecordHealthStatus(ProviderTypeEnv, false)
}
