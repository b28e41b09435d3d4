package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_IsExpired(t *testing.T) {
	t.Parallel()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{name: "no expiry", expiresAt: nil, want: false},
		{name: "future expiry", expiresAt: &future, want: false},
		{name: "past expiry", expiresAt: &past, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &Record{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, r.IsExpired())
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	t.Parallel()

	t.Run("nil receiver", func(t *testing.T) {
		t.Parallel()

		var r *Record
		assert.Nil(t, r.Clone())
	})

	t.Run("deep copy", func(t *testing.T) {
		t.Parallel()

		expiry := time.Now().UTC().Add(time.Hour)
		original := &Record{
			ID:          "k1",
			Permissions: []string{"patients:read"},
			ExpiresAt:   &expiry,
		}

		clone := original.Clone()
		clone.Permissions[0] = "admin:write"
		*clone.ExpiresAt = expiry.Add(time.Hour)

		assert.Equal(t, "patients:read", original.Permissions[0])
		assert.Equal(t, expiry, *original.ExpiresAt)
	})
}

func TestRecord_JSONNeverCarriesKeyHash(t *testing.T) {
	t.Parallel()

	r := &Record{
		ID:      "k1",
		OwnerID: "owner-1",
		Name:    "reporting service",
		KeyHash: "deadbeef-digest",
	}

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "deadbeef-digest")
	assert.NotContains(t, string(raw), "key_hash")
}
