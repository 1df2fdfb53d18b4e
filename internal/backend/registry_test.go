package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry("", RemoteStorageConfig{
		ID:       "primary",
		Endpoint: "localhost:9000",
		Bucket:   "files",
	}, RemoteStorageConfig{
		ID:       "archive",
		Endpoint: "archive.example:9000",
		Bucket:   "cold",
	})
	require.NoError(t, err)

	assert.Equal(t, "primary", reg.DefaultID())

	cfg, err := reg.Get("archive")
	require.NoError(t, err)
	assert.Equal(t, "cold", cfg.Bucket)

	// Empty id resolves to the default.
	cfg, err = reg.Get("")
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.ID)

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	_, err := NewRegistry("")
	assert.Error(t, err)

	_, err = NewRegistry("missing", RemoteStorageConfig{ID: "a"})
	assert.Error(t, err)

	_, err = NewRegistry("", RemoteStorageConfig{ID: "a"}, RemoteStorageConfig{ID: "a"})
	assert.Error(t, err)
}
