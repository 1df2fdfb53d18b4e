// Package backend holds the named remote storage configurations and the
// client factory that turns a configuration into a transient object-store
// client.
package backend

import (
	"errors"
	"fmt"
)

// ErrUnknownBackend is returned when a lookup names a backend that was
// never configured. Callers must treat this as fatal for the operation.
var ErrUnknownBackend = errors.New("unknown storage backend")

// RemoteStorageConfig describes one S3-compatible backend. Loaded at
// startup, never mutated afterwards.
type RemoteStorageConfig struct {
	ID        string `json:"id"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region,omitempty"`
	UseSSL    bool   `json:"use_ssl"`

	// Read-resolution policy, checked in this order by the resolver.
	ImageProxyURL  string `json:"image_proxy_url,omitempty"`
	AccessProxyURL string `json:"access_proxy_url,omitempty"`
	UseSignedURL   bool   `json:"use_signed_url"`
	PublicBaseURL  string `json:"public_base_url,omitempty"`
}

// Registry is a pure lookup table of backend configurations.
type Registry struct {
	defaultID string
	configs   map[string]RemoteStorageConfig
}

// NewRegistry builds a registry from the given configs. The first config's
// ID becomes the default unless defaultID names another entry.
func NewRegistry(defaultID string, configs ...RemoteStorageConfig) (*Registry, error) {
	if len(configs) == 0 {
		return nil, errors.New("no storage backends configured")
	}
	m := make(map[string]RemoteStorageConfig, len(configs))
	for _, c := range configs {
		if c.ID == "" {
			return nil, errors.New("storage backend missing id")
		}
		if _, dup := m[c.ID]; dup {
			return nil, fmt.Errorf("duplicate storage backend %q", c.ID)
		}
		m[c.ID] = c
	}
	if defaultID == "" {
		defaultID = configs[0].ID
	}
	if _, ok := m[defaultID]; !ok {
		return nil, fmt.Errorf("default backend %q not configured", defaultID)
	}
	return &Registry{defaultID: defaultID, configs: m}, nil
}

// DefaultID returns the backend used when the caller does not pick one.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Get returns the configuration for id, or ErrUnknownBackend.
func (r *Registry) Get(id string) (RemoteStorageConfig, error) {
	if id == "" {
		id = r.defaultID
	}
	cfg, ok := r.configs[id]
	if !ok {
		return RemoteStorageConfig{}, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return cfg, nil
}
