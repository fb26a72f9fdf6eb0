// Package storage abstracts the object stores the pipeline writes export
// files and archived payloads to. Connections are configured by name under
// the application's storage config map and resolved lazily.
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/support/configbinder"
	"github.com/varilab/regsync/internal/support/logger"
	"github.com/varilab/regsync/internal/support/serialization"
)

// Config holds the settings of one named storage connection.
type Config struct {
	// Type selects the adapter (e.g. "local").
	Type string `yaml:"type"`
	// BucketName is the default bucket for operations.
	BucketName string `yaml:"bucket_name"`
	// BaseDir is the base directory for file system adapters.
	BaseDir string `yaml:"base_dir"`
}

// Connection is one usable storage backend.
type Connection interface {
	// Upload writes data to the given bucket and object name.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download reads an object. The caller closes the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// Close releases the connection.
	Close() error
	// Type returns the adapter type.
	Type() string
	// Name returns the connection name.
	Name() string
}

// Factory builds a Connection from its decoded configuration.
type Factory func(cfg Config, name string) (Connection, error)

var (
	factoryRegistry = make(map[string]Factory)
	factoryMutex    sync.RWMutex
)

// RegisterFactory registers a connection factory for an adapter type.
// Adapter packages call this from init.
func RegisterFactory(adapterType string, factory Factory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	if _, exists := factoryRegistry[adapterType]; exists {
		logger.Warnf("Storage factory for type '%s' already registered. Overwriting.", adapterType)
	}
	factoryRegistry[adapterType] = factory
}

// Resolver resolves named storage connections from the application
// configuration, creating each at most once.
type Resolver struct {
	cfg *config.Config

	mu          sync.Mutex
	connections map[string]Connection
}

// NewResolver creates a Resolver over the application configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		cfg:         cfg,
		connections: make(map[string]Connection),
	}
}

// Resolve returns the connection with the given name, creating it on first
// use.
func (r *Resolver) Resolve(name string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[name]; ok {
		return conn, nil
	}

	raw, ok := r.cfg.Regsync.StorageConfigs[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration for name '%s' not found", name)
	}
	properties, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid storage configuration format for '%s'", name)
	}

	var storageCfg Config
	if err := configbinder.BindProperties(properties, &storageCfg); err != nil {
		return nil, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	if rendered, err := serialization.MarshalMasked(properties); err == nil {
		logger.Debugf("Storage connection '%s' properties: %s", name, rendered)
	}

	factoryMutex.RLock()
	factory, ok := factoryRegistry[storageCfg.Type]
	factoryMutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage factory registered for type '%s' (connection '%s')", storageCfg.Type, name)
	}

	conn, err := factory(storageCfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage connection '%s': %w", name, err)
	}
	r.connections[name] = conn
	logger.Debugf("Created new storage connection '%s' (%s).", name, storageCfg.Type)
	return conn, nil
}

// CloseAll closes every resolved connection.
func (r *Resolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(r.connections, name)
	}
	return errs.ErrorOrNil()
}
