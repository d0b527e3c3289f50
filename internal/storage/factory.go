package storage

import (
	"fmt"

	"github.com/satchelhq/satchel/pkg/config"
)

// Factory creates storage instances based on configuration
type Factory struct {
	config *config.StorageConfig
}

// NewFactory creates a new storage factory
func NewFactory(config *config.StorageConfig) *Factory {
	return &Factory{config: config}
}

// CreateStorage creates a storage instance based on the configured type
func (f *Factory) CreateStorage() (BlobStorage, error) {
	switch f.config.Type {
	case "local":
		return NewLocalStorage(f.config.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", f.config.Type)
	}
}
