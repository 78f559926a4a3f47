// Package blob is the entry point to blob storage. It re-exports the core
// abstractions and selects a driver from configuration; no other package
// imports the drivers under internal/infra/blob directly.
package blob

import (
	"context"
	"fmt"

	"layerdeck/internal/blob/core"
	"layerdeck/internal/config"
	fsstore "layerdeck/internal/infra/blob/fs"
	memorystore "layerdeck/internal/infra/blob/memory"
	s3store "layerdeck/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound   = core.ErrNotFound
	ErrInvalidKey = core.ErrInvalidKey
)

// Open builds the Store selected by cfg.Driver (memory when empty).
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem returns a Store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewMockS3 returns an s3 Store talking to an in-process fake bucket.
func NewMockS3() Store { return s3store.NewMock() }
