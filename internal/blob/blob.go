// Package blob selects and opens the blob store the event archive writes to.
package blob

import (
	"context"
	"fmt"

	"whispers/internal/blob/core"
	"whispers/internal/infra/blob/fs"
	"whispers/internal/infra/blob/memory"
	"whispers/internal/infra/blob/s3"
)

type (
	Store      = core.Store
	Info       = core.Info
	PutOptions = core.PutOptions
	Driver     = core.Driver
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// Config selects a backend. FSRoot applies to the fs driver and S3 to the s3
// driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     s3.Config
}

// Open returns the configured store. An empty driver selects the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
