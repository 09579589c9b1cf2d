package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver writes settlement reports to durable blob storage after a market
// resolves, for audit and replay.
type Archiver interface {
	// ArchiveResolution uploads a report for the resolution and returns the
	// object path it was written to.
	ArchiveResolution(ctx context.Context, res Resolution) (string, error)
}
