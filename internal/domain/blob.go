package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves aged marketplace records (settled sales, resolved refunds)
// out of the primary store into blob storage.
type Archiver interface {
	ArchiveSales(ctx context.Context, before time.Time) (int64, error)
	ArchiveRefunds(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
