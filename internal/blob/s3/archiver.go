package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
)

// defaultArchiveBatchSize bounds how many records one archive pass pulls
// from the primary store when no batch size is configured.
const defaultArchiveBatchSize = 5000

// multipartThreshold is the payload size above which exports switch from a
// single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// aged records, serializing them to JSONL, and uploading the result to the
// blob store.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	sales     domain.SaleStore
	refunds   domain.RefundStore
	audit     domain.AuditStore
	batchSize int
}

// NewArchiver creates a new ArchiveImpl. A non-positive batchSize falls back
// to the default.
func NewArchiver(
	writer domain.BlobWriter,
	sales domain.SaleStore,
	refunds domain.RefundStore,
	audit domain.AuditStore,
	batchSize int,
) *ArchiveImpl {
	if batchSize <= 0 {
		batchSize = defaultArchiveBatchSize
	}
	return &ArchiveImpl{
		writer:    writer,
		sales:     sales,
		refunds:   refunds,
		audit:     audit,
		batchSize: batchSize,
	}
}

// ArchiveSales uploads all sales settled before the cutoff to
// archive/sales/YYYY-MM.jsonl and records the archival in the audit log. It
// returns the number of archived records.
func (a *ArchiveImpl) ArchiveSales(ctx context.Context, before time.Time) (int64, error) {
	sales, err := a.sales.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales query: %w", err)
	}
	if len(sales) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(sales)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales marshal: %w", err)
	}

	path := archivePath("sales", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive sales upload: %w", err)
	}

	count := int64(len(sales))

	if err := a.audit.Log(ctx, "archive.sales", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive sales audit log: %w", err)
	}

	return count, nil
}

// ArchiveRefunds uploads all refunds resolved before the cutoff to
// archive/refunds/YYYY-MM.jsonl and records the archival in the audit log.
// Pending refunds are never archived; they are still owed.
func (a *ArchiveImpl) ArchiveRefunds(ctx context.Context, before time.Time) (int64, error) {
	refunds, err := a.refunds.ListResolvedBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive refunds query: %w", err)
	}
	if len(refunds) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(refunds)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive refunds marshal: %w", err)
	}

	path := archivePath("refunds", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive refunds upload: %w", err)
	}

	count := int64(len(refunds))

	if err := a.audit.Log(ctx, "archive.refunds", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive refunds audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit uploads all audit entries recorded before the cutoff to
// archive/audit/YYYY-MM.jsonl. The export itself is logged as a fresh audit
// entry, so the trail of what left the primary store is never lost.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// upload writes an export to the blob store, switching to a multipart upload
// for payloads large enough to benefit from it.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the blob key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/sales/2026-08.jsonl
//	archive/refunds/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
