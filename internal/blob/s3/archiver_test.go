package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
)

type captureWriter struct {
	path string
	data []byte
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	w.path = path
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.data = b
	return nil
}

func (w *captureWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(context.Background(), path, data, "")
}

type fixedSaleStore struct {
	sales []domain.Sale
}

func (s *fixedSaleStore) Get(context.Context, string) (domain.Sale, error) {
	return domain.Sale{}, domain.ErrNotFound
}
func (s *fixedSaleStore) ListRecent(context.Context, int) ([]domain.Sale, error) {
	return s.sales, nil
}
func (s *fixedSaleStore) ListBefore(context.Context, time.Time, int) ([]domain.Sale, error) {
	return s.sales, nil
}
func (s *fixedSaleStore) ListUnresolved(context.Context, int) ([]domain.Sale, error) {
	return nil, nil
}

type fixedRefundStore struct {
	refunds []domain.Refund
}

func (s *fixedRefundStore) MarkPaid(context.Context, string) error             { return nil }
func (s *fixedRefundStore) MarkCredited(context.Context, string, string) error { return nil }
func (s *fixedRefundStore) ListByAccount(context.Context, domain.Account, domain.ListOpts) ([]domain.Refund, error) {
	return s.refunds, nil
}
func (s *fixedRefundStore) ListResolvedBefore(context.Context, time.Time, int) ([]domain.Refund, error) {
	return s.refunds, nil
}

type nopAudit struct {
	entries []domain.AuditEntry
	events  []string
}

func (a *nopAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}
func (a *nopAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (a *nopAudit) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return a.entries, nil
}

func TestArchiveSales(t *testing.T) {
	w := &captureWriter{}
	sales := &fixedSaleStore{sales: []domain.Sale{
		{ID: "s1", AssetID: "asset-1", Amount: 100, Kind: domain.SaleAuction},
		{ID: "s2", AssetID: "asset-2", Amount: 250, Kind: domain.SaleBuyNow},
	}}
	audit := &nopAudit{}
	a := NewArchiver(w, sales, &fixedRefundStore{}, audit, 0)

	cutoff := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	count, err := a.ArchiveSales(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("archive sales: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if w.path != "archive/sales/2026-01.jsonl" {
		t.Fatalf("path = %q", w.path)
	}

	lines := strings.Split(strings.TrimSpace(string(w.data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d JSONL lines, want 2", len(lines))
	}
	if !bytes.Contains(w.data, []byte(`"asset-2"`)) {
		t.Fatalf("second sale missing from archive: %s", w.data)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.sales" {
		t.Fatalf("audit events = %v", audit.events)
	}
}

func TestArchiveAudit(t *testing.T) {
	w := &captureWriter{}
	audit := &nopAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "listed", Detail: map[string]any{"asset_id": "asset-1"}},
		{ID: 2, Event: "bid_accepted", Detail: map[string]any{"asset_id": "asset-1"}},
	}}
	a := NewArchiver(w, &fixedSaleStore{}, &fixedRefundStore{}, audit, 0)

	cutoff := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	count, err := a.ArchiveAudit(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("archive audit: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if w.path != "archive/audit/2026-03.jsonl" {
		t.Fatalf("path = %q", w.path)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.audit" {
		t.Fatalf("audit events = %v", audit.events)
	}
}

func TestArchiveRefundsEmpty(t *testing.T) {
	w := &captureWriter{}
	a := NewArchiver(w, &fixedSaleStore{}, &fixedRefundStore{}, &nopAudit{}, 0)

	count, err := a.ArchiveRefunds(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("archive refunds: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if w.path != "" {
		t.Fatal("upload performed for empty batch")
	}
}
