package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
)

// memStore is an in-memory implementation of the persistence interfaces the
// services depend on. Single-mutex; good enough for tests.
type memStore struct {
	mu       sync.Mutex
	listings map[string]domain.Listing
	bids     map[string]domain.Bid
	refunds  map[string]domain.Refund
	credits  map[domain.Account]int64
	sales    map[string]domain.Sale
	audit    []domain.AuditEntry

	failAcceptBid     bool
	failSettleSale    bool
	failResolvePayout bool
}

func newMemStore() *memStore {
	return &memStore{
		listings: make(map[string]domain.Listing),
		bids:     make(map[string]domain.Bid),
		refunds:  make(map[string]domain.Refund),
		credits:  make(map[domain.Account]int64),
		sales:    make(map[string]domain.Sale),
	}
}

func (m *memStore) Upsert(_ context.Context, l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.AssetID] = l
	return nil
}

func (m *memStore) Get(_ context.Context, assetID string) (domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[assetID]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (m *memStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Listing
	for _, l := range m.listings {
		if l.Listed {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.listings {
		if l.Listed {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetHighest(_ context.Context, assetID string) (domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bids[assetID], nil
}

func (m *memStore) AcceptBid(_ context.Context, p domain.AcceptBidParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAcceptBid {
		return fmt.Errorf("memstore: accept bid forced failure")
	}
	l, ok := m.listings[p.Bid.AssetID]
	if !ok || !l.Listed {
		return domain.ErrNotListed
	}
	l.AuctionEnd = p.AuctionEnd
	m.listings[p.Bid.AssetID] = l
	m.bids[p.Bid.AssetID] = p.Bid
	if p.Displaced != nil {
		r := *p.Displaced
		r.Status = domain.RefundPending
		r.CreatedAt = time.Now()
		m.refunds[r.ID] = r
	}
	return nil
}

func (m *memStore) SettleSale(_ context.Context, sale domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSettleSale {
		return fmt.Errorf("memstore: settle sale forced failure")
	}
	l, ok := m.listings[sale.AssetID]
	if !ok || !l.Listed {
		return domain.ErrNotListed
	}
	l.Listed = false
	m.listings[sale.AssetID] = l
	delete(m.bids, sale.AssetID)
	m.sales[sale.ID] = sale
	return nil
}

func (m *memStore) ResolveSellerPayout(_ context.Context, saleID string, pay func(domain.Account, int64) error) error {
	m.mu.Lock()
	if m.failResolvePayout {
		m.mu.Unlock()
		return fmt.Errorf("memstore: resolve payout forced failure")
	}
	sale, ok := m.sales[saleID]
	if !ok || sale.PayoutResolved {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	m.mu.Unlock()

	err := pay(sale.Seller, sale.Amount)

	m.mu.Lock()
	defer m.mu.Unlock()
	sale.PayoutResolved = true
	if err == nil {
		sale.SellerPaid = true
	} else {
		m.credits[sale.Seller] += sale.Amount
	}
	m.sales[saleID] = sale
	return nil
}

func (m *memStore) MarkAssetDelivered(_ context.Context, saleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[saleID]
	if !ok {
		return domain.ErrNotFound
	}
	sale.AssetDelivered = true
	m.sales[saleID] = sale
	return nil
}

func (m *memStore) Unlist(_ context.Context, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[assetID]
	if !ok || !l.Listed {
		return domain.ErrNotListed
	}
	l.Listed = false
	m.listings[assetID] = l
	return nil
}

func (m *memStore) MarkPaid(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok || r.Status != domain.RefundPending {
		return domain.ErrNotFound
	}
	r.Status = domain.RefundPaid
	now := time.Now()
	r.ResolvedAt = &now
	m.refunds[id] = r
	return nil
}

func (m *memStore) MarkCredited(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok || r.Status != domain.RefundPending {
		return domain.ErrNotFound
	}
	r.Status = domain.RefundCredited
	r.Reason = reason
	now := time.Now()
	r.ResolvedAt = &now
	m.refunds[id] = r
	m.credits[r.Bidder] += r.Amount
	return nil
}

func (m *memStore) ListByAccount(_ context.Context, account domain.Account, _ domain.ListOpts) ([]domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Refund
	for _, r := range m.refunds {
		if r.Bidder == account {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListResolvedBefore(_ context.Context, cutoff time.Time, _ int) ([]domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Refund
	for _, r := range m.refunds {
		if r.ResolvedAt != nil && r.ResolvedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Balance(_ context.Context, account domain.Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits[account], nil
}

func (m *memStore) WithdrawAll(_ context.Context, account domain.Account, payout func(amount int64) error) (int64, error) {
	m.mu.Lock()
	amount := m.credits[account]
	m.mu.Unlock()
	if amount <= 0 {
		return 0, domain.ErrNoCredits
	}
	if err := payout(amount); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.credits[account] = 0
	m.mu.Unlock()
	return amount, nil
}

func (m *memStore) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, domain.AuditEntry{
		ID:        int64(len(m.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.audit...), nil
}

func (m *memStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.audit {
		if e.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) refundFor(bidder domain.Account) (domain.Refund, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refunds {
		if r.Bidder == bidder {
			return r, true
		}
	}
	return domain.Refund{}, false
}

func (m *memStore) saleFor(assetID string) (domain.Sale, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sales {
		if s.AssetID == assetID {
			return s, true
		}
	}
	return domain.Sale{}, false
}

// memSales exposes memStore's sale records through the sale read interface;
// the method set collides with the listing reads, so it needs its own type.
type memSales struct {
	s *memStore
}

func (m memSales) Get(_ context.Context, assetID string) (domain.Sale, error) {
	sale, ok := m.s.saleFor(assetID)
	if !ok {
		return domain.Sale{}, domain.ErrNotFound
	}
	return sale, nil
}

func (m memSales) ListRecent(_ context.Context, limit int) ([]domain.Sale, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Sale
	for _, sale := range m.s.sales {
		if len(out) < limit {
			out = append(out, sale)
		}
	}
	return out, nil
}

func (m memSales) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Sale, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Sale
	for _, sale := range m.s.sales {
		if sale.SettledAt.Before(cutoff) && len(out) < limit {
			out = append(out, sale)
		}
	}
	return out, nil
}

func (m memSales) ListUnresolved(_ context.Context, limit int) ([]domain.Sale, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Sale
	for _, sale := range m.s.sales {
		if (!sale.AssetDelivered || !sale.PayoutResolved) && len(out) < limit {
			out = append(out, sale)
		}
	}
	return out, nil
}

// memCache implements domain.ListingCache in memory.
type memCache struct {
	mu sync.Mutex
	m  map[string]domain.Listing
}

func newMemCache() *memCache { return &memCache{m: make(map[string]domain.Listing)} }

func (c *memCache) Set(_ context.Context, l domain.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[l.AssetID] = l
	return nil
}

func (c *memCache) Get(_ context.Context, assetID string) (domain.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.m[assetID]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (c *memCache) Invalidate(_ context.Context, assetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, assetID)
	return nil
}

// memLocks implements domain.LockManager without real mutual exclusion;
// tests are sequential.
type memLocks struct{}

func (memLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return func() {}, nil
}

// memLimiter implements domain.RateLimiter with an optional denial switch.
type memLimiter struct {
	deny bool
}

func (l *memLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return !l.deny, nil
}

// memBus records published events and ignores streams.
type memBus struct {
	mu        sync.Mutex
	published map[string]int // channel -> count
}

func newMemBus() *memBus { return &memBus{published: make(map[string]int)} }

func (b *memBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel]++
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }

func (b *memBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// memCustody tracks asset ownership in memory.
type memCustody struct {
	mu           sync.Mutex
	owners       map[string]domain.Account
	failTransfer bool
}

func newMemCustody() *memCustody { return &memCustody{owners: make(map[string]domain.Account)} }

func (c *memCustody) setOwner(assetID string, owner domain.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[assetID] = owner
}

func (c *memCustody) OwnerOf(_ context.Context, assetID string) (domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[assetID]
	if !ok {
		return domain.ZeroAccount, domain.ErrNotFound
	}
	return owner, nil
}

func (c *memCustody) Transfer(_ context.Context, assetID string, from, to domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failTransfer {
		return fmt.Errorf("memcustody: transfer forced failure")
	}
	if c.owners[assetID] != from {
		return domain.ErrNotOwner
	}
	c.owners[assetID] = to
	return nil
}

// memGateway tracks escrowed value and per-account outbound transfers.
// failTransferTo makes outbound transfers to specific accounts fail with a
// declined result; failCollect declines escrow collection.
type memGateway struct {
	mu             sync.Mutex
	escrow         int64
	paid           map[domain.Account]int64
	collected      map[domain.Account]int64
	failCollect    bool
	failTransferTo map[domain.Account]string // account -> decline reason
}

func newMemGateway() *memGateway {
	return &memGateway{
		paid:           make(map[domain.Account]int64),
		collected:      make(map[domain.Account]int64),
		failTransferTo: make(map[domain.Account]string),
	}
}

func (g *memGateway) Collect(_ context.Context, from domain.Account, amount int64) (domain.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCollect {
		return domain.TransferResult{OK: false, Reason: "insufficient funds"}, nil
	}
	g.escrow += amount
	g.collected[from] += amount
	return domain.TransferResult{OK: true}, nil
}

func (g *memGateway) Transfer(_ context.Context, to domain.Account, amount int64) (domain.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason, ok := g.failTransferTo[to]; ok {
		return domain.TransferResult{OK: false, Reason: reason}, nil
	}
	g.escrow -= amount
	g.paid[to] += amount
	return domain.TransferResult{OK: true}, nil
}

func (g *memGateway) paidTo(account domain.Account) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paid[account]
}

func (g *memGateway) escrowHeld() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.escrow
}
