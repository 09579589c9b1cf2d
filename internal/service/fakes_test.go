package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memMarketStore is an in-memory MarketStore with the same optimistic
// concurrency semantics as the postgres implementation.
type memMarketStore struct {
	mu      sync.Mutex
	markets map[uuid.UUID]domain.Market
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: make(map[uuid.UUID]domain.Market)}
}

func (s *memMarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.markets {
		if existing.Slug == m.Slug {
			return domain.ErrAlreadyExists
		}
	}
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id uuid.UUID) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarketStore) ListOpen(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status == domain.MarketStatusOpen {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

func (s *memMarketStore) UpdatePools(_ context.Context, id uuid.UUID, pools map[string]decimal.Decimal, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !m.UpdatedAt.Equal(readAt) {
		return domain.ErrAlreadyExists
	}
	m.Pools = pools
	m.UpdatedAt = time.Now().UTC()
	s.markets[id] = m
	return nil
}

func (s *memMarketStore) MarkResolved(_ context.Context, id uuid.UUID, winningOutcome string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status == domain.MarketStatusResolved {
		return domain.ErrMarketResolved
	}
	m.Status = domain.MarketStatusResolved
	m.WinningOutcome = &winningOutcome
	m.ResolvedAt = &resolvedAt
	m.UpdatedAt = time.Now().UTC()
	s.markets[id] = m
	return nil
}

type posKey struct {
	marketID uuid.UUID
	userID   string
	outcome  string
}

type memPositionStore struct {
	mu        sync.Mutex
	positions map[posKey]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[posKey]domain.Position)}
}

func (s *memPositionStore) AddToPosition(_ context.Context, marketID uuid.UUID, userID, outcome string, shares, cost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := posKey{marketID, userID, outcome}
	pos, ok := s.positions[key]
	if !ok {
		pos = domain.Position{
			ID:        uuid.New(),
			MarketID:  marketID,
			UserID:    userID,
			Outcome:   outcome,
			CreatedAt: time.Now().UTC(),
		}
	}
	pos.Shares = pos.Shares.Add(shares)
	pos.Cost = pos.Cost.Add(cost)
	pos.UpdatedAt = time.Now().UTC()
	s.positions[key] = pos
	return nil
}

func (s *memPositionStore) Get(_ context.Context, marketID uuid.UUID, userID, outcome string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[posKey{marketID, userID, outcome}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) ListByMarketOutcome(_ context.Context, marketID uuid.UUID, outcome string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for key, pos := range s.positions {
		if key.marketID == marketID && key.outcome == outcome {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memPositionStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for key, pos := range s.positions {
		if key.userID == userID {
			out = append(out, pos)
		}
	}
	return out, nil
}

type memTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{}
}

func (s *memTradeStore) Insert(_ context.Context, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *memTradeStore) ListByMarket(_ context.Context, marketID uuid.UUID, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memResolutionStore struct {
	mu          sync.Mutex
	resolutions map[uuid.UUID]domain.Resolution
	archived    map[uuid.UUID]string
}

func newMemResolutionStore() *memResolutionStore {
	return &memResolutionStore{
		resolutions: make(map[uuid.UUID]domain.Resolution),
		archived:    make(map[uuid.UUID]string),
	}
}

func (s *memResolutionStore) Create(_ context.Context, res domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.resolutions {
		if existing.MarketID == res.MarketID {
			return domain.ErrAlreadyExists
		}
	}
	s.resolutions[res.ID] = res
	return nil
}

func (s *memResolutionStore) GetByMarket(_ context.Context, marketID uuid.UUID) (domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.resolutions {
		if res.MarketID == marketID {
			return res, nil
		}
	}
	return domain.Resolution{}, domain.ErrNotFound
}

func (s *memResolutionStore) ListUnarchived(_ context.Context, limit int) ([]domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Resolution
	for id, res := range s.resolutions {
		if _, ok := s.archived[id]; ok {
			continue
		}
		out = append(out, res)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memResolutionStore) MarkArchived(_ context.Context, id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resolutions[id]; !ok {
		return domain.ErrNotFound
	}
	s.archived[id] = path
	return nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{}
}

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

func (s *memAuditStore) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Event
	}
	return out
}

// memProbabilityCache records writes and serves reads like the Redis cache.
type memProbabilityCache struct {
	mu    sync.Mutex
	probs map[uuid.UUID]map[string]decimal.Decimal
	ts    map[uuid.UUID]time.Time
}

func newMemProbabilityCache() *memProbabilityCache {
	return &memProbabilityCache{
		probs: make(map[uuid.UUID]map[string]decimal.Decimal),
		ts:    make(map[uuid.UUID]time.Time),
	}
}

func (c *memProbabilityCache) SetProbabilities(_ context.Context, marketID uuid.UUID, probs map[string]decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probs[marketID] = probs
	c.ts[marketID] = ts
	return nil
}

func (c *memProbabilityCache) GetProbabilities(_ context.Context, marketID uuid.UUID) (map[string]decimal.Decimal, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	probs, ok := c.probs[marketID]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return probs, c.ts[marketID], nil
}

func (c *memProbabilityCache) Invalidate(_ context.Context, marketID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.probs, marketID)
	delete(c.ts, marketID)
	return nil
}

// memLockManager tracks held locks; Acquire on a held key fails like the
// Redis lock does.
type memLockManager struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
}

func newMemLockManager() *memLockManager {
	return &memLockManager{held: make(map[string]bool)}
}

func (l *memLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquires++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type publishedEvent struct {
	channel string
	payload []byte
}

type memSignalBus struct {
	mu        sync.Mutex
	published []publishedEvent
}

func newMemSignalBus() *memSignalBus {
	return &memSignalBus{}
}

func (b *memSignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedEvent{channel: channel, payload: payload})
	return nil
}

func (b *memSignalBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memSignalBus) events() []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedEvent(nil), b.published...)
}

// memArchiver records archived resolutions and returns deterministic paths.
type memArchiver struct {
	mu       sync.Mutex
	archived []uuid.UUID
}

func newMemArchiver() *memArchiver {
	return &memArchiver{}
}

func (a *memArchiver) ArchiveResolution(_ context.Context, res domain.Resolution) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, res.ID)
	return fmt.Sprintf("settlements/test/%s.jsonl", res.MarketID), nil
}
