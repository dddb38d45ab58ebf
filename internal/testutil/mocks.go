package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/cassiomorais/fiscalbridge/internal/domain/outbox"
	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/cassiomorais/fiscalbridge/internal/repository/postgres"
	"github.com/google/uuid"
)

// --- Receipt Repository Mock ---

// MockReceiptRepository is an in-memory receipt.Repository. Stored receipts
// are copied so callers cannot mutate them behind the repository's back.
type MockReceiptRepository struct {
	mu       sync.Mutex
	receipts map[uuid.UUID]receipt.Receipt

	CreateFunc        func(ctx context.Context, r *receipt.Receipt) error
	UpdateFunc        func(ctx context.Context, r *receipt.Receipt) error
	ListUnsettledFunc func(ctx context.Context, since, staleBefore time.Time, limit int) ([]*receipt.Receipt, error)
}

func NewMockReceiptRepository() *MockReceiptRepository {
	return &MockReceiptRepository{receipts: make(map[uuid.UUID]receipt.Receipt)}
}

// AddReceipt pre-populates the mock.
func (m *MockReceiptRepository) AddReceipt(r *receipt.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[r.ID] = *r
}

func (m *MockReceiptRepository) Create(ctx context.Context, r *receipt.Receipt) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.AddReceipt(r)
	return nil
}

func (m *MockReceiptRepository) GetByID(_ context.Context, id uuid.UUID) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, domainErrors.ErrReceiptNotFound
	}
	return &r, nil
}

func (m *MockReceiptRepository) Update(ctx context.Context, r *receipt.Receipt) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[r.ID]; !ok {
		return domainErrors.ErrReceiptNotFound
	}
	m.receipts[r.ID] = *r
	return nil
}

func (m *MockReceiptRepository) List(_ context.Context, f receipt.ListFilter) ([]*receipt.Receipt, error) {
	all := m.sorted(func(a, b *receipt.Receipt) bool { return a.CreatedAt.After(b.CreatedAt) })

	var out []*receipt.Receipt
	for _, r := range all {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.Kind != nil && r.Kind != *f.Kind {
			continue
		}
		out = append(out, r)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MockReceiptRepository) ListUnsettled(ctx context.Context, since, staleBefore time.Time, limit int) ([]*receipt.Receipt, error) {
	if m.ListUnsettledFunc != nil {
		return m.ListUnsettledFunc(ctx, since, staleBefore, limit)
	}
	var out []*receipt.Receipt
	for _, r := range m.sorted(func(a, b *receipt.Receipt) bool { return a.CreatedAt.Before(b.CreatedAt) }) {
		if !r.CreatedAt.After(since) {
			continue
		}
		stale := r.Status == receipt.StatusPending && r.CreatedAt.Before(staleBefore)
		if r.Status == receipt.StatusTimedOut || stale {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns the stored copy of a receipt, or nil.
func (m *MockReceiptRepository) Get(id uuid.UUID) *receipt.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil
	}
	return &r
}

// All returns every stored receipt, oldest first.
func (m *MockReceiptRepository) All() []*receipt.Receipt {
	return m.sorted(func(a, b *receipt.Receipt) bool { return a.CreatedAt.Before(b.CreatedAt) })
}

func (m *MockReceiptRepository) sorted(less func(a, b *receipt.Receipt) bool) []*receipt.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*receipt.Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository records inserted entries and serves them as pending
// until they are marked.
type MockOutboxRepository struct {
	mu        sync.Mutex
	entries   []*outbox.Entry
	Published []uuid.UUID
	Failed    []uuid.UUID

	InsertFunc     func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc func(ctx context.Context, limit int) ([]*outbox.Entry, error)
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.Status != outbox.StatusPending {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, id)
	for _, e := range m.entries {
		if e.ID == id {
			now := time.Now()
			e.Status = outbox.StatusPublished
			e.PublishedAt = &now
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed = append(m.Failed, id)
	for _, e := range m.entries {
		if e.ID == id {
			e.RetryCount++
			if e.RetryCount >= e.MaxRetries {
				e.Status = outbox.StatusFailed
			}
			return e.Status == outbox.StatusFailed, nil
		}
	}
	return false, nil
}

// Entries returns every inserted entry.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.entries...)
}

// EventTypes returns the event type of every inserted entry, in order.
func (m *MockOutboxRepository) EventTypes() []string {
	var types []string
	for _, e := range m.Entries() {
		types = append(types, e.EventType)
	}
	return types
}

// --- Locker Mock ---

// MockLocker is an in-process stand-in for the Redis locker. With a positive
// TTL a lock lapses unless refreshed, like a SET NX key with PX.
type MockLocker struct {
	mu   sync.Mutex
	TTL  time.Duration
	held map[string]*MockLease

	TryLockFunc  func(ctx context.Context, key string) (func(context.Context) error, error)
	TryLeaseFunc func(ctx context.Context, key string) (*MockLease, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]*MockLease)}
}

func (m *MockLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key)
	}
	l, err := m.acquire(key)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

func (m *MockLocker) TryLease(ctx context.Context, key string) (*MockLease, error) {
	if m.TryLeaseFunc != nil {
		return m.TryLeaseFunc(ctx, key)
	}
	return m.acquire(key)
}

func (m *MockLocker) acquire(key string) (*MockLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.held[key]; ok && !cur.expiredLocked() {
		return nil, domainErrors.ErrLockAcquisitionFailed
	}
	l := &MockLease{locker: m, key: key}
	l.extendLocked()
	m.held[key] = l
	return l, nil
}

// Held reports whether key is currently locked.
func (m *MockLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.held[key]
	return ok && !l.expiredLocked()
}

// MockLease is one acquisition of a MockLocker key.
type MockLease struct {
	locker    *MockLocker
	key       string
	expiresAt time.Time
	Refreshes int
}

func (l *MockLease) Refresh(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] != l || l.expiredLocked() {
		return domainErrors.ErrLockNotHeld
	}
	l.extendLocked()
	l.Refreshes++
	return nil
}

func (l *MockLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] != l {
		return domainErrors.ErrLockNotHeld
	}
	delete(l.locker.held, l.key)
	return nil
}

func (l *MockLease) extendLocked() {
	if l.locker.TTL > 0 {
		l.expiresAt = time.Now().Add(l.locker.TTL)
	}
}

func (l *MockLease) expiredLocked() bool {
	return !l.expiresAt.IsZero() && time.Now().After(l.expiresAt)
}

// --- Idempotency Store Mock ---

// MockIdempotencyStore keeps idempotency entries in memory.
type MockIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
	Sets    int
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)}
}

func (m *MockIdempotencyStore) Get(_ context.Context, key string) (*postgres.IdempotencyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.ExpiresAt) {
		return nil, nil
	}
	return e, nil
}

func (m *MockIdempotencyStore) Set(_ context.Context, entry *postgres.IdempotencyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	m.Sets++
	return nil
}

// --- Stream Publisher Mock ---

// PublishedEvent is one call to MockPublisher.Publish.
type PublishedEvent struct {
	AggregateID string
	EventType   string
	Data        map[string]any
}

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent

	PublishFunc func(ctx context.Context, aggregateID, eventType string, data map[string]any) error
}

func (m *MockPublisher) Publish(ctx context.Context, aggregateID, eventType string, data map[string]any) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, aggregateID, eventType, data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, PublishedEvent{AggregateID: aggregateID, EventType: eventType, Data: data})
	return nil
}
