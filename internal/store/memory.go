// Package store — in-memory implementations.
// Used when PostgreSQL is not configured (local dev, tests).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tripsage/tripsage-core/pkg/models"
)

// ── MemoryKV ────────────────────────────────────────────────

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// MemoryKV implements KV with a map and lazy expiry.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]kvEntry
	now     func() time.Time
}

// NewMemoryKV creates an empty in-memory key-value store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]kvEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (m *MemoryKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	now := m.now()
	m.mu.RUnlock()

	if !ok || (!e.expiresAt.IsZero() && !now.Before(e.expiresAt)) {
		return nil, &ErrNotFound{Entity: "key", Key: key}
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := kvEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// TTL returns the remaining lifetime of key; ok is false for missing keys.
// Keys without expiry report a zero duration.
func (m *MemoryKV) TTL(key string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(m.now()), true
}

// PurgeExpired deletes expired entries and returns how many were removed.
func (m *MemoryKV) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// ── MemoryStore ─────────────────────────────────────────────

// MemoryStore implements RecordStore with in-memory maps.
type MemoryStore struct {
	mu        sync.RWMutex
	approvals map[string]*models.ApprovalRecord // key: gate key
	bookings  map[string]*models.Booking        // key: idempotency key
	memories  map[string][]*models.MemoryRecord // key: user id, newest last
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		approvals: make(map[string]*models.ApprovalRecord),
		bookings:  make(map[string]*models.Booking),
		memories:  make(map[string][]*models.MemoryRecord),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

// ── Approvals ───────────────────────────────────────────────

func (s *MemoryStore) GetApproval(_ context.Context, gateKey string) (*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.approvals[gateKey]
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: gateKey}
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) CreateApprovalIfAbsent(_ context.Context, record *models.ApprovalRecord) (*models.ApprovalRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.GateKey()
	if existing, ok := s.approvals[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := *record
	s.approvals[key] = &stored
	cp := stored
	return &cp, true, nil
}

func (s *MemoryStore) UpdateApproval(_ context.Context, record *models.ApprovalRecord, from models.ApprovalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.GateKey()
	current, ok := s.approvals[key]
	if !ok {
		return &ErrNotFound{Entity: "approval", Key: key}
	}
	if current.Status != from {
		return &ErrConflict{Entity: "approval", Key: key, Status: string(current.Status)}
	}
	stored := *record
	s.approvals[key] = &stored
	return nil
}

func (s *MemoryStore) ListApprovals(_ context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ApprovalRecord
	for _, rec := range s.approvals {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Bookings ────────────────────────────────────────────────

func (s *MemoryStore) InsertBooking(_ context.Context, booking *models.Booking) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bookings[booking.IdempotencyKey]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *booking
	s.bookings[booking.IdempotencyKey] = &stored
	cp := stored
	return &cp, nil
}

func (s *MemoryStore) GetBookingByIdempotencyKey(_ context.Context, key string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[key]
	if !ok {
		return nil, &ErrNotFound{Entity: "booking", Key: key}
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBookings(_ context.Context, userID string) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ── Memories ────────────────────────────────────────────────

func (s *MemoryStore) InsertMemory(_ context.Context, record *models.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	s.memories[record.UserID] = append(s.memories[record.UserID], &stored)
	return nil
}

// ListMemories returns the newest memories first.
func (s *MemoryStore) ListMemories(_ context.Context, userID string, limit int) ([]models.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.memories[userID]
	out := make([]models.MemoryRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, *recs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
