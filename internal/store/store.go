// Package store provides the storage interfaces the agent core consumes and
// their implementations. The core only needs get/set/insert primitives:
// a TTL key-value store for tool caches and plans, and record stores for
// approvals, bookings and conversation memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tripsage/tripsage-core/pkg/models"
)

// ── Key-Value Store ─────────────────────────────────────────

// KV is a key-value store with per-key expiry. A zero ttl means no expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ── Approval Store ──────────────────────────────────────────

type ApprovalStore interface {
	// GetApproval returns an approval by gate key (action:idempotencyKey).
	GetApproval(ctx context.Context, gateKey string) (*models.ApprovalRecord, error)

	// CreateApprovalIfAbsent inserts record unless one already exists for
	// its gate key. It returns the stored record and whether it was created.
	CreateApprovalIfAbsent(ctx context.Context, record *models.ApprovalRecord) (*models.ApprovalRecord, bool, error)

	// UpdateApproval writes record only while the stored status is still
	// from. It returns *ErrNotFound for a missing record and *ErrConflict
	// when the status has already moved on.
	UpdateApproval(ctx context.Context, record *models.ApprovalRecord, from models.ApprovalStatus) error

	// ListApprovals returns approvals filtered by status ("" for all).
	ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error)
}

// ── Booking Store ───────────────────────────────────────────

type BookingStore interface {
	// InsertBooking stores booking unless one exists for its idempotency
	// key, and returns whichever booking is stored.
	InsertBooking(ctx context.Context, booking *models.Booking) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error)
	ListBookings(ctx context.Context, userID string) ([]models.Booking, error)
}

// ── Memory Store ────────────────────────────────────────────

type MemoryRecordStore interface {
	InsertMemory(ctx context.Context, record *models.MemoryRecord) error
	ListMemories(ctx context.Context, userID string, limit int) ([]models.MemoryRecord, error)
}

// RecordStore bundles the relational stores.
type RecordStore interface {
	ApprovalStore
	BookingStore
	MemoryRecordStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a conditional write finds the entity in an
// unexpected state.
type ErrConflict struct {
	Entity string
	Key    string
	Status string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " " + e.Key + " is already " + e.Status
}

// IsConflict reports whether err is (or wraps) an *ErrConflict.
func IsConflict(err error) bool {
	var c *ErrConflict
	return errors.As(err, &c)
}

// IsNotFound reports whether err is (or wraps) an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
