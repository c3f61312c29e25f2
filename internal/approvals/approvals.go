// Package approvals implements the human approval gate for sensitive tool
// actions (bookings, deletions).
//
// Require looks up the approval record for (action, idempotencyKey). A
// missing record is created pending; pending and denied records block;
// granted records let the caller proceed. Repeated calls with the same key
// never create a second record, so gated tools are safe to retry.
package approvals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// Options identifies the gated operation.
type Options struct {
	IdempotencyKey string
	SessionID      string
}

// Notifier is told about new and resolved approval records. It must not
// block; the gate calls it inline.
type Notifier interface {
	ApprovalChanged(ctx context.Context, rec *models.ApprovalRecord)
}

// Gate checks and resolves approval records.
type Gate struct {
	store    store.ApprovalStore
	now      func() time.Time
	notifier Notifier
}

// NewGate creates a gate over an approval store.
func NewGate(s store.ApprovalStore) *Gate {
	return &Gate{store: s, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// SetNotifier registers n for approval changes.
func (g *Gate) SetNotifier(n Notifier) { g.notifier = n }

func (g *Gate) notify(ctx context.Context, rec *models.ApprovalRecord) {
	if g.notifier != nil {
		cp := *rec
		g.notifier.ApprovalChanged(ctx, &cp)
	}
}

// Require returns nil only when the operation has been granted. Otherwise
// it returns approval_required (carrying the record under Meta "approval")
// or approval_denied. The store is consulted on every call; approval is
// never cached here.
func (g *Gate) Require(ctx context.Context, action string, opts Options) error {
	if action == "" || opts.IdempotencyKey == "" {
		return cerr.New(cerr.ToolInvalidInput, "approval requires an action and idempotency key", nil)
	}
	if opts.SessionID == "" {
		return cerr.Newf(cerr.ApprovalMissingSession, "approval for %s requires a session", action)
	}

	rec, created, err := g.store.CreateApprovalIfAbsent(ctx, &models.ApprovalRecord{
		ID:             uuid.New().String(),
		Action:         action,
		IdempotencyKey: opts.IdempotencyKey,
		SessionID:      opts.SessionID,
		Status:         models.ApprovalPending,
		CreatedAt:      g.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("approval lookup %s: %w", models.ApprovalGateKey(action, opts.IdempotencyKey), err)
	}

	if created {
		log.Info().
			Str("action", action).
			Str("idempotency_key", opts.IdempotencyKey).
			Str("session_id", opts.SessionID).
			Msg("Approval requested")
		g.notify(ctx, rec)
	}

	switch rec.Status {
	case models.ApprovalGranted:
		return nil
	case models.ApprovalDenied:
		return cerr.Newf(cerr.ApprovalDenied, "%s was denied", action).
			WithMeta("approval", rec)
	default:
		return cerr.Newf(cerr.ApprovalRequired, "%s requires approval", action).
			WithMeta("approval", rec)
	}
}

// Get returns the record for (action, idempotencyKey).
func (g *Gate) Get(ctx context.Context, action, idempotencyKey string) (*models.ApprovalRecord, error) {
	rec, err := g.store.GetApproval(ctx, models.ApprovalGateKey(action, idempotencyKey))
	if store.IsNotFound(err) {
		return nil, cerr.New(cerr.ApprovalNotFound, "approval not found", err)
	}
	return rec, err
}

// Grant approves a pending operation.
func (g *Gate) Grant(ctx context.Context, action, idempotencyKey, approverID string) (*models.ApprovalRecord, error) {
	return g.resolve(ctx, action, idempotencyKey, approverID, models.ApprovalGranted)
}

// Deny rejects a pending operation.
func (g *Gate) Deny(ctx context.Context, action, idempotencyKey, approverID string) (*models.ApprovalRecord, error) {
	return g.resolve(ctx, action, idempotencyKey, approverID, models.ApprovalDenied)
}

// List returns records by status ("" for all).
func (g *Gate) List(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error) {
	return g.store.ListApprovals(ctx, status, limit)
}

func (g *Gate) resolve(ctx context.Context, action, key, approverID string, status models.ApprovalStatus) (*models.ApprovalRecord, error) {
	rec, err := g.Get(ctx, action, key)
	if err != nil {
		return nil, err
	}
	if rec.Status == status {
		return rec, nil
	}
	if rec.Status != models.ApprovalPending {
		return nil, alreadyResolved(rec)
	}

	now := g.now().UTC()
	rec.Status = status
	rec.ApproverID = approverID
	rec.ResolvedAt = &now
	if err := g.store.UpdateApproval(ctx, rec, models.ApprovalPending); err != nil {
		if !store.IsConflict(err) {
			return nil, fmt.Errorf("update approval: %w", err)
		}
		// Another resolver got there first.
		current, gerr := g.Get(ctx, action, key)
		if gerr != nil {
			return nil, gerr
		}
		if current.Status == status {
			return current, nil
		}
		return nil, alreadyResolved(current)
	}

	log.Info().
		Str("action", action).
		Str("idempotency_key", key).
		Str("status", string(status)).
		Str("approver", approverID).
		Msg("Approval resolved")
	g.notify(ctx, rec)
	return rec, nil
}

func alreadyResolved(rec *models.ApprovalRecord) error {
	return cerr.Newf(cerr.ApprovalConflict, "approval already %s", rec.Status).
		WithMeta("approval", rec)
}

// PendingRecord extracts the approval record from an approval_required error.
func PendingRecord(err error) (*models.ApprovalRecord, bool) {
	if !cerr.IsCode(err, cerr.ApprovalRequired) {
		return nil, false
	}
	e, ok := cerr.As(err)
	if !ok {
		return nil, false
	}
	rec, ok := e.Meta["approval"].(*models.ApprovalRecord)
	return rec, ok
}
