package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/pkg/models"
)

// PostgresStore implements RecordStore on PostgreSQL.
// Connection URL is read from TRIPSAGE_DATABASE_URL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and creates the tables if needed.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres record store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS ts_approvals (
			id              TEXT NOT NULL,
			action          TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			session_id      TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			approver_id     TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at     TIMESTAMPTZ,
			PRIMARY KEY (action, idempotency_key)
		);

		CREATE INDEX IF NOT EXISTS idx_ts_approvals_status ON ts_approvals (status);

		CREATE TABLE IF NOT EXISTS ts_bookings (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			session_id        TEXT NOT NULL DEFAULT '',
			idempotency_key   TEXT NOT NULL UNIQUE,
			listing_id        TEXT NOT NULL,
			confirmation_code TEXT NOT NULL DEFAULT '',
			check_in          TEXT NOT NULL DEFAULT '',
			check_out         TEXT NOT NULL DEFAULT '',
			guests            INT NOT NULL DEFAULT 1,
			total_amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency          TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_ts_bookings_user ON ts_bookings (user_id);

		CREATE TABLE IF NOT EXISTS ts_memories (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			category   TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_ts_memories_user ON ts_memories (user_id, created_at DESC);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Approvals ───────────────────────────────────────────────

const approvalColumns = `id, action, idempotency_key, session_id, status, approver_id, created_at, resolved_at`

func scanApproval(row pgx.Row) (*models.ApprovalRecord, error) {
	var rec models.ApprovalRecord
	var status string
	if err := row.Scan(&rec.ID, &rec.Action, &rec.IdempotencyKey, &rec.SessionID,
		&status, &rec.ApproverID, &rec.CreatedAt, &rec.ResolvedAt); err != nil {
		return nil, err
	}
	rec.Status = models.ApprovalStatus(status)
	return &rec, nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, gateKey string) (*models.ApprovalRecord, error) {
	action, key, ok := splitGateKey(gateKey)
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: gateKey}
	}
	rec, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM ts_approvals WHERE action = $1 AND idempotency_key = $2`,
		action, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "approval", Key: gateKey}
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CreateApprovalIfAbsent(ctx context.Context, record *models.ApprovalRecord) (*models.ApprovalRecord, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ts_approvals (id, action, idempotency_key, session_id, status, approver_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (action, idempotency_key) DO NOTHING`,
		record.ID, record.Action, record.IdempotencyKey, record.SessionID,
		string(record.Status), record.ApproverID, record.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("create approval: %w", err)
	}
	stored, err := s.GetApproval(ctx, record.GateKey())
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateApproval(ctx context.Context, record *models.ApprovalRecord, from models.ApprovalStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ts_approvals SET status = $3, approver_id = $4, resolved_at = $5
		WHERE action = $1 AND idempotency_key = $2 AND status = $6`,
		record.Action, record.IdempotencyKey, string(record.Status), record.ApproverID, record.ResolvedAt, string(from))
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := s.GetApproval(ctx, record.GateKey())
	if err != nil {
		return err
	}
	return &ErrConflict{Entity: "approval", Key: record.GateKey(), Status: string(current.Status)}
}

func (s *PostgresStore) ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+approvalColumns+` FROM ts_approvals
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []models.ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ── Bookings ────────────────────────────────────────────────

const bookingColumns = `id, user_id, session_id, idempotency_key, listing_id, confirmation_code,
	check_in, check_out, guests, total_amount, currency, status, created_at`

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.SessionID, &b.IdempotencyKey, &b.ListingID,
		&b.ConfirmationCode, &b.CheckIn, &b.CheckOut, &b.Guests, &b.TotalAmount,
		&b.Currency, &b.Status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBooking is idempotent on the booking's idempotency key.
func (s *PostgresStore) InsertBooking(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ts_bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		b.ID, b.UserID, b.SessionID, b.IdempotencyKey, b.ListingID, b.ConfirmationCode,
		b.CheckIn, b.CheckOut, b.Guests, b.TotalAmount, b.Currency, b.Status, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return s.GetBookingByIdempotencyKey(ctx, b.IdempotencyKey)
}

func (s *PostgresStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM ts_bookings WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "booking", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM ts_bookings WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ── Memories ────────────────────────────────────────────────

func (s *PostgresStore) InsertMemory(ctx context.Context, r *models.MemoryRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ts_memories (id, user_id, session_id, category, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.UserID, r.SessionID, r.Category, r.Content, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMemories(ctx context.Context, userID string, limit int) ([]models.MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, session_id, category, content, created_at
		FROM ts_memories WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryRecord
	for rows.Next() {
		var r models.MemoryRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Category, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// splitGateKey splits "action:idempotencyKey" on the first colon.
func splitGateKey(gateKey string) (action, key string, ok bool) {
	for i := 0; i < len(gateKey); i++ {
		if gateKey[i] == ':' {
			return gateKey[:i], gateKey[i+1:], true
		}
	}
	return "", "", false
}
