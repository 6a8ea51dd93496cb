package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-gate/internal/model"
)

// OrderRepo reads orders and owns the QR code columns of the orders table.
// All timestamps are stored in UTC.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const selectOrder = `SELECT o.id, o.user_id, o.event_id, o.status,
       o.qr_code_data, o.qr_code_s3_url, o.qr_code_used, o.qr_code_used_at,
       o.created_at, o.updated_at,
       COALESCE(u.full_name, ''), COALESCE(e.title, '')
FROM orders o
LEFT JOIN users u ON u.id = o.user_id
LEFT JOIN events e ON e.id = o.event_id
WHERE o.id = ?
LIMIT 1`

// GetOrder loads an order with the holder's name and the event title.
// ErrNotFound is returned when no order has the given id.
func (r *OrderRepo) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var (
		o      model.Order
		qrData sql.NullString
		qrURL  sql.NullString
		usedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectOrder, id).Scan(
		&o.ID, &o.UserID, &o.EventID, &o.Status,
		&qrData, &qrURL, &o.QRCodeUsed, &usedAt,
		&o.CreatedAt, &o.UpdatedAt,
		&o.UserName, &o.EventTitle,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	o.QRCodeData = qrData.String
	o.QRCodeS3URL = qrURL.String
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		o.QRCodeUsedAt = &t
	}
	return &o, nil
}

// MarkUsedIfUnused flips qr_code_used from false to true in a single
// conditional statement and reports whether this call made the transition.
// A false result means another scan already redeemed the order (or the
// order vanished); concurrent callers can never both observe true.
func (r *OrderRepo) MarkUsedIfUnused(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET qr_code_used = TRUE, qr_code_used_at = ? WHERE id = ? AND qr_code_used = FALSE",
		at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark order %s used: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order %s used: %w", id, err)
	}
	return n == 1, nil
}

// ResetUsed clears the used flag unconditionally.
func (r *OrderRepo) ResetUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET qr_code_used = FALSE, qr_code_used_at = NULL WHERE id = ?",
		id)
	if err != nil {
		return fmt.Errorf("reset order %s: %w", id, err)
	}
	return nil
}

// SaveTicket stores the issued payload and, when non-empty, the image URL.
// An existing image URL is kept when imageURL is empty.
func (r *OrderRepo) SaveTicket(ctx context.Context, id, payload, imageURL string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET qr_code_data = ?, qr_code_s3_url = COALESCE(NULLIF(?, ''), qr_code_s3_url) WHERE id = ?",
		payload, imageURL, id)
	if err != nil {
		return fmt.Errorf("save ticket for order %s: %w", id, err)
	}
	return nil
}
