package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// DeliveryRepository is the per-subscriber ledger of delivered words
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository creates a new repository instance
func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// SeenIDs returns the ids of every word delivered to the subscriber since the last reset
func (r *DeliveryRepository) SeenIDs(ctx context.Context, subscriberID int64) ([]int64, error) {
	var ids []int64
	query := r.db.Rebind("SELECT word_id FROM deliveries WHERE subscriber_id = ?")
	if err := r.db.SelectContext(ctx, &ids, query, subscriberID); err != nil {
		return nil, errors.Wrapf(err, "failed to get seen words for subscriber %d", subscriberID)
	}
	return ids, nil
}

// CountSeen returns the number of distinct words delivered since the last reset
func (r *DeliveryRepository) CountSeen(ctx context.Context, subscriberID int64) (int, error) {
	var count int
	query := r.db.Rebind("SELECT COUNT(*) FROM deliveries WHERE subscriber_id = ?")
	if err := r.db.GetContext(ctx, &count, query, subscriberID); err != nil {
		return 0, errors.Wrapf(err, "failed to count seen words for subscriber %d", subscriberID)
	}
	return count, nil
}

// LastDeliveredAt returns when the word was last delivered, or nil if never
func (r *DeliveryRepository) LastDeliveredAt(ctx context.Context, subscriberID, wordID int64) (*time.Time, error) {
	var at time.Time
	query := r.db.Rebind("SELECT last_delivered_at FROM deliveries WHERE subscriber_id = ? AND word_id = ?")
	err := r.db.GetContext(ctx, &at, query, subscriberID, wordID)
	if errors.Is(notFound(err), ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get last delivery of word %d", wordID)
	}
	return &at, nil
}

// DeliveryCount returns how many times the word was delivered since the last reset
func (r *DeliveryRepository) DeliveryCount(ctx context.Context, subscriberID, wordID int64) (int, error) {
	var count int
	query := r.db.Rebind("SELECT delivery_count FROM deliveries WHERE subscriber_id = ? AND word_id = ?")
	err := r.db.GetContext(ctx, &count, query, subscriberID, wordID)
	if errors.Is(notFound(err), ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get delivery count of word %d", wordID)
	}
	return count, nil
}

// RecordDelivery counts one delivery of the word. The upsert is a single statement,
// so concurrent calls for the same pair never lose an increment.
func (r *DeliveryRepository) RecordDelivery(ctx context.Context, subscriberID, wordID int64, when time.Time) error {
	query := r.db.Rebind(`
		INSERT INTO deliveries (subscriber_id, word_id, delivery_count, last_delivered_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (subscriber_id, word_id) DO UPDATE SET
			delivery_count = deliveries.delivery_count + 1,
			last_delivered_at = EXCLUDED.last_delivered_at
	`)
	err := withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, subscriberID, wordID, when.UTC())
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to record delivery of word %d to subscriber %d", wordID, subscriberID)
	}
	return nil
}

// Reset deletes the subscriber's delivery history, starting a new catalog cycle
func (r *DeliveryRepository) Reset(ctx context.Context, subscriberID int64) error {
	query := r.db.Rebind("DELETE FROM deliveries WHERE subscriber_id = ?")
	err := withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, subscriberID)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to reset deliveries for subscriber %d", subscriberID)
	}
	return nil
}
