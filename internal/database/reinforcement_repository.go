package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ReinforcementRepository stores per-subscriber "repeat more" flags
type ReinforcementRepository struct {
	db *sqlx.DB
}

// NewReinforcementRepository creates a new repository instance
func NewReinforcementRepository(db *sqlx.DB) *ReinforcementRepository {
	return &ReinforcementRepository{db: db}
}

// FlaggedIDs returns the words the subscriber asked to repeat
func (r *ReinforcementRepository) FlaggedIDs(ctx context.Context, subscriberID int64) ([]int64, error) {
	var ids []int64
	query := r.db.Rebind("SELECT word_id FROM reinforcement_flags WHERE subscriber_id = ? ORDER BY flagged_at")
	if err := r.db.SelectContext(ctx, &ids, query, subscriberID); err != nil {
		return nil, errors.Wrapf(err, "failed to get flags for subscriber %d", subscriberID)
	}
	return ids, nil
}

// IsFlagged reports whether the word is flagged for the subscriber
func (r *ReinforcementRepository) IsFlagged(ctx context.Context, subscriberID, wordID int64) (bool, error) {
	var count int
	query := r.db.Rebind("SELECT COUNT(*) FROM reinforcement_flags WHERE subscriber_id = ? AND word_id = ?")
	if err := r.db.GetContext(ctx, &count, query, subscriberID, wordID); err != nil {
		return false, errors.Wrapf(err, "failed to check flag of word %d", wordID)
	}
	return count > 0, nil
}

// Flag marks the word for accelerated redelivery
func (r *ReinforcementRepository) Flag(ctx context.Context, subscriberID, wordID int64, at time.Time) error {
	query := r.db.Rebind(`
		INSERT INTO reinforcement_flags (subscriber_id, word_id, flagged_at)
		VALUES (?, ?, ?)
		ON CONFLICT (subscriber_id, word_id) DO NOTHING
	`)
	if _, err := r.db.ExecContext(ctx, query, subscriberID, wordID, at.UTC()); err != nil {
		return errors.Wrapf(err, "failed to flag word %d", wordID)
	}
	return nil
}

// Unflag clears the flag
func (r *ReinforcementRepository) Unflag(ctx context.Context, subscriberID, wordID int64) error {
	query := r.db.Rebind("DELETE FROM reinforcement_flags WHERE subscriber_id = ? AND word_id = ?")
	if _, err := r.db.ExecContext(ctx, query, subscriberID, wordID); err != nil {
		return errors.Wrapf(err, "failed to unflag word %d", wordID)
	}
	return nil
}

// Toggle flips the flag and returns the new state
func (r *ReinforcementRepository) Toggle(ctx context.Context, subscriberID, wordID int64, at time.Time) (bool, error) {
	flagged, err := r.IsFlagged(ctx, subscriberID, wordID)
	if err != nil {
		return false, err
	}
	if flagged {
		return false, r.Unflag(ctx, subscriberID, wordID)
	}
	return true, r.Flag(ctx, subscriberID, wordID, at)
}

// CountFlagged returns the number of flagged words
func (r *ReinforcementRepository) CountFlagged(ctx context.Context, subscriberID int64) (int, error) {
	var count int
	query := r.db.Rebind("SELECT COUNT(*) FROM reinforcement_flags WHERE subscriber_id = ?")
	if err := r.db.GetContext(ctx, &count, query, subscriberID); err != nil {
		return 0, errors.Wrapf(err, "failed to count flags for subscriber %d", subscriberID)
	}
	return count, nil
}
