// Package selection decides which words a subscriber receives next.
//
// A batch is built in tiers: words the subscriber flagged for reinforcement
// whose cooldown has passed come first, then novel words the subscriber has not
// seen in the current catalog cycle. When the subscriber has seen the whole
// catalog the ledger is reset and novel selection starts over.
package selection

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/example/estbot/pkg/models"
	"github.com/pkg/errors"
)

// DefaultCooldown is the minimum time between two reinforcement deliveries of a word
const DefaultCooldown = 24 * time.Hour

// Catalog is the read side of the word catalog
type Catalog interface {
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, id int64) (*models.Word, error)
	Sample(ctx context.Context, n int, exclude []int64, category string) ([]models.Word, error)
}

// Ledger is the per-subscriber delivery history
type Ledger interface {
	SeenIDs(ctx context.Context, subscriberID int64) ([]int64, error)
	CountSeen(ctx context.Context, subscriberID int64) (int, error)
	LastDeliveredAt(ctx context.Context, subscriberID, wordID int64) (*time.Time, error)
	Reset(ctx context.Context, subscriberID int64) error
}

// Flags lists words a subscriber flagged for reinforcement
type Flags interface {
	FlaggedIDs(ctx context.Context, subscriberID int64) ([]int64, error)
}

// Policy selects batches. It writes nothing except the ledger reset on
// exhaustion; callers record each delivery after it succeeds.
type Policy struct {
	catalog  Catalog
	ledger   Ledger
	flags    Flags
	cooldown time.Duration
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Policy
type Option func(*Policy)

// WithCooldown overrides DefaultCooldown
func WithCooldown(d time.Duration) Option {
	return func(p *Policy) { p.cooldown = d }
}

// WithRand sets the source used to order reinforcement words
func WithRand(rng *rand.Rand) Option {
	return func(p *Policy) { p.rng = rng }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) { p.logger = logger }
}

// New creates a Policy
func New(catalog Catalog, ledger Ledger, flags Flags, opts ...Option) *Policy {
	p := &Policy{
		catalog:  catalog,
		ledger:   ledger,
		flags:    flags,
		cooldown: DefaultCooldown,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// Select returns up to k words for the subscriber: due reinforcement words
// first, then novel words. The result is shorter than k only when the catalog
// cannot supply more; an empty catalog yields an empty result.
func (p *Policy) Select(ctx context.Context, subscriberID int64, k int, now time.Time) ([]models.Word, error) {
	if k <= 0 {
		return nil, nil
	}

	batch, err := p.reinforcement(ctx, subscriberID, k, now)
	if err != nil {
		return nil, err
	}
	if len(batch) == k {
		return batch, nil
	}

	chosen := make([]int64, 0, len(batch))
	for _, w := range batch {
		chosen = append(chosen, w.ID)
	}

	seen, err := p.ledger.SeenIDs(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	novel, err := p.catalog.Sample(ctx, k-len(batch), append(seen, chosen...), "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample novel words")
	}

	if len(novel) == 0 {
		exhausted, err := p.exhausted(ctx, subscriberID)
		if err != nil {
			return nil, err
		}
		if exhausted {
			if err := p.ledger.Reset(ctx, subscriberID); err != nil {
				return nil, err
			}
			p.logger.Info("Catalog exhausted, delivery history reset", "subscriber_id", subscriberID)

			novel, err = p.catalog.Sample(ctx, k-len(batch), chosen, "")
			if err != nil {
				return nil, errors.Wrap(err, "failed to sample words after reset")
			}
		}
	}

	return append(batch, novel...), nil
}

// reinforcement returns up to k flagged words that were never delivered or
// whose last delivery is older than the cooldown, in random order
func (p *Policy) reinforcement(ctx context.Context, subscriberID int64, k int, now time.Time) ([]models.Word, error) {
	if p.flags == nil {
		return nil, nil
	}
	ids, err := p.flags.FlaggedIDs(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	p.mu.Unlock()

	var due []models.Word
	for _, id := range ids {
		if len(due) == k {
			break
		}
		last, err := p.ledger.LastDeliveredAt(ctx, subscriberID, id)
		if err != nil {
			return nil, err
		}
		if last != nil && now.Sub(*last) < p.cooldown {
			continue
		}
		word, err := p.catalog.Get(ctx, id)
		if err != nil {
			// a flag may outlive its word on stores without cascading deletes
			p.logger.Warn("Skipping flagged word", "subscriber_id", subscriberID, "word_id", id, "error", err)
			continue
		}
		due = append(due, *word)
	}
	return due, nil
}

// exhausted reports whether the subscriber has seen the whole catalog
func (p *Policy) exhausted(ctx context.Context, subscriberID int64) (bool, error) {
	total, err := p.catalog.Count(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to count catalog")
	}
	if total == 0 {
		return false, nil
	}
	seen, err := p.ledger.CountSeen(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	return seen >= total, nil
}
