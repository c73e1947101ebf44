package selection

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/example/estbot/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

var errNotFound = errors.New("not found")

// memStore is an in-memory catalog, ledger and flag store
type memStore struct {
	words   map[int64]models.Word
	records map[int64]map[int64]time.Time
	flags   map[int64][]int64
	resets  int
	rng     *rand.Rand
}

func newMemStore(n int) *memStore {
	s := &memStore{
		words:   make(map[int64]models.Word),
		records: make(map[int64]map[int64]time.Time),
		flags:   make(map[int64][]int64),
		rng:     rand.New(rand.NewSource(3)),
	}
	for i := 1; i <= n; i++ {
		s.words[int64(i)] = models.Word{ID: int64(i), Word: "w", Category: "noun", Translation: "t"}
	}
	return s
}

func (s *memStore) Count(ctx context.Context) (int, error) { return len(s.words), nil }

func (s *memStore) Get(ctx context.Context, id int64) (*models.Word, error) {
	w, ok := s.words[id]
	if !ok {
		return nil, errNotFound
	}
	return &w, nil
}

func (s *memStore) Sample(ctx context.Context, n int, exclude []int64, category string) ([]models.Word, error) {
	skip := map[int64]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	var ids []int64
	for id, w := range s.words {
		if skip[id] || (category != "" && w.Category != category) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]models.Word, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.words[id])
	}
	return out, nil
}

func (s *memStore) SeenIDs(ctx context.Context, subscriberID int64) ([]int64, error) {
	var ids []int64
	for id := range s.records[subscriberID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) CountSeen(ctx context.Context, subscriberID int64) (int, error) {
	return len(s.records[subscriberID]), nil
}

func (s *memStore) LastDeliveredAt(ctx context.Context, subscriberID, wordID int64) (*time.Time, error) {
	at, ok := s.records[subscriberID][wordID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (s *memStore) Reset(ctx context.Context, subscriberID int64) error {
	delete(s.records, subscriberID)
	s.resets++
	return nil
}

func (s *memStore) FlaggedIDs(ctx context.Context, subscriberID int64) ([]int64, error) {
	return append([]int64(nil), s.flags[subscriberID]...), nil
}

func (s *memStore) record(subscriberID int64, words []models.Word, at time.Time) {
	if s.records[subscriberID] == nil {
		s.records[subscriberID] = make(map[int64]time.Time)
	}
	for _, w := range words {
		s.records[subscriberID][w.ID] = at
	}
}

func newPolicy(s *memStore) *Policy {
	return New(s, s, s, WithRand(rand.New(rand.NewSource(1))))
}

func ids(words []models.Word) []int64 {
	out := make([]int64, 0, len(words))
	for _, w := range words {
		out = append(out, w.ID)
	}
	return out
}

func TestSelectSmallCatalogResetsOnExhaustion(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(3)
	p := newPolicy(store)

	first, err := p.Select(ctx, 1, 5, t0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids(first))
	store.record(1, first, t0)

	seen, _ := store.CountSeen(ctx, 1)
	assert.Equal(t, 3, seen)

	second, err := p.Select(ctx, 1, 5, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids(second))
	assert.Equal(t, 1, store.resets)
}

func TestSelectNoPrematureRepeat(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(10)
	p := newPolicy(store)

	delivered := map[int64]int{}
	now := t0
	for len(delivered) < 10 {
		batch, err := p.Select(ctx, 1, 3, now)
		require.NoError(t, err)
		require.NotEmpty(t, batch)
		for _, w := range batch {
			delivered[w.ID]++
			assert.Equal(t, 1, delivered[w.ID], "word %d repeated before exhaustion", w.ID)
		}
		store.record(1, batch, now)
		now = now.Add(time.Hour)
	}
	assert.Zero(t, store.resets)

	// whole catalog seen: the next call starts a new cycle
	batch, err := p.Select(ctx, 1, 3, now)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, 1, store.resets)
}

func TestSelectPartialRemainderDoesNotReset(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(10)
	p := newPolicy(store)

	var seen []models.Word
	for id := int64(1); id <= 9; id++ {
		seen = append(seen, store.words[id])
	}
	store.record(1, seen, t0)

	batch, err := p.Select(ctx, 1, 3, t0)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids(batch))
	assert.Zero(t, store.resets)
}

func TestSelectReinforcementFirst(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(5)
	const x = int64(4)
	store.flags[1] = []int64{x}
	store.record(1, []models.Word{store.words[x]}, t0.Add(-25*time.Hour))
	p := newPolicy(store)

	batch, err := p.Select(ctx, 1, 2, t0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, x, batch[0].ID)
	assert.NotEqual(t, x, batch[1].ID)
}

func TestSelectReinforcementCooldown(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(5)
	const x = int64(4)
	store.flags[1] = []int64{x}
	store.record(1, []models.Word{store.words[x]}, t0.Add(-time.Hour))
	p := newPolicy(store)

	batch, err := p.Select(ctx, 1, 4, t0)
	require.NoError(t, err)
	assert.Len(t, batch, 4)
	assert.NotContains(t, ids(batch), x)
}

func TestSelectReinforcementNeverDelivered(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(6)
	store.flags[1] = []int64{2, 5}
	p := newPolicy(store)

	batch, err := p.Select(ctx, 1, 3, t0)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.ElementsMatch(t, []int64{2, 5}, ids(batch[:2]))
	assert.NotContains(t, []int64{2, 5}, batch[2].ID)
}

func TestSelectReinforcementSurvivesExhaustion(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(3)
	store.flags[1] = []int64{1}
	var all []models.Word
	for id := int64(1); id <= 3; id++ {
		all = append(all, store.words[id])
	}
	store.record(1, all, t0.Add(-48*time.Hour))
	p := newPolicy(store)

	batch, err := p.Select(ctx, 1, 3, t0)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(1), batch[0].ID)
	// the backfill after reset does not repeat the reinforcement word
	assert.ElementsMatch(t, []int64{2, 3}, ids(batch[1:]))
	assert.Equal(t, 1, store.resets)
}

func TestSelectFlagsLimitedToK(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(6)
	store.flags[1] = []int64{1, 2, 3, 4}
	p := newPolicy(store)

	batch, err := p.Select(ctx, 1, 2, t0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, id := range ids(batch) {
		assert.Contains(t, []int64{1, 2, 3, 4}, id)
	}
}

func TestSelectEmptyCatalog(t *testing.T) {
	store := newMemStore(0)
	p := newPolicy(store)

	batch, err := p.Select(context.Background(), 1, 5, t0)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Zero(t, store.resets)
}

func TestSelectZeroBatch(t *testing.T) {
	store := newMemStore(3)
	batch, err := newPolicy(store).Select(context.Background(), 1, 0, t0)
	require.NoError(t, err)
	assert.Empty(t, batch)
}
