package database

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/example/estbot/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedWords(t *testing.T, repo *WordRepository, words ...models.Word) []models.Word {
	t.Helper()
	out := make([]models.Word, 0, len(words))
	for _, w := range words {
		w := w
		require.NoError(t, repo.Create(context.Background(), &w))
		out = append(out, w)
	}
	return out
}

func seedSubscriber(t *testing.T, db *sqlx.DB, id int64) {
	t.Helper()
	_, _, err := NewSubscriberRepository(db).Ensure(context.Background(), &models.Subscriber{
		ID:                  id,
		WordsPerCycle:       5,
		WordIntervalMinutes: 60,
		QuizzesPerCycle:     1,
		QuizIntervalMinutes: 90,
		ActiveStart:         "09:00",
		ActiveEnd:           "23:00",
		Enabled:             true,
	})
	require.NoError(t, err)
}

func TestWordRepositoryGetAndCount(t *testing.T) {
	ctx := context.Background()
	repo := NewWordRepository(newTestDB(t), rand.New(rand.NewSource(1)))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	words := seedWords(t, repo,
		models.Word{Word: "maja", Category: "noun", Translation: "дом"},
		models.Word{Word: "kass", Category: "noun", Translation: "кошка"},
	)

	count, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := repo.Get(ctx, words[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "kass", got.Word)
	assert.Equal(t, "кошка", got.Translation)

	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := repo.FindByWord(ctx, "maja", "noun")
	require.NoError(t, err)
	assert.Equal(t, words[0].ID, found.ID)
}

func TestWordRepositorySample(t *testing.T) {
	ctx := context.Background()
	repo := NewWordRepository(newTestDB(t), rand.New(rand.NewSource(7)))
	words := seedWords(t, repo,
		models.Word{Word: "maja", Category: "noun", Translation: "дом"},
		models.Word{Word: "kass", Category: "noun", Translation: "кошка"},
		models.Word{Word: "koer", Category: "noun", Translation: "собака"},
		models.Word{Word: "jooksma", Category: "verb", Translation: "бегать"},
		models.Word{Word: "ilus", Category: "adjective", Translation: "красивый"},
	)

	t.Run("returns at most n distinct words", func(t *testing.T) {
		got, err := repo.Sample(ctx, 3, nil, "")
		require.NoError(t, err)
		require.Len(t, got, 3)
		seen := map[int64]bool{}
		for _, w := range got {
			assert.False(t, seen[w.ID], "duplicate word %d", w.ID)
			seen[w.ID] = true
		}
	})

	t.Run("fewer candidates than n returns all of them", func(t *testing.T) {
		got, err := repo.Sample(ctx, 10, nil, "")
		require.NoError(t, err)
		assert.Len(t, got, len(words))
	})

	t.Run("exclude is honoured", func(t *testing.T) {
		exclude := []int64{words[0].ID, words[1].ID, words[2].ID}
		got, err := repo.Sample(ctx, 10, exclude, "")
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, w := range got {
			assert.NotContains(t, exclude, w.ID)
		}
	})

	t.Run("category filter", func(t *testing.T) {
		got, err := repo.Sample(ctx, 10, []int64{words[0].ID}, "noun")
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, w := range got {
			assert.Equal(t, "noun", w.Category)
		}
	})

	t.Run("nothing qualifies", func(t *testing.T) {
		got, err := repo.Sample(ctx, 3, nil, "adverb")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("every word is reachable", func(t *testing.T) {
		hits := map[int64]int{}
		for i := 0; i < 200; i++ {
			got, err := repo.Sample(ctx, 1, nil, "")
			require.NoError(t, err)
			require.Len(t, got, 1)
			hits[got[0].ID]++
		}
		assert.Len(t, hits, len(words))
	})
}

func TestDeliveryRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	words := seedWords(t, NewWordRepository(db, nil),
		models.Word{Word: "maja", Category: "noun", Translation: "дом"},
		models.Word{Word: "kass", Category: "noun", Translation: "кошка"},
	)
	seedSubscriber(t, db, 42)
	seedSubscriber(t, db, 43)
	ledger := NewDeliveryRepository(db)

	at, err := ledger.LastDeliveredAt(ctx, 42, words[0].ID)
	require.NoError(t, err)
	assert.Nil(t, at)

	require.NoError(t, ledger.RecordDelivery(ctx, 42, words[0].ID, t0))
	require.NoError(t, ledger.RecordDelivery(ctx, 42, words[0].ID, t0.Add(time.Hour)))
	require.NoError(t, ledger.RecordDelivery(ctx, 42, words[1].ID, t0))
	require.NoError(t, ledger.RecordDelivery(ctx, 43, words[1].ID, t0))

	count, err := ledger.DeliveryCount(ctx, 42, words[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	at, err = ledger.LastDeliveredAt(ctx, 42, words[0].ID)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, at.Equal(t0.Add(time.Hour)), "got %v", at)

	seen, err := ledger.SeenIDs(ctx, 42)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{words[0].ID, words[1].ID}, seen)

	require.NoError(t, ledger.Reset(ctx, 42))

	n, err := ledger.CountSeen(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// other subscribers keep their history
	n, err = ledger.CountSeen(ctx, 43)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubscriberRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSubscriberRepository(db)

	sub := &models.Subscriber{
		ID:                  7,
		WordsPerCycle:       5,
		WordIntervalMinutes: 60,
		QuizzesPerCycle:     1,
		QuizIntervalMinutes: 90,
		ActiveStart:         "09:00",
		ActiveEnd:           "23:00",
		Enabled:             true,
	}
	stored, created, err := repo.Ensure(ctx, sub)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 5, stored.WordsPerCycle)
	assert.False(t, stored.LastWordCycleAt.Valid)

	// second contact keeps the existing settings
	sub.WordsPerCycle = 9
	stored, created, err = repo.Ensure(ctx, sub)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 5, stored.WordsPerCycle)

	stored.WordsPerCycle = 3
	stored.ActiveStart = "08:30"
	require.NoError(t, repo.UpdateSettings(ctx, stored))

	require.NoError(t, repo.StampWordCycle(ctx, 7, t0))
	require.NoError(t, repo.StampQuizCycle(ctx, 7, t0.Add(time.Minute)))

	got, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, got.WordsPerCycle)
	assert.Equal(t, "08:30", got.ActiveStart)
	require.True(t, got.LastWordCycleAt.Valid)
	assert.True(t, got.LastWordCycleAt.Time.Equal(t0))
	require.True(t, got.LastQuizCycleAt.Valid)
	assert.True(t, got.LastQuizCycleAt.Time.Equal(t0.Add(time.Minute)))

	require.NoError(t, repo.SetEnabled(ctx, 7, false))
	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	assert.ErrorIs(t, repo.SetEnabled(ctx, 999, true), ErrNotFound)
	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReinforcementAndAnswers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	words := seedWords(t, NewWordRepository(db, nil),
		models.Word{Word: "maja", Category: "noun", Translation: "дом"},
		models.Word{Word: "kass", Category: "noun", Translation: "кошка"},
	)
	seedSubscriber(t, db, 1)
	seedSubscriber(t, db, 2)

	flags := NewReinforcementRepository(db)
	flagged, err := flags.Toggle(ctx, 1, words[0].ID, t0)
	require.NoError(t, err)
	assert.True(t, flagged)

	// flags are per subscriber
	ids, err := flags.FlaggedIDs(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = flags.FlaggedIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{words[0].ID}, ids)

	flagged, err = flags.Toggle(ctx, 1, words[0].ID, t0)
	require.NoError(t, err)
	assert.False(t, flagged)
	n, err := flags.CountFlagged(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	answers := NewAnswerRepository(db)
	require.NoError(t, answers.RecordAnswer(ctx, 1, words[0].ID, true))
	require.NoError(t, answers.RecordAnswer(ctx, 1, words[0].ID, false))
	require.NoError(t, answers.RecordAnswer(ctx, 1, words[1].ID, true))

	stats, err := answers.Get(ctx, 1, words[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Correct)
	assert.Equal(t, 1, stats.Incorrect)

	correct, incorrect, err := answers.Totals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, correct)
	assert.Equal(t, 1, incorrect)

	correct, incorrect, err = answers.Totals(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, correct)
	assert.Zero(t, incorrect)
}

func TestDeletingWordCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	wordsRepo := NewWordRepository(db, nil)
	words := seedWords(t, wordsRepo, models.Word{Word: "maja", Category: "noun", Translation: "дом"})
	seedSubscriber(t, db, 1)
	ledger := NewDeliveryRepository(db)
	require.NoError(t, ledger.RecordDelivery(ctx, 1, words[0].ID, t0))

	require.NoError(t, wordsRepo.Delete(ctx, words[0].ID))

	seen, err := ledger.SeenIDs(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, seen)
}
