package database

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/example/estbot/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const wordColumns = "id, word, category, translation, annotation"

// WordRepository is the read side of the catalog plus the writes the importer needs
type WordRepository struct {
	db *sqlx.DB

	mu  sync.Mutex
	rng *rand.Rand
}

// NewWordRepository creates a new repository instance. A nil rng is seeded from the clock.
func NewWordRepository(db *sqlx.DB, rng *rand.Rand) *WordRepository {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &WordRepository{db: db, rng: rng}
}

// Count returns the catalog size
func (r *WordRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM words"); err != nil {
		return 0, errors.Wrap(err, "failed to count words")
	}
	return count, nil
}

// Get returns a word by ID
func (r *WordRepository) Get(ctx context.Context, id int64) (*models.Word, error) {
	var word models.Word
	query := r.db.Rebind("SELECT " + wordColumns + " FROM words WHERE id = ?")
	if err := r.db.GetContext(ctx, &word, query, id); err != nil {
		return nil, errors.Wrapf(notFound(err), "failed to get word %d", id)
	}
	return &word, nil
}

// FindByWord returns the word with the given text and category
func (r *WordRepository) FindByWord(ctx context.Context, text, category string) (*models.Word, error) {
	var word models.Word
	query := r.db.Rebind("SELECT " + wordColumns + " FROM words WHERE word = ? AND category = ?")
	if err := r.db.GetContext(ctx, &word, query, text, category); err != nil {
		return nil, errors.Wrapf(notFound(err), "failed to find word %q", text)
	}
	return &word, nil
}

// Sample returns up to n words chosen uniformly at random from the catalog minus
// exclude, restricted to category when it is not empty. Fewer qualifying words
// than n is not an error.
func (r *WordRepository) Sample(ctx context.Context, n int, exclude []int64, category string) ([]models.Word, error) {
	if n <= 0 {
		return nil, nil
	}

	query := "SELECT id FROM words"
	var args []interface{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, r.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to list word ids")
	}

	skip := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	candidates := ids[:0]
	for _, id := range ids {
		if !skip[id] {
			candidates = append(candidates, id)
		}
	}

	picked := r.pick(candidates, n)
	if len(picked) == 0 {
		return nil, nil
	}
	return r.getMany(ctx, picked)
}

// pick runs a partial Fisher-Yates shuffle and returns the first n ids
func (r *WordRepository) pick(ids []int64, n int) []int64 {
	if n > len(ids) {
		n = len(ids)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		j := i + r.rng.Intn(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:n]
}

// getMany loads words by id, preserving the order of ids
func (r *WordRepository) getMany(ctx context.Context, ids []int64) ([]models.Word, error) {
	query, args, err := sqlx.In("SELECT "+wordColumns+" FROM words WHERE id IN (?)", ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build word query")
	}

	var words []models.Word
	if err := r.db.SelectContext(ctx, &words, r.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to get words")
	}

	byID := make(map[int64]models.Word, len(words))
	for _, w := range words {
		byID[w.ID] = w
	}
	ordered := make([]models.Word, 0, len(ids))
	for _, id := range ids {
		if w, ok := byID[id]; ok {
			ordered = append(ordered, w)
		}
	}
	return ordered, nil
}

// Create inserts a new word and sets its ID
func (r *WordRepository) Create(ctx context.Context, word *models.Word) error {
	query := r.db.Rebind(`
		INSERT INTO words (word, category, translation, annotation)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`)
	err := r.db.QueryRowxContext(ctx, query, word.Word, word.Category, word.Translation, word.Annotation).Scan(&word.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to create word %q", word.Word)
	}
	return nil
}

// Update modifies the translation and annotation of an existing word
func (r *WordRepository) Update(ctx context.Context, word *models.Word) error {
	query := r.db.Rebind("UPDATE words SET translation = ?, annotation = ? WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, word.Translation, word.Annotation, word.ID); err != nil {
		return errors.Wrapf(err, "failed to update word %d", word.ID)
	}
	return nil
}

// Delete removes a word; deliveries, flags and answer stats go with it
func (r *WordRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM words WHERE id = ?"), id); err != nil {
		return errors.Wrapf(err, "failed to delete word %d", id)
	}
	return nil
}
