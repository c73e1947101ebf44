// Package quiz builds vocabulary challenges and verifies answers to them.
package quiz

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/example/estbot/pkg/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kind is the type of a challenge
type Kind string

const (
	// Forward shows the word and asks for its translation
	Forward Kind = "forward"
	// Reverse shows the translation and asks for the word
	Reverse Kind = "reverse"
	// FreeText shows the word and expects the translation typed in
	FreeText Kind = "free_text"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == Forward || k == Reverse || k == FreeText
}

// OptionCount is the number of options in a multiple-choice challenge
const OptionCount = 4

// DefaultTTL is how long a multiple-choice challenge can be answered
const DefaultTTL = 48 * time.Hour

var (
	// ErrInsufficientDistractors means the word's category has fewer than
	// OptionCount-1 other words
	ErrInsufficientDistractors = errors.New("not enough distractors")
	// ErrUnknownChallenge means the challenge expired, was discarded or
	// refers to a word that no longer exists
	ErrUnknownChallenge = errors.New("unknown challenge")
	// ErrNoPending means the subscriber has no free-text challenge to answer
	ErrNoPending = errors.New("no pending challenge")
	// ErrInvalidOption means the selected position is out of range
	ErrInvalidOption = errors.New("invalid option")
	// ErrEmptyCatalog means there is nothing to build a challenge from
	ErrEmptyCatalog = errors.New("catalog is empty")
)

// Challenge is one issued quiz question
type Challenge struct {
	ID           string
	SubscriberID int64
	Kind         Kind
	Word         models.Word
	Prompt       string
	Options      []string // empty for FreeText
	CorrectIndex int
	Expected     string
	IssuedAt     time.Time
}

// MultipleChoice reports whether the challenge is answered by picking an option
func (c Challenge) MultipleChoice() bool {
	return c.Kind != FreeText
}

// Result is the outcome of one answer
type Result struct {
	ChallengeID string
	WordID      int64
	Kind        Kind
	Correct     bool
	Given       string
	Expected    string
	// Repeat is set when a multiple-choice challenge was already answered;
	// repeats are verified but not counted
	Repeat bool
}

// Catalog is the part of the word store the generator reads
type Catalog interface {
	Get(ctx context.Context, id int64) (*models.Word, error)
	Sample(ctx context.Context, n int, exclude []int64, category string) ([]models.Word, error)
}

// Stats records verified answers
type Stats interface {
	RecordAnswer(ctx context.Context, subscriberID, wordID int64, correct bool) error
}

// Generator issues challenges and verifies answers. Issued state lives in
// memory and is lost on restart.
type Generator struct {
	catalog  Catalog
	stats    Stats
	sampler  *Sampler
	registry *Registry
	pending  *PendingStore
	logger   *slog.Logger
	now      func() time.Time
	shuffle  func(n int, swap func(i, j int))

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Generator
type Option func(*Generator)

// WithSampler sets the kind distribution
func WithSampler(s *Sampler) Option {
	return func(g *Generator) { g.sampler = s }
}

// WithTTL sets how long multiple-choice challenges stay answerable
func WithTTL(ttl time.Duration) Option {
	return func(g *Generator) { g.registry = NewRegistry(ttl) }
}

// WithRand sets the random source
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

// WithShuffle replaces the option shuffle
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(g *Generator) { g.shuffle = shuffle }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator creates a generator. stats may be nil.
func NewGenerator(catalog Catalog, stats Stats, opts ...Option) *Generator {
	g := &Generator{
		catalog:  catalog,
		stats:    stats,
		registry: NewRegistry(DefaultTTL),
		pending:  NewPendingStore(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if g.sampler == nil {
		g.sampler, _ = NewSampler(DefaultWeights)
	}
	if g.shuffle == nil {
		g.shuffle = func(n int, swap func(i, j int)) {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.rng.Shuffle(n, swap)
		}
	}
	return g
}

// Generate builds a challenge for a random catalog word
func (g *Generator) Generate(ctx context.Context, subscriberID int64) (*Challenge, error) {
	words, err := g.catalog.Sample(ctx, 1, nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to pick quiz word")
	}
	if len(words) == 0 {
		return nil, ErrEmptyCatalog
	}
	return g.GenerateFor(ctx, subscriberID, words[0])
}

// GenerateFor builds a challenge about word. A multiple-choice kind without
// enough distractors is downgraded to FreeText.
func (g *Generator) GenerateFor(ctx context.Context, subscriberID int64, word models.Word) (*Challenge, error) {
	g.mu.Lock()
	kind := g.sampler.Pick(g.rng)
	g.mu.Unlock()

	ch := Challenge{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		Kind:         kind,
		Word:         word,
		IssuedAt:     g.now(),
	}

	if kind != FreeText {
		err := g.buildOptions(ctx, &ch)
		switch {
		case err == nil:
			g.registry.Put(ch, ch.IssuedAt)
			return &ch, nil
		case errors.Is(err, ErrInsufficientDistractors):
			g.logger.Debug("Falling back to free text", "word_id", word.ID, "category", word.Category)
			ch.Kind = FreeText
		default:
			return nil, err
		}
	}

	ch.Prompt = word.Word
	ch.Expected = word.Translation
	ch.Options = nil
	g.pending.Set(ch)
	return &ch, nil
}

// buildOptions fills prompt and shuffled options for a multiple-choice kind
func (g *Generator) buildOptions(ctx context.Context, ch *Challenge) error {
	word := ch.Word
	face := func(w models.Word) string { return w.Translation }
	ch.Prompt = word.Word
	if ch.Kind == Reverse {
		face = func(w models.Word) string { return w.Word }
		ch.Prompt = word.Translation
	}

	// oversample so duplicate faces can be skipped
	candidates, err := g.catalog.Sample(ctx, 3*(OptionCount-1), []int64{word.ID}, word.Category)
	if err != nil {
		return errors.Wrap(err, "failed to sample distractors")
	}

	correct := face(word)
	used := map[string]bool{normalize(correct): true}
	options := []string{correct}
	for _, c := range candidates {
		if len(options) == OptionCount {
			break
		}
		text := face(c)
		if used[normalize(text)] {
			continue
		}
		used[normalize(text)] = true
		options = append(options, text)
	}
	if len(options) < OptionCount {
		return ErrInsufficientDistractors
	}

	correctIndex := 0
	g.shuffle(len(options), func(i, j int) {
		if i == correctIndex {
			correctIndex = j
		} else if j == correctIndex {
			correctIndex = i
		}
		options[i], options[j] = options[j], options[i]
	})

	ch.Options = options
	ch.CorrectIndex = correctIndex
	ch.Expected = correct
	return nil
}

// Answer verifies a selected option of a multiple-choice challenge. The result
// always carries the correct option text.
func (g *Generator) Answer(ctx context.Context, subscriberID int64, challengeID string, position int) (*Result, error) {
	ch, ok := g.registry.Get(challengeID, g.now())
	if !ok || ch.SubscriberID != subscriberID {
		return nil, ErrUnknownChallenge
	}
	if position < 0 || position >= len(ch.Options) {
		return nil, errors.Wrapf(ErrInvalidOption, "position %d", position)
	}
	repeat := g.registry.MarkAnswered(challengeID)

	res := &Result{
		ChallengeID: ch.ID,
		WordID:      ch.Word.ID,
		Kind:        ch.Kind,
		Correct:     position == ch.CorrectIndex,
		Given:       ch.Options[position],
		Expected:    ch.Options[ch.CorrectIndex],
		Repeat:      repeat,
	}
	if !repeat {
		g.record(ctx, subscriberID, res)
	}
	return res, nil
}

// AnswerText verifies the subscriber's typed answer to the pending free-text
// challenge. The pending challenge is consumed whatever the outcome.
func (g *Generator) AnswerText(ctx context.Context, subscriberID int64, text string) (*Result, error) {
	ch, ok := g.pending.Take(subscriberID)
	if !ok {
		return nil, ErrNoPending
	}

	if _, err := g.catalog.Get(ctx, ch.Word.ID); err != nil {
		g.logger.Warn("Discarding pending challenge", "subscriber_id", subscriberID, "word_id", ch.Word.ID, "error", err)
		return nil, ErrUnknownChallenge
	}

	res := &Result{
		ChallengeID: ch.ID,
		WordID:      ch.Word.ID,
		Kind:        ch.Kind,
		Correct:     normalize(text) == normalize(ch.Expected),
		Given:       strings.TrimSpace(text),
		Expected:    ch.Expected,
	}
	g.record(ctx, subscriberID, res)
	return res, nil
}

// HasPending reports whether the subscriber's next message is a quiz answer
func (g *Generator) HasPending(subscriberID int64) bool {
	return g.pending.Has(subscriberID)
}

// Discard drops the state of a challenge that was never delivered
func (g *Generator) Discard(subscriberID int64, challengeID string) {
	g.registry.Delete(challengeID)
	g.pending.discard(subscriberID, challengeID)
}

func (g *Generator) record(ctx context.Context, subscriberID int64, res *Result) {
	if g.stats == nil {
		return
	}
	if err := g.stats.RecordAnswer(ctx, subscriberID, res.WordID, res.Correct); err != nil {
		g.logger.Error("Failed to record answer", "subscriber_id", subscriberID, "word_id", res.WordID, "error", err)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
