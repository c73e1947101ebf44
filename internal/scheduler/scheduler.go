// Package scheduler drives per-subscriber word and quiz cycles and the daily
// progress summary.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/estbot/internal/quiz"
	"github.com/example/estbot/pkg/models"
	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers content to a subscriber
type Notifier interface {
	SendWord(ctx context.Context, subscriberID int64, word models.Word) error
	SendChallenge(ctx context.Context, subscriberID int64, ch *quiz.Challenge) error
	SendSummary(ctx context.Context, subscriberID int64, progress models.Progress) error
}

// SubscriberStore reads subscriber cadences and stamps finished cycles
type SubscriberStore interface {
	ListEnabled(ctx context.Context) ([]models.Subscriber, error)
	StampWordCycle(ctx context.Context, id int64, at time.Time) error
	StampQuizCycle(ctx context.Context, id int64, at time.Time) error
}

// Ledger records deliveries
type Ledger interface {
	RecordDelivery(ctx context.Context, subscriberID, wordID int64, when time.Time) error
	CountSeen(ctx context.Context, subscriberID int64) (int, error)
}

// Selector picks the next words for a subscriber
type Selector interface {
	Select(ctx context.Context, subscriberID int64, k int, now time.Time) ([]models.Word, error)
}

// Quizzer issues challenges
type Quizzer interface {
	Generate(ctx context.Context, subscriberID int64) (*quiz.Challenge, error)
	Discard(subscriberID int64, challengeID string)
}

// Catalog reports the catalog size
type Catalog interface {
	Count(ctx context.Context) (int, error)
}

// FlagCounter counts reinforcement flags
type FlagCounter interface {
	CountFlagged(ctx context.Context, subscriberID int64) (int, error)
}

// AnswerTotals sums quiz answers
type AnswerTotals interface {
	Totals(ctx context.Context, subscriberID int64) (correct, incorrect int, err error)
}

// Deps are the collaborators of a Scheduler
type Deps struct {
	Subscribers SubscriberStore
	Ledger      Ledger
	Selector    Selector
	Quiz        Quizzer
	Catalog     Catalog
	Flags       FlagCounter
	Answers     AnswerTotals
	Notifier    Notifier
}

// Config controls timing and parallelism
type Config struct {
	TickInterval    time.Duration
	SummaryTime     string // "HH:MM"
	Location        *time.Location
	Workers         int
	DeliveryTimeout time.Duration
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	cron   *gocron.Scheduler
	locks  *keyedMutex
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler instance
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		cron:   gocron.NewScheduler(cfg.Location),
		locks:  newKeyedMutex(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() error {
	_, err := s.cron.Every(s.cfg.TickInterval).SingletonMode().Do(func() {
		s.Tick(s.ctx)
	})
	if err != nil {
		return errors.Wrap(err, "failed to schedule tick")
	}

	if s.cfg.SummaryTime != "" {
		_, err = s.cron.Every(1).Day().At(s.cfg.SummaryTime).Do(func() {
			s.Summary(s.ctx)
		})
		if err != nil {
			return errors.Wrap(err, "failed to schedule daily summary")
		}
	}

	// Start the scheduler in a non-blocking manner
	s.cron.StartAsync()
	s.logger.Info("Scheduler started", "tick", s.cfg.TickInterval.String(), "summary_time", s.cfg.SummaryTime)
	return nil
}

// Stop terminates all scheduled tasks and cancels running deliveries
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
}

// Tick runs one pass over all enabled subscribers. A subscriber whose previous
// work is still running is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	subs, err := s.deps.Subscribers.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("Failed to list subscribers", "error", err)
		return
	}
	now := s.now()

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			defer s.recoverSubscriber(sub.ID)

			unlock, ok := s.locks.TryLock(sub.ID)
			if !ok {
				s.logger.Debug("Subscriber busy, skipping tick", "subscriber_id", sub.ID)
				return nil
			}
			defer unlock()
			s.runDue(ctx, sub, now)
			return nil
		})
	}
	_ = g.Wait()
}

// runDue runs the word and quiz cycles that are due for sub
func (s *Scheduler) runDue(ctx context.Context, sub models.Subscriber, now time.Time) {
	active, err := InWindow(sub.ActiveStart, sub.ActiveEnd, now.In(s.cfg.Location))
	if err != nil {
		s.logger.Warn("Invalid active hours", "subscriber_id", sub.ID, "error", err)
		return
	}
	if !active {
		return
	}

	if due(sub.LastWordCycleAt, sub.WordIntervalMinutes, now) {
		s.wordCycle(ctx, sub, now)
	}
	if sub.QuizzesPerCycle > 0 && due(sub.LastQuizCycleAt, sub.QuizIntervalMinutes, now) {
		s.quizCycle(ctx, sub, now)
	}
}

func (s *Scheduler) wordCycle(ctx context.Context, sub models.Subscriber, now time.Time) {
	words, err := s.deps.Selector.Select(ctx, sub.ID, sub.WordsPerCycle, now)
	if err != nil {
		s.logger.Error("Failed to select words", "subscriber_id", sub.ID, "error", err)
		return
	}
	delivered := s.deliverWords(ctx, sub.ID, words, now)

	if err := s.deps.Subscribers.StampWordCycle(ctx, sub.ID, now); err != nil {
		s.logger.Error("Failed to stamp word cycle", "subscriber_id", sub.ID, "error", err)
	}
	s.logger.Info("Word cycle done", "subscriber_id", sub.ID, "selected", len(words), "delivered", delivered)
}

func (s *Scheduler) quizCycle(ctx context.Context, sub models.Subscriber, now time.Time) {
	delivered := 0
	for i := 0; i < sub.QuizzesPerCycle; i++ {
		err := s.deliverQuiz(ctx, sub.ID, now)
		if errors.Is(err, quiz.ErrEmptyCatalog) {
			break
		}
		if err != nil {
			s.logger.Warn("Quiz delivery failed", "subscriber_id", sub.ID, "error", err)
			continue
		}
		delivered++
	}

	if err := s.deps.Subscribers.StampQuizCycle(ctx, sub.ID, now); err != nil {
		s.logger.Error("Failed to stamp quiz cycle", "subscriber_id", sub.ID, "error", err)
	}
	s.logger.Info("Quiz cycle done", "subscriber_id", sub.ID, "delivered", delivered)
}

// deliverWords sends words in order and records each one that was sent.
// A failed send leaves the word eligible for a later cycle.
func (s *Scheduler) deliverWords(ctx context.Context, subscriberID int64, words []models.Word, now time.Time) int {
	delivered := 0
	for _, word := range words {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		err := s.deps.Notifier.SendWord(sendCtx, subscriberID, word)
		cancel()
		if err != nil {
			s.logger.Warn("Word delivery failed", "subscriber_id", subscriberID, "word_id", word.ID, "error", err)
			continue
		}
		if err := s.deps.Ledger.RecordDelivery(ctx, subscriberID, word.ID, now); err != nil {
			s.logger.Error("Failed to record delivery", "subscriber_id", subscriberID, "word_id", word.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// deliverQuiz issues, sends and records one challenge
func (s *Scheduler) deliverQuiz(ctx context.Context, subscriberID int64, now time.Time) error {
	ch, err := s.deps.Quiz.Generate(ctx, subscriberID)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	err = s.deps.Notifier.SendChallenge(sendCtx, subscriberID, ch)
	cancel()
	if err != nil {
		s.deps.Quiz.Discard(subscriberID, ch.ID)
		return errors.Wrapf(err, "failed to send challenge on word %d", ch.Word.ID)
	}

	if err := s.deps.Ledger.RecordDelivery(ctx, subscriberID, ch.Word.ID, now); err != nil {
		s.logger.Error("Failed to record delivery", "subscriber_id", subscriberID, "word_id", ch.Word.ID, "error", err)
	}
	return nil
}

// Summary sends every enabled subscriber its progress
func (s *Scheduler) Summary(ctx context.Context) {
	subs, err := s.deps.Subscribers.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("Failed to list subscribers", "error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, sub := range subs {
		id := sub.ID
		g.Go(func() error {
			defer s.recoverSubscriber(id)
			if err := s.sendProgress(ctx, id); err != nil {
				s.logger.Warn("Summary delivery failed", "subscriber_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("Daily summary sent", "subscribers", len(subs))
}

// Progress computes the subscriber's position in the current catalog cycle
func (s *Scheduler) Progress(ctx context.Context, subscriberID int64) (models.Progress, error) {
	p := models.Progress{SubscriberID: subscriberID}
	var err error

	if p.Total, err = s.deps.Catalog.Count(ctx); err != nil {
		return p, err
	}
	if p.Seen, err = s.deps.Ledger.CountSeen(ctx, subscriberID); err != nil {
		return p, err
	}
	if p.Flagged, err = s.deps.Flags.CountFlagged(ctx, subscriberID); err != nil {
		return p, err
	}
	if p.Correct, p.Incorrect, err = s.deps.Answers.Totals(ctx, subscriberID); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Scheduler) sendProgress(ctx context.Context, subscriberID int64) error {
	p, err := s.Progress(ctx, subscriberID)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	return s.deps.Notifier.SendSummary(sendCtx, subscriberID, p)
}

// SendWordsNow delivers up to k words outside the cadence. The word cycle
// stamp is left alone. It returns how many words were delivered; zero with a
// nil error means the catalog is empty.
func (s *Scheduler) SendWordsNow(ctx context.Context, subscriberID int64, k int) (int, error) {
	unlock := s.locks.Lock(subscriberID)
	defer unlock()

	now := s.now()
	words, err := s.deps.Selector.Select(ctx, subscriberID, k, now)
	if err != nil {
		return 0, err
	}
	delivered := s.deliverWords(ctx, subscriberID, words, now)
	if delivered == 0 && len(words) > 0 {
		return 0, errors.Errorf("none of %d words could be delivered", len(words))
	}
	return delivered, nil
}

// SendQuizNow issues one challenge outside the cadence
func (s *Scheduler) SendQuizNow(ctx context.Context, subscriberID int64) error {
	unlock := s.locks.Lock(subscriberID)
	defer unlock()
	return s.deliverQuiz(ctx, subscriberID, s.now())
}

// SendProgressNow sends the subscriber's progress summary
func (s *Scheduler) SendProgressNow(ctx context.Context, subscriberID int64) error {
	return s.sendProgress(ctx, subscriberID)
}

func (s *Scheduler) recoverSubscriber(subscriberID int64) {
	if r := recover(); r != nil {
		s.logger.Error("Subscriber work panicked", "subscriber_id", subscriberID, "panic", fmt.Sprint(r))
	}
}
