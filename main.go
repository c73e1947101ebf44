package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/estbot/internal/ai"
	"github.com/example/estbot/internal/api"
	"github.com/example/estbot/internal/bot"
	"github.com/example/estbot/internal/config"
	"github.com/example/estbot/internal/database"
	"github.com/example/estbot/internal/excel"
	"github.com/example/estbot/internal/quiz"
	"github.com/example/estbot/internal/scheduler"
	"github.com/example/estbot/internal/selection"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	root := &cobra.Command{
		Use:           "estbot",
		Short:         "Telegram bot delivering Estonian vocabulary and quizzes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(serveCmd(), importCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the delivery scheduler and the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func importCmd() *cobra.Command {
	var (
		sheet    string
		annotate bool
	)
	cmd := &cobra.Command{
		Use:   "import <file.xlsx|file.csv>",
		Short: "Load a word list into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			importer := excel.NewImporter(database.NewWordRepository(db, nil), annotator(cfg, logger), logger)
			importCfg := excel.DefaultImportConfig()
			importCfg.SheetName = sheet
			importCfg.Annotate = annotate

			res, err := importer.ImportFile(cmd.Context(), args[0], importCfg)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d rows: %d created, %d updated, %d unchanged, %d annotated\n",
				res.TotalProcessed, res.Created, res.Updated, res.Skipped, res.Annotated)
			for _, msg := range res.Errors {
				fmt.Println("  " + msg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "sheet name, the first sheet by default")
	cmd.Flags().BoolVar(&annotate, "annotate", false, "generate missing annotations with OpenAI")
	return cmd
}

// setup loads the configuration and installs the default logger
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// annotator returns nil when no OpenAI key is configured
func annotator(cfg *config.Config, logger *slog.Logger) excel.Annotator {
	if cfg.OpenAIKey == "" {
		return nil
	}
	a, err := ai.NewAnnotator(ai.Config{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel})
	if err != nil {
		logger.Warn("Annotations disabled", "error", err)
		return nil
	}
	return a
}

func serve() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database connected", "type", cfg.DBType)

	words := database.NewWordRepository(db, rand.New(rand.NewSource(time.Now().UnixNano())))
	subscribers := database.NewSubscriberRepository(db)
	deliveries := database.NewDeliveryRepository(db)
	flags := database.NewReinforcementRepository(db)
	answers := database.NewAnswerRepository(db)

	policy := selection.New(words, deliveries, flags,
		selection.WithCooldown(cfg.ReinforcementCooldown),
		selection.WithLogger(logger),
	)

	sampler, err := quiz.NewSampler(cfg.QuizWeights)
	if err != nil {
		return errors.Wrap(err, "invalid quiz weights")
	}
	quizzes := quiz.NewGenerator(words, answers,
		quiz.WithSampler(sampler),
		quiz.WithTTL(cfg.ChallengeTTL),
		quiz.WithLogger(logger),
	)

	b, err := bot.New(cfg.TelegramToken, bot.OptionsFromConfig(cfg), bot.Deps{
		Subscribers: subscribers,
		Words:       words,
		Flags:       flags,
		Quiz:        quizzes,
		Importer:    excel.NewImporter(words, annotator(cfg, logger), logger),
	}, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Config{
		TickInterval:    cfg.TickInterval,
		SummaryTime:     cfg.SummaryTime,
		Location:        cfg.Location,
		Workers:         cfg.Workers,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, scheduler.Deps{
		Subscribers: subscribers,
		Ledger:      deliveries,
		Selector:    policy,
		Quiz:        quizzes,
		Catalog:     words,
		Flags:       flags,
		Answers:     answers,
		Notifier:    b,
	}, logger)
	b.SetActions(sched)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	srv := statusServer(cfg, db, subscribers, sched, logger)
	if srv != nil {
		go func() {
			logger.Info("Status API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Status API failed", "error", err)
			}
		}()
	}

	logger.Info("Bot started")
	if err := b.Start(ctx); err != nil {
		return err
	}

	logger.Info("Shutting down gracefully...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Status API forced to shutdown", "error", err)
		}
	}
	logger.Info("Bot stopped successfully")
	return nil
}

// statusServer returns nil unless HTTP_ADDR is set
func statusServer(cfg *config.Config, db *sqlx.DB, subs api.Subscribers, progress api.ProgressSource, logger *slog.Logger) *http.Server {
	if cfg.HTTPAddr == "" {
		return nil
	}
	return &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewHandler(db, subs, progress, logger).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
