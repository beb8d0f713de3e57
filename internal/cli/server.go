package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"qmaster-service/internal/app"
	"qmaster-service/internal/config"
	"qmaster-service/internal/events"
	"qmaster-service/internal/generator"
	"qmaster-service/internal/generator/gemini"
	"qmaster-service/internal/infra/memory"
	pgstore "qmaster-service/internal/infra/postgres"
	redisinfra "qmaster-service/internal/infra/redis"
	"qmaster-service/internal/similarity"
	transport "qmaster-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the question service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// runtime holds everything that must be released on shutdown.
type runtime struct {
	store     app.Store
	notifiers app.Notifiers
	status    app.StatusSubscriber
	pgPool    *pgxpool.Pool
	redis     *redis.Client
	publisher *events.Publisher
	consume   func(ctx context.Context) error
}

func (r *runtime) close(logger *zap.Logger) {
	if r.publisher != nil {
		if err := r.publisher.Close(); err != nil {
			logger.Warn("close event publisher", zap.Error(err))
		}
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			logger.Warn("close redis client", zap.Error(err))
		}
	}
	if r.pgPool != nil {
		r.pgPool.Close()
	}
}

func runServer(parent context.Context, configPath, portFlag string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Server.Port = portFlag
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	jobs := app.NewJobManager(
		rt.store.Jobs,
		rt.store.Pools,
		gen,
		generator.Extractor{MaxWords: cfg.Jobs.MaxWords},
		app.JobConfig{
			Workers:       cfg.Jobs.Workers,
			MaxProcessing: config.TTLDuration(cfg.Jobs.MaxProcessing, 5*time.Minute),
			MaxPending:    config.TTLDuration(cfg.Jobs.MaxPending, 30*time.Minute),
			MaxWords:      cfg.Jobs.MaxWords,
		},
		logger,
		app.WithNotifier(rt.notifiers),
		app.WithSubscriber(rt.status),
	)

	// Jobs left behind by a previous process are failed before new work arrives.
	sweeper := app.NewSweeper(jobs, cfg.Jobs.SweepSchedule, logger)
	sweeper.RunOnce()
	if err := sweeper.Start(); err != nil {
		return err
	}

	locks := app.NewKeyedMutex()
	pool := app.NewQuestionPool(rt.store.Pools, logger)
	handler := transport.NewServer(transport.Services{
		Jobs:        jobs,
		Pools:       pool,
		Tests:       app.NewTestSessionManager(pool, rt.store, locks, logger),
		Scorer:      app.NewAnswerScorer(pool, rt.store, newSimilarity(cfg), locks, logger),
		Leaderboard: app.NewLeaderboardAggregator(rt.store, logger),
	}, transport.Config{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, logger).Routes()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 30*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting question service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if rt.consume != nil {
		g.Go(func() error { return rt.consume(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			config.TTLDuration(cfg.Server.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		sweeper.Stop()
		if err := jobs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("job workers did not finish", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// buildRuntime connects the configured store, cache, status fan-out and event bus.
func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{}
	poolTTL := config.TTLDuration(cfg.Redis.PoolTTL, 10*time.Minute)

	switch cfg.Store.Driver {
	case "postgres":
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pgPool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.pgPool = pgPool
		rt.store = pgstore.NewStore(pgPool)
	default:
		rt.store = memory.NewStore()
	}

	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.store.Pools = redisinfra.NewPoolCache(rt.redis, rt.store.Pools, poolTTL, logger)
		broker := redisinfra.NewStatusBroker(rt.redis, logger)
		rt.notifiers = append(rt.notifiers, broker)
		rt.status = broker
	} else {
		if cfg.Store.Driver == "postgres" {
			rt.store.Pools = memory.NewPoolCache(rt.store.Pools, poolTTL)
		}
		hub := app.NewStatusHub()
		rt.notifiers = append(rt.notifiers, hub)
		rt.status = hub
	}

	if cfg.Events.Publisher != "none" {
		pub, ch, err := events.NewPublisher(events.Config{
			Backend: cfg.Events.Publisher,
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		}, logger)
		if err != nil {
			rt.close(logger)
			return nil, err
		}
		rt.publisher = pub
		rt.notifiers = append(rt.notifiers, pub)
		if ch != nil {
			topic := cfg.Events.Topic
			if topic == "" {
				topic = events.DefaultTopic
			}
			rt.consume = func(ctx context.Context) error {
				return events.Consume(ctx, ch, topic, logger, events.AuditLog(logger))
			}
		}
	}
	return rt, nil
}

func newGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.Generator, error) {
	if cfg.Generator.Provider == "gemini" {
		gen, err := gemini.New(ctx, gemini.Config{APIKey: cfg.Generator.APIKey, Model: cfg.Generator.Model}, logger)
		if err != nil {
			return nil, err
		}
		return gen, nil
	}
	return generator.Heuristic{}, nil
}

func newSimilarity(cfg config.Config) app.Similarity {
	if cfg.Scoring.Similarity == "levenshtein" {
		return app.SimilarityFunc(similarity.Levenshtein)
	}
	return similarity.Lexical{}
}
