package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"golang.org/x/sync/errgroup"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/config"
	"multiplayer-quiz-service/internal/infra/memory"
	"multiplayer-quiz-service/internal/infra/postgres"
	redisstore "multiplayer-quiz-service/internal/infra/redis"
	"multiplayer-quiz-service/internal/scoring"
	transport "multiplayer-quiz-service/internal/transport/http"
)

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backend picks where sessions live: the configured one, else the richest one configured.
func backend(cfg config.Config) string {
	switch {
	case cfg.Store.Backend != "":
		return cfg.Store.Backend
	case cfg.Postgres.URL != "":
		return backendPostgres
	case cfg.Redis.Addr != "":
		return backendRedis
	}
	return backendMemory
}

// serviceOptions maps the game section onto the service knobs.
func serviceOptions(cfg config.Config) app.Options {
	opts := app.DefaultOptions()
	opts.SettleDelay = config.Duration(cfg.Game.SettleDelay, app.DefaultSettleDelay)
	opts.Points = scoring.Values{Fixed: cfg.Game.FixedPoints, Multiplier: cfg.Game.TimeMultiplier}
	opts.JoinCodeAttempts = cfg.Game.JoinCodeAttempts
	return opts
}

func openBun(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func runServer(parent context.Context, configPath, portFlag string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Printf("config %s not found, using defaults", configPath)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	kind := backend(cfg)
	if kind == backendPostgres {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	if kind == backendRedis && redisClient == nil {
		return fmt.Errorf("redis backend selected but redis addr not configured")
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleContent())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisstore.NewQuestionRepository(redisClient, loader, questionTTL, cfg.Questions.Limit)
	} else {
		bank = memory.NewQuestionRepository(loader, questionTTL, cfg.Questions.Limit)
	}

	broker := memory.NewBroker(0)
	var notifier app.Notifier = broker
	var relay *redisstore.PatchRelay
	if redisClient != nil {
		relay = redisstore.NewPatchRelay(redisClient, cfg.Redis.Channel, broker)
		notifier = relay
	}

	var store app.SessionRepository
	switch kind {
	case backendPostgres:
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		store = postgres.NewSessionStore(db)
	case backendRedis:
		store = redisstore.NewSessionStore(redisClient, config.Duration(cfg.Redis.TTL, 2*time.Hour))
	case backendMemory:
		store = memory.NewSessionStore()
	default:
		return fmt.Errorf("unknown store backend %q", kind)
	}

	service := app.NewSessionService(store, bank, notifier, serviceOptions(cfg))
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("starting quiz service on :%s (store=%s)", finalPort, kind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		service.Wait()
		return err
	})
	return g.Wait()
}
