package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"

	"multiplayer-quiz-service/internal/config"
	"multiplayer-quiz-service/internal/domain"
	"multiplayer-quiz-service/internal/infra/postgres"
	pgmigrations "multiplayer-quiz-service/internal/infra/postgres/migrations"
	redisstore "multiplayer-quiz-service/internal/infra/redis"
)

// NewMigrateCmd applies database migrations and optionally loads the sample question bank.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the sample question bank after migrating")
	return cmd
}

func runMigrations(ctx context.Context, configPath string, seed bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}
	if !seed {
		return nil
	}
	db := openBun(cfg.Postgres.URL)
	defer db.Close()
	if err := postgres.SeedQuestions(ctx, db, sampleContent()); err != nil {
		return fmt.Errorf("seed questions: %w", err)
	}
	log.Printf("sample questions seeded")

	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer client.Close()
	return invalidateSeeded(ctx, redisstore.NewQuestionRepository(client, nil, 0, 0), sampleContent())
}

// invalidateSeeded drops cached lists for freshly seeded content so servers reload them.
func invalidateSeeded(ctx context.Context, repo *redisstore.QuestionRepository, content map[string][]domain.Question) error {
	for contentID, qs := range content {
		modes := make(map[domain.Mode]bool)
		for _, q := range qs {
			modes[q.Mode] = true
		}
		for mode := range modes {
			if err := repo.Invalidate(ctx, contentID, mode); err != nil {
				return fmt.Errorf("invalidate %s/%s: %w", contentID, mode, err)
			}
		}
	}
	return nil
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := openBun(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Printf("no new migrations")
		return nil
	}
	log.Printf("migrated to %s", group)
	return nil
}
