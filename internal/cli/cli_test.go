package cli

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"multiplayer-quiz-service/internal/config"
	redisstore "multiplayer-quiz-service/internal/infra/redis"
)

func TestBackendSelection(t *testing.T) {
	cfg := config.Default()
	if got := backend(cfg); got != backendMemory {
		t.Fatalf("expected memory by default, got %s", got)
	}
	cfg.Redis.Addr = "localhost:6379"
	if got := backend(cfg); got != backendRedis {
		t.Fatalf("expected redis when addr set, got %s", got)
	}
	cfg.Postgres.URL = "postgres://localhost/quiz"
	if got := backend(cfg); got != backendPostgres {
		t.Fatalf("expected postgres when url set, got %s", got)
	}
	cfg.Store.Backend = backendMemory
	if got := backend(cfg); got != backendMemory {
		t.Fatalf("expected explicit backend to win, got %s", got)
	}
}

func TestServiceOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Game.SettleDelay = "500ms"
	cfg.Game.FixedPoints = 250
	opts := serviceOptions(cfg)
	if opts.SettleDelay != 500*time.Millisecond {
		t.Fatalf("unexpected settle delay %s", opts.SettleDelay)
	}
	if opts.Points.Fixed != 250 || opts.Points.Multiplier != 10 {
		t.Fatalf("unexpected points %+v", opts.Points)
	}
}

func TestSampleContentHasBothModes(t *testing.T) {
	var mcq, ident int
	for _, q := range sampleContent()["general-1"] {
		switch q.Mode {
		case "mcq":
			mcq++
			found := false
			for _, o := range q.Options {
				found = found || o == q.CorrectAnswer
			}
			if !found {
				t.Fatalf("question %s has no matching option", q.ID)
			}
		case "identification":
			ident++
		}
	}
	if mcq == 0 || ident == 0 {
		t.Fatalf("expected both modes, got mcq=%d identification=%d", mcq, ident)
	}
}

func TestSeedInvalidatesCachedQuestionLists(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	for _, key := range []string{"quiz:questions:general-1:mcq", "quiz:questions:general-1:identification", "quiz:questions:other:mcq"} {
		if err := mr.Set(key, "[]"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	repo := redisstore.NewQuestionRepository(client, nil, 0, 0)
	if err := invalidateSeeded(context.Background(), repo, sampleContent()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("quiz:questions:general-1:mcq") || mr.Exists("quiz:questions:general-1:identification") {
		t.Fatalf("expected seeded content to be evicted")
	}
	if !mr.Exists("quiz:questions:other:mcq") {
		t.Fatalf("expected unrelated content to stay cached")
	}
}
