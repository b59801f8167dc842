package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"multiplayer-quiz-service/internal/domain"
	"multiplayer-quiz-service/internal/infra/memory"
)

// QuestionRepository caches question lists in Redis and falls back to a loader on cache miss.
// Lists are stored as JSON under quiz:questions:{contentID}:{mode}.
type QuestionRepository struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	limit  int
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration, limit int) *QuestionRepository {
	if limit <= 0 {
		limit = memory.DefaultQuestionLimit
	}
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		limit:  limit,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) Questions(ctx context.Context, contentID string, mode domain.Mode) ([]domain.Question, error) {
	key := questionsKey(contentID, mode)
	if qs, ok := r.cached(ctx, key); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if qs, ok := r.cached(ctx, key); ok {
			return qs, nil
		}

		questions, err := r.loader.LoadQuestions(ctx, contentID, mode, r.limit)
		if err != nil {
			return nil, err
		}
		if len(questions) > r.limit {
			questions = questions[:r.limit]
		}
		if len(questions) == 0 {
			return questions, nil
		}

		data, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("encode questions: %w", err)
		}
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var qs []domain.Question
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, false
	}
	return qs, true
}

// Invalidate drops a cached list, e.g. after the question bank changes.
func (r *QuestionRepository) Invalidate(ctx context.Context, contentID string, mode domain.Mode) error {
	err := r.client.Del(ctx, questionsKey(contentID, mode)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func questionsKey(contentID string, mode domain.Mode) string {
	return "quiz:questions:" + contentID + ":" + string(mode)
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
