package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"multiplayer-quiz-service/internal/domain"
)

// DefaultQuestionLimit caps how many questions a session plays.
const DefaultQuestionLimit = 10

// QuestionLoader fetches questions from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, contentID string, mode domain.Mode, limit int) ([]domain.Question, error)
}

// QuestionRepository caches question sets with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	limit  int
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration, limit int) *QuestionRepository {
	if limit <= 0 {
		limit = DefaultQuestionLimit
	}
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		limit:  limit,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (r *QuestionRepository) Questions(ctx context.Context, contentID string, mode domain.Mode) ([]domain.Question, error) {
	key := contentID + "|" + string(mode)
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		questions, err := r.loader.LoadQuestions(ctx, contentID, mode, r.limit)
		if err != nil {
			return nil, err
		}
		if len(questions) > r.limit {
			questions = questions[:r.limit]
		}

		r.mu.Lock()
		r.cache[key] = cachedQuestions{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// StaticQuestionLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionLoader struct {
	content map[string][]domain.Question
}

func NewStaticQuestionLoader(content map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{content: content}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, contentID string, mode domain.Mode, limit int) ([]domain.Question, error) {
	all, ok := l.content[contentID]
	if !ok {
		return nil, domain.ErrContentNotFound
	}
	out := make([]domain.Question, 0, len(all))
	for _, q := range all {
		if q.Mode != mode {
			continue
		}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
