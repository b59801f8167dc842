package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"multiplayer-quiz-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewStaticQuestionLoader(sampleContent())}
	repo := NewQuestionRepository(loader, time.Minute, 0)

	qs, err := repo.Questions(context.Background(), "content-1", domain.ModeMCQ)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 mcq questions, got %d", len(qs))
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	if _, err := repo.Questions(context.Background(), "content-1", domain.ModeMCQ); err != nil {
		t.Fatalf("questions 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}

	ident, err := repo.Questions(context.Background(), "content-1", domain.ModeIdentification)
	if err != nil {
		t.Fatalf("identification questions: %v", err)
	}
	if len(ident) != 1 || loader.calls.Load() != 2 {
		t.Fatalf("expected separate cache entry per mode, got %d questions and %d calls", len(ident), loader.calls.Load())
	}
}

func TestQuestionRepositoryCapsAtLimit(t *testing.T) {
	many := make([]domain.Question, 0, 15)
	for i := 0; i < 15; i++ {
		many = append(many, domain.Question{ID: fmt.Sprintf("q%d", i), Mode: domain.ModeMCQ, CorrectAnswer: "a"})
	}
	repo := NewQuestionRepository(NewStaticQuestionLoader(map[string][]domain.Question{"big": many}), time.Minute, 0)

	qs, err := repo.Questions(context.Background(), "big", domain.ModeMCQ)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(qs) != DefaultQuestionLimit {
		t.Fatalf("expected %d questions, got %d", DefaultQuestionLimit, len(qs))
	}
	if qs[0].ID != "q0" {
		t.Fatalf("expected stored order, got %s first", qs[0].ID)
	}
}

func TestQuestionRepositoryUnknownContent(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(sampleContent()), time.Minute, 0)
	if _, err := repo.Questions(context.Background(), "nope", domain.ModeMCQ); !errors.Is(err, domain.ErrContentNotFound) {
		t.Fatalf("expected content not found, got %v", err)
	}
}

type countingLoader struct {
	QuestionLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuestions(ctx context.Context, contentID string, mode domain.Mode, limit int) ([]domain.Question, error) {
	l.calls.Add(1)
	return l.QuestionLoader.LoadQuestions(ctx, contentID, mode, limit)
}

func sampleContent() map[string][]domain.Question {
	return map[string][]domain.Question{
		"content-1": {
			{ID: "q1", Prompt: "What is 2 + 2?", CorrectAnswer: "4", Options: []string{"3", "4", "5"}, Mode: domain.ModeMCQ},
			{ID: "q2", Prompt: "Capital of France?", CorrectAnswer: "Paris", Mode: domain.ModeIdentification},
			{ID: "q3", Prompt: "Largest planet?", CorrectAnswer: "Jupiter", Options: []string{"Mars", "Jupiter"}, Mode: domain.ModeMCQ},
		},
	}
}
