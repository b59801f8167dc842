package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"multiplayer-quiz-service/internal/domain"
)

// QuestionLoader reads the question bank from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

// LoadQuestions returns up to limit questions of the given mode in stored order.
// Unknown content yields domain.ErrContentNotFound.
func (l *QuestionLoader) LoadQuestions(ctx context.Context, contentID string, mode domain.Mode, limit int) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, prompt, correct_answer, options, mode
		FROM questions
		WHERE content_id = $1 AND mode = $2
		ORDER BY position, id
		LIMIT $3`, contentID, string(mode), limit)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Question, 0, limit)
	for rows.Next() {
		var (
			q       domain.Question
			options []string
			m       string
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &q.CorrectAnswer, &options, &m); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Options = options
		q.Mode = domain.Mode(m)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(out) > 0 {
		return out, nil
	}

	var exists bool
	if err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM questions WHERE content_id = $1)`, contentID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check content: %w", err)
	}
	if !exists {
		return nil, domain.ErrContentNotFound
	}
	return out, nil
}
