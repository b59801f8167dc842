package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"multiplayer-quiz-service/internal/domain"
)

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID            string   `bun:"id,pk"`
	ContentID     string   `bun:"content_id"`
	Mode          string   `bun:"mode"`
	Position      int      `bun:"position"`
	Prompt        string   `bun:"prompt"`
	CorrectAnswer string   `bun:"correct_answer"`
	Options       []string `bun:"options,array"`
}

// SeedQuestions upserts a content's questions, keeping their slice order as play order.
func SeedQuestions(ctx context.Context, db bun.IDB, content map[string][]domain.Question) error {
	for contentID, questions := range content {
		if len(questions) == 0 {
			continue
		}
		rows := make([]questionRow, 0, len(questions))
		for i, q := range questions {
			options := q.Options
			if options == nil {
				options = []string{}
			}
			rows = append(rows, questionRow{
				ID:            q.ID,
				ContentID:     contentID,
				Mode:          string(q.Mode),
				Position:      i,
				Prompt:        q.Prompt,
				CorrectAnswer: q.CorrectAnswer,
				Options:       options,
			})
		}
		_, err := db.NewInsert().Model(&rows).
			On("CONFLICT (id) DO UPDATE").
			Set("content_id = EXCLUDED.content_id").
			Set("mode = EXCLUDED.mode").
			Set("position = EXCLUDED.position").
			Set("prompt = EXCLUDED.prompt").
			Set("correct_answer = EXCLUDED.correct_answer").
			Set("options = EXCLUDED.options").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("seed %s: %w", contentID, err)
		}
	}
	return nil
}
