package cli

import "multiplayer-quiz-service/internal/domain"

// sampleContent is served when no question database is configured, and seeded by migrate --seed.
func sampleContent() map[string][]domain.Question {
	return map[string][]domain.Question{
		"general-1": {
			{ID: "g1", Prompt: "What is 2 + 2?", CorrectAnswer: "4", Options: []string{"3", "4", "5", "22"}, Mode: domain.ModeMCQ},
			{ID: "g2", Prompt: "Which planet is known as the red planet?", CorrectAnswer: "Mars", Options: []string{"Venus", "Mars", "Jupiter", "Mercury"}, Mode: domain.ModeMCQ},
			{ID: "g3", Prompt: "How many continents are there?", CorrectAnswer: "7", Options: []string{"5", "6", "7", "8"}, Mode: domain.ModeMCQ},
			{ID: "g4", Prompt: "Largest ocean on Earth?", CorrectAnswer: "Pacific", Options: []string{"Atlantic", "Indian", "Arctic", "Pacific"}, Mode: domain.ModeMCQ},
			{ID: "g5", Prompt: "Chemical symbol for gold?", CorrectAnswer: "Au", Options: []string{"Ag", "Au", "Gd", "Go"}, Mode: domain.ModeMCQ},
			{ID: "g6", Prompt: "Name the powerhouse of the cell.", CorrectAnswer: "Mitochondria", Mode: domain.ModeIdentification},
			{ID: "g7", Prompt: "Name the capital of Japan.", CorrectAnswer: "Tokyo", Mode: domain.ModeIdentification},
			{ID: "g8", Prompt: "Name the gas plants absorb from the air.", CorrectAnswer: "Carbon dioxide", Mode: domain.ModeIdentification},
		},
	}
}
