package app

import (
	"context"
	"time"

	"multiplayer-quiz-service/internal/domain"
)

// SessionRepository abstracts how sessions, participants and answers are stored
// (in-memory, Redis, Postgres). Every mutating method is atomic per session.
type SessionRepository interface {
	// CreateSession inserts a new session. Returns domain.ErrJoinCodeTaken on a code collision.
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	FindByJoinCode(ctx context.Context, code string) (domain.Session, error)
	ListSessions(ctx context.Context, status domain.Status) ([]domain.Session, error)
	// DeleteSession removes the session with its participants and answers.
	DeleteSession(ctx context.Context, sessionID string) error

	// StartSession moves a waiting session with at least one participant to active.
	// started is false when the session was not waiting.
	StartSession(ctx context.Context, sessionID string, now time.Time) (s domain.Session, started bool, err error)
	// AdvanceQuestion is a compare-and-set on the current question index.
	AdvanceQuestion(ctx context.Context, req AdvanceRequest) (s domain.Session, advanced bool, err error)

	// AddParticipant inserts p unless (session, identifier) already exists, in which case the
	// stored participant is returned with created=false.
	AddParticipant(ctx context.Context, p domain.Participant) (stored domain.Participant, created bool, err error)
	GetParticipant(ctx context.Context, sessionID, key string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)

	// RecordAnswer stores ev and adds ev.Points to the participant's score in one step, at most
	// once per (participant, question index). A repeat returns the stored event.
	RecordAnswer(ctx context.Context, ev domain.AnswerEvent) (RecordedAnswer, error)
	GetAnswer(ctx context.Context, sessionID, key string, index int) (domain.AnswerEvent, error)
}

// AdvanceRequest describes one attempt to move past ExpectedIndex.
type AdvanceRequest struct {
	SessionID     string
	ExpectedIndex int
	Now           time.Time
	// RequireDue only lets the attempt through once the question deadline has passed.
	RequireDue bool
}

// RecordedAnswer is the outcome of RecordAnswer.
type RecordedAnswer struct {
	Event       domain.AnswerEvent
	Participant domain.Participant
	Created     bool
}

// QuestionBank loads the ordered, capped question list for a content id and mode.
type QuestionBank interface {
	Questions(ctx context.Context, contentID string, mode domain.Mode) ([]domain.Question, error)
}

// Notifier fans out patches to subscribers of a session.
type Notifier interface {
	Publish(ctx context.Context, patch domain.Patch)
	// Subscribe returns a channel of patches for a session. The caller must invoke the returned
	// cancel function to avoid leaks. The channel is closed after a termination patch.
	Subscribe(sessionID string) (<-chan domain.Patch, func())
}
