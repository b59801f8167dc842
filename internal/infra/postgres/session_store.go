package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions"`

	ID               string    `bun:"id,pk"`
	ContentID        string    `bun:"content_id"`
	HostIdentity     string    `bun:"host_identity"`
	JoinCode         string    `bun:"join_code"`
	Capacity         int       `bun:"capacity"`
	Status           string    `bun:"status"`
	Mode             string    `bun:"mode"`
	Policy           string    `bun:"policy"`
	TimeBudget       int       `bun:"time_budget"`
	CurrentIndex     int       `bun:"current_index"`
	QuestionCount    int       `bun:"question_count"`
	QuestionDeadline time.Time `bun:"question_deadline,nullzero"`
	Version          int64     `bun:"version"`
	CreatedAt        time.Time `bun:"created_at"`
	UpdatedAt        time.Time `bun:"updated_at"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:quiz_participants"`

	ID          string    `bun:"id,pk"`
	SessionID   string    `bun:"session_id"`
	UserID      string    `bun:"user_id,nullzero"`
	Nickname    string    `bun:"nickname,nullzero"`
	IdentityKey string    `bun:"identity_key"`
	Score       int       `bun:"score"`
	Version     int64     `bun:"version"`
	JoinedAt    time.Time `bun:"joined_at"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:quiz_answers"`

	SessionID        string    `bun:"session_id,pk"`
	ParticipantKey   string    `bun:"participant_key,pk"`
	QuestionIndex    int       `bun:"question_index,pk"`
	Text             string    `bun:"text"`
	RemainingSeconds int       `bun:"remaining_seconds"`
	Correct          bool      `bun:"correct"`
	TimedOut         bool      `bun:"timed_out"`
	Points           int       `bun:"points"`
	NewScore         int       `bun:"new_score"`
	RecordedAt       time.Time `bun:"recorded_at"`
}

// SessionStore persists sessions in Postgres through bun. Transitions lock the session row,
// so concurrent starts, advances and joins on one session serialize.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

var _ app.SessionRepository = (*SessionStore)(nil)

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	row := toSessionRow(session)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrJoinCodeTaken
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", sessionID).Scan(ctx)
	if err != nil {
		return domain.Session{}, notFound(err, domain.ErrSessionNotFound, "get session")
	}
	return row.toDomain(), nil
}

func (s *SessionStore) FindByJoinCode(ctx context.Context, code string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("join_code = ?", code).Scan(ctx)
	if err != nil {
		return domain.Session{}, notFound(err, domain.ErrSessionNotFound, "find join code")
	}
	return row.toDomain(), nil
}

func (s *SessionStore) ListSessions(ctx context.Context, status domain.Status) ([]domain.Session, error) {
	var rows []sessionRow
	err := s.db.NewSelect().Model(&rows).Where("status = ?", string(status)).Order("created_at DESC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// DeleteSession removes the session; participants and answers go with it via ON DELETE CASCADE.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.NewDelete().Model((*sessionRow)(nil)).Where("id = ?", sessionID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) StartSession(ctx context.Context, sessionID string, now time.Time) (domain.Session, bool, error) {
	var (
		out     domain.Session
		started bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := lockSession(ctx, tx, sessionID, "UPDATE")
		if err != nil {
			return err
		}
		out = row.toDomain()
		if row.Status != string(domain.StatusWaiting) {
			return nil
		}
		count, err := tx.NewSelect().Model((*participantRow)(nil)).Where("session_id = ?", sessionID).Count(ctx)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if count == 0 {
			return domain.ErrNoParticipants
		}

		row.Status = string(domain.StatusActive)
		row.CurrentIndex = 0
		row.QuestionDeadline = now.Add(time.Duration(row.TimeBudget) * time.Second)
		row.Version++
		row.UpdatedAt = now
		if err := updateProgress(ctx, tx, &row); err != nil {
			return err
		}
		out = row.toDomain()
		started = true
		return nil
	})
	if err != nil {
		return out, false, err
	}
	return out, started, nil
}

func (s *SessionStore) AdvanceQuestion(ctx context.Context, req app.AdvanceRequest) (domain.Session, bool, error) {
	var (
		out      domain.Session
		advanced bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := lockSession(ctx, tx, req.SessionID, "UPDATE")
		if err != nil {
			return err
		}
		out = row.toDomain()
		if row.Status != string(domain.StatusActive) || row.CurrentIndex != req.ExpectedIndex {
			return nil
		}
		if req.RequireDue && req.Now.Before(row.QuestionDeadline) {
			return nil
		}

		if row.CurrentIndex+1 >= row.QuestionCount {
			row.Status = string(domain.StatusCompleted)
		} else {
			row.CurrentIndex++
			row.QuestionDeadline = req.Now.Add(time.Duration(row.TimeBudget) * time.Second)
		}
		row.Version++
		row.UpdatedAt = req.Now
		if err := updateProgress(ctx, tx, &row); err != nil {
			return err
		}
		out = row.toDomain()
		advanced = true
		return nil
	})
	if err != nil {
		return domain.Session{}, false, err
	}
	return out, advanced, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, p domain.Participant) (domain.Participant, bool, error) {
	var (
		out     domain.Participant
		created bool
	)
	key := domain.IdentifierFor(p)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		session, err := lockSession(ctx, tx, p.SessionID, "UPDATE")
		if err != nil {
			return err
		}

		var existing participantRow
		err = tx.NewSelect().Model(&existing).
			Where("session_id = ?", p.SessionID).
			Where("identity_key = ?", key).
			Scan(ctx)
		if err == nil {
			out = existing.toDomain()
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find participant: %w", err)
		}

		if session.Status == string(domain.StatusCompleted) {
			return domain.ErrSessionClosed
		}
		count, err := tx.NewSelect().Model((*participantRow)(nil)).Where("session_id = ?", p.SessionID).Count(ctx)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if session.Capacity > 0 && count >= session.Capacity {
			return domain.ErrSessionFull
		}

		row := participantRow{
			ID:          p.ID,
			SessionID:   p.SessionID,
			UserID:      p.UserID,
			Nickname:    p.Nickname,
			IdentityKey: key,
			Score:       0,
			Version:     1,
			JoinedAt:    p.JoinedAt,
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		out = row.toDomain()
		created = true
		return nil
	})
	if err != nil {
		return domain.Participant{}, false, err
	}
	return out, created, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, key string) (domain.Participant, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return domain.Participant{}, err
	}
	var row participantRow
	err := s.db.NewSelect().Model(&row).
		Where("session_id = ?", sessionID).
		Where("identity_key = ?", key).
		Scan(ctx)
	if err != nil {
		return domain.Participant{}, notFound(err, domain.ErrParticipantNotFound, "get participant")
	}
	return row.toDomain(), nil
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var rows []participantRow
	err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("joined_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *SessionStore) RecordAnswer(ctx context.Context, ev domain.AnswerEvent) (app.RecordedAnswer, error) {
	var out app.RecordedAnswer
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// A share lock keeps the session from advancing while the answer is scored.
		session, err := lockSession(ctx, tx, ev.SessionID, "SHARE")
		if err != nil {
			return err
		}

		var participant participantRow
		err = tx.NewSelect().Model(&participant).
			Where("session_id = ?", ev.SessionID).
			Where("identity_key = ?", ev.ParticipantKey).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return notFound(err, domain.ErrParticipantNotFound, "lock participant")
		}

		var prior answerRow
		err = tx.NewSelect().Model(&prior).
			Where("session_id = ?", ev.SessionID).
			Where("participant_key = ?", ev.ParticipantKey).
			Where("question_index = ?", ev.QuestionIndex).
			Scan(ctx)
		if err == nil {
			out = app.RecordedAnswer{Event: prior.toDomain(), Participant: participant.toDomain()}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find answer: %w", err)
		}

		if session.Status != string(domain.StatusActive) {
			return domain.ErrSessionNotActive
		}
		if session.CurrentIndex != ev.QuestionIndex {
			return domain.ErrLateSubmission
		}

		if ev.Points > 0 {
			_, err = tx.NewUpdate().Model(&participant).
				Set("score = score + ?", ev.Points).
				Set("version = version + 1").
				WherePK().
				Returning("score, version").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("add points: %w", err)
			}
		}
		ev.NewScore = participant.Score

		row := toAnswerRow(ev)
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		out = app.RecordedAnswer{Event: ev, Participant: participant.toDomain(), Created: true}
		return nil
	})
	if err != nil {
		return app.RecordedAnswer{}, err
	}
	return out, nil
}

func (s *SessionStore) GetAnswer(ctx context.Context, sessionID, key string, index int) (domain.AnswerEvent, error) {
	var row answerRow
	err := s.db.NewSelect().Model(&row).
		Where("session_id = ?", sessionID).
		Where("participant_key = ?", key).
		Where("question_index = ?", index).
		Scan(ctx)
	if err != nil {
		return domain.AnswerEvent{}, notFound(err, domain.ErrAnswerNotFound, "get answer")
	}
	return row.toDomain(), nil
}

func lockSession(ctx context.Context, tx bun.Tx, sessionID, mode string) (sessionRow, error) {
	var row sessionRow
	err := tx.NewSelect().Model(&row).Where("id = ?", sessionID).For(mode).Scan(ctx)
	if err != nil {
		return sessionRow{}, notFound(err, domain.ErrSessionNotFound, "lock session")
	}
	return row, nil
}

func updateProgress(ctx context.Context, tx bun.Tx, row *sessionRow) error {
	_, err := tx.NewUpdate().Model(row).
		Column("status", "current_index", "question_deadline", "version", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func notFound(err error, sentinel error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func toSessionRow(s domain.Session) sessionRow {
	return sessionRow{
		ID:               s.ID,
		ContentID:        s.ContentID,
		HostIdentity:     s.HostIdentity,
		JoinCode:         s.JoinCode,
		Capacity:         s.Capacity,
		Status:           string(s.Status),
		Mode:             string(s.Mode),
		Policy:           string(s.Policy),
		TimeBudget:       s.TimeBudget,
		CurrentIndex:     s.CurrentIndex,
		QuestionCount:    s.QuestionCount,
		QuestionDeadline: s.QuestionDeadline,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:               r.ID,
		ContentID:        r.ContentID,
		HostIdentity:     r.HostIdentity,
		JoinCode:         r.JoinCode,
		Capacity:         r.Capacity,
		Status:           domain.Status(r.Status),
		Mode:             domain.Mode(r.Mode),
		Policy:           domain.ScoringPolicy(r.Policy),
		TimeBudget:       r.TimeBudget,
		CurrentIndex:     r.CurrentIndex,
		QuestionCount:    r.QuestionCount,
		QuestionDeadline: r.QuestionDeadline,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (r participantRow) toDomain() domain.Participant {
	return domain.Participant{
		ID:        r.ID,
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Nickname:  r.Nickname,
		Score:     r.Score,
		Version:   r.Version,
		JoinedAt:  r.JoinedAt,
	}
}

func toAnswerRow(ev domain.AnswerEvent) answerRow {
	return answerRow{
		SessionID:        ev.SessionID,
		ParticipantKey:   ev.ParticipantKey,
		QuestionIndex:    ev.QuestionIndex,
		Text:             ev.Text,
		RemainingSeconds: ev.RemainingSeconds,
		Correct:          ev.Correct,
		TimedOut:         ev.TimedOut,
		Points:           ev.Points,
		NewScore:         ev.NewScore,
		RecordedAt:       ev.RecordedAt,
	}
}

func (r answerRow) toDomain() domain.AnswerEvent {
	return domain.AnswerEvent{
		SessionID:        r.SessionID,
		ParticipantKey:   r.ParticipantKey,
		QuestionIndex:    r.QuestionIndex,
		Text:             r.Text,
		RemainingSeconds: r.RemainingSeconds,
		Correct:          r.Correct,
		TimedOut:         r.TimedOut,
		Points:           r.Points,
		NewScore:         r.NewScore,
		RecordedAt:       r.RecordedAt,
	}
}
