package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Each session has its own lock; the store lock only guards the indexes.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	codes    map[string]string
}

type sessionEntry struct {
	mu           sync.Mutex
	deleted      bool
	session      domain.Session
	participants map[string]*domain.Participant
	answers      map[answerKey]domain.AnswerEvent
}

type answerKey struct {
	participant string
	index       int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		codes:    make(map[string]string),
	}
}

var _ app.SessionRepository = (*SessionStore)(nil)

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[session.JoinCode]; taken {
		return domain.ErrJoinCodeTaken
	}
	s.codes[session.JoinCode] = session.ID
	s.sessions[session.ID] = &sessionEntry{
		session:      session,
		participants: make(map[string]*domain.Participant),
		answers:      make(map[answerKey]domain.AnswerEvent),
	}
	return nil
}

// entry returns the live entry locked, or ErrSessionNotFound.
func (s *SessionStore) entry(sessionID string) (*sessionEntry, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	return e, nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	defer e.mu.Unlock()
	return e.session, nil
}

func (s *SessionStore) FindByJoinCode(ctx context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) ListSessions(_ context.Context, status domain.Status) ([]domain.Session, error) {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Session, 0)
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && e.session.Status == status {
			out = append(out, e.session)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	e.mu.Lock()
	e.deleted = true
	code := e.session.JoinCode
	e.participants = nil
	e.answers = nil
	e.mu.Unlock()

	s.mu.Lock()
	if s.codes[code] == sessionID {
		delete(s.codes, code)
	}
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) StartSession(_ context.Context, sessionID string, now time.Time) (domain.Session, bool, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.Session{}, false, err
	}
	defer e.mu.Unlock()

	if e.session.Status != domain.StatusWaiting {
		return e.session, false, nil
	}
	if len(e.participants) == 0 {
		return e.session, false, domain.ErrNoParticipants
	}
	e.session.Status = domain.StatusActive
	e.session.CurrentIndex = 0
	e.session.QuestionDeadline = deadline(now, e.session.TimeBudget)
	e.session.Version++
	e.session.UpdatedAt = now
	return e.session, true, nil
}

func (s *SessionStore) AdvanceQuestion(_ context.Context, req app.AdvanceRequest) (domain.Session, bool, error) {
	e, err := s.entry(req.SessionID)
	if err != nil {
		return domain.Session{}, false, err
	}
	defer e.mu.Unlock()

	cur := &e.session
	if cur.Status != domain.StatusActive || cur.CurrentIndex != req.ExpectedIndex {
		return *cur, false, nil
	}
	if req.RequireDue && req.Now.Before(cur.QuestionDeadline) {
		return *cur, false, nil
	}
	if cur.CurrentIndex+1 >= cur.QuestionCount {
		cur.Status = domain.StatusCompleted
	} else {
		cur.CurrentIndex++
		cur.QuestionDeadline = deadline(req.Now, cur.TimeBudget)
	}
	cur.Version++
	cur.UpdatedAt = req.Now
	return *cur, true, nil
}

func (s *SessionStore) AddParticipant(_ context.Context, p domain.Participant) (domain.Participant, bool, error) {
	e, err := s.entry(p.SessionID)
	if err != nil {
		return domain.Participant{}, false, err
	}
	defer e.mu.Unlock()

	key := domain.IdentifierFor(p)
	if existing, ok := e.participants[key]; ok {
		return *existing, false, nil
	}
	if e.session.Status == domain.StatusCompleted {
		return domain.Participant{}, false, domain.ErrSessionClosed
	}
	if e.session.Capacity > 0 && len(e.participants) >= e.session.Capacity {
		return domain.Participant{}, false, domain.ErrSessionFull
	}
	p.Score = 0
	if p.Version == 0 {
		p.Version = 1
	}
	stored := p
	e.participants[key] = &stored
	return stored, true, nil
}

func (s *SessionStore) GetParticipant(_ context.Context, sessionID, key string) (domain.Participant, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	defer e.mu.Unlock()
	p, ok := e.participants[key]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return *p, nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	out := make([]domain.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, *p)
	}
	return out, nil
}

func (s *SessionStore) RecordAnswer(_ context.Context, ev domain.AnswerEvent) (app.RecordedAnswer, error) {
	e, err := s.entry(ev.SessionID)
	if err != nil {
		return app.RecordedAnswer{}, err
	}
	defer e.mu.Unlock()

	p, ok := e.participants[ev.ParticipantKey]
	if !ok {
		return app.RecordedAnswer{}, domain.ErrParticipantNotFound
	}
	k := answerKey{participant: ev.ParticipantKey, index: ev.QuestionIndex}
	if prior, ok := e.answers[k]; ok {
		return app.RecordedAnswer{Event: prior, Participant: *p}, nil
	}
	if e.session.Status != domain.StatusActive {
		return app.RecordedAnswer{}, domain.ErrSessionNotActive
	}
	if e.session.CurrentIndex != ev.QuestionIndex {
		return app.RecordedAnswer{}, domain.ErrLateSubmission
	}

	if ev.Points > 0 {
		p.Score += ev.Points
		p.Version++
	}
	ev.NewScore = p.Score
	e.answers[k] = ev
	return app.RecordedAnswer{Event: ev, Participant: *p, Created: true}, nil
}

func (s *SessionStore) GetAnswer(_ context.Context, sessionID, key string, index int) (domain.AnswerEvent, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.AnswerEvent{}, err
	}
	defer e.mu.Unlock()
	ev, ok := e.answers[answerKey{participant: key, index: index}]
	if !ok {
		return domain.AnswerEvent{}, domain.ErrAnswerNotFound
	}
	return ev, nil
}

func deadline(now time.Time, budgetSeconds int) time.Time {
	return now.Add(time.Duration(budgetSeconds) * time.Second)
}
