package app

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"multiplayer-quiz-service/internal/domain"
	"multiplayer-quiz-service/internal/scoring"
)

const (
	DefaultCapacity         = 4
	DefaultTimeBudget       = 20
	MaxTimeBudget           = 600
	DefaultSettleDelay      = 2 * time.Second
	DefaultJoinCodeAttempts = 10
)

// Options tune the session service.
type Options struct {
	// SettleDelay is the pause after a correct answer before the session moves on.
	// Zero advances immediately.
	SettleDelay      time.Duration
	Points           scoring.Values
	JoinCodeAttempts int
	Now              func() time.Time
	// NewJoinCode is swappable for collision tests.
	NewJoinCode func() string
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		SettleDelay:      DefaultSettleDelay,
		Points:           scoring.DefaultValues(),
		JoinCodeAttempts: DefaultJoinCodeAttempts,
		Now:              time.Now,
		NewJoinCode:      NewJoinCode,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.Points.Fixed <= 0 {
		o.Points.Fixed = d.Points.Fixed
	}
	if o.Points.Multiplier <= 0 {
		o.Points.Multiplier = d.Points.Multiplier
	}
	if o.JoinCodeAttempts <= 0 {
		o.JoinCodeAttempts = d.JoinCodeAttempts
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.NewJoinCode == nil {
		o.NewJoinCode = d.NewJoinCode
	}
	return o
}

// SessionService contains the multiplayer session use cases: the state machine, the
// participant registry and answer scoring.
type SessionService struct {
	store    SessionRepository
	bank     QuestionBank
	notifier Notifier
	opts     Options

	pending sync.WaitGroup

	// questions a session was created with, held for its lifetime
	pinnedMu sync.Mutex
	pinned   map[string][]domain.Question
}

func NewSessionService(store SessionRepository, bank QuestionBank, notifier Notifier, opts Options) *SessionService {
	return &SessionService{
		store:    store,
		bank:     bank,
		notifier: notifier,
		opts:     opts.withDefaults(),
		pinned:   make(map[string][]domain.Question),
	}
}

// CreateSessionRequest carries the host's choices for a new session.
type CreateSessionRequest struct {
	ContentID    string               `json:"contentId"`
	HostIdentity string               `json:"hostIdentity"`
	Capacity     int                  `json:"capacity"`
	Mode         domain.Mode          `json:"mode"`
	Policy       domain.ScoringPolicy `json:"scoringPolicy"`
	TimeBudget   int                  `json:"timeBudget"`
}

// CreateSession creates a waiting session with a fresh join code and joins the host to it.
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Session, error) {
	req, err := normalizeCreate(req)
	if err != nil {
		return domain.Session{}, err
	}

	questions, err := s.bank.Questions(ctx, req.ContentID, req.Mode)
	if err != nil {
		return domain.Session{}, err
	}
	if len(questions) == 0 {
		return domain.Session{}, domain.ErrNoQuestions
	}

	now := s.opts.Now()
	session := domain.Session{
		ID:            uuid.NewString(),
		ContentID:     req.ContentID,
		HostIdentity:  req.HostIdentity,
		Capacity:      req.Capacity,
		Status:        domain.StatusWaiting,
		Mode:          req.Mode,
		Policy:        req.Policy,
		TimeBudget:    req.TimeBudget,
		QuestionCount: len(questions),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created := false
	for attempt := 0; attempt < s.opts.JoinCodeAttempts; attempt++ {
		session.JoinCode = s.opts.NewJoinCode()
		err = s.store.CreateSession(ctx, session)
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Session{}, err
		}
		created = true
		break
	}
	if !created {
		return domain.Session{}, domain.ErrJoinCodeExhausted
	}
	log.Printf("session %s created by %s with code %s (%d questions)", session.ID, session.HostIdentity, session.JoinCode, session.QuestionCount)
	s.pin(session.ID, questions)

	if _, err := s.join(ctx, session, domain.Identity{UserID: req.HostIdentity}); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func normalizeCreate(req CreateSessionRequest) (CreateSessionRequest, error) {
	req.ContentID = strings.TrimSpace(req.ContentID)
	req.HostIdentity = strings.TrimSpace(req.HostIdentity)
	if req.HostIdentity == "" {
		return req, domain.ErrEmptyIdentity
	}
	if req.ContentID == "" {
		return req, domain.ErrInvalidSettings
	}
	if req.Capacity == 0 {
		req.Capacity = DefaultCapacity
	}
	if req.Mode == "" {
		req.Mode = domain.ModeMCQ
	}
	if req.Policy == "" {
		req.Policy = domain.PolicyTimeWeighted
	}
	if req.TimeBudget == 0 {
		req.TimeBudget = DefaultTimeBudget
	}
	if req.Capacity < 1 || !req.Mode.Valid() || !req.Policy.Valid() || req.TimeBudget < 1 || req.TimeBudget > MaxTimeBudget {
		return req, domain.ErrInvalidSettings
	}
	return req, nil
}

// JoinRequest identifies a session by id or join code.
type JoinRequest struct {
	SessionID string          `json:"sessionId"`
	JoinCode  string          `json:"joinCode"`
	Identity  domain.Identity `json:"identity"`
}

// Join registers a participant, or returns the existing one for the same identity.
func (s *SessionService) Join(ctx context.Context, req JoinRequest) (domain.Participant, error) {
	identity := req.Identity.Normalize()
	if err := identity.Validate(); err != nil {
		return domain.Participant{}, err
	}

	var (
		session domain.Session
		err     error
	)
	switch {
	case req.SessionID != "":
		session, err = s.store.GetSession(ctx, req.SessionID)
	case req.JoinCode != "":
		code, codeErr := NormalizeJoinCode(req.JoinCode)
		if codeErr != nil {
			return domain.Participant{}, codeErr
		}
		session, err = s.store.FindByJoinCode(ctx, code)
		// codes only lead into lobbies; late joiners need the session id
		if err == nil && session.Status != domain.StatusWaiting {
			log.Printf("join code %s: session %s already %s", code, session.ID, session.Status)
			return domain.Participant{}, domain.ErrSessionNotFound
		}
	default:
		return domain.Participant{}, domain.ErrInvalidJoinCode
	}
	if err != nil {
		return domain.Participant{}, err
	}
	return s.join(ctx, session, identity)
}

func (s *SessionService) join(ctx context.Context, session domain.Session, identity domain.Identity) (domain.Participant, error) {
	now := s.opts.Now()
	participant, created, err := s.store.AddParticipant(ctx, domain.Participant{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    identity.UserID,
		Nickname:  identity.Nickname,
		Version:   1,
		JoinedAt:  now,
	})
	if err != nil {
		return domain.Participant{}, err
	}
	if created {
		log.Printf("session %s: %s joined", session.ID, domain.IdentifierFor(participant))
		s.notifier.Publish(ctx, domain.ParticipantChanged(participant, now))
	}
	return participant, nil
}

// StartSession moves a waiting session to its first question. Requests from anyone but the
// host, or for a session that already started, are no-ops returning the current session.
func (s *SessionService) StartSession(ctx context.Context, sessionID, requester string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.IsHost(strings.TrimSpace(requester)) {
		log.Printf("session %s: ignoring start from non-host %q", sessionID, requester)
		return session, nil
	}
	if session.Status != domain.StatusWaiting {
		return session, nil
	}

	now := s.opts.Now()
	session, started, err := s.store.StartSession(ctx, sessionID, now)
	if err != nil {
		return domain.Session{}, err
	}
	if started {
		log.Printf("session %s started", sessionID)
		s.notifier.Publish(ctx, domain.SessionChanged(session, now))
	}
	return session, nil
}

// SubmitRequest is one answer submission.
type SubmitRequest struct {
	SessionID        string `json:"sessionId"`
	ParticipantKey   string `json:"participantKey"`
	QuestionIndex    int    `json:"questionIndex"`
	Text             string `json:"text"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// SubmitAnswer scores an answer at most once per (participant, question index). Repeats return
// the recorded result. Answers for a question the session has moved past are rejected.
func (s *SessionService) SubmitAnswer(ctx context.Context, req SubmitRequest) (domain.AnswerResult, error) {
	key := strings.TrimSpace(req.ParticipantKey)
	if key == "" {
		return domain.AnswerResult{}, domain.ErrEmptyIdentity
	}

	if prior, err := s.store.GetAnswer(ctx, req.SessionID, key, req.QuestionIndex); err == nil {
		return prior.Result(true), nil
	} else if !errors.Is(err, domain.ErrAnswerNotFound) {
		return domain.AnswerResult{}, err
	}

	session, err := s.liveSession(ctx, req.SessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if err := acceptsAnswer(session, req.QuestionIndex); err != nil {
		// a concurrent duplicate may have been scored and moved the session on
		if prior, gerr := s.store.GetAnswer(ctx, req.SessionID, key, req.QuestionIndex); gerr == nil {
			return prior.Result(true), nil
		}
		return domain.AnswerResult{}, err
	}

	question, err := s.question(ctx, session, req.QuestionIndex)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	verdict := scoring.Score(question, session, req.Text, req.RemainingSeconds, s.opts.Points)

	now := s.opts.Now()
	rec, err := s.store.RecordAnswer(ctx, domain.AnswerEvent{
		SessionID:        session.ID,
		ParticipantKey:   key,
		QuestionIndex:    req.QuestionIndex,
		Text:             req.Text,
		RemainingSeconds: verdict.Remaining,
		Correct:          verdict.Correct,
		TimedOut:         verdict.TimedOut,
		Points:           verdict.Points,
		RecordedAt:       now,
	})
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if !rec.Created {
		return rec.Event.Result(true), nil
	}

	if rec.Event.Points > 0 {
		s.notifier.Publish(ctx, domain.ParticipantChanged(rec.Participant, now))
	}
	if rec.Event.Correct {
		s.scheduleAdvance(session.ID, req.QuestionIndex)
	}
	return rec.Event.Result(false), nil
}

func acceptsAnswer(session domain.Session, index int) error {
	switch {
	case session.Status != domain.StatusActive:
		return domain.ErrSessionNotActive
	case index < 0 || index >= session.QuestionCount:
		return domain.ErrInvalidQuestionRef
	case index != session.CurrentIndex:
		return domain.ErrLateSubmission
	}
	return nil
}

// AdvanceIfDue moves past expectedIndex once its deadline has passed. Safe to call
// redundantly: only the first caller for an index has any effect.
func (s *SessionService) AdvanceIfDue(ctx context.Context, sessionID string, expectedIndex int) (domain.Session, error) {
	session, _, err := s.advance(ctx, sessionID, expectedIndex, true)
	return session, err
}

func (s *SessionService) advance(ctx context.Context, sessionID string, expectedIndex int, requireDue bool) (domain.Session, bool, error) {
	now := s.opts.Now()
	session, advanced, err := s.store.AdvanceQuestion(ctx, AdvanceRequest{
		SessionID:     sessionID,
		ExpectedIndex: expectedIndex,
		Now:           now,
		RequireDue:    requireDue,
	})
	if err != nil {
		return domain.Session{}, false, err
	}
	if advanced {
		if session.Status == domain.StatusCompleted {
			s.unpin(sessionID)
			log.Printf("session %s completed after question %d", sessionID, expectedIndex)
		} else {
			log.Printf("session %s advanced to question %d", sessionID, session.CurrentIndex)
		}
		s.notifier.Publish(ctx, domain.SessionChanged(session, now))
	}
	return session, advanced, nil
}

// scheduleAdvance moves on from index after the settle delay so clients can render feedback.
func (s *SessionService) scheduleAdvance(sessionID string, index int) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, _, err := s.advance(ctx, sessionID, index, false); err != nil && domain.KindOf(err) != domain.KindNotFound {
			log.Printf("session %s: settle advance from %d failed: %v", sessionID, index, err)
		}
	}
	if s.opts.SettleDelay <= 0 {
		run()
		return
	}
	s.pending.Add(1)
	time.AfterFunc(s.opts.SettleDelay, func() {
		defer s.pending.Done()
		run()
	})
}

// Wait blocks until scheduled settle advances have run.
func (s *SessionService) Wait() {
	s.pending.Wait()
}

// TerminateSession deletes a session on behalf of its host and notifies subscribers.
func (s *SessionService) TerminateSession(ctx context.Context, sessionID, requester string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsHost(strings.TrimSpace(requester)) {
		return domain.ErrNotHost
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.unpin(sessionID)
	log.Printf("session %s terminated by host", sessionID)
	s.notifier.Publish(ctx, domain.Terminated(sessionID, s.opts.Now()))
	return nil
}

// Subscribe returns a channel of patches for a live session.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *SessionService) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Patch, func(), error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.notifier.Subscribe(sessionID)
	return ch, cancel, nil
}

// FetchSnapshot returns the session with its participants ordered as a leaderboard.
func (s *SessionService) FetchSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	SortLeaderboard(participants)
	return domain.Snapshot{
		Session:      session,
		Participants: participants,
		FetchedAt:    s.opts.Now(),
	}, nil
}

// ListSessions returns sessions in the given status, e.g. the open lobbies.
func (s *SessionService) ListSessions(ctx context.Context, status domain.Status) ([]domain.Session, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidSettings
	}
	return s.store.ListSessions(ctx, status)
}

// CurrentQuestion returns the active question without its answer.
func (s *SessionService) CurrentQuestion(ctx context.Context, sessionID string) (domain.QuestionView, error) {
	session, err := s.liveSession(ctx, sessionID)
	if err != nil {
		return domain.QuestionView{}, err
	}
	if session.Status != domain.StatusActive {
		return domain.QuestionView{}, domain.ErrSessionNotActive
	}
	q, err := s.question(ctx, session, session.CurrentIndex)
	if err != nil {
		return domain.QuestionView{}, err
	}
	return domain.QuestionView{
		Index:    session.CurrentIndex,
		Total:    session.QuestionCount,
		Prompt:   q.Prompt,
		Options:  append([]string(nil), q.Options...),
		Mode:     session.Mode,
		Deadline: session.QuestionDeadline,
	}, nil
}

// question resolves index against the list the session was created with. Another instance
// may have created the session, so a miss reloads from the bank once and pins the result.
func (s *SessionService) question(ctx context.Context, session domain.Session, index int) (domain.Question, error) {
	s.pinnedMu.Lock()
	questions, ok := s.pinned[session.ID]
	s.pinnedMu.Unlock()
	if !ok {
		loaded, err := s.bank.Questions(ctx, session.ContentID, session.Mode)
		if err != nil {
			return domain.Question{}, err
		}
		if len(loaded) < session.QuestionCount {
			log.Printf("session %s: bank now has %d of %d questions", session.ID, len(loaded), session.QuestionCount)
			return domain.Question{}, domain.ErrQuestionNotFound
		}
		questions = loaded[:session.QuestionCount]
		if session.Status != domain.StatusCompleted {
			s.pin(session.ID, questions)
		}
	}
	if index < 0 || index >= len(questions) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return questions[index], nil
}

// liveSession loads a session and forgets the questions of one that expired from the store.
func (s *SessionService) liveSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		s.unpin(sessionID)
	}
	return session, err
}

func (s *SessionService) pin(sessionID string, questions []domain.Question) {
	s.pinnedMu.Lock()
	defer s.pinnedMu.Unlock()
	s.pinned[sessionID] = append([]domain.Question(nil), questions...)
}

func (s *SessionService) unpin(sessionID string) {
	s.pinnedMu.Lock()
	defer s.pinnedMu.Unlock()
	delete(s.pinned, sessionID)
}

// SortLeaderboard orders by score desc, then earliest join, then identifier.
func SortLeaderboard(participants []domain.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].Score != participants[j].Score {
			return participants[i].Score > participants[j].Score
		}
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return domain.IdentifierFor(participants[i]) < domain.IdentifierFor(participants[j])
	})
}
