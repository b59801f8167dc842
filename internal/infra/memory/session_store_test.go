package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

func newWaitingSession(t *testing.T, store *SessionStore, id, code string, capacity, count int) domain.Session {
	t.Helper()
	s := domain.Session{
		ID:            id,
		ContentID:     "content-1",
		HostIdentity:  "host",
		JoinCode:      code,
		Capacity:      capacity,
		Status:        domain.StatusWaiting,
		Mode:          domain.ModeMCQ,
		Policy:        domain.PolicyFixed,
		TimeBudget:    20,
		QuestionCount: count,
		Version:       1,
		CreatedAt:     time.Now(),
	}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestSessionStoreRejectsDuplicateJoinCode(t *testing.T) {
	store := NewSessionStore()
	newWaitingSession(t, store, "s1", "ABC123", 4, 1)

	err := store.CreateSession(context.Background(), domain.Session{ID: "s2", JoinCode: "ABC123"})
	if !errors.Is(err, domain.ErrJoinCodeTaken) {
		t.Fatalf("expected join code taken, got %v", err)
	}

	found, err := store.FindByJoinCode(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if found.ID != "s1" {
		t.Fatalf("expected s1, got %s", found.ID)
	}
}

func TestSessionStoreAddParticipantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	newWaitingSession(t, store, "s1", "ABC123", 2, 1)

	first, created, err := store.AddParticipant(ctx, domain.Participant{ID: "p1", SessionID: "s1", Nickname: "alice"})
	if err != nil || !created {
		t.Fatalf("first join: created=%v err=%v", created, err)
	}
	again, created, err := store.AddParticipant(ctx, domain.Participant{ID: "p2", SessionID: "s1", Nickname: "alice"})
	if err != nil || created {
		t.Fatalf("second join: created=%v err=%v", created, err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected stored participant %s, got %s", first.ID, again.ID)
	}

	if _, _, err := store.AddParticipant(ctx, domain.Participant{SessionID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if _, _, err := store.AddParticipant(ctx, domain.Participant{SessionID: "s1", Nickname: "bob"}); !errors.Is(err, domain.ErrSessionFull) {
		t.Fatalf("expected session full, got %v", err)
	}
	// an existing member can always rejoin a full session
	if _, _, err := store.AddParticipant(ctx, domain.Participant{SessionID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("rejoin u1: %v", err)
	}
}

func TestSessionStoreAdvanceIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	newWaitingSession(t, store, "s1", "ABC123", 4, 3)
	if _, _, err := store.AddParticipant(ctx, domain.Participant{SessionID: "s1", UserID: "host"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	now := time.Now()
	started, ok, err := store.StartSession(ctx, "s1", now)
	if err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}
	if started.Status != domain.StatusActive || started.CurrentIndex != 0 {
		t.Fatalf("unexpected started session: %+v", started)
	}
	if _, ok, _ := store.StartSession(ctx, "s1", now); ok {
		t.Fatalf("expected second start to be a no-op")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.AdvanceQuestion(ctx, app.AdvanceRequest{SessionID: "s1", ExpectedIndex: 0, Now: now})
			if err != nil {
				t.Errorf("advance: %v", err)
				return
			}
			if ok {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if advanced != 1 {
		t.Fatalf("expected exactly one advance, got %d", advanced)
	}

	s, _ := store.GetSession(ctx, "s1")
	if s.CurrentIndex != 1 {
		t.Fatalf("expected index 1, got %d", s.CurrentIndex)
	}

	// not yet due
	if _, ok, _ := store.AdvanceQuestion(ctx, app.AdvanceRequest{SessionID: "s1", ExpectedIndex: 1, Now: now, RequireDue: true}); ok {
		t.Fatalf("expected advance before deadline to be rejected")
	}
	later := now.Add(21 * time.Second)
	if _, ok, _ := store.AdvanceQuestion(ctx, app.AdvanceRequest{SessionID: "s1", ExpectedIndex: 1, Now: later, RequireDue: true}); !ok {
		t.Fatalf("expected due advance")
	}
	done, ok, _ := store.AdvanceQuestion(ctx, app.AdvanceRequest{SessionID: "s1", ExpectedIndex: 2, Now: later})
	if !ok || done.Status != domain.StatusCompleted {
		t.Fatalf("expected completion, got ok=%v status=%s", ok, done.Status)
	}
	if done.CurrentIndex != 2 {
		t.Fatalf("expected index to stay on last question, got %d", done.CurrentIndex)
	}
}

func TestSessionStoreRecordAnswerOnce(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	newWaitingSession(t, store, "s1", "ABC123", 4, 2)
	if _, _, err := store.AddParticipant(ctx, domain.Participant{SessionID: "s1", UserID: "host"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, _, err := store.StartSession(ctx, "s1", time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := store.GetAnswer(ctx, "s1", "host", 0); !errors.Is(err, domain.ErrAnswerNotFound) {
		t.Fatalf("expected answer not found, got %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.RecordAnswer(ctx, domain.AnswerEvent{SessionID: "s1", ParticipantKey: "host", QuestionIndex: 0, Correct: true, Points: 100})
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if rec.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected one created answer, got %d", created)
	}

	p, _ := store.GetParticipant(ctx, "s1", "host")
	if p.Score != 100 {
		t.Fatalf("expected score 100, got %d", p.Score)
	}

	_, err := store.RecordAnswer(ctx, domain.AnswerEvent{SessionID: "s1", ParticipantKey: "host", QuestionIndex: 1})
	if !errors.Is(err, domain.ErrLateSubmission) {
		t.Fatalf("expected late submission, got %v", err)
	}
	_, err = store.RecordAnswer(ctx, domain.AnswerEvent{SessionID: "s1", ParticipantKey: "ghost", QuestionIndex: 0})
	if !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestSessionStoreDeleteReleasesCode(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	newWaitingSession(t, store, "s1", "ABC123", 4, 1)

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.DeleteSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	newWaitingSession(t, store, "s2", "ABC123", 4, 1)
}

func TestSessionStoreListSessionsByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	newWaitingSession(t, store, "s1", "AAAAAA", 4, 1)
	newWaitingSession(t, store, "s2", "BBBBBB", 4, 1)
	if _, _, err := store.AddParticipant(ctx, domain.Participant{SessionID: "s2", UserID: "host"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, _, err := store.StartSession(ctx, "s2", time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waiting, _ := store.ListSessions(ctx, domain.StatusWaiting)
	if len(waiting) != 1 || waiting[0].ID != "s1" {
		t.Fatalf("unexpected waiting sessions: %+v", waiting)
	}
	active, _ := store.ListSessions(ctx, domain.StatusActive)
	if len(active) != 1 || active[0].ID != "s2" {
		t.Fatalf("unexpected active sessions: %+v", active)
	}
}
