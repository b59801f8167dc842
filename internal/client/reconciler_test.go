package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplayer-quiz-service/internal/domain"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func activeSnapshot(version int64, index int) domain.Snapshot {
	return domain.Snapshot{
		Session: domain.Session{
			ID:            "s1",
			Status:        domain.StatusActive,
			CurrentIndex:  index,
			QuestionCount: 5,
			TimeBudget:    20,
			Version:       version,
		},
		Participants: []domain.Participant{
			{SessionID: "s1", Nickname: "alice", Score: 100, Version: 2},
			{SessionID: "s1", UserID: "u-bob", Score: 0, Version: 1},
		},
	}
}

func TestReconcilerIgnoresStaleAndDuplicatePatches(t *testing.T) {
	clock := &stepClock{now: time.Unix(1_000, 0)}
	r := NewReconciler(clock.Now)

	change := r.ApplySnapshot(activeSnapshot(3, 1))
	assert.True(t, change.QuestionChanged)

	advance := domain.SessionChanged(domain.Session{ID: "s1", Status: domain.StatusActive, CurrentIndex: 2, QuestionCount: 5, TimeBudget: 20, Version: 4}, clock.now)
	assert.True(t, r.ApplyPatch(advance).QuestionChanged)
	// redelivery
	assert.False(t, r.ApplyPatch(advance).Any())

	stale := domain.SessionChanged(domain.Session{ID: "s1", Status: domain.StatusActive, CurrentIndex: 1, Version: 3}, clock.now)
	r.ApplyPatch(stale)
	assert.Equal(t, 2, r.View().Session.CurrentIndex)

	old := domain.ParticipantChanged(domain.Participant{SessionID: "s1", Nickname: "alice", Score: 50, Version: 1}, clock.now)
	r.ApplyPatch(old)
	assert.Equal(t, 100, r.View().Participants["alice"].Score)

	other := domain.ParticipantChanged(domain.Participant{SessionID: "s2", Nickname: "alice", Score: 900, Version: 9}, clock.now)
	r.ApplyPatch(other)
	assert.Equal(t, 100, r.View().Participants["alice"].Score)
}

func TestReconcilerResetsSelectionAndCountdownOnIndexChange(t *testing.T) {
	clock := &stepClock{now: time.Unix(1_000, 0)}
	r := NewReconciler(clock.Now)
	r.ApplySnapshot(activeSnapshot(3, 0))

	assert.Equal(t, 20, r.Remaining())
	require.True(t, r.Select("B"))
	assert.False(t, r.Select("C"), "only the first pick counts")

	clock.now = clock.now.Add(7500 * time.Millisecond)
	assert.Equal(t, 13, r.Remaining())

	r.ApplyPatch(domain.SessionChanged(domain.Session{ID: "s1", Status: domain.StatusActive, CurrentIndex: 1, QuestionCount: 5, TimeBudget: 20, Version: 4}, clock.now))
	view := r.View()
	assert.False(t, view.HasSelected)
	assert.Empty(t, view.Selected)
	assert.Equal(t, 20, r.Remaining())

	clock.now = clock.now.Add(time.Minute)
	assert.Equal(t, 0, r.Remaining())
}

func TestReconcilerServerScoreWins(t *testing.T) {
	clock := &stepClock{now: time.Unix(1_000, 0)}
	r := NewReconciler(clock.Now)
	r.ApplySnapshot(activeSnapshot(3, 0))

	r.ApplyAnswerResult("u-bob", domain.AnswerResult{Correct: true, PointsAwarded: 100, NewScore: 100})
	board := r.Leaderboard()
	require.Len(t, board, 2)
	assert.Equal(t, 100, board[0].Score)
	assert.Equal(t, 100, board[1].Score)
	assert.Equal(t, 100, r.View().Pending["u-bob"])

	// the confirmed score replaces the pending one even if it differs
	r.ApplyPatch(domain.ParticipantChanged(domain.Participant{SessionID: "s1", UserID: "u-bob", Score: 80, Version: 2}, clock.now))
	view := r.View()
	assert.Empty(t, view.Pending)
	assert.Equal(t, 80, view.Participants["u-bob"].Score)

	// a duplicate result never lowers or double counts
	r.ApplyAnswerResult("u-bob", domain.AnswerResult{NewScore: 80, Duplicate: true})
	assert.Empty(t, r.View().Pending)
}

func TestReconcilerLeaderboardIncludesPending(t *testing.T) {
	r := NewReconciler(nil)
	r.ApplySnapshot(activeSnapshot(3, 0))
	r.ApplyAnswerResult("u-bob", domain.AnswerResult{Correct: true, PointsAwarded: 150, NewScore: 150})

	board := r.Leaderboard()
	require.Len(t, board, 2)
	assert.Equal(t, "u-bob", domain.IdentifierFor(board[0]))
	assert.Equal(t, 150, board[0].Score)
}

func TestReconcilerTermination(t *testing.T) {
	r := NewReconciler(nil)
	r.ApplySnapshot(activeSnapshot(3, 0))

	change := r.ApplyPatch(domain.Terminated("s1", time.Now()))
	assert.True(t, change.Terminated)
	assert.True(t, r.View().Terminated)

	// nothing applies after termination
	assert.False(t, r.ApplySnapshot(activeSnapshot(9, 4)).Any())
	assert.Equal(t, 0, r.View().Session.CurrentIndex)
}

func TestReconcilerSessionPatchBeforeSnapshotIsDropped(t *testing.T) {
	r := NewReconciler(nil)
	r.ApplyPatch(domain.SessionChanged(domain.Session{ID: "s1", Status: domain.StatusActive, Version: 2}, time.Now()))
	assert.Empty(t, r.View().Session.ID)

	change := r.ApplySnapshot(domain.Snapshot{Session: domain.Session{ID: "s1", Status: domain.StatusWaiting, Version: 1}})
	assert.True(t, change.StatusChanged)
	assert.False(t, change.QuestionChanged)
	assert.Equal(t, 0, r.Remaining())
}
