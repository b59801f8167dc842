// Package client is the player side of a session: it merges pushed patches and polled
// snapshots into one local view and drives answering and timeouts.
package client

import (
	"math"
	"sync"
	"time"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

// View is the locally rendered state of a session.
type View struct {
	Session      domain.Session
	Participants map[string]domain.Participant
	// Pending holds score increases reported to this client that no patch has confirmed yet.
	Pending map[string]int
	// Selected is the answer picked for the current question.
	Selected    string
	HasSelected bool
	// LocalDeadline is when the countdown for the current question ends on this machine.
	LocalDeadline time.Time
	Terminated    bool
}

// Change reports what an update altered.
type Change struct {
	QuestionChanged bool
	StatusChanged   bool
	Terminated      bool
}

// Any reports whether anything worth re-rendering changed.
func (c Change) Any() bool {
	return c.QuestionChanged || c.StatusChanged || c.Terminated
}

// Reconciler merges updates that may arrive duplicated, out of order, or not at all.
// Records only move forward by version; the server's score always wins over local state.
type Reconciler struct {
	mu          sync.Mutex
	now         func() time.Time
	view        View
	haveSession bool
}

func NewReconciler(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		now: now,
		view: View{
			Participants: make(map[string]domain.Participant),
			Pending:      make(map[string]int),
		},
	}
}

// ApplySnapshot merges a full fetch. Confirmed scores replace any pending local increases.
func (r *Reconciler) ApplySnapshot(s domain.Snapshot) Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view.Terminated {
		return Change{}
	}
	change := r.applySessionLocked(s.Session)
	for _, p := range s.Participants {
		r.applyParticipantLocked(p)
	}
	r.view.Pending = make(map[string]int)
	return change
}

// ApplySession merges a session record returned by a command such as advance.
func (r *Reconciler) ApplySession(s domain.Session) Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view.Terminated {
		return Change{}
	}
	return r.applySessionLocked(s)
}

// ApplyPatch merges one pushed patch.
func (r *Reconciler) ApplyPatch(p domain.Patch) Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view.Terminated {
		return Change{}
	}
	if r.haveSession && p.SessionID != r.view.Session.ID {
		return Change{}
	}

	switch p.Kind {
	case domain.PatchTerminated:
		r.view.Terminated = true
		return Change{Terminated: true}
	case domain.PatchSession:
		if p.Session == nil || !r.haveSession {
			return Change{}
		}
		next := r.view.Session
		next.Status = p.Session.Status
		next.CurrentIndex = p.Session.CurrentIndex
		next.QuestionCount = p.Session.QuestionCount
		next.TimeBudget = p.Session.TimeBudget
		next.QuestionDeadline = p.Session.QuestionDeadline
		next.Version = p.Version
		return r.applySessionLocked(next)
	case domain.PatchParticipant:
		if p.Participant != nil {
			r.applyParticipantLocked(*p.Participant)
		}
	}
	return Change{}
}

func (r *Reconciler) applySessionLocked(next domain.Session) Change {
	cur := r.view.Session
	if r.haveSession && next.Version <= cur.Version {
		return Change{}
	}

	var change Change
	if !r.haveSession {
		change.StatusChanged = true
		change.QuestionChanged = next.Status == domain.StatusActive
	} else {
		change.StatusChanged = next.Status != cur.Status
		change.QuestionChanged = next.Status == domain.StatusActive &&
			(cur.Status != domain.StatusActive || next.CurrentIndex != cur.CurrentIndex)
	}
	if change.QuestionChanged {
		r.view.Selected = ""
		r.view.HasSelected = false
		r.view.LocalDeadline = r.now().Add(time.Duration(next.TimeBudget) * time.Second)
	}
	r.view.Session = next
	r.haveSession = true
	return change
}

func (r *Reconciler) applyParticipantLocked(p domain.Participant) {
	key := domain.IdentifierFor(p)
	if cur, ok := r.view.Participants[key]; ok && cur.Version > p.Version {
		return
	}
	r.view.Participants[key] = p
	delete(r.view.Pending, key)
}

// ApplyAnswerResult shows a just-scored answer before its patch arrives.
func (r *Reconciler) ApplyAnswerResult(key string, res domain.AnswerResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.view.Participants[key]
	if !ok {
		return
	}
	if gain := res.NewScore - p.Score; gain > 0 {
		r.view.Pending[key] = gain
	}
}

// Select records the answer for the current question. Only the first pick counts.
func (r *Reconciler) Select(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view.HasSelected || r.view.Session.Status != domain.StatusActive {
		return false
	}
	r.view.Selected = text
	r.view.HasSelected = true
	return true
}

// Remaining returns whole seconds left on the local countdown, rounded up.
func (r *Reconciler) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view.Session.Status != domain.StatusActive {
		return 0
	}
	left := r.view.LocalDeadline.Sub(r.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// Terminate marks the session gone, e.g. after a snapshot fetch reports it missing.
func (r *Reconciler) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Terminated = true
}

// View returns a copy of the current view.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view
	v.Participants = make(map[string]domain.Participant, len(r.view.Participants))
	for k, p := range r.view.Participants {
		v.Participants[k] = p
	}
	v.Pending = make(map[string]int, len(r.view.Pending))
	for k, n := range r.view.Pending {
		v.Pending[k] = n
	}
	return v
}

// Leaderboard returns participants with pending increases applied, best first.
func (r *Reconciler) Leaderboard() []domain.Participant {
	v := r.View()
	out := make([]domain.Participant, 0, len(v.Participants))
	for key, p := range v.Participants {
		p.Score += v.Pending[key]
		out = append(out, p)
	}
	app.SortLeaderboard(out)
	return out
}
