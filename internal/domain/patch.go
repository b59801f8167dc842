package domain

import "time"

// PatchKind tells a client which part of its view a patch touches.
type PatchKind string

const (
	PatchSession     PatchKind = "session"
	PatchParticipant PatchKind = "participant"
	PatchTerminated  PatchKind = "terminated"
)

// Patch is a partial update delivered to subscribers. Delivery is at-least-once and
// unordered; Version is the version of the record carried so receivers can drop stale copies.
type Patch struct {
	Kind        PatchKind     `json:"kind"`
	SessionID   string        `json:"sessionId"`
	Version     int64         `json:"version"`
	Session     *SessionPatch `json:"session,omitempty"`
	Participant *Participant  `json:"participant,omitempty"`
	SentAt      time.Time     `json:"sentAt"`
}

// SessionPatch holds the mutable session fields.
type SessionPatch struct {
	Status           Status    `json:"status"`
	CurrentIndex     int       `json:"currentQuestionIndex"`
	QuestionCount    int       `json:"questionCount"`
	TimeBudget       int       `json:"timeBudget"`
	QuestionDeadline time.Time `json:"questionDeadline"`
}

// SessionChanged builds a session patch from the current record.
func SessionChanged(s Session, now time.Time) Patch {
	return Patch{
		Kind:      PatchSession,
		SessionID: s.ID,
		Version:   s.Version,
		Session: &SessionPatch{
			Status:           s.Status,
			CurrentIndex:     s.CurrentIndex,
			QuestionCount:    s.QuestionCount,
			TimeBudget:       s.TimeBudget,
			QuestionDeadline: s.QuestionDeadline,
		},
		SentAt: now,
	}
}

// ParticipantChanged builds a participant patch (join or score change).
func ParticipantChanged(p Participant, now time.Time) Patch {
	return Patch{
		Kind:        PatchParticipant,
		SessionID:   p.SessionID,
		Version:     p.Version,
		Participant: &p,
		SentAt:      now,
	}
}

// Terminated builds the notice sent when a host deletes a session.
func Terminated(sessionID string, now time.Time) Patch {
	return Patch{Kind: PatchTerminated, SessionID: sessionID, SentAt: now}
}
