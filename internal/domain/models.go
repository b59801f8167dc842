package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a quiz session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted:
		return true
	}
	return false
}

// Mode selects the question type a session plays with.
type Mode string

const (
	ModeMCQ            Mode = "mcq"
	ModeIdentification Mode = "identification"
)

func (m Mode) Valid() bool {
	return m == ModeMCQ || m == ModeIdentification
}

// ScoringPolicy maps correctness and timing to points. It is fixed per session.
type ScoringPolicy string

const (
	PolicyFixed        ScoringPolicy = "fixed"
	PolicyTimeWeighted ScoringPolicy = "time-weighted"
)

func (p ScoringPolicy) Valid() bool {
	return p == PolicyFixed || p == PolicyTimeWeighted
}

// Session is one run of a quiz played by a group.
type Session struct {
	ID               string        `json:"id"`
	ContentID        string        `json:"contentId"`
	HostIdentity     string        `json:"hostIdentity"`
	JoinCode         string        `json:"joinCode"`
	Capacity         int           `json:"capacity"`
	Status           Status        `json:"status"`
	Mode             Mode          `json:"mode"`
	Policy           ScoringPolicy `json:"scoringPolicy"`
	TimeBudget       int           `json:"timeBudget"` // seconds per question
	CurrentIndex     int           `json:"currentQuestionIndex"`
	QuestionCount    int           `json:"questionCount"`
	QuestionDeadline time.Time     `json:"questionDeadline"`
	Version          int64         `json:"version"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// IsHost reports whether identity is the session host.
func (s Session) IsHost(identity string) bool {
	return identity != "" && s.HostIdentity == identity
}

// Identity is who a participant is: an authenticated user id or a guest nickname, never both.
type Identity struct {
	UserID   string `json:"userId,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// MinNicknameLength is the shortest guest nickname accepted.
const MinNicknameLength = 2

// Normalize trims surrounding whitespace from both fields.
func (i Identity) Normalize() Identity {
	return Identity{
		UserID:   strings.TrimSpace(i.UserID),
		Nickname: strings.TrimSpace(i.Nickname),
	}
}

// Validate checks that exactly one identity field is set.
func (i Identity) Validate() error {
	n := i.Normalize()
	switch {
	case n.UserID == "" && n.Nickname == "":
		return ErrEmptyIdentity
	case n.UserID != "" && n.Nickname != "":
		return ErrAmbiguousIdentity
	case n.UserID == "" && len([]rune(n.Nickname)) < MinNicknameLength:
		return ErrNicknameTooShort
	}
	return nil
}

// Key returns the identifier used to key this identity everywhere.
func (i Identity) Key() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.Nickname
}

// Participant is one joined player and their cumulative score.
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Nickname  string    `json:"nickname,omitempty"`
	Score     int       `json:"score"`
	Version   int64     `json:"version"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// IdentifierFor returns the key a participant is scored and looked up under:
// the authenticated identity when present, the nickname otherwise.
func IdentifierFor(p Participant) string {
	return Identity{UserID: p.UserID, Nickname: p.Nickname}.Key()
}

// Question is immutable reference data from the question bank.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	CorrectAnswer string   `json:"correctAnswer"`
	Options       []string `json:"options"`
	Mode          Mode     `json:"mode"`
}

// QuestionView is a question as shown to players during play, without the answer.
type QuestionView struct {
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	Prompt   string    `json:"prompt"`
	Options  []string  `json:"options"`
	Mode     Mode      `json:"mode"`
	Deadline time.Time `json:"deadline"`
}

// AnswerEvent is the single scored submission of a participant for one question index.
type AnswerEvent struct {
	SessionID        string    `json:"sessionId"`
	ParticipantKey   string    `json:"participantKey"`
	QuestionIndex    int       `json:"questionIndex"`
	Text             string    `json:"text"`
	RemainingSeconds int       `json:"remainingSeconds"`
	Correct          bool      `json:"correct"`
	TimedOut         bool      `json:"timedOut"`
	Points           int       `json:"points"`
	NewScore         int       `json:"newScore"`
	RecordedAt       time.Time `json:"recordedAt"`
}

// AnswerResult is what a submitter gets back, both on first scoring and on repeats.
type AnswerResult struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	TimedOut      bool `json:"timedOut"`
	PointsAwarded int  `json:"pointsAwarded"`
	NewScore      int  `json:"newScore"`
	Duplicate     bool `json:"duplicate"`
}

// Result converts a stored event into the submitter-facing result.
func (e AnswerEvent) Result(duplicate bool) AnswerResult {
	return AnswerResult{
		QuestionIndex: e.QuestionIndex,
		Correct:       e.Correct,
		TimedOut:      e.TimedOut,
		PointsAwarded: e.Points,
		NewScore:      e.NewScore,
		Duplicate:     duplicate,
	}
}

// Snapshot is the full pull-side state of a session.
type Snapshot struct {
	Session      Session       `json:"session"`
	Participants []Participant `json:"participants"`
	FetchedAt    time.Time     `json:"fetchedAt"`
}
