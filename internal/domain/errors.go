package domain

import "errors"

// Kind classifies domain errors for callers and transports.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation errors are surfaced to the caller and not retried.
	KindValidation
	// KindConflict errors come from duplicate or out-of-turn triggers and are benign.
	KindConflict
	// KindNotFound doubles as the termination signal for deleted sessions.
	KindNotFound
	// KindTransientDelivery marks a lost push. It is logged, never surfaced; polling catches up.
	KindTransientDelivery
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransientDelivery:
		return "transient_delivery"
	}
	return "unknown"
}

// Error is a classified sentinel error.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

var (
	// ErrEmptyIdentity is returned when neither a user id nor a nickname is given.
	ErrEmptyIdentity = newError(KindValidation, "identity must be set")
	// ErrAmbiguousIdentity is returned when both a user id and a nickname are given.
	ErrAmbiguousIdentity = newError(KindValidation, "identity must be either a user id or a nickname")
	ErrNicknameTooShort  = newError(KindValidation, "nickname is too short")
	// ErrInvalidJoinCode is returned for a blank or malformed join code.
	ErrInvalidJoinCode    = newError(KindValidation, "invalid join code")
	ErrJoinCodeExhausted  = newError(KindValidation, "could not allocate a unique join code")
	ErrInvalidSettings    = newError(KindValidation, "invalid session settings")
	ErrSessionFull        = newError(KindValidation, "session is full")
	ErrSessionClosed      = newError(KindValidation, "session has completed")
	ErrNoParticipants     = newError(KindValidation, "session has no participants")
	ErrNoQuestions        = newError(KindValidation, "content has no questions for this mode")
	ErrInvalidQuestionRef = newError(KindValidation, "question index out of range")

	// ErrNotHost is returned when a non-host attempts a host action.
	ErrNotHost = newError(KindConflict, "only the host may do this")
	// ErrSessionNotWaiting is returned when starting a session that already started.
	ErrSessionNotWaiting = newError(KindConflict, "session is not waiting")
	ErrSessionNotActive  = newError(KindConflict, "session is not active")
	// ErrLateSubmission is returned when an answer targets a question the session has moved past.
	ErrLateSubmission = newError(KindConflict, "question is no longer current")
	// ErrJoinCodeTaken is returned by stores when a generated code collides.
	ErrJoinCodeTaken = newError(KindConflict, "join code already in use")

	// ErrSessionNotFound is returned when a session was deleted or never existed.
	ErrSessionNotFound = newError(KindNotFound, "quiz session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = newError(KindNotFound, "participant not found in session")
	// ErrContentNotFound indicates the question bank has nothing for the content id.
	ErrContentNotFound  = newError(KindNotFound, "content not found")
	ErrQuestionNotFound = newError(KindNotFound, "question not found")
	ErrAnswerNotFound   = newError(KindNotFound, "no answer recorded")

	ErrPatchDelivery = newError(KindTransientDelivery, "patch delivery failed")
)
