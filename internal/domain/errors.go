package domain

import "errors"

// Kind classifies errors at the request boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a user-facing error with a kind. Sentinels are compared by identity.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind of err, or KindInternal when err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

var (
	// ErrNameRequired is returned when a login has no name.
	ErrNameRequired = newError(KindValidation, "Name is required")
	// ErrCodeRequired is returned when a login has no group code.
	ErrCodeRequired = newError(KindValidation, "Group Code is required")
	// ErrInvalidTimeTaken rejects negative elapsed times.
	ErrInvalidTimeTaken = newError(KindValidation, "time taken must not be negative")
	// ErrQuestionNotOpen rejects answers to a question other than the current one.
	ErrQuestionNotOpen = newError(KindValidation, "question is not open")
	// ErrLateSubmission is returned when the late policy rejects answers past the time limit.
	ErrLateSubmission = newError(KindValidation, "time is up for this question")
	// ErrMalformedMessage is returned for payloads that cannot be decoded.
	ErrMalformedMessage = newError(KindValidation, "malformed message")

	// ErrNotProctor is returned when a player issues a proctor command.
	ErrNotProctor = newError(KindAuthorization, "only the proctor can do that")
	// ErrWrongGroup is returned when a participant acts outside its group.
	ErrWrongGroup = newError(KindAuthorization, "not a member of this group")
	// ErrProctorCannotAnswer is returned when the proctor submits an answer.
	ErrProctorCannotAnswer = newError(KindAuthorization, "the proctor does not answer questions")
	// ErrUnknownSession is returned for tokens that do not belong to any participant.
	ErrUnknownSession = newError(KindAuthorization, "Not logged in")

	// ErrAlreadyAnswered is returned for a second submission to the same question.
	ErrAlreadyAnswered = newError(KindConflict, "already answered")
	// ErrGroupFull is returned when a new player would exceed the group capacity.
	ErrGroupFull = newError(KindConflict, "This group is full")
	// ErrRoundStarted blocks new players once the round is running.
	ErrRoundStarted = newError(KindConflict, "round already started")
	// ErrRoundEnded is returned for commands issued after the final question.
	ErrRoundEnded = newError(KindConflict, "round has ended")
	// ErrStaleCommand is returned when a proctor command names a question that is no longer current.
	ErrStaleCommand = newError(KindConflict, "command is out of date")
	// ErrDuplicateGroup is returned when a group name or code is taken.
	ErrDuplicateGroup = newError(KindConflict, "group name or code already exists")

	// ErrInvalidGroupCode is returned when a code matches no group.
	ErrInvalidGroupCode = newError(KindNotFound, "Invalid Group Code")
	// ErrGroupNotFound is returned for unknown group ids.
	ErrGroupNotFound = newError(KindNotFound, "group not found")
	// ErrParticipantNotFound is returned when a participant lookup misses.
	ErrParticipantNotFound = newError(KindNotFound, "participant not found")
	// ErrQuestionSetNotFound indicates the question content could not be loaded.
	ErrQuestionSetNotFound = newError(KindNotFound, "question set not found")
)
