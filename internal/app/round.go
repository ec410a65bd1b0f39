package app

import "gauntlet-service/internal/domain"

// RoundState is the part of a group that the round state machine owns.
type RoundState struct {
	Phase         domain.Phase
	QuestionIndex int
}

// RoundCommandType names a proctor command.
type RoundCommandType string

const (
	CmdStartRound      RoundCommandType = "start_round"
	CmdAdvanceQuestion RoundCommandType = "advance_question"
)

// AnyQuestion marks an advance command that does not pin the current question.
const AnyQuestion = -1

// RoundCommand is a request to move a group's round forward.
type RoundCommand struct {
	Type RoundCommandType
	Role domain.Role
	// QuestionIndex is the index the proctor believes is current, or AnyQuestion.
	QuestionIndex int
}

// RoundEventType is the outcome of an accepted transition.
type RoundEventType string

const (
	RoundEventStarted         RoundEventType = "started"
	RoundEventQuestionChanged RoundEventType = "question_changed"
	RoundEventEnded           RoundEventType = "ended"
)

// RoundEvent describes an accepted transition.
type RoundEvent struct {
	Type          RoundEventType
	QuestionIndex int
}

// ApplyRound validates cmd against s and returns the resulting state.
// The input state is returned unchanged with an error when the command is refused.
//
//	lobby --start--> running(0) --advance--> running(i+1) ... --advance--> ended
func ApplyRound(s RoundState, cmd RoundCommand, questionCount int) (RoundEvent, RoundState, error) {
	if cmd.Role != domain.RoleProctor {
		return RoundEvent{}, s, domain.ErrNotProctor
	}
	if s.Phase == domain.PhaseEnded {
		return RoundEvent{}, s, domain.ErrRoundEnded
	}

	switch cmd.Type {
	case CmdStartRound:
		if s.Phase != domain.PhaseLobby {
			return RoundEvent{}, s, domain.ErrRoundStarted
		}
		if questionCount <= 0 {
			return RoundEvent{Type: RoundEventEnded}, RoundState{Phase: domain.PhaseEnded}, nil
		}
		return RoundEvent{Type: RoundEventStarted}, RoundState{Phase: domain.PhaseRunning}, nil

	case CmdAdvanceQuestion:
		if s.Phase != domain.PhaseRunning {
			return RoundEvent{}, s, domain.ErrQuestionNotOpen
		}
		if cmd.QuestionIndex != AnyQuestion && cmd.QuestionIndex != s.QuestionIndex {
			return RoundEvent{}, s, domain.ErrStaleCommand
		}
		next := s.QuestionIndex + 1
		if next < questionCount {
			return RoundEvent{Type: RoundEventQuestionChanged, QuestionIndex: next},
				RoundState{Phase: domain.PhaseRunning, QuestionIndex: next}, nil
		}
		// The index stays on the last question so it never decreases.
		return RoundEvent{Type: RoundEventEnded, QuestionIndex: s.QuestionIndex},
			RoundState{Phase: domain.PhaseEnded, QuestionIndex: s.QuestionIndex}, nil
	}

	return RoundEvent{}, s, domain.ErrMalformedMessage
}
