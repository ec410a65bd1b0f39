package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Phase is the round phase of a group.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseRunning Phase = "running"
	PhaseEnded   Phase = "ended"
)

// Role is assigned once at login and never re-derived afterwards.
type Role string

const (
	RolePlayer  Role = "player"
	RoleProctor Role = "proctor"
)

// DefaultQuestionSet is served to groups that do not name a set.
const DefaultQuestionSet = "default"

// Group is an isolated competition instance with its own roster and round state.
type Group struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Code              string    `json:"code"`
	QuestionSet       string    `json:"question_set"`
	Phase             Phase     `json:"phase"`
	QuestionIndex     int       `json:"question_index"`
	QuestionStartedAt time.Time `json:"question_started_at"`
}

// Participant is a named member of a group. The session token rotates on every login.
type Participant struct {
	ID           int64
	GroupID      int64
	Name         string
	SessionToken string
	Role         Role
	TotalScore   int
	JoinedAt     time.Time
}

// IsProctor reports whether the participant controls the round.
func (p Participant) IsProctor() bool {
	return p.Role == RoleProctor
}

// Submission is one entry of the submission ledger. At most one exists per
// (participant, question index); only PointsAwarded changes after insert.
type Submission struct {
	ParticipantID int64
	GroupID       int64
	QuestionIndex int
	Answer        string
	Correct       bool
	TimeTaken     *float64 // seconds; nil when unknown
	PointsAwarded int
	SubmittedAt   time.Time
}

// Award is the points assigned to one correct submission after ranking.
type Award struct {
	ParticipantID int64
	QuestionIndex int
	Points        int
}

// Question is a single prompt with its accepted answer.
type Question struct {
	Category         string `json:"category" yaml:"category"`
	Prompt           string `json:"question" yaml:"question"`
	Answer           string `json:"answer" yaml:"answer"`
	Explanation      string `json:"explanation,omitempty" yaml:"explanation"`
	TimeLimit        int    `json:"time_limit,omitempty" yaml:"time_limit"`
	SequenceViewTime int    `json:"sequence_view_time,omitempty" yaml:"sequence_view_time"`
	Points           []int  `json:"points,omitempty" yaml:"points"` // overrides the rank schedule
}

// PublicQuestion is what players see; it never carries the answer.
type PublicQuestion struct {
	Category         string `json:"category"`
	Prompt           string `json:"question"`
	TimeLimit        int    `json:"time_limit"`
	SequenceViewTime int    `json:"sequence_view_time,omitempty"`
}

// Public strips the answer and explanation.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		Category:         q.Category,
		Prompt:           q.Prompt,
		TimeLimit:        q.TimeLimit,
		SequenceViewTime: q.SequenceViewTime,
	}
}

// Validate checks that the question can be answered and that a points
// override never pays a later rank more than an earlier one.
func (q Question) Validate() error {
	if q.Prompt == "" || q.Answer == "" {
		return errors.New("needs a question and an answer")
	}
	for i, p := range q.Points {
		if p < 0 {
			return fmt.Errorf("points override %v has a negative entry", q.Points)
		}
		if i > 0 && p > q.Points[i-1] {
			return fmt.Errorf("points override %v must not increase", q.Points)
		}
	}
	return nil
}

// Accepts reports whether answer matches the accepted answer, ignoring case
// and surrounding whitespace.
func (q Question) Accepts(answer string) bool {
	return NormalizeAnswer(answer) == NormalizeAnswer(q.Answer)
}

// NormalizeAnswer lower-cases and trims an answer for comparison.
func NormalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// QuestionSet is an ordered, immutable list of questions.
type QuestionSet struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Len returns the number of questions in the set.
func (s QuestionSet) Len() int {
	return len(s.Questions)
}

// RosterEntry is one line of the lobby roster.
type RosterEntry struct {
	Name      string `json:"name"`
	IsProctor bool   `json:"is_proctor"`
	Online    bool   `json:"online"`
}

// ScoreEntry is a snapshot-friendly view of a player's standing.
type ScoreEntry struct {
	Name      string   `json:"name"`
	Score     int      `json:"score"`
	TimeTaken *float64 `json:"time_taken"`
}

// Scoreboard captures the ordered standings of a group.
type Scoreboard struct {
	GroupID   int64        `json:"group_id"`
	Entries   []ScoreEntry `json:"scores"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Identity binds a connection to a participant of a group.
type Identity struct {
	ParticipantID int64  `json:"participant_id"`
	Name          string `json:"name"`
	GroupID       int64  `json:"group_id"`
	GroupName     string `json:"group_name"`
	Role          Role   `json:"role"`
	Phase         Phase  `json:"phase"`
	QuestionIndex int    `json:"question_index"`
	Token         string `json:"-"`
}

// IsProctor reports whether the identity carries the proctor role.
func (i Identity) IsProctor() bool {
	return i.Role == RoleProctor
}

// AnswerResult summarizes the outcome of a submission for a single participant.
type AnswerResult struct {
	QuestionIndex int    `json:"q_index"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	Pending       bool   `json:"pending,omitempty"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
}

// CurrentQuestion is the question a running group is answering.
type CurrentQuestion struct {
	Question PublicQuestion `json:"question"`
	Index    int            `json:"q_index"`
	Total    int            `json:"total_q"`
	// Remaining is set on direct queries only, so late joiners can sync their timer.
	Remaining *float64 `json:"remaining_time,omitempty"`
}
