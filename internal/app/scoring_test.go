package app

import (
	"testing"
	"time"

	"gauntlet-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secs(v float64) *float64 { return &v }

func TestPointsFor(t *testing.T) {
	assert.Equal(t, 10, PointsFor(0, DefaultSchedule))
	assert.Equal(t, 8, PointsFor(1, DefaultSchedule))
	assert.Equal(t, 5, PointsFor(2, DefaultSchedule))
	assert.Equal(t, 2, PointsFor(3, DefaultSchedule))
	assert.Equal(t, 0, PointsFor(4, DefaultSchedule))
	assert.Equal(t, 0, PointsFor(-1, DefaultSchedule))
}

func TestScheduleFor(t *testing.T) {
	assert.Equal(t, DefaultSchedule, ScheduleFor(domain.Question{}))
	assert.Equal(t, []int{15}, ScheduleFor(domain.Question{Points: []int{15}}))
}

func TestParseLatePolicy(t *testing.T) {
	assert.Equal(t, LateReject, ParseLatePolicy("reject"))
	assert.Equal(t, LateRankLast, ParseLatePolicy("rank_last"))
	assert.Equal(t, LateAccept, ParseLatePolicy(""))
	assert.Equal(t, LateAccept, ParseLatePolicy("whatever"))
}

func TestAssignAwardsRanksByTime(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := []domain.Submission{
		{ParticipantID: 1, Correct: true, TimeTaken: secs(5), SubmittedAt: base},
		{ParticipantID: 2, Correct: true, TimeTaken: secs(3), SubmittedAt: base.Add(time.Second)},
		{ParticipantID: 3, Correct: false, TimeTaken: secs(1), SubmittedAt: base},
		{ParticipantID: 4, Correct: true, TimeTaken: nil, SubmittedAt: base},
		{ParticipantID: 5, Correct: true, TimeTaken: secs(9), SubmittedAt: base},
		{ParticipantID: 6, Correct: true, TimeTaken: secs(12), SubmittedAt: base},
	}

	awards := AssignAwards(subs, DefaultSchedule)
	require.Len(t, awards, 5)
	got := map[int64]int{}
	for _, a := range awards {
		got[a.ParticipantID] = a.Points
	}
	assert.Equal(t, map[int64]int{2: 10, 1: 8, 5: 5, 6: 2, 4: 0}, got)
}

func TestRankCorrectBreaksTiesBySubmissionOrder(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := []domain.Submission{
		{ParticipantID: 7, Correct: true, TimeTaken: secs(4), SubmittedAt: base.Add(2 * time.Second)},
		{ParticipantID: 8, Correct: true, TimeTaken: secs(4), SubmittedAt: base},
		{ParticipantID: 3, Correct: true, SubmittedAt: base.Add(time.Second)},
		{ParticipantID: 2, Correct: true, SubmittedAt: base.Add(time.Second)},
	}
	ranked := RankCorrect(subs)
	ids := []int64{}
	for _, s := range ranked {
		ids = append(ids, s.ParticipantID)
	}
	assert.Equal(t, []int64{8, 7, 2, 3}, ids)
}

func TestBuildScoreboard(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	participants := []domain.Participant{
		{ID: 1, Name: "Alice", Role: domain.RolePlayer},
		{ID: 2, Name: "Bob", Role: domain.RolePlayer},
		{ID: 3, Name: "PROCTOR", Role: domain.RoleProctor},
		{ID: 4, Name: "Carol", Role: domain.RolePlayer},
		{ID: 5, Name: "Dave", Role: domain.RolePlayer},
	}
	subs := []domain.Submission{
		{ParticipantID: 1, QuestionIndex: 0, Correct: true, TimeTaken: secs(5), PointsAwarded: 8},
		{ParticipantID: 2, QuestionIndex: 0, Correct: true, TimeTaken: secs(3), PointsAwarded: 10},
		{ParticipantID: 1, QuestionIndex: 1, Correct: false, TimeTaken: secs(4)},
		{ParticipantID: 4, QuestionIndex: 0, Correct: true, PointsAwarded: 8},
		{ParticipantID: 5, QuestionIndex: 0, Correct: true, TimeTaken: secs(2), PointsAwarded: 8},
	}

	board := BuildScoreboard(9, participants, subs, now)
	assert.EqualValues(t, 9, board.GroupID)
	assert.Equal(t, now, board.UpdatedAt)

	names := []string{}
	for _, e := range board.Entries {
		names = append(names, e.Name)
	}
	// Equal scores order by total time with untimed players last.
	assert.Equal(t, []string{"Bob", "Dave", "Alice", "Carol"}, names)
	assert.Equal(t, 8, board.Entries[2].Score)
	require.NotNil(t, board.Entries[2].TimeTaken)
	assert.InDelta(t, 9.0, *board.Entries[2].TimeTaken, 1e-9)
	assert.Nil(t, board.Entries[3].TimeTaken)
}
