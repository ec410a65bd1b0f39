package app

import (
	"sort"
	"time"

	"gauntlet-service/internal/domain"
)

// DefaultSchedule awards points by rank among correct answers; ranks past
// the end of the schedule earn nothing.
var DefaultSchedule = []int{10, 8, 5, 2}

// LatePolicy decides what happens to answers submitted after the time limit.
type LatePolicy string

const (
	// LateAccept scores late answers normally; time limits are display-only.
	LateAccept LatePolicy = "accept"
	// LateReject refuses late answers without recording them.
	LateReject LatePolicy = "reject"
	// LateRankLast records late answers with no time so they rank after every timed one.
	LateRankLast LatePolicy = "rank_last"
)

// ParseLatePolicy maps a config value to a policy, defaulting to LateAccept.
func ParseLatePolicy(raw string) LatePolicy {
	switch LatePolicy(raw) {
	case LateReject:
		return LateReject
	case LateRankLast:
		return LateRankLast
	default:
		return LateAccept
	}
}

// PointsFor returns the points for a zero-based rank.
func PointsFor(rank int, schedule []int) int {
	if rank < 0 || rank >= len(schedule) {
		return 0
	}
	return schedule[rank]
}

// ScheduleFor returns the question's override or the default schedule.
func ScheduleFor(q domain.Question) []int {
	if len(q.Points) > 0 {
		return q.Points
	}
	return DefaultSchedule
}

// RankCorrect orders the correct submissions of one question by ascending
// time taken. Missing times sort last; ties go to the earlier submission.
func RankCorrect(subs []domain.Submission) []domain.Submission {
	ranked := make([]domain.Submission, 0, len(subs))
	for _, s := range subs {
		if s.Correct {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		switch {
		case a.TimeTaken != nil && b.TimeTaken == nil:
			return true
		case a.TimeTaken == nil && b.TimeTaken != nil:
			return false
		case a.TimeTaken != nil && *a.TimeTaken != *b.TimeTaken:
			return *a.TimeTaken < *b.TimeTaken
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ParticipantID < b.ParticipantID
	})
	return ranked
}

// AssignAwards re-ranks every correct submission of a question from scratch.
func AssignAwards(subs []domain.Submission, schedule []int) []domain.Award {
	ranked := RankCorrect(subs)
	awards := make([]domain.Award, 0, len(ranked))
	for rank, s := range ranked {
		awards = append(awards, domain.Award{
			ParticipantID: s.ParticipantID,
			QuestionIndex: s.QuestionIndex,
			Points:        PointsFor(rank, schedule),
		})
	}
	return awards
}

// BuildScoreboard ranks the players of a group from the submission ledger.
// Totals are summed from PointsAwarded, never read from a stored counter.
func BuildScoreboard(groupID int64, participants []domain.Participant, subs []domain.Submission, now time.Time) domain.Scoreboard {
	type tally struct {
		score   int
		elapsed float64
		timed   bool
	}
	tallies := make(map[int64]*tally, len(participants))
	for _, p := range participants {
		tallies[p.ID] = &tally{}
	}
	for _, s := range subs {
		t, ok := tallies[s.ParticipantID]
		if !ok {
			continue
		}
		t.score += s.PointsAwarded
		if s.TimeTaken != nil {
			t.elapsed += *s.TimeTaken
			t.timed = true
		}
	}

	entries := make([]domain.ScoreEntry, 0, len(participants))
	for _, p := range participants {
		if p.IsProctor() {
			continue
		}
		t := tallies[p.ID]
		entry := domain.ScoreEntry{Name: p.Name, Score: t.score}
		if t.timed {
			elapsed := t.elapsed
			entry.TimeTaken = &elapsed
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if (a.TimeTaken == nil) != (b.TimeTaken == nil) {
			return a.TimeTaken != nil
		}
		if a.TimeTaken != nil && *a.TimeTaken != *b.TimeTaken {
			return *a.TimeTaken < *b.TimeTaken
		}
		return a.Name < b.Name
	})

	return domain.Scoreboard{GroupID: groupID, Entries: entries, UpdatedAt: now}
}
