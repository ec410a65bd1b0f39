package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"gauntlet-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRejectsDuplicateSubmissionsUnderContention(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	group, err := store.CreateGroup(ctx, domain.Group{Name: "ALPHA", Code: "AB12"})
	require.NoError(t, err)
	p, err := store.UpsertParticipant(ctx, domain.Participant{GroupID: group.ID, Name: "Alice", SessionToken: "t1", Role: domain.RolePlayer})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InsertSubmission(ctx, domain.Submission{ParticipantID: p.ID, GroupID: group.ID, QuestionIndex: 0, Correct: true})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 31, rejected)
	subs, err := store.ListSubmissions(ctx, group.ID, 0)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestStoreUpsertRotatesTokenInPlace(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	group, _ := store.CreateGroup(ctx, domain.Group{Name: "ALPHA", Code: "AB12"})

	first, err := store.UpsertParticipant(ctx, domain.Participant{GroupID: group.ID, Name: "Alice", SessionToken: "t1"})
	require.NoError(t, err)
	second, err := store.UpsertParticipant(ctx, domain.Participant{GroupID: group.ID, Name: "Alice", SessionToken: "t2"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "t2", second.SessionToken)
	_, err = store.ParticipantByToken(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestStoreRotateSessionToken(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	group, _ := store.CreateGroup(ctx, domain.Group{Name: "ALPHA", Code: "AB12"})
	p, err := store.UpsertParticipant(ctx, domain.Participant{GroupID: group.ID, Name: "Alice", SessionToken: "t1"})
	require.NoError(t, err)

	require.NoError(t, store.RotateSessionToken(ctx, p.ID, "t2"))
	_, err = store.ParticipantByToken(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
	got, err := store.ParticipantByToken(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	assert.ErrorIs(t, store.RotateSessionToken(ctx, 999, "t3"), domain.ErrParticipantNotFound)
}

func TestStoreApplyAwardsRecomputesTotals(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	group, _ := store.CreateGroup(ctx, domain.Group{Name: "ALPHA", Code: "AB12"})
	alice, _ := store.UpsertParticipant(ctx, domain.Participant{GroupID: group.ID, Name: "Alice", SessionToken: "a"})
	bob, _ := store.UpsertParticipant(ctx, domain.Participant{GroupID: group.ID, Name: "Bob", SessionToken: "b"})

	for q := 0; q < 2; q++ {
		require.NoError(t, store.InsertSubmission(ctx, domain.Submission{ParticipantID: alice.ID, GroupID: group.ID, QuestionIndex: q, Correct: true}))
		require.NoError(t, store.InsertSubmission(ctx, domain.Submission{ParticipantID: bob.ID, GroupID: group.ID, QuestionIndex: q, Correct: true}))
	}

	require.NoError(t, store.ApplyAwards(ctx, group.ID, 0, []domain.Award{
		{ParticipantID: bob.ID, QuestionIndex: 0, Points: 10},
		{ParticipantID: alice.ID, QuestionIndex: 0, Points: 8},
	}))
	// Re-ranking the same question replaces points rather than adding to them.
	require.NoError(t, store.ApplyAwards(ctx, group.ID, 0, []domain.Award{
		{ParticipantID: alice.ID, QuestionIndex: 0, Points: 10},
		{ParticipantID: bob.ID, QuestionIndex: 0, Points: 8},
	}))
	require.NoError(t, store.ApplyAwards(ctx, group.ID, 1, []domain.Award{
		{ParticipantID: bob.ID, QuestionIndex: 1, Points: 10},
	}))

	participants, err := store.ListParticipants(ctx, group.ID)
	require.NoError(t, err)
	totals := map[string]int{}
	for _, p := range participants {
		totals[p.Name] = p.TotalScore
	}
	assert.Equal(t, map[string]int{"Alice": 10, "Bob": 18}, totals)
}

func TestStoreGroupLookups(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	group, err := store.CreateGroup(ctx, domain.Group{Name: "Group 1", Code: "A1B2C3"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLobby, group.Phase)
	assert.Equal(t, domain.DefaultQuestionSet, group.QuestionSet)

	_, err = store.CreateGroup(ctx, domain.Group{Name: "Group 1", Code: "ZZZZZZ"})
	assert.ErrorIs(t, err, domain.ErrDuplicateGroup)

	_, err = store.GroupByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrInvalidGroupCode)

	started := time.Now()
	require.NoError(t, store.UpdateRound(ctx, group.ID, domain.PhaseRunning, 1, started))
	got, err := store.GroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRunning, got.Phase)
	assert.Equal(t, 1, got.QuestionIndex)
	assert.True(t, got.QuestionStartedAt.Equal(started))
}
