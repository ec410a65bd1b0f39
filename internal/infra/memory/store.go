package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gauntlet-service/internal/domain"
)

type submissionKey struct {
	participantID int64
	questionIndex int
}

// Store is an in-memory implementation of app.Store. A single mutex
// serializes every write, which makes the duplicate check and insert atomic.
type Store struct {
	mu           sync.RWMutex
	nextGroup    int64
	nextPart     int64
	groups       map[int64]domain.Group
	participants map[int64]domain.Participant
	submissions  map[submissionKey]domain.Submission
}

func NewStore() *Store {
	return &Store{
		groups:       make(map[int64]domain.Group),
		participants: make(map[int64]domain.Participant),
		submissions:  make(map[submissionKey]domain.Submission),
	}
}

func (s *Store) CreateGroup(_ context.Context, group domain.Group) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == group.Name || g.Code == group.Code {
			return domain.Group{}, domain.ErrDuplicateGroup
		}
	}
	s.nextGroup++
	group.ID = s.nextGroup
	if group.Phase == "" {
		group.Phase = domain.PhaseLobby
	}
	if group.QuestionSet == "" {
		group.QuestionSet = domain.DefaultQuestionSet
	}
	s.groups[group.ID] = group
	return group, nil
}

func (s *Store) ListGroups(_ context.Context) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GroupByID(_ context.Context, groupID int64) (domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	return g, nil
}

func (s *Store) GroupByCode(_ context.Context, code string) (domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.Code == code {
			return g, nil
		}
	}
	return domain.Group{}, domain.ErrInvalidGroupCode
}

func (s *Store) UpdateRound(_ context.Context, groupID int64, phase domain.Phase, questionIndex int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return domain.ErrGroupNotFound
	}
	g.Phase = phase
	g.QuestionIndex = questionIndex
	g.QuestionStartedAt = startedAt
	s.groups[groupID] = g
	return nil
}

func (s *Store) UpsertParticipant(_ context.Context, p domain.Participant) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[p.GroupID]; !ok {
		return domain.Participant{}, domain.ErrGroupNotFound
	}
	for id, existing := range s.participants {
		if existing.GroupID == p.GroupID && existing.Name == p.Name {
			existing.SessionToken = p.SessionToken
			s.participants[id] = existing
			return existing, nil
		}
	}
	s.nextPart++
	p.ID = s.nextPart
	p.TotalScore = 0
	s.participants[p.ID] = p
	return p, nil
}

func (s *Store) ParticipantByToken(_ context.Context, token string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.SessionToken == token {
			return p, nil
		}
	}
	return domain.Participant{}, domain.ErrParticipantNotFound
}

func (s *Store) RotateSessionToken(_ context.Context, participantID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.SessionToken = token
	s.participants[participantID] = p
	return nil
}

func (s *Store) ParticipantByName(_ context.Context, groupID int64, name string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.GroupID == groupID && p.Name == name {
			return p, nil
		}
	}
	return domain.Participant{}, domain.ErrParticipantNotFound
}

func (s *Store) ListParticipants(_ context.Context, groupID int64) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountPlayers(_ context.Context, groupID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.participants {
		if p.GroupID == groupID && !p.IsProctor() {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertSubmission(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := submissionKey{participantID: sub.ParticipantID, questionIndex: sub.QuestionIndex}
	if _, ok := s.submissions[key]; ok {
		return domain.ErrAlreadyAnswered
	}
	sub.PointsAwarded = 0
	s.submissions[key] = sub
	return nil
}

func (s *Store) ListSubmissions(_ context.Context, groupID int64, questionIndex int) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Submission
	for _, sub := range s.submissions {
		if sub.GroupID == groupID && sub.QuestionIndex == questionIndex {
			out = append(out, sub)
		}
	}
	sortSubmissions(out)
	return out, nil
}

func (s *Store) ListGroupSubmissions(_ context.Context, groupID int64) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Submission
	for _, sub := range s.submissions {
		if sub.GroupID == groupID {
			out = append(out, sub)
		}
	}
	sortSubmissions(out)
	return out, nil
}

func (s *Store) ApplyAwards(_ context.Context, groupID int64, questionIndex int, awards []domain.Award) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range awards {
		key := submissionKey{participantID: a.ParticipantID, questionIndex: questionIndex}
		sub, ok := s.submissions[key]
		if !ok || sub.GroupID != groupID {
			continue
		}
		sub.PointsAwarded = a.Points
		s.submissions[key] = sub
	}

	totals := make(map[int64]int)
	for _, sub := range s.submissions {
		if sub.GroupID == groupID {
			totals[sub.ParticipantID] += sub.PointsAwarded
		}
	}
	for id, p := range s.participants {
		if p.GroupID == groupID {
			p.TotalScore = totals[id]
			s.participants[id] = p
		}
	}
	return nil
}

func sortSubmissions(subs []domain.Submission) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].QuestionIndex != subs[j].QuestionIndex {
			return subs[i].QuestionIndex < subs[j].QuestionIndex
		}
		return subs[i].ParticipantID < subs[j].ParticipantID
	})
}
