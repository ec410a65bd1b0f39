package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gauntlet-service/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the single source of truth for groups, participants and the
// submission ledger. Implementations must reject a second submission for the
// same (participant, question) atomically with domain.ErrAlreadyAnswered.
type Store interface {
	CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
	GroupByID(ctx context.Context, groupID int64) (domain.Group, error)
	GroupByCode(ctx context.Context, code string) (domain.Group, error)
	UpdateRound(ctx context.Context, groupID int64, phase domain.Phase, questionIndex int, startedAt time.Time) error

	// UpsertParticipant inserts or, for an existing (group, name), rotates the session token.
	UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	ParticipantByToken(ctx context.Context, token string) (domain.Participant, error)
	ParticipantByName(ctx context.Context, groupID int64, name string) (domain.Participant, error)
	// RotateSessionToken replaces the participant's token so the old one no longer resolves.
	RotateSessionToken(ctx context.Context, participantID int64, token string) error
	ListParticipants(ctx context.Context, groupID int64) ([]domain.Participant, error)
	CountPlayers(ctx context.Context, groupID int64) (int, error)

	InsertSubmission(ctx context.Context, sub domain.Submission) error
	ListSubmissions(ctx context.Context, groupID int64, questionIndex int) ([]domain.Submission, error)
	ListGroupSubmissions(ctx context.Context, groupID int64) ([]domain.Submission, error)
	// ApplyAwards rewrites points of the given submissions and recomputes every
	// participant total of the group from the ledger, atomically.
	ApplyAwards(ctx context.Context, groupID int64, questionIndex int, awards []domain.Award) error
}

// QuestionBank loads immutable question sets (from cache/backing store).
type QuestionBank interface {
	QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// Options tunes the game rules.
type Options struct {
	ProctorName string
	MaxPlayers  int
	LatePolicy  LatePolicy
}

const defaultMaxPlayers = 4

// SubmitRequest is an answer from a player.
type SubmitRequest struct {
	GroupID       int64
	QuestionIndex int
	Answer        string
	TimeTaken     *float64
}

// GameService contains the trivia use cases.
type GameService struct {
	store     Store
	questions QuestionBank
	sessions  SessionRegistry
	hub       *Hub
	log       *zap.Logger
	opts      Options
	locks     *groupLocks
	now       func() time.Time
}

func NewGameService(store Store, questions QuestionBank, sessions SessionRegistry, hub *Hub, log *zap.Logger, opts Options) *GameService {
	if opts.ProctorName == "" {
		opts.ProctorName = DefaultProctorName
	}
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = defaultMaxPlayers
	}
	if opts.LatePolicy == "" {
		opts.LatePolicy = LateAccept
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GameService{
		store:     store,
		questions: questions,
		sessions:  sessions,
		hub:       hub,
		log:       log,
		opts:      opts,
		locks:     newGroupLocks(),
		now:       time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *GameService) WithClock(now func() time.Time) *GameService {
	s.now = now
	return s
}

// Login resolves a group code and creates or reconnects a participant.
func (s *GameService) Login(ctx context.Context, name, code string) (domain.Identity, error) {
	name = strings.TrimSpace(name)
	code = NormalizeCode(code)
	if name == "" {
		return domain.Identity{}, domain.ErrNameRequired
	}
	if code == "" {
		return domain.Identity{}, domain.ErrCodeRequired
	}

	resolved, err := s.store.GroupByCode(ctx, code)
	if err != nil {
		return domain.Identity{}, err
	}
	role := RoleFor(name, s.opts.ProctorName)

	unlock := s.locks.lock(resolved.ID)
	participant, group, err := s.admit(ctx, resolved.ID, name, role)
	unlock()
	if err != nil {
		s.log.Info("login rejected",
			zap.String("name", name), zap.Int64("group", resolved.ID), zap.Error(err))
		return domain.Identity{}, err
	}

	s.log.Info("participant logged in",
		zap.String("name", participant.Name),
		zap.Int64("group", group.ID),
		zap.String("role", string(participant.Role)))
	s.publishLobby(ctx, group.ID)
	return identityOf(participant, group), nil
}

// admit must run under the group lock so the phase check, capacity check and
// insert are one step. The group is read here, not before the lock is taken.
func (s *GameService) admit(ctx context.Context, groupID int64, name string, role domain.Role) (domain.Participant, domain.Group, error) {
	group, err := s.store.GroupByID(ctx, groupID)
	if err != nil {
		return domain.Participant{}, domain.Group{}, err
	}
	existing, err := s.store.ParticipantByName(ctx, group.ID, name)
	switch {
	case err == nil:
		// Returning participants keep their role, bypass the cap and may rejoin a running round.
		role = existing.Role
	case errors.Is(err, domain.ErrParticipantNotFound):
		if role != domain.RoleProctor {
			if group.Phase != domain.PhaseLobby {
				return domain.Participant{}, group, domain.ErrRoundStarted
			}
			count, err := s.store.CountPlayers(ctx, group.ID)
			if err != nil {
				return domain.Participant{}, group, err
			}
			if count >= s.opts.MaxPlayers {
				return domain.Participant{}, group, domain.ErrGroupFull
			}
		}
	default:
		return domain.Participant{}, group, err
	}

	participant, err := s.store.UpsertParticipant(ctx, domain.Participant{
		GroupID:      group.ID,
		Name:         name,
		SessionToken: uuid.NewString(),
		Role:         role,
		JoinedAt:     s.now(),
	})
	return participant, group, err
}

// Authenticate resolves a session token to a fresh identity.
func (s *GameService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.ErrUnknownSession
	}
	participant, err := s.store.ParticipantByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return domain.Identity{}, domain.ErrUnknownSession
		}
		return domain.Identity{}, err
	}
	group, err := s.store.GroupByID(ctx, participant.GroupID)
	if err != nil {
		return domain.Identity{}, err
	}
	return identityOf(participant, group), nil
}

// Connect binds a live connection to an identity and refreshes the roster.
func (s *GameService) Connect(ctx context.Context, connID string, identity domain.Identity) error {
	if err := s.sessions.Bind(ctx, connID, identity); err != nil {
		return fmt.Errorf("bind session: %w", err)
	}
	s.publishLobby(ctx, identity.GroupID)
	return nil
}

// Disconnect clears a connection binding. Participant rows are kept.
func (s *GameService) Disconnect(ctx context.Context, connID string) {
	identity, ok, err := s.sessions.Lookup(ctx, connID)
	if err != nil {
		s.log.Warn("session lookup failed", zap.String("conn", connID), zap.Error(err))
	}
	if err := s.sessions.Unbind(ctx, connID); err != nil {
		s.log.Warn("session unbind failed", zap.String("conn", connID), zap.Error(err))
	}
	if ok {
		s.publishLobby(ctx, identity.GroupID)
	}
}

// Identify resolves a live connection to the identity it is currently bound to.
// A connection whose binding was dropped (logout, expiry) gets ErrUnknownSession.
// Lookups on a TTL-backed registry also extend the binding.
func (s *GameService) Identify(ctx context.Context, connID string) (domain.Identity, error) {
	identity, ok, err := s.sessions.Lookup(ctx, connID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		return domain.Identity{}, domain.ErrUnknownSession
	}
	return identity, nil
}

// Logout invalidates the token and drops every connection binding of its
// participant. Live connections of that participant are told to close.
func (s *GameService) Logout(ctx context.Context, token string) error {
	identity, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.store.RotateSessionToken(ctx, identity.ParticipantID, uuid.NewString()); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	bindings, err := s.sessions.Connections(ctx, identity.GroupID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, b := range bindings {
		if b.Identity.ParticipantID != identity.ParticipantID {
			continue
		}
		if err := s.sessions.Unbind(ctx, b.ConnID); err != nil {
			return fmt.Errorf("unbind session: %w", err)
		}
	}
	s.log.Info("participant logged out", zap.String("name", identity.Name), zap.Int64("group", identity.GroupID))
	s.publish(identity.GroupID, domain.EventSessionEnded, domain.SessionEnded{ParticipantID: identity.ParticipantID})
	s.publishLobby(ctx, identity.GroupID)
	return nil
}

// Subscribe returns a channel that receives every event of a group.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *GameService) Subscribe(groupID int64) (<-chan domain.Event, func()) {
	return s.hub.Subscribe(groupID)
}

// Lobby returns the current roster of a group.
func (s *GameService) Lobby(ctx context.Context, groupID int64) ([]domain.RosterEntry, error) {
	participants, err := s.store.ListParticipants(ctx, groupID)
	if err != nil {
		return nil, err
	}
	online := make(map[int64]bool)
	bindings, err := s.sessions.Connections(ctx, groupID)
	if err != nil {
		s.log.Warn("list sessions failed", zap.Int64("group", groupID), zap.Error(err))
	}
	for _, b := range bindings {
		online[b.Identity.ParticipantID] = true
	}

	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].ID < participants[j].ID
	})
	roster := make([]domain.RosterEntry, 0, len(participants))
	for _, p := range participants {
		roster = append(roster, domain.RosterEntry{
			Name:      p.Name,
			IsProctor: p.IsProctor(),
			Online:    online[p.ID],
		})
	}
	return roster, nil
}

// Scoreboard ranks the players of a group. It also serves the final scores query.
func (s *GameService) Scoreboard(ctx context.Context, groupID int64) (domain.Scoreboard, error) {
	if _, err := s.store.GroupByID(ctx, groupID); err != nil {
		return domain.Scoreboard{}, err
	}
	participants, err := s.store.ListParticipants(ctx, groupID)
	if err != nil {
		return domain.Scoreboard{}, err
	}
	subs, err := s.store.ListGroupSubmissions(ctx, groupID)
	if err != nil {
		return domain.Scoreboard{}, err
	}
	return BuildScoreboard(groupID, participants, subs, s.now()), nil
}

// CurrentQuestion returns the open question of a running group.
// ok is false when the group is in the lobby or the round has ended.
func (s *GameService) CurrentQuestion(ctx context.Context, groupID int64) (domain.CurrentQuestion, domain.Phase, bool, error) {
	group, err := s.store.GroupByID(ctx, groupID)
	if err != nil {
		return domain.CurrentQuestion{}, "", false, err
	}
	if group.Phase != domain.PhaseRunning {
		return domain.CurrentQuestion{}, group.Phase, false, nil
	}
	set, err := s.questions.QuestionSet(ctx, group.QuestionSet)
	if err != nil {
		return domain.CurrentQuestion{}, group.Phase, false, err
	}
	if group.QuestionIndex >= set.Len() {
		return domain.CurrentQuestion{}, group.Phase, false, nil
	}
	cq := currentQuestion(set, group.QuestionIndex)
	if limit := cq.Question.TimeLimit; limit > 0 && !group.QuestionStartedAt.IsZero() {
		remaining := math.Max(0, float64(limit)-s.now().Sub(group.QuestionStartedAt).Seconds())
		cq.Remaining = &remaining
	}
	return cq, group.Phase, true, nil
}

// StartRound moves a group from the lobby to its first question.
// Commands from anyone but the group's proctor are discarded.
func (s *GameService) StartRound(ctx context.Context, identity domain.Identity, groupID int64) error {
	return s.transition(ctx, identity, groupID, RoundCommand{Type: CmdStartRound, Role: identity.Role, QuestionIndex: AnyQuestion})
}

// AdvanceQuestion moves a running group to its next question or ends the round.
// Pass AnyQuestion to skip the staleness check.
func (s *GameService) AdvanceQuestion(ctx context.Context, identity domain.Identity, groupID int64, questionIndex int) error {
	return s.transition(ctx, identity, groupID, RoundCommand{Type: CmdAdvanceQuestion, Role: identity.Role, QuestionIndex: questionIndex})
}

func (s *GameService) transition(ctx context.Context, identity domain.Identity, groupID int64, cmd RoundCommand) error {
	log := s.log.With(zap.String("command", string(cmd.Type)), zap.Int64("group", groupID), zap.String("name", identity.Name))
	if identity.GroupID != groupID {
		log.Debug("ignoring command for foreign group")
		return nil
	}

	unlock := s.locks.lock(groupID)
	defer unlock()

	group, err := s.store.GroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	set, err := s.questions.QuestionSet(ctx, group.QuestionSet)
	if err != nil {
		return err
	}

	ev, next, err := ApplyRound(RoundState{Phase: group.Phase, QuestionIndex: group.QuestionIndex}, cmd, set.Len())
	if err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			log.Debug("ignoring refused command", zap.Error(err))
			return nil
		}
		return err
	}

	if err := s.store.UpdateRound(ctx, groupID, next.Phase, next.QuestionIndex, s.now()); err != nil {
		return fmt.Errorf("persist round: %w", err)
	}
	log.Info("round transition",
		zap.String("phase", string(next.Phase)), zap.Int("question", next.QuestionIndex))

	switch ev.Type {
	case RoundEventStarted:
		s.publish(groupID, domain.EventRoundStarted, domain.RoundStarted{Total: set.Len()})
		s.publish(groupID, domain.EventCurrentQuestion, currentQuestion(set, 0))
	case RoundEventQuestionChanged:
		s.publish(groupID, domain.EventCurrentQuestion, currentQuestion(set, ev.QuestionIndex))
	case RoundEventEnded:
		s.publish(groupID, domain.EventGameOver, domain.GameOver{})
	}
	return nil
}

// SubmitAnswer records an answer, re-ranks the question and refreshes the scoreboard.
func (s *GameService) SubmitAnswer(ctx context.Context, identity domain.Identity, req SubmitRequest) (domain.AnswerResult, error) {
	if identity.GroupID != req.GroupID {
		return domain.AnswerResult{}, domain.ErrWrongGroup
	}
	if identity.IsProctor() {
		return domain.AnswerResult{}, domain.ErrProctorCannotAnswer
	}
	if req.TimeTaken != nil && (*req.TimeTaken < 0 || math.IsNaN(*req.TimeTaken) || math.IsInf(*req.TimeTaken, 0)) {
		return domain.AnswerResult{}, domain.ErrInvalidTimeTaken
	}

	unlock := s.locks.lock(req.GroupID)
	defer unlock()
	result, err := s.score(ctx, identity, req)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	s.log.Info("answer scored",
		zap.String("name", identity.Name),
		zap.Int64("group", req.GroupID),
		zap.Int("question", req.QuestionIndex),
		zap.Bool("correct", result.Correct),
		zap.Int("points", result.Points))
	// Snapshot and publish while still holding the lock so updates leave in ledger order.
	s.publishScoreboard(ctx, req.GroupID)
	return result, nil
}

// score must run under the group lock: ranking reads then writes the whole question.
func (s *GameService) score(ctx context.Context, identity domain.Identity, req SubmitRequest) (domain.AnswerResult, error) {
	group, err := s.store.GroupByID(ctx, req.GroupID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if group.Phase != domain.PhaseRunning || req.QuestionIndex != group.QuestionIndex {
		return domain.AnswerResult{}, domain.ErrQuestionNotOpen
	}
	set, err := s.questions.QuestionSet(ctx, group.QuestionSet)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if req.QuestionIndex < 0 || req.QuestionIndex >= set.Len() {
		return domain.AnswerResult{}, domain.ErrQuestionNotOpen
	}
	question := set.Questions[req.QuestionIndex]

	timeTaken := req.TimeTaken
	if timeTaken == nil && !group.QuestionStartedAt.IsZero() {
		elapsed := s.now().Sub(group.QuestionStartedAt).Seconds()
		timeTaken = &elapsed
	}
	if question.TimeLimit > 0 && timeTaken != nil && *timeTaken > float64(question.TimeLimit) {
		switch s.opts.LatePolicy {
		case LateReject:
			return domain.AnswerResult{}, domain.ErrLateSubmission
		case LateRankLast:
			timeTaken = nil
		}
	}

	correct := question.Accepts(req.Answer)
	sub := domain.Submission{
		ParticipantID: identity.ParticipantID,
		GroupID:       group.ID,
		QuestionIndex: req.QuestionIndex,
		Answer:        strings.TrimSpace(req.Answer),
		Correct:       correct,
		TimeTaken:     timeTaken,
		SubmittedAt:   s.now(),
	}
	// Recorded with zero points before ranking so a duplicate is refused by the store.
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return domain.AnswerResult{}, err
	}

	result := domain.AnswerResult{
		QuestionIndex: req.QuestionIndex,
		Correct:       correct,
		CorrectAnswer: question.Answer,
		Explanation:   question.Explanation,
	}
	if !correct {
		return result, nil
	}

	subs, err := s.store.ListSubmissions(ctx, group.ID, req.QuestionIndex)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	awards := AssignAwards(subs, ScheduleFor(question))
	if err := s.store.ApplyAwards(ctx, group.ID, req.QuestionIndex, awards); err != nil {
		return domain.AnswerResult{}, fmt.Errorf("apply awards: %w", err)
	}
	for _, a := range awards {
		if a.ParticipantID == identity.ParticipantID {
			result.Points = a.Points
		}
	}
	result.Pending = timeTaken == nil
	return result, nil
}

// Groups lists every provisioned group.
func (s *GameService) Groups(ctx context.Context) ([]domain.Group, error) {
	return s.store.ListGroups(ctx)
}

func (s *GameService) publishLobby(ctx context.Context, groupID int64) {
	roster, err := s.Lobby(ctx, groupID)
	if err != nil {
		s.log.Warn("lobby snapshot failed", zap.Int64("group", groupID), zap.Error(err))
		return
	}
	s.publish(groupID, domain.EventLobbyUpdate, domain.LobbyUpdate{Players: roster})
}

func (s *GameService) publishScoreboard(ctx context.Context, groupID int64) {
	board, err := s.Scoreboard(ctx, groupID)
	if err != nil {
		s.log.Warn("scoreboard snapshot failed", zap.Int64("group", groupID), zap.Error(err))
		return
	}
	s.publish(groupID, domain.EventScoreboardUpdate, board)
}

func (s *GameService) publish(groupID int64, typ domain.EventType, payload any) {
	s.hub.Publish(domain.Event{GroupID: groupID, Type: typ, Payload: payload})
}

func currentQuestion(set domain.QuestionSet, index int) domain.CurrentQuestion {
	return domain.CurrentQuestion{
		Question: set.Questions[index].Public(),
		Index:    index,
		Total:    set.Len(),
	}
}

func identityOf(p domain.Participant, g domain.Group) domain.Identity {
	return domain.Identity{
		ParticipantID: p.ID,
		Name:          p.Name,
		GroupID:       g.ID,
		GroupName:     g.Name,
		Role:          p.Role,
		Phase:         g.Phase,
		QuestionIndex: g.QuestionIndex,
		Token:         p.SessionToken,
	}
}
