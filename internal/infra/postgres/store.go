package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gauntlet-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type groupRow struct {
	bun.BaseModel `bun:"table:groups,alias:g"`

	ID                int64     `bun:"id,pk,autoincrement"`
	Name              string    `bun:"name,notnull"`
	Code              string    `bun:"code,notnull"`
	QuestionSet       string    `bun:"question_set,notnull"`
	Phase             string    `bun:"phase,notnull"`
	QuestionIndex     int       `bun:"question_index,notnull"`
	QuestionStartedAt time.Time `bun:"question_started_at,nullzero"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:participants,alias:p"`

	ID           int64     `bun:"id,pk,autoincrement"`
	GroupID      int64     `bun:"group_id,notnull"`
	Name         string    `bun:"name,notnull"`
	SessionToken string    `bun:"session_token,notnull"`
	Role         string    `bun:"role,notnull"`
	TotalScore   int       `bun:"total_score,notnull"`
	JoinedAt     time.Time `bun:"joined_at,nullzero,notnull,default:current_timestamp"`
}

type submissionRow struct {
	bun.BaseModel `bun:"table:submissions,alias:s"`

	ID            int64     `bun:"id,pk,autoincrement"`
	ParticipantID int64     `bun:"participant_id,notnull"`
	GroupID       int64     `bun:"group_id,notnull"`
	QuestionIndex int       `bun:"question_index,notnull"`
	Answer        string    `bun:"answer,notnull"`
	Correct       bool      `bun:"correct,notnull"`
	TimeTaken     *float64  `bun:"time_taken"`
	PointsAwarded int       `bun:"points_awarded,notnull"`
	SubmittedAt   time.Time `bun:"submitted_at,nullzero,notnull,default:current_timestamp"`
}

const recomputeTotalsSQL = `
UPDATE participants AS p
SET total_score = COALESCE((SELECT SUM(s.points_awarded) FROM submissions AS s WHERE s.participant_id = p.id), 0)
WHERE p.group_id = ?`

// Store implements app.Store on Postgres through bun. Uniqueness of names,
// codes, tokens and (participant, question) submissions is enforced by the schema.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open connects bun to Postgres using the pgdriver connector.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (s *Store) CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error) {
	if group.Phase == "" {
		group.Phase = domain.PhaseLobby
	}
	if group.QuestionSet == "" {
		group.QuestionSet = domain.DefaultQuestionSet
	}
	row := toGroupRow(group)
	row.ID = 0
	if _, err := s.db.NewInsert().Model(&row).Returning("*").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Group{}, domain.ErrDuplicateGroup
		}
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListGroups(ctx context.Context) ([]domain.Group, error) {
	var rows []groupRow
	if err := s.db.NewSelect().Model(&rows).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	out := make([]domain.Group, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GroupByID(ctx context.Context, groupID int64) (domain.Group, error) {
	var row groupRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", groupID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("group by id: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GroupByCode(ctx context.Context, code string) (domain.Group, error) {
	var row groupRow
	err := s.db.NewSelect().Model(&row).Where("code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, domain.ErrInvalidGroupCode
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("group by code: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateRound(ctx context.Context, groupID int64, phase domain.Phase, questionIndex int, startedAt time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*groupRow)(nil)).
		Set("phase = ?", string(phase)).
		Set("question_index = ?", questionIndex).
		Set("question_started_at = ?", startedAt).
		Where("id = ?", groupID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (s *Store) UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	row := participantRow{
		GroupID:      p.GroupID,
		Name:         p.Name,
		SessionToken: p.SessionToken,
		Role:         string(p.Role),
		JoinedAt:     p.JoinedAt,
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (group_id, name) DO UPDATE").
		Set("session_token = EXCLUDED.session_token").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("upsert participant: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ParticipantByToken(ctx context.Context, token string) (domain.Participant, error) {
	return s.participantWhere(ctx, "session_token = ?", token)
}

func (s *Store) RotateSessionToken(ctx context.Context, participantID int64, token string) error {
	res, err := s.db.NewUpdate().
		Model((*participantRow)(nil)).
		Set("session_token = ?", token).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotate session token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (s *Store) ParticipantByName(ctx context.Context, groupID int64, name string) (domain.Participant, error) {
	return s.participantWhere(ctx, "group_id = ? AND name = ?", groupID, name)
}

func (s *Store) participantWhere(ctx context.Context, query string, args ...any) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewSelect().Model(&row).Where(query, args...).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("find participant: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListParticipants(ctx context.Context, groupID int64) ([]domain.Participant, error) {
	var rows []participantRow
	if err := s.db.NewSelect().Model(&rows).Where("group_id = ?", groupID).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CountPlayers(ctx context.Context, groupID int64) (int, error) {
	n, err := s.db.NewSelect().
		Model((*participantRow)(nil)).
		Where("group_id = ? AND role = ?", groupID, string(domain.RolePlayer)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}

func (s *Store) InsertSubmission(ctx context.Context, sub domain.Submission) error {
	row := submissionRow{
		ParticipantID: sub.ParticipantID,
		GroupID:       sub.GroupID,
		QuestionIndex: sub.QuestionIndex,
		Answer:        sub.Answer,
		Correct:       sub.Correct,
		TimeTaken:     sub.TimeTaken,
		SubmittedAt:   sub.SubmittedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyAnswered
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, groupID int64, questionIndex int) ([]domain.Submission, error) {
	var rows []submissionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("group_id = ? AND question_index = ?", groupID, questionIndex).
		Order("participant_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return submissionsToDomain(rows), nil
}

func (s *Store) ListGroupSubmissions(ctx context.Context, groupID int64) ([]domain.Submission, error) {
	var rows []submissionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("group_id = ?", groupID).
		Order("question_index ASC", "participant_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list group submissions: %w", err)
	}
	return submissionsToDomain(rows), nil
}

func (s *Store) ApplyAwards(ctx context.Context, groupID int64, questionIndex int, awards []domain.Award) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Row lock on the group serializes rankings across connections.
		var group groupRow
		if err := tx.NewSelect().Model(&group).Where("id = ?", groupID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrGroupNotFound
			}
			return fmt.Errorf("lock group: %w", err)
		}
		for _, a := range awards {
			_, err := tx.NewUpdate().
				Model((*submissionRow)(nil)).
				Set("points_awarded = ?", a.Points).
				Where("group_id = ? AND participant_id = ? AND question_index = ?", groupID, a.ParticipantID, questionIndex).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("award points: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, recomputeTotalsSQL, groupID); err != nil {
			return fmt.Errorf("recompute totals: %w", err)
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

func toGroupRow(g domain.Group) groupRow {
	return groupRow{
		ID:                g.ID,
		Name:              g.Name,
		Code:              g.Code,
		QuestionSet:       g.QuestionSet,
		Phase:             string(g.Phase),
		QuestionIndex:     g.QuestionIndex,
		QuestionStartedAt: g.QuestionStartedAt,
	}
}

func (r groupRow) toDomain() domain.Group {
	return domain.Group{
		ID:                r.ID,
		Name:              r.Name,
		Code:              r.Code,
		QuestionSet:       r.QuestionSet,
		Phase:             domain.Phase(r.Phase),
		QuestionIndex:     r.QuestionIndex,
		QuestionStartedAt: r.QuestionStartedAt,
	}
}

func (r participantRow) toDomain() domain.Participant {
	return domain.Participant{
		ID:           r.ID,
		GroupID:      r.GroupID,
		Name:         r.Name,
		SessionToken: r.SessionToken,
		Role:         domain.Role(r.Role),
		TotalScore:   r.TotalScore,
		JoinedAt:     r.JoinedAt,
	}
}

func submissionsToDomain(rows []submissionRow) []domain.Submission {
	out := make([]domain.Submission, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Submission{
			ParticipantID: r.ParticipantID,
			GroupID:       r.GroupID,
			QuestionIndex: r.QuestionIndex,
			Answer:        r.Answer,
			Correct:       r.Correct,
			TimeTaken:     r.TimeTaken,
			PointsAwarded: r.PointsAwarded,
			SubmittedAt:   r.SubmittedAt,
		})
	}
	return out
}
