package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gauntlet-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader loads question sets stored as JSONB lists in Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_sets WHERE id=$1`, setID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("unmarshal question set: %w", err)
	}
	return domain.QuestionSet{ID: setID, Questions: questions}, nil
}

// SaveQuestionSet replaces the stored questions of a set.
func (l *QuestionLoader) SaveQuestionSet(ctx context.Context, set domain.QuestionSet) error {
	for i, q := range set.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question set %q: question %d: %w", set.ID, i, err)
		}
	}
	data, err := json.Marshal(set.Questions)
	if err != nil {
		return fmt.Errorf("marshal question set: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO question_sets (id, data) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`,
		set.ID, string(data))
	if err != nil {
		return fmt.Errorf("save question set: %w", err)
	}
	return nil
}
