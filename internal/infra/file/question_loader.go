package file

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gauntlet-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// QuestionLoader reads question sets from a YAML or JSON file. The document is
// either a list of questions, served as the default set, or a mapping of set
// id to list. The file is read once, on first use.
type QuestionLoader struct {
	path string

	once sync.Once
	sets map[string]domain.QuestionSet
	err  error
}

func NewQuestionLoader(path string) *QuestionLoader {
	return &QuestionLoader{path: path}
}

func (l *QuestionLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	sets, err := l.Sets(ctx)
	if err != nil {
		return domain.QuestionSet{}, err
	}
	set, ok := sets[setID]
	if !ok {
		return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
	}
	return set, nil
}

// Sets returns every set in the file.
func (l *QuestionLoader) Sets(_ context.Context) (map[string]domain.QuestionSet, error) {
	l.once.Do(func() {
		l.sets, l.err = readSets(l.path)
	})
	return l.sets, l.err
}

func readSets(path string) (map[string]domain.QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return ParseSets(data)
}

// ParseSets decodes a questions document. JSON is accepted since it is valid YAML.
func ParseSets(data []byte) (map[string]domain.QuestionSet, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("parse questions: empty document")
	}
	root := node.Content[0]

	sets := make(map[string]domain.QuestionSet)
	switch root.Kind {
	case yaml.SequenceNode:
		var questions []domain.Question
		if err := root.Decode(&questions); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
		sets[domain.DefaultQuestionSet] = domain.QuestionSet{ID: domain.DefaultQuestionSet, Questions: questions}
	case yaml.MappingNode:
		var byID map[string][]domain.Question
		if err := root.Decode(&byID); err != nil {
			return nil, fmt.Errorf("decode question sets: %w", err)
		}
		for id, questions := range byID {
			sets[id] = domain.QuestionSet{ID: id, Questions: questions}
		}
	default:
		return nil, fmt.Errorf("parse questions: expected a list or a mapping")
	}

	for id, set := range sets {
		for i, q := range set.Questions {
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("question set %q: question %d: %w", id, i, err)
			}
		}
	}
	return sets, nil
}
