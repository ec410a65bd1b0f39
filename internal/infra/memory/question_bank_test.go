package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gauntlet-service/internal/domain"
)

func TestQuestionBankCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticLoader(map[string]domain.QuestionSet{
			"default": sampleSet(),
		}),
	}
	bank := NewQuestionBank(loader, time.Minute)

	if _, err := bank.QuestionSet(context.Background(), "default"); err != nil {
		t.Fatalf("get set: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	if _, err := bank.QuestionSet(context.Background(), "default"); err != nil {
		t.Fatalf("get set 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionBankZeroTTLNeverExpires(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticLoader(map[string]domain.QuestionSet{"default": sampleSet()}),
	}
	bank := NewQuestionBank(loader, 0)
	now := time.Now()
	bank.clock = func() time.Time { return now }

	_, _ = bank.QuestionSet(context.Background(), "default")
	now = now.Add(24 * time.Hour)
	_, _ = bank.QuestionSet(context.Background(), "default")

	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loader.calls.Load())
	}
}

func TestQuestionBankExpires(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticLoader(map[string]domain.QuestionSet{"default": sampleSet()}),
	}
	bank := NewQuestionBank(loader, time.Minute)
	now := time.Now()
	bank.clock = func() time.Time { return now }

	_, _ = bank.QuestionSet(context.Background(), "default")
	now = now.Add(2 * time.Minute)
	_, _ = bank.QuestionSet(context.Background(), "default")

	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", loader.calls.Load())
	}
}

func TestQuestionBankConcurrentLoadsShareOneCall(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{
		QuestionLoader: NewStaticLoader(map[string]domain.QuestionSet{"default": sampleSet()}),
		gate:           release,
	}
	bank := NewQuestionBank(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bank.QuestionSet(context.Background(), "default"); err != nil {
				t.Errorf("get set: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if loader.calls.Load() != 1 {
		t.Fatalf("expected one shared load, got %d", loader.calls.Load())
	}
}

func TestQuestionBankUnknownSet(t *testing.T) {
	bank := NewQuestionBank(NewStaticLoader(nil), time.Minute)
	_, err := bank.QuestionSet(context.Background(), "missing")
	if !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type countingLoader struct {
	QuestionLoader
	calls atomic.Int32
	gate  chan struct{}
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.QuestionLoader.LoadQuestionSet(ctx, setID)
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		ID: "default",
		Questions: []domain.Question{
			{Category: "Math", Prompt: "What is 2 + 2?", Answer: "4", TimeLimit: 30},
		},
	}
}
