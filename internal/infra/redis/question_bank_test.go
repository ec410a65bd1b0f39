package redis

import (
	"context"
	"testing"
	"time"

	"gauntlet-service/internal/domain"
	"gauntlet-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionBankCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticLoader(map[string]domain.QuestionSet{
			"default": sampleSet(),
		}),
	}
	bank := NewQuestionBank(client, loader, time.Minute)

	set, err := bank.QuestionSet(context.Background(), "default")
	if err != nil {
		t.Fatalf("get set: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("questions:default") {
		t.Fatalf("expected redis key to be set")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := bank.QuestionSet(context.Background(), "default")
	if err != nil {
		t.Fatalf("get cached set: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if cached.Len() != set.Len() || cached.Questions[0].Answer != "4" {
		t.Fatalf("expected cached set to round-trip, got %+v", cached)
	}
}

func TestQuestionBankReloadsAfterExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticLoader(map[string]domain.QuestionSet{"default": sampleSet()}),
	}
	bank := NewQuestionBank(newClient(mr), loader, time.Minute)

	_, _ = bank.QuestionSet(context.Background(), "default")
	mr.FastForward(2 * time.Minute)
	_, _ = bank.QuestionSet(context.Background(), "default")

	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, got %d", loader.calls)
	}
}

type countingLoader struct {
	memory.QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	l.calls++
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

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
