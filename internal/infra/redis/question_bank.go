package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gauntlet-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question sets from a backing store (file, Postgres).
type QuestionLoader interface {
	LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// QuestionBank caches question sets in Redis and falls back to a loader on cache miss.
// Sets are stored JSON-encoded as: SET questions:{setID} {json}
type QuestionBank struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewQuestionBank(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := b.fromCache(ctx, setID); ok {
		return set, nil
	}

	result, err, _ := b.sf.Do(setID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if set, ok := b.fromCache(ctx, setID); ok {
			return set, nil
		}

		set, err := b.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		raw, err := json.Marshal(set)
		if err != nil {
			return domain.QuestionSet{}, fmt.Errorf("encode question set: %w", err)
		}
		// best-effort: a failed write only costs another load
		_ = b.client.Set(ctx, b.key(setID), raw, b.ttlWithJitter()).Err()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (b *QuestionBank) fromCache(ctx context.Context, setID string) (domain.QuestionSet, bool) {
	// Any read error, redis.Nil included, is treated as a miss.
	raw, err := b.client.Get(ctx, b.key(setID)).Bytes()
	if err != nil {
		return domain.QuestionSet{}, false
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.QuestionSet{}, false
	}
	return set, true
}

func (b *QuestionBank) key(setID string) string {
	return "questions:" + setID
}

// ttlWithJitter returns 0 (no expiry) for a non-positive TTL.
func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
