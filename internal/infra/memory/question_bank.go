package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"gauntlet-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question sets from a backing store (file, Postgres).
type QuestionLoader interface {
	LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// QuestionBank caches question sets to avoid repeated loads.
// A non-positive TTL keeps sets for the life of the process.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time // zero means never
}

func (c cachedSet) fresh(now time.Time) bool {
	return c.expiresAt.IsZero() || c.expiresAt.After(now)
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

func (b *QuestionBank) QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := b.cached(setID); ok {
		return set, nil
	}

	result, err, _ := b.sf.Do(setID, func() (interface{}, error) {
		if set, ok := b.cached(setID); ok {
			return set, nil
		}

		set, err := b.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		entry := cachedSet{set: set}
		if b.ttl > 0 {
			entry.expiresAt = b.clock().Add(b.ttlWithJitter())
		}
		b.mu.Lock()
		b.cache[setID] = entry
		b.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (b *QuestionBank) cached(setID string) (domain.QuestionSet, bool) {
	now := b.clock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	if entry, ok := b.cache[setID]; ok && entry.fresh(now) {
		return entry.set, true
	}
	return domain.QuestionSet{}, false
}

// StaticLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticLoader struct {
	sets map[string]domain.QuestionSet
}

func NewStaticLoader(sets map[string]domain.QuestionSet) *StaticLoader {
	return &StaticLoader{sets: sets}
}

func (l *StaticLoader) LoadQuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := l.sets[setID]; ok {
		return set, nil
	}
	return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
