package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"gauntlet-service/internal/app"
	"gauntlet-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis implementation of app.SessionRegistry.
// Layout:
//
//	session:conn:{connID}   JSON identity, expires after ttl
//	session:group:{groupID} set of connIDs bound to the group
//
// Lookups refresh the TTL; set members whose binding expired are pruned on read.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Bind(ctx context.Context, connID string, identity domain.Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.connKey(connID), raw, s.ttl)
	pipe.SAdd(ctx, s.groupKey(identity.GroupID), connID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.groupKey(identity.GroupID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Lookup(ctx context.Context, connID string) (domain.Identity, bool, error) {
	identity, ok, err := s.read(ctx, connID)
	if err != nil || !ok {
		return identity, ok, err
	}
	// Lookups double as the keepalive of a live connection.
	if s.ttl > 0 {
		pipe := s.client.TxPipeline()
		pipe.Expire(ctx, s.connKey(connID), s.ttl)
		pipe.Expire(ctx, s.groupKey(identity.GroupID), s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return domain.Identity{}, false, fmt.Errorf("refresh session: %w", err)
		}
	}
	return identity, true, nil
}

func (s *SessionStore) Unbind(ctx context.Context, connID string) error {
	identity, ok, err := s.read(ctx, connID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.connKey(connID))
	if ok {
		pipe.SRem(ctx, s.groupKey(identity.GroupID), connID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Connections(ctx context.Context, groupID int64) ([]app.Binding, error) {
	members, err := s.client.SMembers(ctx, s.groupKey(groupID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]app.Binding, 0, len(members))
	for _, connID := range members {
		identity, ok, err := s.read(ctx, connID)
		if err != nil {
			return nil, err
		}
		if !ok {
			_ = s.client.SRem(ctx, s.groupKey(groupID), connID).Err()
			continue
		}
		out = append(out, app.Binding{ConnID: connID, Identity: identity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out, nil
}

func (s *SessionStore) read(ctx context.Context, connID string) (domain.Identity, bool, error) {
	raw, err := s.client.Get(ctx, s.connKey(connID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Identity{}, false, nil
	}
	if err != nil {
		return domain.Identity{}, false, err
	}
	var identity domain.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return domain.Identity{}, false, fmt.Errorf("decode identity: %w", err)
	}
	return identity, true, nil
}

func (s *SessionStore) connKey(connID string) string {
	return "session:conn:" + connID
}

func (s *SessionStore) groupKey(groupID int64) string {
	return "session:group:" + strconv.FormatInt(groupID, 10)
}
