package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoSession = errors.New("session not found")

// Store is what the HTTP layer needs from operator sessions.
type Store interface {
	Create(ctx context.Context, id, operatorID string) error
	Get(ctx context.Context, id string) (*OperatorSession, error)
	Delete(ctx context.Context, id string) error
	RevokeAll(ctx context.Context, operatorID string) error
	TTL() time.Duration
}

var _ Store = (*OperatorSessions)(nil)

// OperatorSessions keeps signed-in operators in Redis. Each operator also has a set
// of their session ids so deleting the operator can revoke every device.
type OperatorSessions struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOperatorSessions(rdb *redis.Client, ttl time.Duration) *OperatorSessions {
	return &OperatorSessions{rdb: rdb, ttl: ttl}
}

type OperatorSession struct {
	OperatorID string `json:"oid"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
}

func (s *OperatorSessions) TTL() time.Duration { return s.ttl }

func sessKey(id string) string         { return fmt.Sprintf("labkeys:sess:%s", id) }
func operatorSetKey(oid string) string { return fmt.Sprintf("labkeys:operator_sessions:%s", oid) }

func (s *OperatorSessions) Create(ctx context.Context, id, operatorID string) error {
	now := time.Now()
	b, err := json.Marshal(OperatorSession{
		OperatorID: operatorID,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessKey(id), b, s.ttl)
	pipe.SAdd(ctx, operatorSetKey(operatorID), id)
	pipe.Expire(ctx, operatorSetKey(operatorID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *OperatorSessions) Get(ctx context.Context, id string) (*OperatorSession, error) {
	b, err := s.rdb.Get(ctx, sessKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	var out OperatorSession
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *OperatorSessions) Delete(ctx context.Context, id string) error {
	sess, _ := s.Get(ctx, id)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessKey(id))
	if sess != nil {
		pipe.SRem(ctx, operatorSetKey(sess.OperatorID), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RevokeAll ends every session of the operator.
func (s *OperatorSessions) RevokeAll(ctx context.Context, operatorID string) error {
	ids, err := s.rdb.SMembers(ctx, operatorSetKey(operatorID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, sid := range ids {
		pipe.Del(ctx, sessKey(sid))
	}
	pipe.Del(ctx, operatorSetKey(operatorID))
	_, err = pipe.Exec(ctx)
	return err
}
