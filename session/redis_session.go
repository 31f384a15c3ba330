package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// Ceremonies holds WebAuthn challenge state between the begin and finish calls.
type Ceremonies struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCeremonies(rdb *redis.Client, ttl time.Duration) *Ceremonies {
	return &Ceremonies{rdb: rdb, ttl: ttl}
}

type ceremony string

const (
	// Registration is keyed by the username being enrolled.
	Registration ceremony = "reg"
	// Login is keyed by a random id handed to the browser in a cookie.
	Login ceremony = "auth"
	// Invite registration is keyed by the invite token.
	Invite ceremony = "reg:inv"
)

func ceremonyKey(kind ceremony, id string) string {
	return fmt.Sprintf("labkeys:webauthn:%s:%s", kind, id)
}

func (s *Ceremonies) Save(ctx context.Context, kind ceremony, id string, sd *webauthn.SessionData) error {
	b, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, ceremonyKey(kind, id), b, s.ttl).Err()
}

// Take loads and deletes the state so a challenge can only be answered once.
func (s *Ceremonies) Take(ctx context.Context, kind ceremony, id string) (*webauthn.SessionData, error) {
	b, err := s.rdb.GetDel(ctx, ceremonyKey(kind, id)).Bytes()
	if err != nil {
		return nil, err
	}
	var sd webauthn.SessionData
	if err := json.Unmarshal(b, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}
