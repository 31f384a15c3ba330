// Package notify carries checkout events and cached views over Redis.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"lab_key_tracker/checkout"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "labkeys:events"

// Bus publishes checkout events on a Redis channel and drops the cached dashboard
// so the next read sees the committed state.
type Bus struct {
	rdb     *redis.Client
	channel string
	cache   *DashboardCache
	log     *zap.Logger
}

func NewBus(rdb *redis.Client, cache *DashboardCache, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{rdb: rdb, channel: DefaultChannel, cache: cache, log: log.Named("bus")}
}

func (b *Bus) Publish(ctx context.Context, ev checkout.Event) error {
	if b.cache != nil {
		if err := b.cache.Invalidate(ctx); err != nil {
			b.log.Warn("invalidate dashboard", zap.Error(err))
		}
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe streams events until ctx is done. Malformed messages are skipped.
func (b *Bus) Subscribe(ctx context.Context) <-chan checkout.Event {
	ps := b.rdb.Subscribe(ctx, b.channel)
	out := make(chan checkout.Event, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := Decode(m.Payload)
				if err != nil {
					b.log.Debug("drop malformed event", zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func Decode(payload string) (checkout.Event, error) {
	var ev checkout.Event
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}

// Marker implements checkout.Marker with SET NX.
type Marker struct{ rdb *redis.Client }

func NewMarker(rdb *redis.Client) *Marker { return &Marker{rdb: rdb} }

func (m *Marker) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (m *Marker) Unmark(ctx context.Context, key string) error {
	return m.rdb.Del(ctx, key).Err()
}
