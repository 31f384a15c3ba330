package checkout

import (
	"context"
	"fmt"
	"time"

	"lab_key_tracker/db"

	"go.uber.org/zap"
)

type OverdueLister interface {
	ListOverdue(ctx context.Context, now time.Time) ([]db.TransactionRow, error)
}

// Marker records that something happened once. The Redis implementation uses
// SET NX so several replicas announce each overdue loan a single time.
type Marker interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unmark drops a mark whose announcement failed so a later sweep retries it.
	Unmark(ctx context.Context, key string) error
}

// Sweeper periodically announces loans that crossed the overdue threshold.
type Sweeper struct {
	store    OverdueLister
	marker   Marker
	pub      Publisher
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(store OverdueLister, marker Marker, pub Publisher, log *zap.Logger, interval time.Duration) *Sweeper {
	if pub == nil {
		pub = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: store, marker: marker, pub: pub, log: log.Named("sweeper"), interval: interval, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if n, err := s.Sweep(ctx); err != nil {
			s.log.Warn("overdue sweep", zap.Error(err))
		} else if n > 0 {
			s.log.Info("overdue loans announced", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Sweep publishes one overdue event per loan not announced before and returns how
// many it published.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	rows, err := s.store.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	overdueGauge.Set(float64(len(rows)))

	sent := 0
	for _, row := range rows {
		key := fmt.Sprintf("labkeys:overdue:%d", row.ID)
		if s.marker != nil {
			first, err := s.marker.MarkOnce(ctx, key, 7*24*time.Hour)
			if err != nil {
				return sent, err
			}
			if !first {
				continue
			}
		}
		ev := Event{Type: EventOverdue, KeyID: row.KeyID, TeacherID: row.TeacherID, TransactionID: row.ID, At: now}
		if err := s.pub.Publish(ctx, ev); err != nil {
			publishFailures.Inc()
			if s.marker != nil {
				if uerr := s.marker.Unmark(context.WithoutCancel(ctx), key); uerr != nil {
					s.log.Warn("unmark overdue", zap.String("key", key), zap.Error(uerr))
				}
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}
