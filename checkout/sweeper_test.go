package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lab_key_tracker/db"
	"lab_key_tracker/db/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memMarker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memMarker) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memMarker) Unmark(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

// downPublisher fails every publish until healed.
type downPublisher struct {
	MemoryPublisher
	down bool
}

func (p *downPublisher) Publish(ctx context.Context, ev Event) error {
	if p.down {
		return errors.New("redis: connection refused")
	}
	return p.MemoryPublisher.Publish(ctx, ev)
}

func TestSweepAnnouncesEachOverdueLoanOnce(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01", "K02")
	dbtest.SeedTeachers(t, r, "T1")
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: start})
	require.NoError(t, err)
	_, err = r.Borrow(ctx, db.BorrowInput{KeyID: "K02", TeacherID: "T1", At: start.Add(23 * time.Hour)})
	require.NoError(t, err)

	pub := &MemoryPublisher{}
	s := NewSweeper(r, &memMarker{seen: map[string]bool{}}, pub, nil, time.Minute)
	s.now = func() time.Time { return start.Add(24*time.Hour + time.Second) }

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	s.now = func() time.Time { return start.Add(48 * time.Hour) }
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	evs := pub.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, EventOverdue, evs[0].Type)
	assert.Equal(t, "K01", evs[0].KeyID)
	assert.Equal(t, "K02", evs[1].KeyID)
}

func TestSweepExactThresholdIsNotOverdue(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: start})
	require.NoError(t, err)

	s := NewSweeper(r, nil, &MemoryPublisher{}, nil, time.Minute)
	s.now = func() time.Time { return start.Add(24 * time.Hour) }
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepRetriesAfterFailedPublish(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: start})
	require.NoError(t, err)

	pub := &downPublisher{down: true}
	s := NewSweeper(r, &memMarker{seen: map[string]bool{}}, pub, nil, time.Minute)
	s.now = func() time.Time { return start.Add(30 * time.Hour) }

	n, err := s.Sweep(ctx)
	assert.Error(t, err)
	assert.Zero(t, n)

	pub.down = false
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a failed announcement is retried on the next sweep")
	require.Len(t, pub.Events(), 1)
	assert.Equal(t, "K01", pub.Events()[0].KeyID)
}
