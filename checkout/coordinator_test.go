package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lab_key_tracker/checkout"
	"lab_key_tracker/db"
	"lab_key_tracker/db/dbtest"
	"lab_key_tracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type clock struct{ at time.Time }

func (c *clock) Now() time.Time { return c.at }

func newCoordinator(t *testing.T, store checkout.Store) (*checkout.Coordinator, *checkout.MemoryPublisher, *clock) {
	t.Helper()
	pub := &checkout.MemoryPublisher{}
	clk := &clock{at: t0}
	c := checkout.New(store, pub, nil, checkout.Options{
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		Now:        clk.Now,
	})
	return c, pub, clk
}

func TestCoordinatorLifecycle(t *testing.T) {
	r := dbtest.New(t)
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1", "T2")
	c, pub, clk := newCoordinator(t, r)
	ctx := context.Background()

	txn, err := c.Borrow(ctx, "K01", "T1", nil)
	require.NoError(t, err)
	assert.True(t, txn.BorrowDate.Equal(t0))

	_, err = c.Borrow(ctx, "K01", "T2", nil)
	assert.ErrorIs(t, err, db.ErrKeyUnavailable)

	clk.at = t0.Add(2 * time.Hour)
	_, err = c.Return(ctx, "K01", "T2", nil)
	assert.ErrorIs(t, err, db.ErrNotBorrowedByCaller)

	back, err := c.Return(ctx, "K01", "T1", nil)
	require.NoError(t, err)
	require.NotNil(t, back.ReturnDate)
	assert.True(t, back.ReturnDate.Equal(clk.at))
	dbtest.AssertConsistent(t, r)

	evs := pub.Events()
	require.Len(t, evs, 2, "failed operations publish nothing")
	assert.Equal(t, checkout.EventBorrowed, evs[0].Type)
	assert.Equal(t, checkout.EventReturned, evs[1].Type)
	assert.Equal(t, "T1", evs[1].TeacherID)
	assert.Equal(t, txn.ID, evs[1].TransactionID)
}

func TestCoordinatorAdminOverrides(t *testing.T) {
	r := dbtest.New(t)
	dbtest.SeedKeys(t, r, "K01", "K02")
	dbtest.SeedTeachers(t, r, "T1")
	c, pub, _ := newCoordinator(t, r)
	ctx := context.Background()

	_, err := c.Borrow(ctx, "K01", "T1", nil)
	require.NoError(t, err)
	back, err := c.AdminReturn(ctx, "K01", "op-7", nil)
	require.NoError(t, err)
	assert.Equal(t, "T1", back.TeacherID)
	require.NotNil(t, back.ReturnedBy)
	assert.Equal(t, "op-7", *back.ReturnedBy)

	open, err := c.Borrow(ctx, "K02", "T1", nil)
	require.NoError(t, err)
	require.NoError(t, c.AdminDelete(ctx, open.ID, db.OverrideActor{ID: "op-7", Username: "ops"}, nil))
	assert.ErrorIs(t, c.AdminDelete(ctx, open.ID, db.OverrideActor{ID: "op-7"}, nil), db.ErrTransactionNotFound)

	k, err := r.FindKey(ctx, "K02")
	require.NoError(t, err)
	assert.Equal(t, models.KeyAvailable, k.Status)

	assert.ErrorIs(t, c.DeleteTeacher(ctx, "nobody"), db.ErrTeacherNotFound)
	require.NoError(t, c.DeleteKey(ctx, "K02"))
	require.NoError(t, c.DeleteTeacher(ctx, "T1"))

	types := []checkout.EventType{}
	for _, ev := range pub.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []checkout.EventType{
		checkout.EventBorrowed, checkout.EventReturned, checkout.EventBorrowed, checkout.EventDeleted,
	}, types)
	assert.Equal(t, "op-7", pub.Events()[1].Actor)
}

// flakyStore commits through the real repo and then reports a lost connection,
// the way a dropped link after COMMIT looks to the caller.
type flakyStore struct {
	*db.Repo
	mu       sync.Mutex
	failures int
	calls    int
}

var errLink = errors.Join(db.ErrStoreUnavailable, errors.New("connection reset by peer"))

func (f *flakyStore) Borrow(ctx context.Context, in db.BorrowInput) (*models.Transaction, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	txn, err := f.Repo.Borrow(ctx, in)
	if fail {
		return nil, errLink
	}
	return txn, err
}

func (f *flakyStore) Return(ctx context.Context, in db.ReturnInput) (*models.Transaction, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	txn, err := f.Repo.Return(ctx, in)
	if fail {
		return nil, errLink
	}
	return txn, err
}

func TestRetryDoesNotDoubleApplyCommittedWrite(t *testing.T) {
	r := dbtest.New(t)
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")
	fs := &flakyStore{Repo: r, failures: 1}
	c, pub, clk := newCoordinator(t, fs)
	ctx := context.Background()

	txn, err := c.Borrow(ctx, "K01", "T1", nil)
	require.NoError(t, err, "retry must recognise its own committed borrow")
	assert.Equal(t, 1, fs.calls)
	assert.Equal(t, "T1", txn.TeacherID)

	fs.failures = 1
	clk.at = t0.Add(time.Hour)
	back, err := c.Return(ctx, "K01", "T1", nil)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, back.ID)
	dbtest.AssertConsistent(t, r)
	assert.Len(t, pub.Events(), 2)
}

// downStore never reaches the database.
type downStore struct {
	*db.Repo
	calls int
	err   error
}

func (d *downStore) Borrow(context.Context, db.BorrowInput) (*models.Transaction, error) {
	d.calls++
	return nil, d.err
}

func (d *downStore) FindOpenForKey(context.Context, string) (*models.Transaction, error) {
	return nil, d.err
}

func TestRetryBounded(t *testing.T) {
	r := dbtest.New(t)
	ds := &downStore{Repo: r, err: errLink}
	c, pub, _ := newCoordinator(t, ds)

	_, err := c.Borrow(context.Background(), "K01", "T1", nil)
	assert.ErrorIs(t, err, db.ErrStoreUnavailable)
	assert.Equal(t, 4, ds.calls)
	assert.Empty(t, pub.Events())
}

func TestDomainErrorsAreNotRetried(t *testing.T) {
	r := dbtest.New(t)
	ds := &downStore{Repo: r, err: db.ErrKeyUnavailable}
	c, _, _ := newCoordinator(t, ds)

	_, err := c.Borrow(context.Background(), "K01", "T1", nil)
	assert.ErrorIs(t, err, db.ErrConflict)
	assert.Equal(t, 1, ds.calls)
}
