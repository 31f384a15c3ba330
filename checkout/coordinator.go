// Package checkout runs the key lifecycle operations as bounded, retried units of
// work and announces what committed.
package checkout

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"lab_key_tracker/db"
	"lab_key_tracker/models"

	"go.uber.org/zap"
)

// Store is the part of *db.Repo the coordinator drives.
type Store interface {
	Borrow(ctx context.Context, in db.BorrowInput) (*models.Transaction, error)
	Return(ctx context.Context, in db.ReturnInput) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, id uint, actor db.OverrideActor, reason *string) (*models.Transaction, error)
	DeleteKey(ctx context.Context, keyID string) error
	DeleteTeacher(ctx context.Context, teacherID string) error
	FindOpenForKey(ctx context.Context, keyID string) (*models.Transaction, error)
	LatestForKey(ctx context.Context, keyID string) (*models.Transaction, error)
}

type Options struct {
	// Timeout bounds one operation, retries included.
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the base delay; attempt n sleeps Backoff*2^(n-1) plus up to the
	// same again in jitter.
	Backoff time.Duration
	Now     func() time.Time
}

type Coordinator struct {
	store Store
	pub   Publisher
	log   *zap.Logger
	opts  Options
}

func New(store Store, pub Publisher, log *zap.Logger, opts Options) *Coordinator {
	if pub == nil {
		pub = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: store, pub: pub, log: log.Named("checkout"), opts: opts}
}

// now is truncated to microseconds so the value written matches what Postgres
// reads back; retries compare against it.
func (c *Coordinator) now() time.Time {
	return c.opts.Now().UTC().Truncate(time.Microsecond)
}

// Borrow checks keyID out to teacherID.
func (c *Coordinator) Borrow(ctx context.Context, keyID, teacherID string, purpose *string) (*models.Transaction, error) {
	at := c.now()
	in := db.BorrowInput{KeyID: keyID, TeacherID: teacherID, Purpose: purpose, At: at}

	var txn *models.Transaction
	err := c.run(ctx, "borrow", func(ctx context.Context, retry bool) error {
		if retry {
			// a faulted attempt may have committed; the open row with our
			// timestamp is proof
			if open, err := c.store.FindOpenForKey(ctx, keyID); err == nil &&
				open.TeacherID == teacherID && open.BorrowDate.Equal(at) {
				txn = open
				return nil
			}
		}
		var err error
		txn, err = c.store.Borrow(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, Event{Type: EventBorrowed, KeyID: keyID, TeacherID: teacherID, TransactionID: txn.ID, At: at})
	return txn, nil
}

// Return closes the teacher's open transaction on keyID.
func (c *Coordinator) Return(ctx context.Context, keyID, teacherID string, remarks *string) (*models.Transaction, error) {
	return c.giveBack(ctx, "return", db.ReturnInput{KeyID: keyID, TeacherID: teacherID, Remarks: remarks})
}

// AdminReturn closes whatever transaction is open on keyID, on the borrower's
// behalf, and records who did it.
func (c *Coordinator) AdminReturn(ctx context.Context, keyID, operatorID string, remarks *string) (*models.Transaction, error) {
	by := operatorID
	return c.giveBack(ctx, "admin_return", db.ReturnInput{KeyID: keyID, AnyBorrower: true, ReturnedBy: &by, Remarks: remarks})
}

func (c *Coordinator) giveBack(ctx context.Context, op string, in db.ReturnInput) (*models.Transaction, error) {
	in.At = c.now()

	var txn *models.Transaction
	err := c.run(ctx, op, func(ctx context.Context, retry bool) error {
		if retry {
			if last, err := c.store.LatestForKey(ctx, in.KeyID); err == nil &&
				last.ReturnDate != nil && last.ReturnDate.Equal(in.At) &&
				(in.AnyBorrower || last.TeacherID == in.TeacherID) {
				txn = last
				return nil
			}
		}
		var err error
		txn, err = c.store.Return(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	ev := Event{Type: EventReturned, KeyID: in.KeyID, TeacherID: txn.TeacherID, TransactionID: txn.ID, At: in.At}
	if in.ReturnedBy != nil {
		ev.Actor = *in.ReturnedBy
	}
	c.publish(ctx, ev)
	return txn, nil
}

// AdminDelete removes a ledger row, releasing its key if it was open.
func (c *Coordinator) AdminDelete(ctx context.Context, id uint, actor db.OverrideActor, reason *string) error {
	var txn *models.Transaction
	err := c.run(ctx, "admin_delete", func(ctx context.Context, retry bool) error {
		var err error
		txn, err = c.store.DeleteTransaction(ctx, id, actor, reason)
		if retry && errors.Is(err, db.ErrTransactionNotFound) {
			// the faulted attempt got there first
			txn = nil
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if txn != nil {
		c.publish(ctx, Event{Type: EventDeleted, KeyID: txn.KeyID, TeacherID: txn.TeacherID, TransactionID: txn.ID, Actor: actor.ID, At: c.now()})
	}
	return nil
}

// DeleteKey removes a key from the directory unless it is checked out.
func (c *Coordinator) DeleteKey(ctx context.Context, keyID string) error {
	return c.run(ctx, "delete_key", func(ctx context.Context, retry bool) error {
		err := c.store.DeleteKey(ctx, keyID)
		if retry && errors.Is(err, db.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// DeleteTeacher removes a teacher unless they still hold keys.
func (c *Coordinator) DeleteTeacher(ctx context.Context, teacherID string) error {
	return c.run(ctx, "delete_teacher", func(ctx context.Context, retry bool) error {
		err := c.store.DeleteTeacher(ctx, teacherID)
		if retry && errors.Is(err, db.ErrTeacherNotFound) {
			return nil
		}
		return err
	})
}

// run executes fn under the operation timeout and reruns the whole unit while the
// store reports itself unavailable. Domain errors return at once.
func (c *Coordinator) run(ctx context.Context, op string, fn func(ctx context.Context, retry bool) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx, attempt > 0)
		if err == nil || !db.IsUnavailable(err) || attempt >= c.opts.MaxRetries {
			break
		}
		retryCounter.WithLabelValues(op).Inc()
		delay := c.backoff(attempt + 1)
		c.log.Warn("store unavailable, retrying",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		if !sleep(ctx, delay) {
			break
		}
	}
	if err != nil && db.IsUnavailable(err) && !errors.Is(err, db.ErrStoreUnavailable) {
		err = errors.Join(db.ErrStoreUnavailable, err)
	}

	operationCounter.WithLabelValues(op, resultLabel(err)).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && errors.Is(err, db.ErrStoreUnavailable) {
		c.log.Error("checkout failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.opts.Backoff << (attempt - 1)
	return d + rand.N(c.opts.Backoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// publish never fails the operation: the write already committed.
func (c *Coordinator) publish(ctx context.Context, ev Event) {
	if err := c.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		publishFailures.Inc()
		c.log.Warn("publish event", zap.String("type", string(ev.Type)), zap.String("key", ev.KeyID), zap.Error(err))
	}
}
