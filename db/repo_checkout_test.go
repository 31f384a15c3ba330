package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lab_key_tracker/db"
	"lab_key_tracker/db/dbtest"
	"lab_key_tracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func keyStatus(t *testing.T, r *db.Repo, keyID string) models.KeyStatus {
	t.Helper()
	k, err := r.FindKey(context.Background(), keyID)
	require.NoError(t, err)
	return k.Status
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T001")

	txn, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T001", Purpose: strp("lab cleaning"), At: t0})
	require.NoError(t, err)
	assert.NotZero(t, txn.ID)
	assert.Nil(t, txn.ReturnDate)
	assert.Equal(t, models.KeyBorrowed, keyStatus(t, r, "K01"))
	dbtest.AssertConsistent(t, r)

	t1 := t0.Add(25 * time.Hour)
	back, err := r.Return(ctx, db.ReturnInput{KeyID: "K01", TeacherID: "T001", Remarks: strp("all good"), At: t1})
	require.NoError(t, err)
	require.NotNil(t, back.ReturnDate)
	assert.Equal(t, txn.ID, back.ID)
	assert.True(t, back.ReturnDate.After(back.BorrowDate))
	assert.Equal(t, models.KeyAvailable, keyStatus(t, r, "K01"))
	dbtest.AssertConsistent(t, r)

	stored, err := r.FindTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReturnDate)
	assert.True(t, stored.ReturnDate.Equal(t1))
	require.NotNil(t, stored.Remarks)
	assert.Equal(t, "all good", *stored.Remarks)
	require.NotNil(t, stored.Purpose)
	assert.Equal(t, "lab cleaning", *stored.Purpose)
}

func TestBorrowPreconditions(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01", "K02")
	dbtest.SeedTeachers(t, r, "T001", "T002")

	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "NOPE", TeacherID: "T001", At: t0})
	assert.ErrorIs(t, err, db.ErrKeyNotFound)
	assert.ErrorIs(t, err, db.ErrNotFound)

	// teacher lookup fails after the key was checked: nothing may stick
	_, err = r.Borrow(ctx, db.BorrowInput{KeyID: "K02", TeacherID: "ghost", At: t0})
	assert.ErrorIs(t, err, db.ErrTeacherNotFound)
	assert.Equal(t, models.KeyAvailable, keyStatus(t, r, "K02"))

	_, err = r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T001", At: t0})
	require.NoError(t, err)
	_, err = r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T002", At: t0.Add(time.Minute)})
	assert.ErrorIs(t, err, db.ErrKeyUnavailable)
	assert.ErrorIs(t, err, db.ErrConflict)

	dbtest.AssertConsistent(t, r)
}

func TestReturnRejectsOtherTeacher(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1", "T2")

	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: t0})
	require.NoError(t, err)

	_, err = r.Return(ctx, db.ReturnInput{KeyID: "K01", TeacherID: "T2", At: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, db.ErrNotBorrowedByCaller)
	assert.Equal(t, models.KeyBorrowed, keyStatus(t, r, "K01"))
	dbtest.AssertConsistent(t, r)
}

func TestReturnWithoutOpenTransaction(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")

	_, err := r.Return(ctx, db.ReturnInput{KeyID: "K01", TeacherID: "T1", At: t0})
	assert.ErrorIs(t, err, db.ErrNotBorrowedByCaller)

	_, err = r.Return(ctx, db.ReturnInput{KeyID: "K99", TeacherID: "T1", At: t0})
	assert.ErrorIs(t, err, db.ErrKeyNotFound)
}

func TestReturnAnyBorrowerRecordsActualBorrower(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")

	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: t0})
	require.NoError(t, err)

	back, err := r.Return(ctx, db.ReturnInput{
		KeyID: "K01", AnyBorrower: true, ReturnedBy: strp("admin-1"), At: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", back.TeacherID)
	require.NotNil(t, back.ReturnedBy)
	assert.Equal(t, "admin-1", *back.ReturnedBy)
	assert.Equal(t, models.KeyAvailable, keyStatus(t, r, "K01"))
}

func TestConcurrentBorrowHasOneWinner(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	teachers := []string{"T1", "T2", "T3", "T4", "T5", "T6"}
	dbtest.SeedTeachers(t, r, teachers...)

	var wg sync.WaitGroup
	errs := make([]error, len(teachers))
	for i, tid := range teachers {
		wg.Add(1)
		go func(i int, tid string) {
			defer wg.Done()
			_, errs[i] = r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: tid, At: t0})
		}(i, tid)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, db.ErrKeyUnavailable)
	}
	assert.Equal(t, 1, wins)

	var open int64
	require.NoError(t, r.DB.Model(&models.Transaction{}).Where("key_id = ? AND return_date IS NULL", "K01").Count(&open).Error)
	assert.Equal(t, int64(1), open)
	dbtest.AssertConsistent(t, r)
}

func TestOneOpenPerKeyIndex(t *testing.T) {
	r := dbtest.New(t)
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")

	require.NoError(t, r.DB.Create(&models.Transaction{KeyID: "K01", TeacherID: "T1", BorrowDate: t0}).Error)
	err := r.DB.Create(&models.Transaction{KeyID: "K01", TeacherID: "T1", BorrowDate: t0}).Error
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)

	// closed rows are not constrained
	ret := t0.Add(time.Hour)
	require.NoError(t, r.DB.Create(&models.Transaction{KeyID: "K01", TeacherID: "T1", BorrowDate: t0, ReturnDate: &ret}).Error)
}

func TestDeleteTransactionReconcilesKey(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01", "K02")
	dbtest.SeedTeachers(t, r, "T1", "T2")
	admin := db.OverrideActor{ID: "op-1", Username: "ops@example.com"}

	open, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: t0})
	require.NoError(t, err)

	deleted, err := r.DeleteTransaction(ctx, open.ID, admin, strp("entered by mistake"))
	require.NoError(t, err)
	assert.True(t, deleted.Open())
	assert.Equal(t, models.KeyAvailable, keyStatus(t, r, "K01"))
	_, err = r.FindTransaction(ctx, open.ID)
	assert.ErrorIs(t, err, db.ErrTransactionNotFound)

	// closed row: key state is whatever the current lifecycle says
	first, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K02", TeacherID: "T1", At: t0})
	require.NoError(t, err)
	_, err = r.Return(ctx, db.ReturnInput{KeyID: "K02", TeacherID: "T1", At: t0.Add(time.Hour)})
	require.NoError(t, err)
	_, err = r.Borrow(ctx, db.BorrowInput{KeyID: "K02", TeacherID: "T2", At: t0.Add(2 * time.Hour)})
	require.NoError(t, err)

	_, err = r.DeleteTransaction(ctx, first.ID, admin, nil)
	require.NoError(t, err)
	assert.Equal(t, models.KeyBorrowed, keyStatus(t, r, "K02"))
	dbtest.AssertConsistent(t, r)

	logs, err := r.ListOverrideLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	var wasOpen int
	for _, l := range logs {
		assert.Equal(t, "op-1", l.ActorID)
		if l.WasOpen {
			wasOpen++
		}
	}
	assert.Equal(t, 1, wasOpen)

	_, err = r.DeleteTransaction(ctx, 9999, admin, nil)
	assert.ErrorIs(t, err, db.ErrTransactionNotFound)
}

func TestDeleteKeyGuard(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")

	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: t0})
	require.NoError(t, err)

	assert.ErrorIs(t, r.DeleteKey(ctx, "K01"), db.ErrKeyCheckedOut)

	_, err = r.Return(ctx, db.ReturnInput{KeyID: "K01", TeacherID: "T1", At: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NoError(t, r.DeleteKey(ctx, "K01"))

	_, err = r.FindKey(ctx, "K01")
	assert.ErrorIs(t, err, db.ErrKeyNotFound)
	assert.ErrorIs(t, r.DeleteKey(ctx, "K01"), db.ErrKeyNotFound)
}

func TestDeleteTeacherGuard(t *testing.T) {
	r := dbtest.New(t)
	ctx := context.Background()
	dbtest.SeedKeys(t, r, "K01")
	dbtest.SeedTeachers(t, r, "T1")

	_, err := r.Borrow(ctx, db.BorrowInput{KeyID: "K01", TeacherID: "T1", At: t0})
	require.NoError(t, err)
	assert.ErrorIs(t, r.DeleteTeacher(ctx, "T1"), db.ErrActiveTransactions)

	_, err = r.Return(ctx, db.ReturnInput{KeyID: "K01", TeacherID: "T1", At: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NoError(t, r.DeleteTeacher(ctx, "T1"))
	assert.ErrorIs(t, r.DeleteTeacher(ctx, "T1"), db.ErrTeacherNotFound)
}
