// db/repo_checkout.go
package db

import (
	"context"
	"errors"
	"time"

	"lab_key_tracker/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Every function in this file is one unit of work: it runs inside a single database
// transaction and either commits all of its writes or none. The key row is always
// locked first so units touching the same key serialize; different keys proceed in
// parallel.

type BorrowInput struct {
	KeyID     string
	TeacherID string
	Purpose   *string
	At        time.Time
}

// Borrow opens a transaction for the key: 锁住钥匙 → 检查可借 → 检查教师 → 新建记录 → 标记借出
func (r *Repo) Borrow(ctx context.Context, in BorrowInput) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := r.WithTx(tx)

		k, err := t.lockKey(ctx, in.KeyID)
		if err != nil {
			return err
		}
		if !k.Available() {
			return ErrKeyUnavailable
		}
		open, err := t.openForKey(ctx, in.KeyID, false)
		if err != nil {
			return err
		}
		if open != nil {
			return ErrKeyUnavailable
		}
		if _, err := t.lockTeacher(ctx, in.TeacherID, "SHARE"); err != nil {
			return err
		}

		txn := &models.Transaction{
			KeyID:      k.KeyID,
			TeacherID:  in.TeacherID,
			BorrowDate: in.At,
			Purpose:    in.Purpose,
		}
		if err := tx.Create(txn).Error; err != nil {
			// one_open_per_key 唯一索引兜底
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrKeyUnavailable
			}
			return err
		}

		res := tx.Model(&models.Key{}).
			Where("key_id = ? AND status = ?", k.KeyID, models.KeyAvailable).
			Updates(map[string]any{"status": models.KeyBorrowed, "updated_at": in.At})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrKeyUnavailable
		}
		out = txn
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

type ReturnInput struct {
	KeyID string
	// TeacherID must match the borrower recorded in the ledger unless AnyBorrower is set.
	TeacherID   string
	AnyBorrower bool
	ReturnedBy  *string
	Remarks     *string
	At          time.Time
}

// Return closes the open transaction of the key and releases it.
func (r *Repo) Return(ctx context.Context, in ReturnInput) (*models.Transaction, error) {
	var out models.Transaction
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := r.WithTx(tx)

		if _, err := t.lockKey(ctx, in.KeyID); err != nil {
			return err
		}
		open, err := t.openForKey(ctx, in.KeyID, true)
		if err != nil {
			return err
		}
		if open == nil {
			return ErrNotBorrowedByCaller
		}
		if !in.AnyBorrower && open.TeacherID != in.TeacherID {
			return ErrNotBorrowedByCaller
		}

		upd := map[string]any{"return_date": in.At}
		if in.Remarks != nil {
			upd["remarks"] = *in.Remarks
		}
		if in.ReturnedBy != nil {
			upd["returned_by"] = *in.ReturnedBy
		}
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND return_date IS NULL", open.ID).
			Updates(upd)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotBorrowedByCaller
		}
		if err := t.SetKeyStatus(ctx, in.KeyID, models.KeyAvailable); err != nil {
			return err
		}

		out = *open
		at := in.At
		out.ReturnDate = &at
		if in.Remarks != nil {
			out.Remarks = in.Remarks
		}
		out.ReturnedBy = in.ReturnedBy
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return &out, nil
}

type OverrideActor struct {
	ID       string
	Username string
}

// DeleteTransaction hard-deletes a ledger row. Deleting an open row releases its key
// in the same unit of work; a closed row leaves the key alone.
func (r *Repo) DeleteTransaction(ctx context.Context, id uint, actor OverrideActor, reason *string) (*models.Transaction, error) {
	var out models.Transaction
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := r.WithTx(tx)

		// key first, same lock order as Borrow/Return
		var peek models.Transaction
		if err := tx.First(&peek, "id = ?", id).Error; err != nil {
			return notFound(err, ErrTransactionNotFound)
		}
		if _, err := t.lockKey(ctx, peek.KeyID); err != nil && !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, "id = ?", id).Error; err != nil {
			return notFound(err, ErrTransactionNotFound)
		}

		if err := tx.Delete(&models.Transaction{}, out.ID).Error; err != nil {
			return err
		}
		if out.Open() {
			if err := t.SetKeyStatus(ctx, out.KeyID, models.KeyAvailable); err != nil && !errors.Is(err, ErrKeyNotFound) {
				return err
			}
		}
		return tx.Create(&models.OverrideLog{
			ActorID:       actor.ID,
			ActorUsername: actor.Username,
			TransactionID: out.ID,
			KeyID:         out.KeyID,
			WasOpen:       out.Open(),
			Reason:        reason,
		}).Error
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return &out, nil
}

// DeleteKey removes a key that is not checked out.
func (r *Repo) DeleteKey(ctx context.Context, keyID string) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := r.WithTx(tx)

		k, err := t.lockKey(ctx, keyID)
		if err != nil {
			return err
		}
		if !k.Available() {
			return ErrKeyCheckedOut
		}
		open, err := t.openForKey(ctx, keyID, false)
		if err != nil {
			return err
		}
		if open != nil {
			return ErrKeyCheckedOut
		}
		return tx.Delete(&models.Key{}, "key_id = ?", keyID).Error
	})
	return storeErr(err)
}

// DeleteTeacher removes a teacher with no open transactions. Closed history rows keep
// their teacher id.
func (r *Repo) DeleteTeacher(ctx context.Context, teacherID string) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := r.WithTx(tx)

		if _, err := t.lockTeacher(ctx, teacherID, "UPDATE"); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.Transaction{}).
			Where("teacher_id = ? AND return_date IS NULL", teacherID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrActiveTransactions
		}
		return tx.Delete(&models.Teacher{}, "id = ?", teacherID).Error
	})
	return storeErr(err)
}

// openForKey returns the open transaction of the key or nil.
func (r *Repo) openForKey(ctx context.Context, keyID string, forUpdate bool) (*models.Transaction, error) {
	q := r.DB.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var txn models.Transaction
	err := q.Where("key_id = ? AND return_date IS NULL", keyID).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
