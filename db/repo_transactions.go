// db/repo_transactions.go
package db

import (
	"context"
	"time"

	"lab_key_tracker/models"
	"lab_key_tracker/overdue"

	"gorm.io/gorm"
)

// TransactionRow is the ledger view shared by "my borrows", the admin table, the
// dashboard and the export.
type TransactionRow struct {
	ID          uint       `json:"id"`
	KeyID       string     `json:"keyId"`
	Lab         *string    `json:"lab"`
	TeacherID   string     `json:"teacherId"`
	TeacherName *string    `json:"teacherName"`
	Department  *string    `json:"department"`
	BorrowDate  time.Time  `json:"borrowDate"`
	ReturnDate  *time.Time `json:"returnDate"`
	Purpose     *string    `json:"purpose"`
	Remarks     *string    `json:"remarks"`
	ReturnedBy  *string    `json:"returnedBy,omitempty"`
	Overdue     bool       `gorm:"-" json:"overdue"`

	// OverdueSeconds is how far past the threshold an overdue row is.
	OverdueSeconds int64 `gorm:"-" json:"overdueSeconds,omitempty"`
}

type TransactionQuery struct {
	Status    string // "", "open", "returned", "overdue"
	KeyID     string
	TeacherID string
	From      *time.Time // borrow_date >= From
	To        *time.Time // borrow_date < To
	Now       time.Time
	Page      int
	Size      int // 0 with Page 0 means all rows (export)
}

type PagedTransactions struct {
	Total int64            `json:"total"`
	Items []TransactionRow `json:"items"`
}

const transactionRowSelect = `
	t.id, t.key_id, k.lab, t.teacher_id,
	tc.name       AS teacher_name,
	tc.department AS department,
	t.borrow_date, t.return_date, t.purpose, t.remarks, t.returned_by`

func (r *Repo) ledger(ctx context.Context, q TransactionQuery) *gorm.DB {
	tx := r.DB.WithContext(ctx).
		Table(models.TransactionTable+" t").
		Joins("LEFT JOIN "+models.KeyTable+" k ON k.key_id = t.key_id").
		Joins("LEFT JOIN "+models.TeacherTable+" tc ON tc.id = t.teacher_id")
	switch q.Status {
	case "open":
		tx = tx.Where("t.return_date IS NULL")
	case "returned":
		tx = tx.Where("t.return_date IS NOT NULL")
	case "overdue":
		tx = tx.Where("t.return_date IS NULL AND t.borrow_date < ?", overdue.Cutoff(q.Now))
	}
	if q.KeyID != "" {
		tx = tx.Where("t.key_id = ?", q.KeyID)
	}
	if q.TeacherID != "" {
		tx = tx.Where("t.teacher_id = ?", q.TeacherID)
	}
	if q.From != nil {
		tx = tx.Where("t.borrow_date >= ?", *q.From)
	}
	if q.To != nil {
		tx = tx.Where("t.borrow_date < ?", *q.To)
	}
	return tx
}

func (r *Repo) ListTransactions(ctx context.Context, q TransactionQuery) (*PagedTransactions, error) {
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}
	all := q.Page == 0 && q.Size == 0

	var total int64
	if err := r.ledger(ctx, q).Count(&total).Error; err != nil {
		return nil, storeErr(err)
	}

	find := r.ledger(ctx, q).Select(transactionRowSelect).Order("t.borrow_date DESC, t.id DESC")
	if !all {
		page, size := pageBounds(q.Page, q.Size, 200)
		find = find.Offset((page - 1) * size).Limit(size)
	}
	var rows []TransactionRow
	if err := find.Scan(&rows).Error; err != nil {
		return nil, storeErr(err)
	}
	markOverdue(rows, q.Now)
	return &PagedTransactions{Total: total, Items: rows}, nil
}

// OpenForTeacher lists what a teacher currently holds, oldest first.
func (r *Repo) OpenForTeacher(ctx context.Context, teacherID string, now time.Time) ([]TransactionRow, error) {
	var rows []TransactionRow
	if err := r.ledger(ctx, TransactionQuery{Status: "open", TeacherID: teacherID}).
		Select(transactionRowSelect).
		Order("t.borrow_date ASC").
		Scan(&rows).Error; err != nil {
		return nil, storeErr(err)
	}
	markOverdue(rows, now)
	return rows, nil
}

// ListOverdue returns every open transaction past the threshold at now.
func (r *Repo) ListOverdue(ctx context.Context, now time.Time) ([]TransactionRow, error) {
	var rows []TransactionRow
	if err := r.ledger(ctx, TransactionQuery{Status: "overdue", Now: now}).
		Select(transactionRowSelect).
		Order("t.borrow_date ASC").
		Scan(&rows).Error; err != nil {
		return nil, storeErr(err)
	}
	markOverdue(rows, now)
	return rows, nil
}

func (r *Repo) FindTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, storeErr(notFound(err, ErrTransactionNotFound))
	}
	return &t, nil
}

type DashboardSummary struct {
	Keys      int64            `json:"keys"`
	Available int64            `json:"available"`
	Borrowed  int64            `json:"borrowed"`
	Overdue   int64            `json:"overdue"`
	Teachers  int64            `json:"teachers"`
	Open      []TransactionRow `json:"open"`
	At        time.Time        `json:"at"`
}

func (r *Repo) Dashboard(ctx context.Context, now time.Time) (*DashboardSummary, error) {
	s := &DashboardSummary{At: now}
	db := r.DB.WithContext(ctx)

	var byStatus []struct {
		Status models.KeyStatus
		N      int64
	}
	if err := db.Model(&models.Key{}).Select("status, COUNT(*) AS n").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, storeErr(err)
	}
	for _, b := range byStatus {
		s.Keys += b.N
		switch b.Status {
		case models.KeyAvailable:
			s.Available = b.N
		case models.KeyBorrowed:
			s.Borrowed = b.N
		}
	}
	if err := db.Model(&models.Teacher{}).Count(&s.Teachers).Error; err != nil {
		return nil, storeErr(err)
	}
	if err := r.ledger(ctx, TransactionQuery{Status: "overdue", Now: now}).Count(&s.Overdue).Error; err != nil {
		return nil, storeErr(err)
	}

	open, err := r.ListTransactions(ctx, TransactionQuery{Status: "open", Now: now, Page: 1, Size: 200})
	if err != nil {
		return nil, err
	}
	s.Open = open.Items
	return s, nil
}

func (r *Repo) ListOverrideLogs(ctx context.Context, limit int) ([]models.OverrideLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.OverrideLog
	if err := r.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, storeErr(err)
	}
	return logs, nil
}

func markOverdue(rows []TransactionRow, now time.Time) {
	for i := range rows {
		rows[i].Overdue = overdue.Is(rows[i].BorrowDate, rows[i].ReturnDate, now)
		if rows[i].Overdue {
			rows[i].OverdueSeconds = int64(overdue.Since(rows[i].BorrowDate, now) / time.Second)
		}
	}
}

// FindOpenForKey returns the open transaction of the key, or ErrNotBorrowedByCaller
// when the key is not out.
func (r *Repo) FindOpenForKey(ctx context.Context, keyID string) (*models.Transaction, error) {
	t, err := r.openForKey(ctx, keyID, false)
	if err != nil {
		return nil, storeErr(err)
	}
	if t == nil {
		return nil, ErrNotBorrowedByCaller
	}
	return t, nil
}

// LatestForKey returns the most recent transaction of the key.
func (r *Repo) LatestForKey(ctx context.Context, keyID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.DB.WithContext(ctx).
		Where("key_id = ?", keyID).
		Order("borrow_date DESC, id DESC").
		First(&t).Error; err != nil {
		return nil, storeErr(notFound(err, ErrTransactionNotFound))
	}
	return &t, nil
}
