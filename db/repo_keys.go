// db/repo_keys.go
package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"lab_key_tracker/models"
	"lab_key_tracker/overdue"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateKey registers a new key; new keys are always Available.
func (r *Repo) CreateKey(ctx context.Context, keyID, lab string) (*models.Key, error) {
	k := &models.Key{KeyID: strings.TrimSpace(keyID), Lab: strings.TrimSpace(lab), Status: models.KeyAvailable}
	if err := r.DB.WithContext(ctx).Create(k).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, storeErr(err)
	}
	return k, nil
}

func (r *Repo) FindKey(ctx context.Context, keyID string) (*models.Key, error) {
	var k models.Key
	if err := r.DB.WithContext(ctx).First(&k, "key_id = ?", keyID).Error; err != nil {
		return nil, storeErr(notFound(err, ErrKeyNotFound))
	}
	return &k, nil
}

// lockKey reads the key row with FOR UPDATE. Only meaningful inside a transaction.
func (r *Repo) lockKey(ctx context.Context, keyID string) (*models.Key, error) {
	var k models.Key
	if err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&k, "key_id = ?", keyID).Error; err != nil {
		return nil, notFound(err, ErrKeyNotFound)
	}
	return &k, nil
}

// SetKeyStatus is called by the checkout units of work only.
func (r *Repo) SetKeyStatus(ctx context.Context, keyID string, status models.KeyStatus) error {
	res := r.DB.WithContext(ctx).Model(&models.Key{}).
		Where("key_id = ?", keyID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// UpdateKeyLab edits descriptive fields only; status is never touched here.
func (r *Repo) UpdateKeyLab(ctx context.Context, keyID, lab string) (*models.Key, error) {
	res := r.DB.WithContext(ctx).Model(&models.Key{}).
		Where("key_id = ?", keyID).
		Updates(map[string]any{"lab": strings.TrimSpace(lab), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrKeyNotFound
	}
	return r.FindKey(ctx, keyID)
}

// UpsertKey creates the key or refreshes its lab. Used by spreadsheet import.
func (r *Repo) UpsertKey(ctx context.Context, keyID, lab string) (created bool, err error) {
	_, err = r.FindKey(ctx, keyID)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		_, err = r.CreateKey(ctx, keyID, lab)
		return err == nil, err
	case err != nil:
		return false, err
	}
	_, err = r.UpdateKeyLab(ctx, keyID, lab)
	return false, err
}

// KeyRow is a key plus its current open transaction, if any.
type KeyRow struct {
	KeyID     string           `json:"keyId"`
	Lab       string           `json:"lab"`
	Status    models.KeyStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`

	TransactionID *uint      `json:"transactionId,omitempty"`
	BorrowerID    *string    `json:"borrowerId,omitempty"`
	BorrowerName  *string    `json:"borrowerName,omitempty"`
	BorrowDate    *time.Time `json:"borrowDate,omitempty"`
	Purpose       *string    `json:"purpose,omitempty"`
	Overdue       bool       `gorm:"-" json:"overdue"`
}

// PublicKeyRow is the key list shown to teachers and the kiosk. It names the
// borrower but never exposes their id, which is what a return is checked against.
type PublicKeyRow struct {
	KeyID        string           `json:"keyId"`
	Lab          string           `json:"lab"`
	Status       models.KeyStatus `json:"status"`
	BorrowerName *string          `json:"borrowerName,omitempty"`
	BorrowDate   *time.Time       `json:"borrowDate,omitempty"`
	Overdue      bool             `json:"overdue"`

	// Mine is set when viewer holds the key.
	Mine bool `json:"mine,omitempty"`
}

// Public projects the page for viewer; an empty viewer is anonymous.
func (p *PagedKeys) Public(viewer string) *PagedPublicKeys {
	out := &PagedPublicKeys{Total: p.Total, Items: make([]PublicKeyRow, 0, len(p.Items))}
	for _, k := range p.Items {
		out.Items = append(out.Items, PublicKeyRow{
			KeyID:        k.KeyID,
			Lab:          k.Lab,
			Status:       k.Status,
			BorrowerName: k.BorrowerName,
			BorrowDate:   k.BorrowDate,
			Overdue:      k.Overdue,
			Mine:         viewer != "" && k.BorrowerID != nil && *k.BorrowerID == viewer,
		})
	}
	return out
}

type PagedPublicKeys struct {
	Total int64          `json:"total"`
	Items []PublicKeyRow `json:"items"`
}

type KeysQuery struct {
	Q      string    // 模糊搜索：key_id / lab
	Status string    // "", "available", "borrowed", "overdue"
	Now    time.Time // overdue reference time
	Page   int
	Size   int
}

type PagedKeys struct {
	Total int64    `json:"total"`
	Items []KeyRow `json:"items"`
}

func (r *Repo) ListKeys(ctx context.Context, q KeysQuery) (*PagedKeys, error) {
	page, size := pageBounds(q.Page, q.Size, 200)
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}
	cutoff := overdue.Cutoff(q.Now)

	filtered := func() *gorm.DB {
		tx := r.DB.WithContext(ctx).
			Table(models.KeyTable+" k").
			Joins("LEFT JOIN "+models.TransactionTable+" t ON t.key_id = k.key_id AND t.return_date IS NULL").
			Joins("LEFT JOIN "+models.TeacherTable+" tc ON tc.id = t.teacher_id")
		if s := strings.TrimSpace(q.Q); s != "" {
			pat := "%" + strings.ToLower(s) + "%"
			tx = tx.Where("LOWER(k.key_id) LIKE ? OR LOWER(k.lab) LIKE ?", pat, pat)
		}
		switch q.Status {
		case "available":
			tx = tx.Where("k.status = ?", models.KeyAvailable)
		case "borrowed":
			tx = tx.Where("k.status = ?", models.KeyBorrowed)
		case "overdue":
			tx = tx.Where("t.id IS NOT NULL AND t.borrow_date < ?", cutoff)
		}
		return tx
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, storeErr(err)
	}

	var rows []KeyRow
	if err := filtered().
		Select(`
			k.key_id, k.lab, k.status, k.created_at, k.updated_at,
			t.id          AS transaction_id,
			t.teacher_id  AS borrower_id,
			tc.name       AS borrower_name,
			t.borrow_date,
			t.purpose`).
		Order("k.key_id ASC").
		Offset((page - 1) * size).
		Limit(size).
		Scan(&rows).Error; err != nil {
		return nil, storeErr(err)
	}
	for i := range rows {
		if rows[i].BorrowDate != nil {
			rows[i].Overdue = overdue.Is(*rows[i].BorrowDate, nil, q.Now)
		}
	}
	return &PagedKeys{Total: total, Items: rows}, nil
}
