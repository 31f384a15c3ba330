package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"lab_key_tracker/models"

	"gorm.io/gorm"
)

type Repo struct{ DB *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{DB: db} }

// WithTx returns a repo bound to tx so lookups compose into the caller's unit of work.
func (r *Repo) WithTx(tx *gorm.DB) *Repo { return &Repo{DB: tx} }

// Ping checks the store is reachable.
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return storeErr(sqlDB.PingContext(ctx))
}

// Operators

func (r *Repo) TouchOperatorLogin(ctx context.Context, operatorID, ip, ua string) error {
	now := time.Now().UTC()
	return r.DB.WithContext(ctx).Model(&models.Operator{}).
		Where("id = ?", operatorID).
		Updates(map[string]any{
			"last_login_at": now,
			"last_seen_at":  now,
			"login_count":   gorm.Expr("COALESCE(login_count, 0) + 1"),
			"last_login_ip": ip,
			"last_login_ua": ua,
		}).Error
}

func (r *Repo) TouchOperatorSeen(ctx context.Context, operatorID string) error {
	return r.DB.WithContext(ctx).Model(&models.Operator{}).
		Where("id = ?", operatorID).
		Update("last_seen_at", time.Now().UTC()).Error
}

func (r *Repo) FindOperatorByID(ctx context.Context, id string) (*models.Operator, error) {
	var o models.Operator
	if err := r.DB.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrOperatorNotFound)
	}
	return &o, nil
}

func (r *Repo) FindOperatorByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var o models.Operator
	if err := r.DB.WithContext(ctx).Where("username = ?", strings.ToLower(username)).First(&o).Error; err != nil {
		return nil, notFound(err, ErrOperatorNotFound)
	}
	return &o, nil
}

// FindOrCreateOperator is used by invite registration; the username is the invited email.
func (r *Repo) FindOrCreateOperator(ctx context.Context, username, newID string, isAdmin bool) (*models.Operator, error) {
	username = strings.ToLower(username)
	var o models.Operator
	err := r.DB.WithContext(ctx).Where("username = ?", username).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		o = models.Operator{ID: newID, Username: username, DisplayName: username, IsAdmin: isAdmin}
		if err := r.DB.WithContext(ctx).Create(&o).Error; err != nil {
			return nil, err
		}
		return &o, nil
	}
	return &o, err
}

type ListOperatorsResult struct {
	Operators []models.Operator `json:"operators"`
	Total     int64             `json:"total"`
}

// 分页 + 关键词（用户名/显示名）
func (r *Repo) ListOperators(ctx context.Context, q string, page, size int) (ListOperatorsResult, error) {
	page, size = pageBounds(page, size, 100)

	tx := r.DB.WithContext(ctx).Model(&models.Operator{})
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		tx = tx.Where("LOWER(username) LIKE ? OR LOWER(display_name) LIKE ?", like, like)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return ListOperatorsResult{}, err
	}
	var ops []models.Operator
	if err := tx.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&ops).Error; err != nil {
		return ListOperatorsResult{}, err
	}
	return ListOperatorsResult{Operators: ops, Total: total}, nil
}

// DeleteOperatorByID removes the operator and its passkeys together.
func (r *Repo) DeleteOperatorByID(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("operator_id = ?", id).Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Operator{ID: id})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOperatorNotFound
		}
		return nil
	})
}

func (r *Repo) SetOperatorAdmin(ctx context.Context, operatorID string, isAdmin bool) error {
	return r.DB.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", operatorID).
		Update("is_admin", isAdmin).Error
}

func (r *Repo) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.Operator{}).
		Where("is_admin = ?", true).
		Count(&n).Error
	return n, err
}

// Credentials

func (r *Repo) LoadOperatorCredentials(ctx context.Context, operatorID string) ([]models.Credential, error) {
	var cs []models.Credential
	if err := r.DB.WithContext(ctx).Where("operator_id = ?", operatorID).Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

func (r *Repo) AddCredential(ctx context.Context, c *models.Credential) error {
	return r.DB.WithContext(ctx).Create(c).Error
}

func (r *Repo) UpdateCredentialUse(ctx context.Context, credID []byte, newCount uint32, cloneWarn bool) error {
	return r.DB.WithContext(ctx).Model(&models.Credential{}).
		Where("credential_id = ?", credID).
		Updates(map[string]any{
			"sign_count":    newCount,
			"clone_warning": cloneWarn,
			"last_used_at":  time.Now().UTC(),
		}).Error
}

func (r *Repo) FindOperatorByCredentialID(ctx context.Context, credID []byte) (*models.Operator, error) {
	var c models.Credential
	if err := r.DB.WithContext(ctx).Where("credential_id = ?", credID).First(&c).Error; err != nil {
		return nil, notFound(err, ErrOperatorNotFound)
	}
	return r.FindOperatorByID(ctx, c.OperatorID)
}

func pageBounds(page, size, max int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > max {
		size = 20
	}
	return page, size
}
