package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"lab_key_tracker/models"

	"gorm.io/gorm"
)

var ErrInviteUsed = errors.New("invite already used or not found")

func (r *Repo) CreateInvite(ctx context.Context, email, token string, expiresAt time.Time, createdBy string) (*models.Invite, error) {
	inv := &models.Invite{
		Email:     strings.ToLower(email),
		Token:     token,
		AsAdmin:   true,
		ExpiresAt: expiresAt,
		CreatedBy: createdBy,
	}
	return inv, r.DB.WithContext(ctx).Create(inv).Error
}

// GetUsableInvite returns the invite only while it is unused and unexpired.
func (r *Repo) GetUsableInvite(ctx context.Context, token string, now time.Time) (*models.Invite, error) {
	var inv models.Invite
	if err := r.DB.WithContext(ctx).Where("token = ?", token).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteUsed
		}
		return nil, storeErr(err)
	}
	if !inv.Usable(now) {
		return nil, ErrInviteUsed
	}
	return &inv, nil
}

func (r *Repo) MarkInviteUsed(ctx context.Context, token string) error {
	now := time.Now().UTC()
	res := r.DB.WithContext(ctx).Model(&models.Invite{}).
		Where("token = ? AND used_at IS NULL", token).
		Update("used_at", &now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInviteUsed
	}
	return nil
}
