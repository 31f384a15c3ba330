// db/repo_teachers.go
package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"lab_key_tracker/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) CreateTeacher(ctx context.Context, t *models.Teacher) error {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	if err := r.DB.WithContext(ctx).Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return storeErr(err)
	}
	return nil
}

func (r *Repo) FindTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	var t models.Teacher
	if err := r.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, storeErr(notFound(err, ErrTeacherNotFound))
	}
	return &t, nil
}

// lockTeacher takes a row lock of the given strength ("SHARE" for borrowers, "UPDATE"
// for deletes) so a borrow and a teacher delete cannot interleave.
func (r *Repo) lockTeacher(ctx context.Context, id, strength string) (*models.Teacher, error) {
	var t models.Teacher
	if err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: strength}).
		First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrTeacherNotFound)
	}
	return &t, nil
}

// TeacherPatch carries the fields an admin may edit; nil means unchanged.
type TeacherPatch struct {
	Name       *string
	Department *string
	PhotoURL   *string
}

func (r *Repo) UpdateTeacher(ctx context.Context, id string, p TeacherPatch) (*models.Teacher, error) {
	upd := map[string]any{"updated_at": time.Now().UTC()}
	if p.Name != nil {
		upd["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Department != nil {
		upd["department"] = emptyToNil(*p.Department)
	}
	if p.PhotoURL != nil {
		upd["photo_url"] = emptyToNil(*p.PhotoURL)
	}
	res := r.DB.WithContext(ctx).Model(&models.Teacher{}).Where("id = ?", id).Updates(upd)
	if res.Error != nil {
		return nil, storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrTeacherNotFound
	}
	return r.FindTeacher(ctx, id)
}

func (r *Repo) SetTeacherPassword(ctx context.Context, id, hash string) error {
	res := r.DB.WithContext(ctx).Model(&models.Teacher{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTeacherNotFound
	}
	return nil
}

// UpsertTeacher creates the teacher or refreshes name/department/photo.
func (r *Repo) UpsertTeacher(ctx context.Context, t *models.Teacher) (created bool, err error) {
	_, err = r.FindTeacher(ctx, t.ID)
	switch {
	case errors.Is(err, ErrTeacherNotFound):
		return true, r.CreateTeacher(ctx, t)
	case err != nil:
		return false, err
	}
	name := t.Name
	p := TeacherPatch{Name: &name, Department: t.Department, PhotoURL: t.PhotoURL}
	if _, err := r.UpdateTeacher(ctx, t.ID, p); err != nil {
		return false, err
	}
	if t.PasswordHash != nil {
		return false, r.SetTeacherPassword(ctx, t.ID, *t.PasswordHash)
	}
	return false, nil
}

type TeacherRow struct {
	models.Teacher
	OpenCount int64 `json:"openCount"`
}

type PagedTeachers struct {
	Total int64        `json:"total"`
	Items []TeacherRow `json:"items"`
}

func (r *Repo) ListTeachers(ctx context.Context, q string, page, size int) (*PagedTeachers, error) {
	page, size = pageBounds(page, size, 200)

	tx := r.DB.WithContext(ctx).Model(&models.Teacher{})
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		tx = tx.Where("LOWER(id) LIKE ? OR LOWER(name) LIKE ? OR LOWER(COALESCE(department, '')) LIKE ?", like, like, like)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, storeErr(err)
	}
	var ts []models.Teacher
	if err := tx.Order("name ASC").Offset((page - 1) * size).Limit(size).Find(&ts).Error; err != nil {
		return nil, storeErr(err)
	}

	counts := map[string]int64{}
	if len(ts) > 0 {
		ids := make([]string, 0, len(ts))
		for _, t := range ts {
			ids = append(ids, t.ID)
		}
		var agg []struct {
			TeacherID string
			N         int64
		}
		if err := r.DB.WithContext(ctx).Model(&models.Transaction{}).
			Select("teacher_id, COUNT(*) AS n").
			Where("teacher_id IN ? AND return_date IS NULL", ids).
			Group("teacher_id").
			Scan(&agg).Error; err != nil {
			return nil, storeErr(err)
		}
		for _, a := range agg {
			counts[a.TeacherID] = a.N
		}
	}

	rows := make([]TeacherRow, 0, len(ts))
	for _, t := range ts {
		rows = append(rows, TeacherRow{Teacher: t, OpenCount: counts[t.ID]})
	}
	return &PagedTeachers{Total: total, Items: rows}, nil
}

func emptyToNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
