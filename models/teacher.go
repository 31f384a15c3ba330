// models/teacher.go
package models

import "time"

const TeacherTable = "lk_teachers"

type Teacher struct {
	ID         string  `gorm:"primaryKey;size:64" json:"id"`
	Name       string  `gorm:"size:200;not null;index" json:"name"`
	Department *string `gorm:"size:200" json:"department"`
	PhotoURL   *string `gorm:"column:photo_url;size:500" json:"photoUrl"`

	// 为空表示只能走 kiosk，不能用密码登录
	PasswordHash *string `gorm:"size:100" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Teacher) TableName() string { return TeacherTable }

func (t Teacher) HasPassword() bool { return t.PasswordHash != nil && *t.PasswordHash != "" }
