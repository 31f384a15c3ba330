package controllers

import (
	"net/http"
	"strings"

	"lab_key_tracker/app"
	"lab_key_tracker/auth"
	"lab_key_tracker/db"
	"lab_key_tracker/models"

	"github.com/gin-gonic/gin"
)

type TeacherAdminController struct{ *Srv }

func NewTeacherAdminController(s *Srv) *TeacherAdminController {
	return &TeacherAdminController{Srv: s}
}

type teacherBody struct {
	ID         string  `json:"id"`
	Name       *string `json:"name" binding:"omitempty,max=255"`
	Department *string `json:"department" binding:"omitempty,max=255"`
	PhotoURL   *string `json:"photoUrl" binding:"omitempty,max=1024"`
	Password   string  `json:"password"`
}

// POST /api/admin/teachers {id, name, department, photoUrl, password}
func (tc *TeacherAdminController) Create(c *gin.Context) {
	var in teacherBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" || in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		badRequest(c, "id and name are required")
		return
	}
	t := &models.Teacher{
		ID:         in.ID,
		Name:       strings.TrimSpace(*in.Name),
		Department: optional(in.Department),
		PhotoURL:   optional(in.PhotoURL),
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		t.PasswordHash = &hash
	}
	if err := tc.Repo.CreateTeacher(c.Request.Context(), t); err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// GET /api/admin/teachers?q=&page=&size=
func (tc *TeacherAdminController) List(c *gin.Context) {
	page, size := pageParams(c)
	res, err := tc.Repo.ListTeachers(c.Request.Context(), c.Query("q"), page, size)
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/admin/teachers/:id
func (tc *TeacherAdminController) Get(c *gin.Context) {
	t, err := tc.Repo.FindTeacher(c.Request.Context(), c.Param("id"))
	if err != nil {
		tc.fail(c, err)
		return
	}
	open, err := tc.Repo.OpenForTeacher(c.Request.Context(), t.ID, tc.now())
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"teacher": t, "hasPassword": t.HasPassword(), "open": open})
}

// PUT /api/admin/teachers/:id {name?, department?, photoUrl?}
func (tc *TeacherAdminController) Update(c *gin.Context) {
	var in teacherBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		badRequest(c, "name must not be blank")
		return
	}
	t, err := tc.Repo.UpdateTeacher(c.Request.Context(), c.Param("id"), db.TeacherPatch{
		Name: in.Name, Department: in.Department, PhotoURL: in.PhotoURL,
	})
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// PUT /api/admin/teachers/:id/password {password}
func (tc *TeacherAdminController) SetPassword(c *gin.Context) {
	var in struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := tc.Repo.SetTeacherPassword(c.Request.Context(), c.Param("id"), hash); err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// DELETE /api/admin/teachers/:id
func (tc *TeacherAdminController) Delete(c *gin.Context) {
	if err := tc.Checkout.DeleteTeacher(c.Request.Context(), c.Param("id")); err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}
