package controllers

import (
	"errors"
	"net/http"
	"strings"

	"lab_key_tracker/app"
	"lab_key_tracker/auth"
	"lab_key_tracker/db"

	"github.com/gin-gonic/gin"
)

type TeacherController struct{ *Srv }

func NewTeacherController(s *Srv) *TeacherController { return &TeacherController{Srv: s} }

// POST /api/auth/teacher/login {teacherId, password}
func (tc *TeacherController) Login(c *gin.Context) {
	var in struct {
		TeacherID string `json:"teacherId" binding:"required"`
		Password  string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := tc.Repo.FindTeacher(c.Request.Context(), strings.TrimSpace(in.TeacherID))
	if errors.Is(err, db.ErrTeacherNotFound) {
		err = auth.ErrBadCredentials
	}
	if err == nil {
		err = auth.CheckPassword(t.PasswordHash, in.Password)
	}
	if errors.Is(err, auth.ErrBadCredentials) {
		c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
		return
	}
	if err != nil {
		tc.fail(c, err)
		return
	}

	token, exp, err := tc.Tokens.Issue(t.ID)
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"token": token, "expiresAt": exp, "teacher": t})
}

// GET /api/me
func (tc *TeacherController) Me(c *gin.Context) {
	t, err := tc.Repo.FindTeacher(c.Request.Context(), c.GetString(app.CtxTeacherID))
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"teacher": t})
}

// GET /api/me/borrows  我手上正在借着的钥匙
func (tc *TeacherController) MyBorrows(c *gin.Context) {
	rows, err := tc.Repo.OpenForTeacher(c.Request.Context(), c.GetString(app.CtxTeacherID), tc.now())
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": rows})
}

// GET /api/me/history?status=&page=&size=
func (tc *TeacherController) MyHistory(c *gin.Context) {
	page, size := pageParams(c)
	res, err := tc.Repo.ListTransactions(c.Request.Context(), db.TransactionQuery{
		Status:    c.Query("status"),
		TeacherID: c.GetString(app.CtxTeacherID),
		Now:       tc.now(),
		Page:      page,
		Size:      size,
	})
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
