package controllers

import (
	"net/http"

	"lab_key_tracker/app"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OperatorController struct{ *Srv }

func NewOperatorController(s *Srv) *OperatorController { return &OperatorController{Srv: s} }

// GET /api/operators?q=alice&page=1&size=20
func (oc *OperatorController) List(c *gin.Context) {
	page, size := pageParams(c)
	res, err := oc.Repo.ListOperators(c.Request.Context(), c.Query("q"), page, size)
	if err != nil {
		oc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/operators/:id
func (oc *OperatorController) Get(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		badRequest(c, "invalid uuid")
		return
	}
	op, err := oc.Repo.FindOperatorByID(c.Request.Context(), id)
	if err != nil {
		oc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"operator": op})
}

// PUT /api/operators/:id/admin {isAdmin}
func (oc *OperatorController) SetAdmin(c *gin.Context) {
	var in struct {
		IsAdmin *bool `json:"isAdmin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	id := c.Param("id")
	if id == c.GetString(app.CtxOperatorID) && !*in.IsAdmin {
		badRequest(c, "cannot revoke your own admin role")
		return
	}
	if _, err := oc.Repo.FindOperatorByID(c.Request.Context(), id); err != nil {
		oc.fail(c, err)
		return
	}
	if err := oc.Repo.SetOperatorAdmin(c.Request.Context(), id, *in.IsAdmin); err != nil {
		oc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// DELETE /api/operators/:id
func (oc *OperatorController) Delete(c *gin.Context) {
	id := c.Param("id")
	// 不允许删除自己，避免锁死
	if id == c.GetString(app.CtxOperatorID) {
		badRequest(c, "cannot delete yourself")
		return
	}
	target, err := oc.Repo.FindOperatorByID(c.Request.Context(), id)
	if err != nil {
		oc.fail(c, err)
		return
	}
	if oc.Cfg.IsAdminEmail(target.Username) {
		c.JSON(http.StatusForbidden, app.H{"error": "cannot delete a configured admin"})
		return
	}
	if err := oc.Repo.DeleteOperatorByID(c.Request.Context(), id); err != nil {
		oc.fail(c, err)
		return
	}
	// 撤销该操作员的所有登录会话
	if err := oc.Sessions.RevokeAll(c.Request.Context(), id); err != nil {
		oc.Log.Warn("revoke sessions", zap.String("operator", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}
