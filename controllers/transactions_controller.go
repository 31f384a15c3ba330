// controllers/transactions_controller.go
package controllers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"lab_key_tracker/app"
	"lab_key_tracker/db"
	"lab_key_tracker/importer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TransactionController struct{ *Srv }

func NewTransactionController(s *Srv) *TransactionController {
	return &TransactionController{Srv: s}
}

func (tc *TransactionController) query(c *gin.Context) (db.TransactionQuery, bool) {
	q := db.TransactionQuery{
		Status:    c.Query("status"),
		KeyID:     c.Query("keyId"),
		TeacherID: c.Query("teacherId"),
		Now:       tc.now(),
	}
	switch q.Status {
	case "", "open", "returned", "overdue":
	default:
		badRequest(c, "status must be open, returned or overdue")
		return q, false
	}
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			t, err = time.Parse(time.DateOnly, v)
		}
		if err != nil {
			badRequest(c, fmt.Sprintf("%s must be RFC3339 or YYYY-MM-DD", name))
			return q, false
		}
		t = t.UTC()
		*dst = &t
	}
	return q, true
}

// GET /api/admin/transactions?status=&keyId=&teacherId=&from=&to=&page=&size=
func (tc *TransactionController) List(c *gin.Context) {
	q, ok := tc.query(c)
	if !ok {
		return
	}
	q.Page, q.Size = pageParams(c)
	res, err := tc.Repo.ListTransactions(c.Request.Context(), q)
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DELETE /api/admin/transactions/:id {reason}
func (tc *TransactionController) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid transaction id")
		return
	}
	var in struct {
		Reason *string `json:"reason" binding:"omitempty,max=255"`
	}
	if err := c.ShouldBindJSON(&in); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, err.Error())
		return
	}
	actor := db.OverrideActor{ID: c.GetString(app.CtxOperatorID), Username: c.GetString(app.CtxUsername)}
	if err := tc.Checkout.AdminDelete(c.Request.Context(), uint(id), actor, optional(in.Reason)); err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /api/admin/overrides?limit=
func (tc *TransactionController) Overrides(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := tc.Repo.ListOverrideLogs(c.Request.Context(), limit)
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": logs})
}

// GET /api/admin/dashboard
func (tc *TransactionController) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	if tc.DashCache != nil {
		if s, err := tc.DashCache.Get(ctx); err == nil && s != nil {
			c.JSON(http.StatusOK, s)
			return
		} else if err != nil {
			tc.Log.Debug("dashboard cache", zap.Error(err))
		}
	}
	s, err := tc.Repo.Dashboard(ctx, tc.now())
	if err != nil {
		tc.fail(c, err)
		return
	}
	if tc.DashCache != nil {
		if err := tc.DashCache.Set(ctx, s); err != nil {
			tc.Log.Debug("dashboard cache", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, s)
}

// GET /api/admin/export/transactions
// Same filters as List, without paging.
func (tc *TransactionController) Export(c *gin.Context) {
	q, ok := tc.query(c)
	if !ok {
		return
	}
	res, err := tc.Repo.ListTransactions(c.Request.Context(), q)
	if err != nil {
		tc.fail(c, err)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"key_transactions_%s.xlsx\"",
		q.Now.Format("20060102")))
	if err := importer.WriteLedger(c.Writer, res.Items, time.Local); err != nil {
		tc.Log.Error("export transactions", zap.Error(err))
		_ = c.Error(err)
	}
}

// GET /api/admin/events
// Server-sent events, one per committed change.
func (tc *TransactionController) Feed(c *gin.Context) {
	if tc.Events == nil {
		c.JSON(http.StatusNotImplemented, app.H{"error": "event feed disabled"})
		return
	}
	ctx := c.Request.Context()
	events := tc.Events(ctx)
	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-ping.C:
			c.SSEvent("ping", tc.now())
			return true
		}
	})
}
