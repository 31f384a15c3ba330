// controllers/checkout_controller.go
package controllers

import (
	"net/http"
	"strings"

	"lab_key_tracker/app"
	"lab_key_tracker/db"

	"github.com/gin-gonic/gin"
)

// CheckoutController serves the three borrow/return surfaces: signed-in teachers,
// the shared kiosk and admins returning on someone's behalf.
type CheckoutController struct{ *Srv }

func NewCheckoutController(s *Srv) *CheckoutController { return &CheckoutController{Srv: s} }

type borrowBody struct {
	Purpose *string `json:"purpose" binding:"omitempty,max=255"`
}

type returnBody struct {
	Remarks *string `json:"remarks" binding:"omitempty,max=255"`
}

func (cc *CheckoutController) queryKeys(c *gin.Context) (*db.PagedKeys, bool) {
	page, size := pageParams(c)
	status := c.Query("status")
	switch status {
	case "", "available", "borrowed", "overdue":
	default:
		badRequest(c, "status must be available, borrowed or overdue")
		return nil, false
	}
	res, err := cc.Repo.ListKeys(c.Request.Context(), db.KeysQuery{
		Q: c.Query("q"), Status: status, Now: cc.now(), Page: page, Size: size,
	})
	if err != nil {
		cc.fail(c, err)
		return nil, false
	}
	return res, true
}

// 列表（含是否可借、当前借用人姓名）
// GET /api/keys?q=&status=available|borrowed|overdue&page=&size=
func (cc *CheckoutController) ListKeys(c *gin.Context) {
	if res, ok := cc.queryKeys(c); ok {
		c.JSON(http.StatusOK, res.Public(c.GetString(app.CtxTeacherID)))
	}
}

// GET /api/kiosk/keys, anonymous
func (cc *CheckoutController) KioskKeys(c *gin.Context) {
	if res, ok := cc.queryKeys(c); ok {
		c.JSON(http.StatusOK, res.Public(""))
	}
}

// POST /api/keys/:keyId/borrow
func (cc *CheckoutController) Borrow(c *gin.Context) {
	var in borrowBody
	if err := c.ShouldBindJSON(&in); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, err.Error())
		return
	}
	txn, err := cc.Checkout.Borrow(c.Request.Context(), c.Param("keyId"), c.GetString(app.CtxTeacherID), optional(in.Purpose))
	if err != nil {
		cc.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// POST /api/keys/:keyId/return
func (cc *CheckoutController) Return(c *gin.Context) {
	var in returnBody
	if err := c.ShouldBindJSON(&in); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, err.Error())
		return
	}
	txn, err := cc.Checkout.Return(c.Request.Context(), c.Param("keyId"), c.GetString(app.CtxTeacherID), optional(in.Remarks))
	if err != nil {
		cc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type kioskBody struct {
	KeyID     string  `json:"keyId" binding:"required"`
	TeacherID string  `json:"teacherId" binding:"required"`
	Purpose   *string `json:"purpose" binding:"omitempty,max=255"`
	Remarks   *string `json:"remarks" binding:"omitempty,max=255"`
}

func bindKiosk(c *gin.Context) (*kioskBody, bool) {
	var in kioskBody
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	in.KeyID = strings.TrimSpace(in.KeyID)
	in.TeacherID = strings.TrimSpace(in.TeacherID)
	if in.KeyID == "" || in.TeacherID == "" {
		badRequest(c, "keyId and teacherId are required")
		return nil, false
	}
	return &in, true
}

// POST /api/kiosk/borrow {keyId, teacherId, purpose}
func (cc *CheckoutController) KioskBorrow(c *gin.Context) {
	in, ok := bindKiosk(c)
	if !ok {
		return
	}
	txn, err := cc.Checkout.Borrow(c.Request.Context(), in.KeyID, in.TeacherID, optional(in.Purpose))
	if err != nil {
		cc.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// POST /api/kiosk/return {keyId, teacherId, remarks}
func (cc *CheckoutController) KioskReturn(c *gin.Context) {
	in, ok := bindKiosk(c)
	if !ok {
		return
	}
	txn, err := cc.Checkout.Return(c.Request.Context(), in.KeyID, in.TeacherID, optional(in.Remarks))
	if err != nil {
		cc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// POST /api/admin/keys/:keyId/return
func (cc *CheckoutController) AdminReturn(c *gin.Context) {
	var in returnBody
	if err := c.ShouldBindJSON(&in); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, err.Error())
		return
	}
	txn, err := cc.Checkout.AdminReturn(c.Request.Context(), c.Param("keyId"), c.GetString(app.CtxOperatorID), optional(in.Remarks))
	if err != nil {
		cc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}
