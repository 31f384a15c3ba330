package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type KeyAdminController struct{ *Srv }

func NewKeyAdminController(s *Srv) *KeyAdminController { return &KeyAdminController{Srv: s} }

// POST /api/admin/keys {keyId, lab}
func (kc *KeyAdminController) Create(c *gin.Context) {
	var in struct {
		KeyID string `json:"keyId" binding:"required,max=64"`
		Lab   string `json:"lab" binding:"required,max=255"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(in.KeyID) == "" || strings.TrimSpace(in.Lab) == "" {
		badRequest(c, "keyId and lab must not be blank")
		return
	}
	k, err := kc.Repo.CreateKey(c.Request.Context(), in.KeyID, in.Lab)
	if err != nil {
		kc.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, k)
}

// GET /api/admin/keys/:keyId
func (kc *KeyAdminController) Get(c *gin.Context) {
	k, err := kc.Repo.FindKey(c.Request.Context(), c.Param("keyId"))
	if err != nil {
		kc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

// PUT /api/admin/keys/:keyId {lab}
// Status is never editable here; only the checkout lifecycle moves it.
func (kc *KeyAdminController) Update(c *gin.Context) {
	var in struct {
		Lab string `json:"lab" binding:"required,max=255"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	k, err := kc.Repo.UpdateKeyLab(c.Request.Context(), c.Param("keyId"), strings.TrimSpace(in.Lab))
	if err != nil {
		kc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

// DELETE /api/admin/keys/:keyId
func (kc *KeyAdminController) Delete(c *gin.Context) {
	if err := kc.Checkout.DeleteKey(c.Request.Context(), c.Param("keyId")); err != nil {
		kc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// List is the full key listing, borrower ids included.
func (kc *KeyAdminController) List(c *gin.Context) {
	if res, ok := NewCheckoutController(kc.Srv).queryKeys(c); ok {
		c.JSON(http.StatusOK, res)
	}
}

