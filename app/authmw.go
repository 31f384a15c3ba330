package app

import (
	"errors"
	"net/http"
	"strings"

	"lab_key_tracker/auth"
	"lab_key_tracker/config"
	"lab_key_tracker/db"
	"lab_key_tracker/session"

	"github.com/gin-gonic/gin"
)

const AppSessionCookie = "app_session"

// Context keys set by the middlewares below.
const (
	CtxOperatorID = "operatorID"
	CtxUsername   = "username"
	CtxIsAdmin    = "isAdmin"
	CtxTeacherID  = "teacherID"
)

// AuthRequired resolves the operator session cookie. The admin flag comes from the
// stored operator or ADMIN_EMAILS, never from the request.
func AuthRequired(sessions session.Store, repo *db.Repo, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ck, err := c.Request.Cookie(AppSessionCookie)
		if err != nil || ck.Value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		sess, err := sessions.Get(c.Request.Context(), ck.Value)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid session"})
			return
		}

		// 确认操作员仍存在
		op, err := repo.FindOperatorByID(c.Request.Context(), sess.OperatorID)
		if err != nil {
			if errors.Is(err, db.ErrOperatorNotFound) {
				_ = sessions.Delete(c.Request.Context(), ck.Value)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		c.Set(CtxOperatorID, op.ID)
		c.Set(CtxUsername, op.Username)
		c.Set(CtxIsAdmin, op.IsAdmin || cfg.IsAdminEmail(op.Username))
		c.Next()
	}
}

// AdminOnly must run after AuthRequired.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(CtxIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// TeacherAuth accepts "Authorization: Bearer <jwt>" issued by the teacher login.
func TeacherAuth(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "missing bearer token"})
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid token"})
			return
		}
		c.Set(CtxTeacherID, claims.TeacherID)
		c.Next()
	}
}
