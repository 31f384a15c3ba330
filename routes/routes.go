package routes

import (
	"context"
	"net/http"
	"time"

	"lab_key_tracker/app"
	"lab_key_tracker/controllers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	// 控制器与依赖
	s := controllers.GetSrv(a)
	checkoutCtl := controllers.NewCheckoutController(s)
	teacherCtl := controllers.NewTeacherController(s)
	keyAdmin := controllers.NewKeyAdminController(s)
	teacherAdmin := controllers.NewTeacherAdminController(s)
	txnCtl := controllers.NewTransactionController(s)
	importCtl := controllers.NewImportController(s)
	operatorCtl := controllers.NewOperatorController(s)
	inviteCtl := controllers.GetInviteController(s)

	// 复用的中间件
	teacherMW := app.TeacherAuth(a.Tokens)
	kioskMW := app.NewIPLimiter(a.Config.KioskRatePerMinute).Middleware()

	r.GET("/healthz", func(c *app.Ctx) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.Repo.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, app.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, app.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ------------------------------
	// 教师：登录 + 自助借还
	// ------------------------------
	r.POST("/api/auth/teacher/login", kioskMW, teacherCtl.Login)

	me := r.Group("/api/me", teacherMW)
	{
		me.GET("", teacherCtl.Me)
		me.GET("/borrows", teacherCtl.MyBorrows)
		me.GET("/history", teacherCtl.MyHistory)
	}
	keys := r.Group("/api/keys", teacherMW)
	{
		keys.GET("", checkoutCtl.ListKeys)
		keys.POST("/:keyId/borrow", checkoutCtl.Borrow)
		keys.POST("/:keyId/return", checkoutCtl.Return)
	}

	// ------------------------------
	// 自助终端（公开，限流）
	// ------------------------------
	kiosk := r.Group("/api/kiosk", kioskMW)
	{
		kiosk.GET("/keys", checkoutCtl.KioskKeys)
		kiosk.POST("/borrow", checkoutCtl.KioskBorrow)
		kiosk.POST("/return", checkoutCtl.KioskReturn)
	}

	if a.Sessions == nil {
		// operator surfaces need Redis-backed sessions
		return
	}
	authMW := app.AuthRequired(a.Sessions, a.Repo, a.Config)
	adminMW := app.AdminOnly()
	seenMW := app.TouchLastSeen(a.Repo, a.RDB, 5*time.Minute, a.Log)

	// ------------------------------
	// WebAuthn（公开+受保护）
	// ------------------------------
	wa := r.Group("/webauthn")
	{
		wa.POST("/register/begin", s.BeginRegistration)
		wa.POST("/register/finish", s.FinishRegistration)
		wa.POST("/login/begin", s.BeginLogin)
		wa.POST("/login/finish", s.FinishLogin)
	}
	waAuth := wa.Group("", authMW, seenMW)
	{
		waAuth.GET("/whoami", s.WhoAmI)
		waAuth.POST("/logout", s.Logout)
	}

	// 已登录操作员添加新凭据
	creds := r.Group("/api/credentials", authMW, seenMW)
	{
		creds.POST("/add/begin", s.BeginAddCredential)
		creds.POST("/add/finish", s.FinishAddCredential)
	}

	// ------------------------------
	// 管理（仅管理员）
	// ------------------------------
	invites := r.Group("/admin", authMW, adminMW)
	{
		invites.POST("/invites", inviteCtl.CreateInvite)
	}

	operators := r.Group("/api/operators", authMW, seenMW, adminMW)
	{
		operators.GET("", operatorCtl.List)
		operators.GET("/:id", operatorCtl.Get)
		operators.PUT("/:id/admin", operatorCtl.SetAdmin)
		operators.DELETE("/:id", operatorCtl.Delete)
	}

	admin := r.Group("/api/admin", authMW, seenMW, adminMW)
	{
		admin.GET("/keys", keyAdmin.List)
		admin.POST("/keys", keyAdmin.Create)
		admin.GET("/keys/:keyId", keyAdmin.Get)
		admin.PUT("/keys/:keyId", keyAdmin.Update)
		admin.DELETE("/keys/:keyId", keyAdmin.Delete)
		admin.POST("/keys/:keyId/return", checkoutCtl.AdminReturn)

		admin.GET("/teachers", teacherAdmin.List)
		admin.POST("/teachers", teacherAdmin.Create)
		admin.GET("/teachers/:id", teacherAdmin.Get)
		admin.PUT("/teachers/:id", teacherAdmin.Update)
		admin.PUT("/teachers/:id/password", teacherAdmin.SetPassword)
		admin.DELETE("/teachers/:id", teacherAdmin.Delete)

		admin.GET("/transactions", txnCtl.List)
		admin.DELETE("/transactions/:id", txnCtl.Delete)
		admin.GET("/overrides", txnCtl.Overrides)
		admin.GET("/dashboard", txnCtl.Dashboard)
		admin.GET("/events", txnCtl.Feed)

		admin.POST("/import/keys", importCtl.Keys)
		admin.POST("/import/teachers", importCtl.Teachers)
		admin.GET("/export/transactions", txnCtl.Export)
	}
}
