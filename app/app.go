package app

import (
	"context"
	"fmt"
	"time"

	"lab_key_tracker/auth"
	"lab_key_tracker/checkout"
	"lab_key_tracker/config"
	"lab_key_tracker/db"
	"lab_key_tracker/notify"
	"lab_key_tracker/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 简化别名，便于 handlers 调用
type Ctx = gin.Context
type H = gin.H

// App 聚合各依赖
type App struct {
	Router *gin.Engine
	DB     *gorm.DB
	RDB    *redis.Client
	WA     *webauthn.WebAuthn
	Config config.Config
	Log    *zap.Logger

	Repo      *db.Repo
	Checkout  *checkout.Coordinator
	Bus       *notify.Bus
	Dashboard *notify.DashboardCache
	Sweeper   *checkout.Sweeper
	Tokens    *auth.Tokens

	Sessions   session.Store
	Ceremonies *session.Ceremonies
}

// New connects the store and Redis and wires every component.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.SMTP.AppName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}

	repo := db.NewRepo(gdb)
	dash := notify.NewDashboardCache(rdb, 30*time.Second)
	bus := notify.NewBus(rdb, dash, log)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(RequestLogger(log), gin.Recovery())
	useCORS(r, append([]string{cfg.WebOrigin}, cfg.RPOrigins...)...)

	return &App{
		Router: r, DB: gdb, RDB: rdb, WA: wa, Config: cfg, Log: log,
		Repo: repo,
		Checkout: checkout.New(repo, bus, log, checkout.Options{
			Timeout:    cfg.Checkout.Timeout,
			MaxRetries: cfg.Checkout.MaxRetries,
		}),
		Bus:        bus,
		Dashboard:  dash,
		Sweeper:    checkout.NewSweeper(repo, notify.NewMarker(rdb), bus, log, cfg.OverdueSweep),
		Tokens:     auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL),
		Sessions:   session.NewOperatorSessions(rdb, cfg.AppSessionTTL),
		Ceremonies: session.NewCeremonies(rdb, cfg.SessionTTL),
	}, nil
}

func (a *App) Close() {
	if a.RDB != nil {
		_ = a.RDB.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// 新操作员 ID；其 16 字节形式即 WebAuthn userHandle
func NewOperatorID() string { return uuid.NewString() }
