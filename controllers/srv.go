// controllers/srv.go
package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"lab_key_tracker/app"
	"lab_key_tracker/auth"
	"lab_key_tracker/checkout"
	"lab_key_tracker/config"
	"lab_key_tracker/db"
	"lab_key_tracker/models"
	"lab_key_tracker/notify"
	"lab_key_tracker/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Srv struct {
	WA         *webauthn.WebAuthn
	Repo       *db.Repo
	Checkout   *checkout.Coordinator
	Tokens     *auth.Tokens
	Ceremonies *session.Ceremonies
	Sessions   session.Store
	DashCache  *notify.DashboardCache
	// Events subscribes to committed checkout events; nil disables the SSE feed.
	Events func(ctx context.Context) <-chan checkout.Event
	Cfg    config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func GetSrv(a *app.App) *Srv {
	s := &Srv{
		WA:         a.WA,
		Repo:       a.Repo,
		Checkout:   a.Checkout,
		Tokens:     a.Tokens,
		Ceremonies: a.Ceremonies,
		Sessions:   a.Sessions,
		DashCache:  a.Dashboard,
		Cfg:        a.Config,
		Log:        a.Log,
		Now:        time.Now,
	}
	if a.Bus != nil {
		s.Events = a.Bus.Subscribe
	}
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	return s
}

func (s *Srv) now() time.Time { return s.Now().UTC() }

// --- helpers ---

// statusOf maps error kinds onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, db.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes {"error": ...}. Internal details stay in the log.
func (s *Srv) fail(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		s.Log.Warn("store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "service temporarily unavailable, try again"
	case http.StatusInternalServerError:
		s.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	_ = c.Error(err)
	c.JSON(status, app.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, app.H{"error": msg})
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	return page, size
}

// optional turns "" into nil so blank form fields are stored as NULL.
func optional(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// 统一设置业务会话 Cookie
func (s *Srv) setAppCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Cfg.SecureCookies(),
		MaxAge:   int(maxAge / time.Second),
	})
}

// 登录成功：创建会话 + 记录登录快照
func (s *Srv) issueSession(ctx context.Context, w http.ResponseWriter, operatorID, ip, ua string) error {
	if err := s.Repo.TouchOperatorLogin(ctx, operatorID, ip, ua); err != nil {
		s.Log.Warn("touch operator login", zap.String("operator", operatorID), zap.Error(err))
	}
	id := uuid.NewString()
	if err := s.Sessions.Create(ctx, id, operatorID); err != nil {
		return err
	}
	s.setAppCookie(w, id, s.Sessions.TTL())
	return nil
}

// WebAuthn: operator record -> webauthn.User
type waUser struct {
	op    models.Operator
	creds []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte {
	id, err := uuid.Parse(u.op.ID)
	if err != nil {
		return []byte(u.op.ID)
	}
	return id[:]
}
func (u *waUser) WebAuthnName() string                       { return u.op.Username }
func (u *waUser) WebAuthnDisplayName() string                { return u.op.DisplayName }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
	}
}

func fromWaCred(operatorID string, cred *webauthn.Credential) *models.Credential {
	return &models.Credential{
		OperatorID:      operatorID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CloneWarning:    cred.Authenticator.CloneWarning,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}
}

func (s *Srv) waUserFor(ctx context.Context, op *models.Operator) (*waUser, error) {
	cs, err := s.Repo.LoadOperatorCredentials(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	ws := make([]webauthn.Credential, 0, len(cs))
	for _, c := range cs {
		ws = append(ws, toWaCred(c))
	}
	return &waUser{op: *op, creds: ws}, nil
}

func (s *Srv) loadWAUserByID(ctx context.Context, id string) (*waUser, error) {
	op, err := s.Repo.FindOperatorByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.waUserFor(ctx, op)
}

func (s *Srv) loadWAUserByUsername(ctx context.Context, username string) (*waUser, error) {
	op, err := s.Repo.FindOperatorByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.waUserFor(ctx, op)
}
