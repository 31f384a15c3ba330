// controllers/webauthn_controller.go
package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lab_key_tracker/app"
	"lab_key_tracker/db"
	"lab_key_tracker/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var registrationOpts = []webauthn.RegistrationOption{
	webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
		UserVerification: protocol.VerificationRequired,
	}),
}

func (s *Srv) WhoAmI(c *app.Ctx) {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()
	op, err := s.Repo.FindOperatorByID(ctx, c.GetString(app.CtxOperatorID))
	if err != nil {
		s.fail(c, err)
		return
	}
	creds, _ := s.Repo.LoadOperatorCredentials(ctx, op.ID)
	c.JSON(http.StatusOK, app.H{
		"operatorId":  op.ID,
		"username":    op.Username,
		"displayName": op.DisplayName,
		"isAdmin":     c.GetBool(app.CtxIsAdmin),
		"passkeys":    len(creds),
	})
}

func (s *Srv) Logout(c *app.Ctx) {
	if ck, err := c.Request.Cookie(app.AppSessionCookie); err == nil && ck.Value != "" {
		_ = s.Sessions.Delete(c.Request.Context(), ck.Value)
	}
	s.setAppCookie(c.Writer, "", -time.Second)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// ===== 注册（邀请制） =====

func (s *Srv) BeginRegistration(c *gin.Context) {
	var in struct {
		InviteToken string `json:"inviteToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	inv, err := s.Repo.GetUsableInvite(ctx, in.InviteToken, time.Now())
	if errors.Is(err, db.ErrInviteUsed) {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	} else if err != nil {
		s.fail(c, err)
		return
	}

	// 用户名强制 = 邀请邮箱
	op, err := s.Repo.FindOrCreateOperator(ctx, inv.Email, app.NewOperatorID(), inv.AsAdmin)
	if err != nil {
		s.fail(c, err)
		return
	}
	wUser, err := s.waUserFor(ctx, op)
	if err != nil {
		s.fail(c, err)
		return
	}
	opts, sd, err := s.WA.BeginRegistration(wUser, registrationOpts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Ceremonies.Save(ctx, session.Invite, in.InviteToken, sd); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishRegistration(c *gin.Context) {
	token := c.Query("inviteToken")
	if token == "" {
		badRequest(c, "missing inviteToken")
		return
	}
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	inv, err := s.Repo.GetUsableInvite(ctx, token, time.Now())
	if errors.Is(err, db.ErrInviteUsed) {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	} else if err != nil {
		s.fail(c, err)
		return
	}
	wUser, err := s.loadWAUserByUsername(ctx, inv.Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	sd, err := s.Ceremonies.Take(ctx, session.Invite, token)
	if err != nil {
		badRequest(c, "session expired or invalid")
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.Repo.AddCredential(ctx, fromWaCred(wUser.op.ID, cred)); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Repo.MarkInviteUsed(ctx, token); err != nil {
		s.Log.Warn("mark invite used", zap.Error(err))
	}

	// 注册即登录
	if err := s.issueSession(ctx, c.Writer, wUser.op.ID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "username": wUser.op.Username})
}

// ===== 添加新凭据（已登录） =====

func (s *Srv) BeginAddCredential(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, c.GetString(app.CtxOperatorID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	opts, sd, err := s.WA.BeginRegistration(wUser, registrationOpts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Ceremonies.Save(ctx, session.Registration, wUser.op.Username, sd); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishAddCredential(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, c.GetString(app.CtxOperatorID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	sd, err := s.Ceremonies.Take(ctx, session.Registration, wUser.op.Username)
	if err != nil {
		badRequest(c, "session expired or invalid")
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.Repo.AddCredential(ctx, fromWaCred(wUser.op.ID, cred)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// ===== 登录 =====

type loginBeginReq struct {
	Username     string `json:"username"`
	Discoverable bool   `json:"discoverable"`
}
type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

func (s *Srv) BeginLogin(c *gin.Context) {
	var req loginBeginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad request")
		return
	}
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if req.Discoverable || req.Username == "" {
		opts, sd, err = s.WA.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
	} else {
		wUser, lerr := s.loadWAUserByUsername(ctx, req.Username)
		if lerr != nil {
			s.fail(c, lerr)
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	sid := uuid.NewString()
	if err := s.Ceremonies.Save(ctx, session.Login, sid, sd); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginBeginResp{Options: opts, SessionID: sid})
}

func (s *Srv) FinishLogin(c *gin.Context) {
	sid := c.Query("sessionId")
	if sid == "" {
		badRequest(c, "missing sessionId")
		return
	}
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	sd, err := s.Ceremonies.Take(ctx, session.Login, sid)
	if err != nil {
		badRequest(c, "session expired or invalid")
		return
	}

	var (
		operatorID string
		cred       *webauthn.Credential
	)
	if username := c.Query("username"); username != "" {
		wUser, lerr := s.loadWAUserByUsername(ctx, username)
		if lerr != nil {
			s.fail(c, lerr)
			return
		}
		cred, err = s.WA.FinishLogin(wUser, *sd, c.Request)
		operatorID = wUser.op.ID
	} else {
		handler := func(rawID, _ []byte) (webauthn.User, error) {
			op, ferr := s.Repo.FindOperatorByCredentialID(ctx, rawID)
			if errors.Is(ferr, db.ErrOperatorNotFound) {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			if ferr != nil {
				return nil, ferr
			}
			return s.waUserFor(ctx, op)
		}
		var user webauthn.User
		user, cred, err = s.WA.FinishPasskeyLogin(handler, *sd, c.Request)
		if err == nil {
			operatorID = user.(*waUser).op.ID
		}
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
		return
	}
	if err := s.Repo.UpdateCredentialUse(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		s.Log.Warn("update credential use", zap.Error(err))
	}

	if err := s.issueSession(ctx, c.Writer, operatorID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "redirect": "/dashboard"})
}
