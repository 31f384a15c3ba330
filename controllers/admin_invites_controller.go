package controllers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"lab_key_tracker/app"
	"lab_key_tracker/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type InviteController struct{ *Srv }

func GetInviteController(s *Srv) *InviteController { return &InviteController{Srv: s} }

// POST /admin/invites {email, expiresDays}
func (ic *InviteController) CreateInvite(c *gin.Context) {
	var in struct {
		Email   string `json:"email" binding:"required,email"`
		Expires int    `json:"expiresDays"` // 默认 1 天
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	if in.Expires <= 0 {
		in.Expires = 1
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		ic.fail(c, err)
		return
	}
	token := hex.EncodeToString(buf)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	inv, err := ic.Repo.CreateInvite(ctx, in.Email, token,
		time.Now().AddDate(0, 0, in.Expires), c.GetString(app.CtxUsername))
	if err != nil {
		ic.fail(c, err)
		return
	}

	link := strings.TrimRight(ic.Cfg.WebOrigin, "/") + "/login?inviteToken=" + token
	if err := sendInviteMail(ic.Cfg.SMTP, in.Email, link, in.Expires); err != nil {
		ic.Log.Warn("send invite mail", zap.String("email", in.Email), zap.Error(err))
	} else if ic.Cfg.SMTP.Host == "" {
		ic.Log.Info("smtp not configured, invite link", zap.String("email", in.Email), zap.String("link", link))
	}

	c.JSON(http.StatusCreated, app.H{
		"token":  token,
		"link":   link,
		"invite": inv,
	})
}

// -------------------- 邮件发送 --------------------

// sendInviteMail is a no-op without an SMTP host.
func sendInviteMail(conf config.SMTPConfig, toEmail, link string, expiresDays int) error {
	if conf.Host == "" || (conf.Username == "" && conf.From == "") {
		return nil
	}
	fromAddr := conf.From
	if fromAddr == "" {
		fromAddr = conf.Username
	}

	subject := fmt.Sprintf("%s operator invitation", conf.AppName)
	body := fmt.Sprintf(`
<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Hello,</p>
  <p>You have been invited to manage the <b>%s</b> key desk. Open the link below to create your passkey and sign in:</p>
  <p><a href="%s">%s</a></p>
  <p>This invitation expires in %d day(s).</p>
</div>
`, conf.AppName, link, link, expiresDays)

	msg := buildMIME(conf.AppName, fromAddr, toEmail, subject, body)
	auth := smtp.PlainAuth("", conf.Username, conf.Password, conf.Host)
	return smtp.SendMail(conf.Host+":"+conf.Port, auth, fromAddr, []string{toEmail}, []byte(msg))
}

func buildMIME(fromName, fromAddr, to, subject, html string) string {
	headers := []string{
		fmt.Sprintf("From: %s <%s>", fromName, fromAddr),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + html
}
