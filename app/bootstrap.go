// app/bootstrap.go
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"lab_key_tracker/config"
	"lab_key_tracker/db"

	"go.uber.org/zap"
)

// BootstrapFirstAdmin issues a one-time admin invite when no admin exists yet and
// BOOTSTRAP_ADMIN_EMAIL is set. Returns the link, or "" when nothing was done.
func BootstrapFirstAdmin(ctx context.Context, cfg config.Config, repo *db.Repo, log *zap.Logger) (string, error) {
	if cfg.BootstrapEmail == "" {
		return "", nil
	}
	n, err := repo.CountAdmins(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	if _, err := repo.CreateInvite(ctx, cfg.BootstrapEmail, token, time.Now().Add(24*time.Hour), "bootstrap"); err != nil {
		return "", fmt.Errorf("bootstrap invite: %w", err)
	}

	link := fmt.Sprintf("%s/login?inviteToken=%s", cfg.WebOrigin, token)
	log.Info("no admin found, created bootstrap invite",
		zap.String("email", cfg.BootstrapEmail), zap.String("link", link))
	return link, nil
}
