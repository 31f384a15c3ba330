// app/seenmw.go
package app

import (
	"time"

	"lab_key_tracker/db"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TouchLastSeen records operator activity at most once per throttle window. A nil
// rdb records every request.
func TouchLastSeen(repo *db.Repo, rdb *redis.Client, throttle time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid := c.GetString(CtxOperatorID)
		if oid == "" {
			c.Next()
			return
		}
		// 没有 Redis 时不节流
		ok := true
		if rdb != nil {
			ok, _ = rdb.SetNX(c, "labkeys:lastseen:"+oid, "1", throttle).Result()
		}
		if ok {
			// 失败不阻塞请求
			if err := repo.TouchOperatorSeen(c, oid); err != nil {
				log.Debug("touch last seen", zap.String("operator", oid), zap.Error(err))
			}
		}
		c.Next()
	}
}
