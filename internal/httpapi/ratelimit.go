package httpapi

import (
	"context"
	"net/http"
	"time"

	"callsignal/internal/auth"
	"callsignal/pkg/logger"
	"callsignal/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const initiateCapKeyPrefix = "calls:initiate:"

// RequireInitiateSlot caps concurrent initiate requests per user using the
// atomic Redis acquire/release scripts.
//
// This is flood protection only; the real one-live-call-per-participant
// invariant lives in the session store's admission check. The cap therefore
// fails open: on Redis errors the request proceeds and the admission check
// is the backstop.
func RequireInitiateSlot(rdb *redis.Client, limit int, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := auth.UserID(c.Request.Context())
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		key := initiateCapKeyPrefix + userID
		ok, err := utils.AcquireSlot(c.Request.Context(), rdb, key, limit, ttl)
		if err != nil {
			logger.FromGin(c).Warn("initiate cap unavailable", "err", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent call attempts"})
			return
		}
		// Release must survive request cancellation or the slot leaks
		// until the TTL expires.
		releaseCtx := context.WithoutCancel(c.Request.Context())
		defer func() {
			if err := utils.ReleaseSlot(releaseCtx, rdb, key); err != nil {
				logger.FromGin(c).Warn("initiate cap release failed", "err", err)
			}
		}()

		c.Next()
	}
}
