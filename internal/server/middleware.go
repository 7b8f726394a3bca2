package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vestora/internal/authorization"
	obscontext "github.com/smallbiznis/vestora/internal/observability/context"
	"github.com/smallbiznis/vestora/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderActor     = "X-Actor"
	contextActorKey = "actor"
)

// ActorRequired resolves the caller from X-Actor. Authentication happens in
// front of this service; the header is trusted as-is.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderActor))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		actor, err := authorization.ParseActor(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextActorKey, actor)
		ctx := obscontext.WithActor(c.Request.Context(), actor.Type, actor.IDString())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	return actor, ok
}

// MutationRateLimit throttles writes per actor. A limiter failure lets the
// request through; the ledger does not depend on the limiter for safety.
func (s *Server) MutationRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		actor, ok := actorFromContext(c)
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.limiter.AllowActor(ctx, actor.Subject())
		if err != nil {
			logger.FromContext(ctx).Warn("mutation rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(ctx).Warn("mutation rate limit exceeded",
				zap.String("actor", actor.Subject()),
				zap.String("route", c.FullPath()),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
