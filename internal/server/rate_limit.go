package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/taxengine/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/taxengine/internal/observability/metrics"
	"github.com/smallbiznis/taxengine/internal/orgcontext"
	"github.com/smallbiznis/taxengine/internal/ratelimit"
	"go.uber.org/zap"
)

const rateLimitReasonOrgRate = "org-rate"

// CalculateRateLimit throttles calculations per organization. Limiter
// failures fail open.
func (s *Server) CalculateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.calculateLimiter.Enabled() {
			c.Next()
			return
		}

		orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		result, err := s.calculateLimiter.AllowOrg(ctx, orgID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("calculate rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		setRateLimitHeaders(c, result)
		if !result.Allowed {
			denyRateLimit(c, endpoint, orgID.String(), rateLimitReasonOrgRate, result, s.obsMetrics)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, orgID.String(), endpoint)
		c.Next()
	}
}

func denyRateLimit(c *gin.Context, endpoint, orgID, reason string, result *ratelimit.RateLimitResult, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("calculate rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, orgID, reason, metrics)

	retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.RateLimitResult) {
	if result == nil || result.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(max(result.Remaining, 0)))
}

func recordRateLimitDenied(ctx context.Context, endpoint, orgID, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, orgID, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
