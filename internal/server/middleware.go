package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/taxengine/internal/orgcontext"
)

const HeaderOrg = "X-Org-Id"

// OrgContext resolves the organization from the X-Org-Id header and injects
// it into the request context.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgcontext.Parse(strings.TrimSpace(c.GetHeader(HeaderOrg)))
		if !ok {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
