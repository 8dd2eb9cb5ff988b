package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicebasisdomain "github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	obscontext "github.com/smallbiznis/bygglogg/internal/observability/context"
	"github.com/smallbiznis/bygglogg/internal/orgcontext"
)

const (
	HeaderOrg       = "X-Org-ID"
	contextOrgIDKey = "org_id"
)

// OrgContext resolves the org from the X-Org-ID header. Requests without a
// valid org are left to the handlers to reject.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if orgID, ok := orgcontext.Parse(obscontext.OrgIDFromGin(c)); ok {
			c.Set(contextOrgIDKey, orgID.String())
			c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		}
		c.Next()
	}
}

func orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		return 0, invoicebasisdomain.ErrInvalidOrganization
	}
	return orgID, nil
}
