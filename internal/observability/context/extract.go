package context

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// OrgIDFromGin returns the org recorded on the request context, falling back
// to the raw X-Org-ID header.
func OrgIDFromGin(c *gin.Context) string {
	if c == nil || c.Request == nil {
		return ""
	}
	if value := OrgIDFromContext(c.Request.Context()); value != "" {
		return value
	}
	return strings.TrimSpace(c.GetHeader("X-Org-ID"))
}
