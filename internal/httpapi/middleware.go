package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/sandboxctl/internal/common/apperr"
)

// userIDHeader is the header an external auth plugin is expected to set
// once it has resolved and validated the caller's credential. This
// middleware is the thinnest possible stand-in for that plugin: the
// control plane itself never parses credentials, only a resolved user ID.
const userIDHeader = "X-User-Id"

const userIDContextKey = "sandboxctl.user_id"

// requireUserID rejects any request missing the resolved-identity header
// and otherwise stashes it in the Gin context for handlers to read.
func requireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userIDHeader)
		if userID == "" {
			appErr := apperr.Unauthorized("missing " + userIDHeader + " header")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	v, _ := c.Get(userIDContextKey)
	userID, _ := v.(string)
	return userID
}

func writeAppError(c *gin.Context, err error) {
	appErr := apperr.Wrap(err, "request failed")
	c.JSON(appErr.HTTPStatus, appErr)
}

func writeHealthOK(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
