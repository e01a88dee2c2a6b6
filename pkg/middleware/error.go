package middleware

import (
	"net/http"

	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/provider"

	"github.com/gin-gonic/gin"
)

// Error renders the last error pushed onto the gin context. BaseError maps
// through its CoreStatus; classified provider errors map retryable failures
// to 503 and the rest to 422 so clients can tell them apart.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ginErr := c.Errors.Last()
		if ginErr == nil || c.Writer.Written() {
			return
		}

		if v, ok := ginErr.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		if provider.IsRetryable(ginErr.Err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{"code": errutil.StatusServiceUnavailable, "message": "upstream provider unavailable, retry later"},
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": errutil.StatusInternal, "message": ginErr.Error()},
		})
	}
}
