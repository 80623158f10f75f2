package middleware

import (
	"errors"
	"net/http"

	"painterhub-platform/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error set on the context as a JSON body keyed by
// the errutil status code. Runs after the handler chain.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": last.Err.Error(),
			},
		})
	}
}
