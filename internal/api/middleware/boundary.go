package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/repair"
)

// Failer receives errors that escaped a handler.
type Failer interface {
	Fail(err error) repair.State
}

// Boundary recovers handler panics, moves the shell boundary into its failed
// state and answers 500 with the rendered boundary.
func Boundary(b Failer, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			logger.Error("handler panic",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			state := b.Fail(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":    "internal error",
				"boundary": state.Render(),
			})
		}()
		c.Next()
	}
}
