package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jobdemo/internal/shared"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to a status by its kind. Server-side failures are
// logged and reported without detail.
func (a *api) writeError(c *gin.Context, err error) {
	status := shared.HTTPStatus(err)
	_ = c.Error(err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "path", c.Request.URL.Path, "request_id", c.GetString(requestIDKey), "error", err)
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}
