package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = redact.Secrets(err.Error())
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// respondRunError maps enrichment run errors: schema problems are the caller's fault,
// anything else is ours.
func respondRunError(c *gin.Context, err error) {
	if errors.Is(err, schema.ErrConfiguration) {
		respondError(c, http.StatusBadRequest, "invalid_schema", err)
		return
	}
	respondError(c, http.StatusInternalServerError, "enrichment_failed", err)
}
