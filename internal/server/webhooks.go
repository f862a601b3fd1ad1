package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/checkout/pkg/tenantctx"
)

// HandleProviderWebhook ingests one provider notification. Anything the
// reconciler classifies as a business no-op still returns 200 so the provider
// stops redelivering.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	tenantID, err := snowflake.ParseString(strings.TrimSpace(c.Param("tenant")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	provider := strings.TrimSpace(c.Param("provider"))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := tenantctx.WithTenantID(c.Request.Context(), int64(tenantID))
	ack, err := s.reconciler.Process(ctx, tenantID, provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"event_id": ack.EventID,
		"outcome":  ack.Outcome,
	})
}
