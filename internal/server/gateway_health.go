package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/checkout/internal/gateway/domain"
	"go.uber.org/zap"
)

type gatewayHealthEntry struct {
	Provider    string `json:"provider"`
	Environment string `json:"environment"`
	Status      string `json:"status"`
}

// GatewayHealth probes every active gateway config for a tenant and records
// the observed status on the config row.
func (s *Server) GatewayHealth(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("tenant_id"))
	if raw == "" {
		raw = strings.TrimSpace(c.GetHeader(headerTenant))
	}
	tenantID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	configs, err := s.registry.ListActive(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries := make([]gatewayHealthEntry, 0, len(configs))
	for _, cfg := range configs {
		health := gatewaydomain.HealthUnhealthy
		provider, _, err := s.registry.Resolve(c.Request.Context(), tenantID, cfg.Provider)
		if err == nil {
			health = provider.HealthCheck(c.Request.Context())
		}

		status := string(health)
		if err := s.db.WithContext(c.Request.Context()).Exec(
			`UPDATE payment_gateway_configs
			 SET last_health_status = ?, last_health_at = ?, updated_at = ?
			 WHERE id = ?`,
			status,
			s.clock.Now(),
			s.clock.Now(),
			cfg.ID,
		).Error; err != nil {
			s.log.Warn("could not record gateway health",
				zap.String("provider", cfg.Provider),
				zap.Error(err),
			)
		}

		entries = append(entries, gatewayHealthEntry{
			Provider:    cfg.Provider,
			Environment: cfg.Environment,
			Status:      status,
		})
	}

	c.JSON(http.StatusOK, gin.H{"gateways": entries})
}
