package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/checkout/internal/session/domain"
	"github.com/smallbiznis/checkout/pkg/tenantctx"
)

const headerTenant = "X-Tenant-ID"

type createSessionRequest struct {
	CartID        string `json:"cart_id" binding:"required"`
	CustomerEmail string `json:"customer_email" binding:"required"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	UserID        string `json:"user_id"`
}

func (s *Server) CreateSession(c *gin.Context) {
	tenantID, ok := s.tenantFromHeader(c)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var userID *snowflake.ID
	if strings.TrimSpace(req.UserID) != "" {
		parsed, err := snowflake.ParseString(req.UserID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		userID = &parsed
	}

	ctx := tenantctx.WithTenantID(c.Request.Context(), int64(tenantID))
	session, err := s.sessionSvc.Create(ctx, domain.CreateSessionRequest{
		TenantID:      tenantID,
		CartID:        req.CartID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		UserID:        userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (s *Server) GetSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	session, err := s.sessionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

type setAddressRequest struct {
	ShippingAddress       domain.Address  `json:"shipping_address" binding:"required"`
	BillingAddress        *domain.Address `json:"billing_address"`
	BillingSameAsShipping bool            `json:"billing_same_as_shipping"`
}

func (s *Server) SetShippingAddress(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	var req setAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	session, err := s.sessionSvc.SetShippingAddress(c.Request.Context(), domain.SetShippingAddressRequest{
		SessionID:             id,
		ShippingAddress:       req.ShippingAddress,
		BillingAddress:        req.BillingAddress,
		BillingSameAsShipping: req.BillingSameAsShipping,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

type selectShippingRequest struct {
	Method string `json:"method" binding:"required"`
}

func (s *Server) SelectShippingMethod(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	var req selectShippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	current, err := s.sessionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if current.ShippingAddress == nil {
		AbortWithError(c, domain.ErrInvalidStateTransition)
		return
	}

	rate, err := s.shippingSvc.Quote(c.Request.Context(), req.Method, *current.ShippingAddress)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.sessionSvc.SelectShippingMethod(c.Request.Context(), domain.SelectShippingMethodRequest{
		SessionID:           id,
		Method:              rate.Method,
		Cost:                rate.Cost,
		EstimatedDeliveryAt: rate.EstimatedDeliveryAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

type selectPaymentRequest struct {
	Method  string `json:"method" binding:"required"`
	Gateway string `json:"gateway"`
}

func (s *Server) SelectPaymentMethod(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	var req selectPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	session, instructions, err := s.sessionSvc.SelectPaymentMethod(c.Request.Context(), domain.SelectPaymentMethodRequest{
		SessionID:   id,
		Method:      req.Method,
		GatewayHint: req.Gateway,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"payment": instructions,
	})
}

func (s *Server) AbandonSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	session, err := s.sessionSvc.Abandon(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) sessionID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return 0, false
	}
	return id, true
}

func (s *Server) tenantFromHeader(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.GetHeader(headerTenant))
	if raw == "" {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	tenantID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return tenantID, true
}
