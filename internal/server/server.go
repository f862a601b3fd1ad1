package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/gateway/registry"
	sessiondomain "github.com/smallbiznis/checkout/internal/session/domain"
	webhooksvc "github.com/smallbiznis/checkout/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	db          *gorm.DB
	genID       *snowflake.Node
	clock       clock.Clock
	sessionSvc  sessiondomain.Service
	shippingSvc sessiondomain.ShippingRateService
	reconciler  *webhooksvc.Reconciler
	registry    *registry.Registry
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	DB          *gorm.DB
	GenID       *snowflake.Node
	Clock       clock.Clock
	SessionSvc  sessiondomain.Service
	ShippingSvc sessiondomain.ShippingRateService
	Reconciler  *webhooksvc.Reconciler
	Registry    *registry.Registry
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		db:          p.DB,
		genID:       p.GenID,
		clock:       p.Clock,
		sessionSvc:  p.SessionSvc,
		shippingSvc: p.ShippingSvc,
		reconciler:  p.Reconciler,
		registry:    p.Registry,
	}

	svc.registerCheckoutRoutes()
	svc.registerWebhookRoutes()
	svc.registerGatewayRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCheckoutRoutes() {
	v1 := s.engine.Group("/v1")

	sessions := v1.Group("/checkout/sessions")
	{
		sessions.POST("", s.CreateSession)
		sessions.GET("/:id", s.GetSession)
		sessions.PUT("/:id/address", s.SetShippingAddress)
		sessions.PUT("/:id/shipping", s.SelectShippingMethod)
		sessions.POST("/:id/payment", s.SelectPaymentMethod)
		sessions.POST("/:id/abandon", s.AbandonSession)
	}
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:tenant/:provider", s.HandleProviderWebhook)
}

func (s *Server) registerGatewayRoutes() {
	v1 := s.engine.Group("/v1")
	v1.GET("/payment-gateways/health", s.GatewayHealth)
}

func run(lc fx.Lifecycle, cfg config.Config, _ *Server, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(
		NewEngine,
		NewServer,
	),
	fx.Invoke(run),
)
