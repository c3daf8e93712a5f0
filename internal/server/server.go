package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/authorization"
	"github.com/smallbiznis/coursemart/internal/config"
	enrollmentdomain "github.com/smallbiznis/coursemart/internal/enrollment/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/observability"
	obslogger "github.com/smallbiznis/coursemart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	obstracing "github.com/smallbiznis/coursemart/internal/observability/tracing"
	"github.com/smallbiznis/coursemart/internal/payment/webhook"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/sweeper"
	"github.com/smallbiznis/coursemart/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the learner API, processor and identity webhooks and the
// operator endpoints.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func corsConfig(cfg config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", HeaderUserID, correlation.HeaderName, "X-Request-Id"},
		ExposeHeaders:    []string{correlation.HeaderName, "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 && strings.TrimSpace(cfg.PublicOrigin) != "" {
		origins = []string{cfg.PublicOrigin}
	}
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
		return corsCfg
	}
	corsCfg.AllowOrigins = origins
	return corsCfg
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	tuning        *config.TuningHolder
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	enrollmentSvc enrollmentdomain.Service
	identitySvc   identitydomain.Service
	purchaseSvc   purchasedomain.Service
	checkout      purchasedomain.Initiator
	webhooks      *webhook.Service
	sweeper       *sweeper.Sweeper
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Tuning        *config.TuningHolder
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	EnrollmentSvc enrollmentdomain.Service
	IdentitySvc   identitydomain.Service
	PurchaseSvc   purchasedomain.Service
	Checkout      purchasedomain.Initiator
	Webhooks      *webhook.Service
	Sweeper       *sweeper.Sweeper `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		tuning:        p.Tuning,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		enrollmentSvc: p.EnrollmentSvc,
		identitySvc:   p.IdentitySvc,
		purchaseSvc:   p.PurchaseSvc,
		checkout:      p.Checkout,
		webhooks:      p.Webhooks,
		sweeper:       p.Sweeper,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	hooks.POST("/payments/:provider", s.HandlePaymentWebhook)
	hooks.POST("/identity", s.HandleIdentityWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.LearnerRequired())

	// -------- Purchases --------
	api.POST("/purchases", s.CreatePurchase)
	api.GET("/purchases", s.ListPurchases)
	api.GET("/purchases/:id", s.GetPurchase)

	// -------- Enrollments --------
	api.GET("/enrollments", s.ListEnrollments)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.LearnerRequired())

	admin.GET("/purchases/:id", s.authorizeAction(authorization.ObjectPurchase, authorization.ActionPurchaseInspect), s.GetPurchaseAdmin)
	admin.POST("/sweeps", s.authorizeAction(authorization.ObjectSweeper, authorization.ActionSweepRun), s.RunSweep)
	admin.GET("/consistency", s.authorizeAction(authorization.ObjectConsistency, authorization.ActionConsistencyView), s.GetConsistency)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
