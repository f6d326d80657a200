package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/taxengine/internal/config"
	"github.com/smallbiznis/taxengine/internal/observability"
	obsmiddleware "github.com/smallbiznis/taxengine/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/taxengine/internal/observability/metrics"
	obstracing "github.com/smallbiznis/taxengine/internal/observability/tracing"
	"github.com/smallbiznis/taxengine/internal/ratelimit"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	taxSvc           taxdomain.Service
	obsMetrics       *obsmetrics.Metrics
	calculateLimiter *ratelimit.CalculateLimiter
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	TaxSvc           taxdomain.Service
	ObsMetrics       *obsmetrics.Metrics          `optional:"true"`
	CalculateLimiter *ratelimit.CalculateLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		taxSvc:           p.TaxSvc,
		obsMetrics:       p.ObsMetrics,
		calculateLimiter: p.CalculateLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/tax", OrgContext())

	api.POST("/calculate", s.CalculateRateLimit(), s.CalculateTax)

	// -------- Tax Classes --------
	api.GET("/classes", s.ListTaxClasses)
	api.POST("/classes", s.CreateTaxClass)
	api.GET("/classes/:code", s.GetTaxClass)
	api.PATCH("/classes/:id", s.UpdateTaxClass)
	api.POST("/classes/:id/disable", s.DisableTaxClass)
}
