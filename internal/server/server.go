package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/bygglogg/internal/config"
	invoicebasisdomain "github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/smallbiznis/bygglogg/internal/observability"
	obsmiddleware "github.com/smallbiznis/bygglogg/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/bygglogg/internal/observability/metrics"
	obstracing "github.com/smallbiznis/bygglogg/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	ObsConfig   observability.Config
	Log         *zap.Logger
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(p.Log, obsmiddleware.MiddlewareConfig{
		Debug:           p.ObsConfig.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(p.HTTPMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			log.Info("http.server.started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Engine       *gin.Engine
	Config       config.Config
	Log          *zap.Logger
	InvoiceBasis invoicebasisdomain.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	invoiceBasisSvc invoicebasisdomain.Service
	metrics         *obsmetrics.Metrics

	// background runs detached work such as approval-triggered refreshes.
	background func(func())
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Engine,
		cfg:             p.Config,
		log:             p.Log.Named("http.server"),
		invoiceBasisSvc: p.InvoiceBasis,
		metrics:         p.Metrics,
		background:      func(fn func()) { go fn() },
	}
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.Use(OrgContext())

	basis := api.Group("/invoice-basis")
	basis.GET("", s.GetInvoiceBasis)
	basis.POST("/refresh", s.RefreshInvoiceBasis)
	basis.POST("/approvals", s.RefreshInvoiceBasisForApprovals)
	basis.POST("/lock", s.LockInvoiceBasis)
	basis.POST("/totals", s.PreviewInvoiceBasisTotals)
}
