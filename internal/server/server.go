package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/observability"
	obsmiddleware "github.com/smallbiznis/bulkbuy/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/bulkbuy/internal/observability/metrics"
	obstracing "github.com/smallbiznis/bulkbuy/internal/observability/tracing"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
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

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	catalog    *config.CatalogHolder
	membership domain.MembershipManager
	ledger     domain.OrderLedger
	lifecycle  domain.LifecycleController
	directory  domain.Directory
	activity   auditdomain.Service
	limiter    *ratelimit.UserLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Catalog    *config.CatalogHolder
	Membership domain.MembershipManager
	Ledger     domain.OrderLedger
	Lifecycle  domain.LifecycleController
	Directory  domain.Directory
	Activity   auditdomain.Service
	Limiter    *ratelimit.UserLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		catalog:    p.Catalog,
		membership: p.Membership,
		ledger:     p.Ledger,
		lifecycle:  p.Lifecycle,
		directory:  p.Directory,
		activity:   p.Activity,
		limiter:    p.Limiter,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/bulk-purchasing")
	api.Use(s.ActorContext())

	// -------- Directory --------
	api.GET("/categories", s.ListCategories)
	api.GET("", s.ListGroups)
	api.GET("/mine", s.ActorRequired(), s.ListMyGroups)
	api.GET("/:id", s.GetGroup)

	write := api.Group("", s.ActorRequired(), s.WriteRateLimit())

	// -------- Lifecycle --------
	write.POST("", s.CreateGroup)
	write.POST("/:id/advance", s.AdvanceGroup)
	write.POST("/:id/process-orders", s.ProcessOrders)
	write.POST("/:id/cancel", s.CancelGroup)
	write.POST("/:id/complete", s.CompleteGroup)
	write.POST("/:id/evaluate-deadline", s.EvaluateDeadline)
	write.POST("/:id/evaluate-quorum", s.EvaluateQuorum)

	// -------- Membership --------
	write.POST("/:id/join", s.JoinGroup)
	write.POST("/:id/leave", s.LeaveGroup)
	write.POST("/:id/members/:memberId/approve", s.ApproveMember)
	write.POST("/:id/members/:memberId/reject", s.RejectMember)
	write.POST("/:id/members/:memberId/remove", s.RemoveMember)
	write.POST("/:id/members/:memberId/role", s.AssignMemberRole)

	// -------- Materials --------
	api.GET("/:id/materials", s.ListMaterials)
	write.POST("/:id/materials", s.AddMaterial)
	write.POST("/materials/:lineId/withdraw", s.WithdrawMaterial)
	write.POST("/materials/:lineId/confirm", s.ConfirmMaterial)

	// -------- Activity --------
	api.GET("/:id/activity", s.ListActivity)
}
