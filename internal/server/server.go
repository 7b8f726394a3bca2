package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/vestora/internal/audit"
	auditdomain "github.com/smallbiznis/vestora/internal/audit/domain"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/config"
	"github.com/smallbiznis/vestora/internal/eligibility"
	"github.com/smallbiznis/vestora/internal/investment"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	"github.com/smallbiznis/vestora/internal/ledger"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	"github.com/smallbiznis/vestora/internal/money"
	"github.com/smallbiznis/vestora/internal/observability"
	obslogger "github.com/smallbiznis/vestora/internal/observability/logger"
	obstracing "github.com/smallbiznis/vestora/internal/observability/tracing"
	"github.com/smallbiznis/vestora/internal/plan"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	"github.com/smallbiznis/vestora/internal/ratelimit"
	"github.com/smallbiznis/vestora/internal/wallet"
	walletdomain "github.com/smallbiznis/vestora/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	money.Module,
	authorization.Module,
	audit.Module,
	eligibility.Module,
	ratelimit.Module,
	ledger.Module,
	plan.Module,
	investment.Module,
	wallet.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
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
	engine        *gin.Engine
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	planSvc       plandomain.Service
	investmentSvc investmentdomain.Service
	ledgerSvc     ledgerdomain.Service
	walletSvc     walletdomain.Service
	limiter       *ratelimit.MutationLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	PlanSvc       plandomain.Service
	InvestmentSvc investmentdomain.Service
	LedgerSvc     ledgerdomain.Service
	WalletSvc     walletdomain.Service
	Limiter       *ratelimit.MutationLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		planSvc:       p.PlanSvc,
		investmentSvc: p.InvestmentSvc,
		ledgerSvc:     p.LedgerSvc,
		walletSvc:     p.WalletSvc,
		limiter:       p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Catalog --------
	api.GET("/plans", s.ListPlans)

	user := api.Group("", s.ActorRequired())

	// -------- Investments --------
	user.POST("/investments", s.MutationRateLimit(), s.CreateInvestment)
	user.GET("/investments/:id", s.GetInvestment)
	user.POST("/investments/:id/breakdown", s.MutationRateLimit(), s.RequestBreakdown)
	user.GET("/users/:user_id/investments", s.ListUserInvestments)

	// -------- Wallets --------
	user.GET("/users/:user_id/wallets/:currency", s.GetWallet)
	user.GET("/users/:user_id/wallets/:currency/entries", s.ListWalletEntries)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.ActorRequired())

	admin.POST("/plans", s.MutationRateLimit(), s.CreatePlan)
	admin.PUT("/plans/:id", s.MutationRateLimit(), s.UpdatePlanTerms)
	admin.POST("/plans/:id/status", s.MutationRateLimit(), s.SetPlanStatus)

	admin.POST("/investments/:id/approve", s.MutationRateLimit(), s.ApprovePurchase)
	admin.POST("/investments/:id/cancel", s.MutationRateLimit(), s.CancelInvestment)

	admin.POST("/breakdowns/:id/approve", s.MutationRateLimit(), s.ApproveBreakdown)
	admin.POST("/breakdowns/:id/reject", s.MutationRateLimit(), s.RejectBreakdown)

	admin.POST("/wallets/deposit", s.MutationRateLimit(), s.DepositWallet)
	admin.POST("/wallets/withdraw", s.MutationRateLimit(), s.WithdrawWallet)
	admin.POST("/wallets/status", s.MutationRateLimit(), s.SetWalletStatus)

	admin.GET("/audit_logs", s.ListAuditLogs)

	admin.POST("/users/:user_id/roles", s.MutationRateLimit(), s.GrantUserRole)
	admin.DELETE("/users/:user_id/roles/:role", s.MutationRateLimit(), s.RevokeUserRole)
}
