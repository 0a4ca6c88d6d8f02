package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/finvo/internal/acceptance"
	acceptancedomain "github.com/smallbiznis/finvo/internal/acceptance/domain"
	"github.com/smallbiznis/finvo/internal/approval"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	"github.com/smallbiznis/finvo/internal/audit"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/config"
	"github.com/smallbiznis/finvo/internal/invoice"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	"github.com/smallbiznis/finvo/internal/notify"
	"github.com/smallbiznis/finvo/internal/payment"
	paymentdomain "github.com/smallbiznis/finvo/internal/payment/domain"
	"github.com/smallbiznis/finvo/internal/quote"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	"github.com/smallbiznis/finvo/internal/ratelimit"
	"github.com/smallbiznis/finvo/internal/transfermatch"
	transferdomain "github.com/smallbiznis/finvo/internal/transfermatch/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	notify.Module,
	quote.Module,
	invoice.Module,
	payment.Module,
	acceptance.Module,
	transfermatch.Module,
	approval.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Mode)

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

func registerGin(cfg config.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(cfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	cfg           config.Config
	log           *zap.Logger
	db            *gorm.DB
	genID         *snowflake.Node
	auditSvc      auditdomain.Service
	quoteSvc      quotedomain.Service
	invoiceSvc    invoicedomain.Service
	paymentSvc    paymentdomain.Service
	acceptanceSvc acceptancedomain.Service
	matchSvc      transferdomain.Service
	approvalSvc   approvaldomain.Service
	publicLimiter *ratelimit.PublicLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	GenID         *snowflake.Node
	AuditSvc      auditdomain.Service
	QuoteSvc      quotedomain.Service
	InvoiceSvc    invoicedomain.Service
	PaymentSvc    paymentdomain.Service
	AcceptanceSvc acceptancedomain.Service
	MatchSvc      transferdomain.Service
	ApprovalSvc   approvaldomain.Service
	PublicLimiter *ratelimit.PublicLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		db:            p.DB,
		genID:         p.GenID,
		auditSvc:      p.AuditSvc,
		quoteSvc:      p.QuoteSvc,
		invoiceSvc:    p.InvoiceSvc,
		paymentSvc:    p.PaymentSvc,
		acceptanceSvc: p.AcceptanceSvc,
		matchSvc:      p.MatchSvc,
		approvalSvc:   p.ApprovalSvc,
		publicLimiter: p.PublicLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", RequestID(), s.OrgContext())

	quotes := api.Group("/quotes")
	quotes.GET("/:id", s.GetQuoteByID)
	quotes.POST("/:id/estimate", s.EstimateQuote)
	quotes.POST("/:id/send", s.SendQuote)
	quotes.POST("/:id/view", s.ViewQuote)
	quotes.POST("/:id/accept", s.AcceptQuote)
	quotes.POST("/:id/reject", s.RejectQuote)
	quotes.POST("/:id/tokens", s.IssueAcceptanceToken)

	tokens := api.Group("/tokens")
	tokens.POST("/:id/invalidate", s.InvalidateAcceptanceToken)

	invoices := api.Group("/invoices")
	invoices.GET("/:id", s.GetInvoiceByID)
	invoices.POST("/:id/send", s.SendInvoice)
	invoices.POST("/:id/payments", s.ApplyInvoicePayment)

	transfers := api.Group("/transfers")
	transfers.POST("/match", s.MatchTransfer)
	transfers.POST("/apply", s.CreatePaymentFromMatch)

	payments := api.Group("/payments")
	payments.GET("/review", s.ListReviewQueue)
	payments.GET("/:id", s.GetPaymentByID)
	payments.POST("/:id/review", s.ResolvePaymentReview)
	payments.POST("/:id/refund", s.RefundPayment)

	approvals := api.Group("/approvals")
	approvals.POST("", s.SubmitForApproval)
	approvals.GET("", s.ListPendingApprovals)
	approvals.GET("/:id", s.GetApprovalByID)
	approvals.GET("/:id/history", s.GetApprovalHistory)
	approvals.POST("/:id/approve", s.ApproveRequest)
	approvals.POST("/:id/reject", s.RejectRequest)
	approvals.POST("/:id/escalate", s.EscalateRequest)
	approvals.POST("/delegations", s.CreateDelegation)

	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/public", RequestID(), s.PublicRateLimit())

	public.POST("/redeem", s.RedeemAcceptanceToken)
}
