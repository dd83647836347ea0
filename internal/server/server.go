package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/agencyledger/internal/alerting"
	"github.com/smallbiznis/agencyledger/internal/appointment"
	"github.com/smallbiznis/agencyledger/internal/audit"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/cache"
	"github.com/smallbiznis/agencyledger/internal/config"
	"github.com/smallbiznis/agencyledger/internal/customer"
	"github.com/smallbiznis/agencyledger/internal/document"
	"github.com/smallbiznis/agencyledger/internal/export"
	"github.com/smallbiznis/agencyledger/internal/idempotency"
	"github.com/smallbiznis/agencyledger/internal/invoice"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	"github.com/smallbiznis/agencyledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/numbering"
	obslogger "github.com/smallbiznis/agencyledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agencyledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/agencyledger/internal/observability/tracing"
	"github.com/smallbiznis/agencyledger/internal/receipt"
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
	"github.com/smallbiznis/agencyledger/internal/reversal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	cache.Module,
	alerting.Module,
	authorization.Module,
	audit.Module,
	numbering.Module,
	customer.Module,
	appointment.Module,
	ledger.Module,
	reversal.Module,
	invoice.Module,
	receipt.Module,
	document.Module,
	export.Module,
	idempotency.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if p.HTTPMetrics != nil {
		r.Use(p.HTTPMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
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
			log.Info("http server listening", zap.String("addr", srv.Addr))
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
	log        *zap.Logger
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	ledgerSvc  ledgerdomain.Service
	receiptSvc receiptdomain.Service
	invoiceSvc invoicedomain.Service
	documents  document.Renderer
	exporter   *export.Exporter
	idem       *idempotency.Middleware
	loc        *time.Location
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	Config     config.Config
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	LedgerSvc  ledgerdomain.Service
	ReceiptSvc receiptdomain.Service
	InvoiceSvc invoicedomain.Service
	Documents  document.Renderer
	Exporter   *export.Exporter
	Idem       *idempotency.Middleware `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("http.server"),
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		ledgerSvc:  p.LedgerSvc,
		receiptSvc: p.ReceiptSvc,
		invoiceSvc: p.InvoiceSvc,
		documents:  p.Documents,
		exporter:   p.Exporter,
		idem:       p.Idem,
		loc:        p.Config.Location(),
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorRequired())
	if s.idem != nil {
		api.Use(s.idem.Handler())
	}

	// -------- Cash register --------
	api.GET("/cash-register", s.authorize(authorization.ObjectCashRegister, authorization.ActionCashRegisterView), s.GetCashRegister)

	// -------- Transactions --------
	api.GET("/transactions", s.authorize(authorization.ObjectTransaction, authorization.ActionTransactionView), s.ListTransactions)
	api.GET("/transactions/export", s.ExportTransactions)
	api.GET("/transactions/:id", s.authorize(authorization.ObjectTransaction, authorization.ActionTransactionView), s.GetTransaction)
	api.POST("/transactions", s.CreateTransaction)
	api.POST("/transactions/:id/reverse", s.ReverseTransaction)

	// -------- Receipts --------
	api.GET("/receipts", s.authorize(authorization.ObjectReceipt, authorization.ActionReceiptView), s.ListReceipts)
	api.POST("/receipts", s.CreateReceipt)
	api.GET("/receipts/:id", s.authorize(authorization.ObjectReceipt, authorization.ActionReceiptView), s.GetReceipt)
	api.GET("/receipts/:id/pdf", s.authorize(authorization.ObjectReceipt, authorization.ActionReceiptView), s.GetReceiptPDF)
	api.POST("/receipts/:id/cancel", s.CancelReceipt)
	api.POST("/receipts/:id/convert", s.ConvertReceipt)

	// -------- Invoices --------
	api.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoice)
	api.GET("/invoices/:id/pdf", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoicePDF)
	api.POST("/invoices/:id/payments", s.AddInvoicePayment)
	api.POST("/invoices/:id/payments/:paymentId/refund", s.RefundInvoicePayment)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
