package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samujjwal/rental-sub004/internal/config"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	depositdomain "github.com/samujjwal/rental-sub004/internal/deposit/domain"
	disputedomain "github.com/samujjwal/rental-sub004/internal/dispute/domain"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	"github.com/samujjwal/rental-sub004/internal/locks"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	bookingSvc bookingdomain.Service
	disputeSvc disputedomain.Service
	ledgerSvc  ledgerdomain.Service
	depositSvc depositdomain.Service
	locker     *locks.Locker
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	BookingSvc bookingdomain.Service
	DisputeSvc disputedomain.Service
	LedgerSvc  ledgerdomain.Service
	DepositSvc depositdomain.Service
	Locker     *locks.Locker `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		bookingSvc: p.BookingSvc,
		disputeSvc: p.DisputeSvc,
		ledgerSvc:  p.LedgerSvc,
		depositSvc: p.DepositSvc,
		locker:     p.Locker,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Bookings --------
	v1.POST("/bookings", s.CreateBooking)
	v1.GET("/bookings/:id", s.GetBookingByID)
	v1.GET("/bookings/:id/history", s.GetBookingHistory)
	v1.GET("/bookings/:id/ledger", s.GetBookingLedger)
	v1.GET("/bookings/:id/deposit", s.GetBookingDeposit)
	v1.POST("/bookings/:id/transitions", s.TransitionBooking)

	// -------- Disputes --------
	v1.POST("/disputes", s.OpenDispute)
	v1.GET("/disputes/:id", s.GetDisputeByID)
	v1.POST("/disputes/:id/assign", s.AssignDispute)
	v1.POST("/disputes/:id/status", s.MoveDispute)
	v1.POST("/disputes/:id/resolve", s.ResolveDispute)
}
