// Package api exposes the risk manager and signal storage over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/errs"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
	"github.com/Rajchodisetti/prediction-core/internal/storage"
)

const defaultBacktestDays = 30

// Server wires HTTP routes to a manager and a signal store
type Server struct {
	manager *risk.Manager
	store   storage.Store
	engine  *gin.Engine
	now     func() time.Time
}

// NewServer builds the router. mode is a gin mode ("release", "debug", "test").
func NewServer(manager *risk.Manager, store storage.Store, mode string) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}
	s := &Server{manager: manager, store: store, engine: gin.New(), now: time.Now}
	s.engine.Use(gin.Recovery(), requestMetrics())
	s.RegisterRoutes(s.engine)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/sys/health", gin.WrapH(observ.HealthHandler(s.manager.Health)))
	router.GET("/metrics", gin.WrapH(observ.Handler()))

	v1 := router.Group("/api/v1")
	{
		r := v1.Group("/risk")
		r.POST("/evaluate", s.EvaluateTrade)
		r.POST("/events", s.ProcessEvent)
		r.GET("/summary", s.Summary)
		r.GET("/metrics", s.Metrics)
		r.GET("/breaker", s.Breaker)
		r.POST("/breaker/reset", s.ResetBreaker)
		r.GET("/positions", s.Positions)

		v1.GET("/signals", s.ListSignals)
		v1.GET("/signals/stats", s.SignalStats)
		v1.GET("/signals/:id", s.GetSignal)
		v1.GET("/backtest", s.Backtest)
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		observ.Log("http_listen", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := map[string]string{"route": route, "status": strconv.Itoa(c.Writer.Status())}
		observ.IncCounter("http_requests_total", labels)
		observ.RecordDuration("http_request", time.Since(start), map[string]string{"route": route})
	}
}

type evaluateRequest struct {
	MarketID  string          `json:"market_id" binding:"required"`
	OutcomeID string          `json:"outcome_id" binding:"required"`
	Side      string          `json:"side" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
}

// EvaluateTrade answers with the evaluation even when the trade is rejected
func (s *Server) EvaluateTrade(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	side, err := risk.ParseSide(req.Side)
	if err != nil {
		badRequest(c, err)
		return
	}
	eval, err := s.manager.EvaluateTrade(req.MarketID, req.OutcomeID, side, req.Price, req.Size)
	if eval == nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

func (s *Server) ProcessEvent(c *gin.Context) {
	var ev risk.MarketEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if err := s.manager.ProcessEvent(c.Request.Context(), ev); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.manager.Summary())
}

func (s *Server) Summary(c *gin.Context) { c.JSON(http.StatusOK, s.manager.Summary()) }

func (s *Server) Metrics(c *gin.Context) { c.JSON(http.StatusOK, s.manager.Metrics()) }

func (s *Server) Positions(c *gin.Context) { c.JSON(http.StatusOK, s.manager.Positions()) }

func (s *Server) Breaker(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("events", "20"))
	if err != nil || limit < 0 {
		badRequest(c, errors.New("events must be a non-negative integer"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": s.manager.BreakerStatus(),
		"events": s.manager.BreakerEvents(limit),
	})
}

type resetRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) ResetBreaker(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.manager.ResetBreaker(req.UserID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.manager.BreakerStatus())
}

// ListSignals filters by market_id or type; with neither it returns all
func (s *Server) ListSignals(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		out []*signals.TradeSignal
		err error
	)
	marketID, typ := c.Query("market_id"), c.Query("type")
	switch {
	case marketID != "":
		out, err = s.store.GetByMarket(ctx, marketID)
		if err == nil && typ != "" {
			out = filterType(out, signals.SignalType(typ))
		}
	case typ != "":
		out, err = s.store.GetByType(ctx, signals.SignalType(typ))
	default:
		out, err = s.store.GetAll(ctx)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []*signals.TradeSignal{}
	}
	c.JSON(http.StatusOK, out)
}

func filterType(in []*signals.TradeSignal, t signals.SignalType) []*signals.TradeSignal {
	out := in[:0]
	for _, s := range in {
		if s.SignalType == t {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) GetSignal(c *gin.Context) {
	sig, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) SignalStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Backtest takes start and end as RFC 3339 or YYYY-MM-DD; the default window
// is the last 30 days
func (s *Server) Backtest(c *gin.Context) {
	end := s.now().UTC()
	start := end.AddDate(0, 0, -defaultBacktestDays)
	var err error
	if v := c.Query("start"); v != "" {
		if start, err = parseTime(v); err != nil {
			badRequest(c, err)
			return
		}
	}
	if v := c.Query("end"); v != "" {
		if end, err = parseTime(v); err != nil {
			badRequest(c, err)
			return
		}
	}
	if end.Before(start) {
		badRequest(c, errors.New("end is before start"))
		return
	}
	stats, err := s.store.GetBacktestStats(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errs.Wrap(err, errs.CategoryValidationRejected, "api", "parse_time")
	}
	return t, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "category": errs.CategoryValidationRejected})
}

// writeError maps error categories to status codes
func writeError(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	status := http.StatusInternalServerError
	category, ok := errs.CategoryOf(err)
	var violation *risk.Violation
	if errors.As(err, &violation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "category": errs.CategoryRiskViolation, "violation": violation})
		return
	}
	if ok {
		switch category {
		case errs.CategoryValidationRejected:
			status = http.StatusBadRequest
		case errs.CategoryRiskViolation:
			status = http.StatusUnprocessableEntity
		case errs.CategoryNotFound:
			status = http.StatusNotFound
		case errs.CategoryStaleData, errs.CategoryStorageFailure:
			status = http.StatusServiceUnavailable
		}
	} else if errors.Is(err, errs.ErrNotFound) {
		status = http.StatusNotFound
		category = errs.CategoryNotFound
	}
	if status >= http.StatusInternalServerError {
		observ.Log("http_error", map[string]any{"path": c.FullPath(), "error": err.Error()})
	}
	c.JSON(status, gin.H{"error": err.Error(), "category": category})
}
