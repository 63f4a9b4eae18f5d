// Package server exposes the trading core over HTTP: a JSON API, a
// prometheus scrape endpoint, and a websocket event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frontier-trading/papercore/internal/engine"
	"github.com/frontier-trading/papercore/internal/events"
	pkgerrors "github.com/frontier-trading/papercore/pkg/errors"
	"github.com/frontier-trading/papercore/pkg/models"
)

// Server is the HTTP front end over the order manager.
type Server struct {
	logger  *zap.Logger
	manager *engine.Manager
	bus     *events.Bus
	httpSrv *http.Server
}

// New builds the server and its routes.
func New(logger *zap.Logger, manager *engine.Manager, bus *events.Bus, addr string) *Server {
	s := &Server{logger: logger, manager: manager, bus: bus}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleWebsocket)

	router.POST("/orders", s.handleSubmitOrder)
	router.GET("/orders", s.handleListOrders)
	router.GET("/orders/:id", s.handleGetOrder)
	router.GET("/orders/:id/trades", s.handleGetOrderTrades)
	router.PUT("/orders/:id", s.handleModifyOrder)
	router.DELETE("/orders/:id", s.handleCancelOrder)
	router.DELETE("/orders", s.handleCancelAllOrders)

	router.GET("/orderbook/:symbol", s.handleOrderBook)
	router.GET("/positions", s.handleListPositions)
	router.GET("/positions/:symbol", s.handleGetPosition)
	router.GET("/account", s.handleGetAccount)
	router.GET("/risk/metrics", s.handleRiskMetrics)
	router.GET("/risk/violations", s.handleRiskViolations)
	router.POST("/ticks", s.handleTick)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// orderRequest is the submit payload. Numeric fields arrive as strings so
// clients never round through float64.
type orderRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	Type        string  `json:"type" binding:"required"`
	Quantity    string  `json:"quantity" binding:"required"`
	LimitPrice  *string `json:"limit_price"`
	StopPrice   *string `json:"stop_price"`
	TimeInForce string  `json:"time_in_force"`
}

func (r *orderRequest) toOrder() (models.Order, error) {
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return models.Order{}, fmt.Errorf("invalid quantity %q: %w", r.Quantity, err)
	}
	o := models.Order{
		Symbol:      r.Symbol,
		Side:        r.Side,
		Type:        r.Type,
		Quantity:    qty,
		TimeInForce: r.TimeInForce,
	}
	if r.LimitPrice != nil {
		p, err := decimal.NewFromString(*r.LimitPrice)
		if err != nil {
			return models.Order{}, fmt.Errorf("invalid limit price %q: %w", *r.LimitPrice, err)
		}
		o.LimitPrice = &p
	}
	if r.StopPrice != nil {
		p, err := decimal.NewFromString(*r.StopPrice)
		if err != nil {
			return models.Order{}, fmt.Errorf("invalid stop price %q: %w", *r.StopPrice, err)
		}
		o.StopPrice = &p
	}
	return o, nil
}

func (s *Server) handleSubmitOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid order payload: %v", err))
		return
	}
	order, err := req.toOrder()
	if err != nil {
		s.writeError(c, pkgerrors.Wrap(pkgerrors.KindValidation, err, "invalid order payload"))
		return
	}
	res := s.manager.SubmitOrder(order)
	s.writeResult(c, http.StatusCreated, res)
}

func (s *Server) handleListOrders(c *gin.Context) {
	if symbol := c.Query("symbol"); symbol != "" {
		c.JSON(http.StatusOK, s.manager.GetOrdersBySymbol(symbol))
		return
	}
	c.JSON(http.StatusOK, s.manager.GetActiveOrders())
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, err := parseOrderID(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	order, err := s.manager.GetOrder(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleGetOrderTrades(c *gin.Context) {
	id, err := parseOrderID(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if _, err := s.manager.GetOrder(id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.manager.GetOrderTrades(id))
}

type modifyRequest struct {
	Quantity   string  `json:"quantity" binding:"required"`
	LimitPrice *string `json:"limit_price"`
}

func (s *Server) handleModifyOrder(c *gin.Context) {
	id, err := parseOrderID(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid modify payload: %v", err))
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid quantity %q", req.Quantity))
		return
	}
	var limit *decimal.Decimal
	if req.LimitPrice != nil {
		p, err := decimal.NewFromString(*req.LimitPrice)
		if err != nil {
			s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid limit price %q", *req.LimitPrice))
			return
		}
		limit = &p
	}
	res := s.manager.ModifyOrder(id, qty, limit)
	s.writeResult(c, http.StatusOK, res)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	id, err := parseOrderID(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	res := s.manager.CancelOrder(id)
	s.writeResult(c, http.StatusOK, res)
}

func (s *Server) handleCancelAllOrders(c *gin.Context) {
	n := s.manager.CancelAllOrders()
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (s *Server) handleOrderBook(c *gin.Context) {
	depth := 10
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d <= 0 {
			s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid depth %q", raw))
			return
		}
		depth = d
	}
	bids, asks, err := s.manager.GetBookLevels(c.Param("symbol"), depth)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": c.Param("symbol"),
		"bids":   bids,
		"asks":   asks,
	})
}

func (s *Server) handleListPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetPositions())
}

func (s *Server) handleGetPosition(c *gin.Context) {
	pos, err := s.manager.GetPosition(c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleGetAccount(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetAccount())
}

func (s *Server) handleRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetRiskMetrics())
}

func (s *Server) handleRiskViolations(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetRiskViolations())
}

// tickRequest is the collaborator price push. Same string-decimal convention
// as orders.
type tickRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Bid    string `json:"bid" binding:"required"`
	Ask    string `json:"ask" binding:"required"`
	Last   string `json:"last"`
	Volume string `json:"volume"`
}

func (s *Server) handleTick(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid tick payload: %v", err))
		return
	}
	tick := models.MarketTick{Symbol: req.Symbol, Timestamp: time.Now()}
	var err error
	if tick.Bid, err = decimal.NewFromString(req.Bid); err != nil {
		s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid bid %q", req.Bid))
		return
	}
	if tick.Ask, err = decimal.NewFromString(req.Ask); err != nil {
		s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid ask %q", req.Ask))
		return
	}
	if req.Last != "" {
		if tick.Last, err = decimal.NewFromString(req.Last); err != nil {
			s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid last %q", req.Last))
			return
		}
	} else {
		tick.Last = tick.Mid()
	}
	if req.Volume != "" {
		if tick.Volume, err = decimal.NewFromString(req.Volume); err != nil {
			s.writeError(c, pkgerrors.New(pkgerrors.KindValidation, "invalid volume %q", req.Volume))
			return
		}
	}
	if err := s.manager.ProcessMarketTick(tick); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func parseOrderID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.KindValidation, "invalid order id %q", raw)
	}
	return id, nil
}

// writeResult maps a rejection reason onto the HTTP status taxonomy; the
// body is always the full execution result.
func (s *Server) writeResult(c *gin.Context, okStatus int, res models.ExecutionResult) {
	if res.Success {
		c.JSON(okStatus, res)
		return
	}
	c.JSON(statusForKind(pkgerrors.Kind(res.Reason)), res)
}

func (s *Server) writeError(c *gin.Context, err error) {
	kind := pkgerrors.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": gin.H{"kind": string(kind), "message": err.Error()}})
}

func statusForKind(kind pkgerrors.Kind) int {
	switch kind {
	case pkgerrors.KindValidation, pkgerrors.KindInvalidSymbol:
		return http.StatusBadRequest
	case pkgerrors.KindNotFound:
		return http.StatusNotFound
	case pkgerrors.KindStateConflict:
		return http.StatusConflict
	case pkgerrors.KindRiskRejected, pkgerrors.KindInsufficientFunds,
		pkgerrors.KindInsufficientShares, pkgerrors.KindRejected:
		return http.StatusUnprocessableEntity
	case pkgerrors.KindMarketUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
