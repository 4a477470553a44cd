package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/session"
	"market-replay-broker/internal/store"
)

func (s *Server) handleSubmitOrder(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req session.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.E(errs.KindInvalidArgument, "invalid request body: %v", err))
		return
	}

	order, err := s.controller.SubmitOrder(c.Request.Context(), ownerKey(c), sessionID(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// orderFilterFromQuery parses the Alpaca-style list-orders query parameters.
func orderFilterFromQuery(c *gin.Context) (store.OrderFilter, error) {
	f := store.OrderFilter{
		Status:    c.DefaultQuery("status", "open"),
		Ascending: c.DefaultQuery("direction", "desc") == "asc",
	}
	if symbols := c.Query("symbols"); symbols != "" {
		for _, sym := range strings.Split(symbols, ",") {
			f.Symbols = append(f.Symbols, strings.ToUpper(strings.TrimSpace(sym)))
		}
	}
	if after := c.Query("after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return f, errs.Field("after", "after must be RFC 3339")
		}
		f.After = &t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return f, errs.Field("until", "until must be RFC 3339")
		}
		f.Until = &t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return f, errs.Field("limit", "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleListOrders(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	filter, err := orderFilterFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	orders, err := s.controller.ListOrders(c.Request.Context(), ownerKey(c), sessionID(c), id, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	if _, ok := accountID(c); !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		writeError(c, errs.Field("order_id", "order id must be a UUID"))
		return
	}

	order, err := s.controller.GetOrder(c.Request.Context(), ownerKey(c), sessionID(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	if _, ok := accountID(c); !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		writeError(c, errs.Field("order_id", "order id must be a UUID"))
		return
	}

	order, err := s.controller.CancelOrder(c.Request.Context(), ownerKey(c), sessionID(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleListPositions(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	positions, err := s.controller.ListPositions(c.Request.Context(), ownerKey(c), sessionID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleGetPosition(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	pos, err := s.controller.GetPosition(c.Request.Context(), ownerKey(c), sessionID(c), id, c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

// handleClosePosition mirrors the real broker's DELETE position endpoint but
// is not implemented; clients close positions by submitting opposite orders.
func (s *Server) handleClosePosition(c *gin.Context) {
	writeError(c, errs.E(errs.KindNotImplemented, "close position is not implemented; submit an opposite-side order instead"))
}
