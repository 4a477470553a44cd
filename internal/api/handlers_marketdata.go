package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"market-replay-broker/internal/bars"
	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// timeframes maps the wire timeframe parameter to a stored resolution plus
// the number of minute bars folded into each served bar. 5Min and 15Min are
// aggregated from minute bars on the way out.
var timeframes = map[string]struct {
	res   models.Resolution
	group int
}{
	"1Min":  {models.ResolutionMinute, 1},
	"5Min":  {models.ResolutionMinute, 5},
	"15Min": {models.ResolutionMinute, 15},
	"1Hour": {models.ResolutionHour, 1},
	"1Day":  {models.ResolutionDay, 1},
	"1Week": {models.ResolutionWeek, 1},
}

func (s *Server) handleListAssets(c *gin.Context) {
	symbols, err := s.barStore.ListSymbols(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	assets := make([]gin.H, 0, len(symbols))
	for _, sym := range symbols {
		assets = append(assets, gin.H{
			"symbol":   sym,
			"class":    "us_equity",
			"tradable": true,
		})
	}
	c.JSON(http.StatusOK, assets)
}

func (s *Server) handleGetBars(c *gin.Context) {
	symbol := bars.NormalizeSymbol(c.Param("symbol"))

	tf, ok := timeframes[c.DefaultQuery("timeframe", "1Min")]
	if !ok {
		writeError(c, errs.Field("timeframe", "timeframe must be one of 1Min, 5Min, 15Min, 1Hour, 1Day, 1Week"))
		return
	}

	sess, err := s.controller.GetSession(c.Request.Context(), ownerKey(c), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	// Bars after the session's current simulated time are never served; the
	// future is invisible.
	start := sess.SimStart
	end := sess.SimNow
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, errs.Field("start", "start must be RFC 3339"))
			return
		}
		start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, errs.Field("end", "end must be RFC 3339"))
			return
		}
		if t.Before(end) {
			end = t
		}
	}

	limit := 1000
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, errs.Field("limit", "limit must be a positive integer"))
			return
		}
		if n < limit {
			limit = n
		}
	}

	out, err := s.barStore.GetBars(c.Request.Context(), symbol, start, end, tf.res, limit*tf.group)
	if err != nil {
		writeError(c, err)
		return
	}
	if tf.group > 1 {
		out = bars.Aggregate(out, time.Duration(tf.group)*time.Minute)
		if len(out) > limit {
			out = out[:limit]
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"bars":   out,
	})
}

func (s *Server) handleLatestQuote(c *gin.Context) {
	quote, err := s.controller.Quote(c.Request.Context(), ownerKey(c), sessionID(c), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}
