package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/session"
)

func (s *Server) handleCreateSession(c *gin.Context) {
	var req session.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.E(errs.KindInvalidArgument, "invalid request body: %v", err))
		return
	}

	sess, acct, err := s.controller.CreateSession(c.Request.Context(), ownerKey(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session": sess,
		"account": acct,
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.controller.ListSessions(c.Request.Context(), ownerKey(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errs.Field("id", "session id must be a UUID"))
		return
	}
	sess, err := s.controller.GetSession(c.Request.Context(), ownerKey(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errs.Field("id", "session id must be a UUID"))
		return
	}
	if err := s.controller.DeleteSession(c.Request.Context(), ownerKey(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAdvance(c *gin.Context) {
	var req session.AdvanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, errs.E(errs.KindInvalidArgument, "invalid request body: %v", err))
			return
		}
	}

	result, err := s.controller.AdvanceTime(c.Request.Context(), ownerKey(c), sessionID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handlePlay(c *gin.Context) {
	if err := s.controller.Play(c.Request.Context(), ownerKey(c), sessionID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playback": "playing"})
}

func (s *Server) handlePause(c *gin.Context) {
	if err := s.controller.Pause(c.Request.Context(), ownerKey(c), sessionID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playback": "paused"})
}

func (s *Server) handleSetSpeed(c *gin.Context) {
	var req struct {
		Speed decimal.Decimal `json:"speed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.E(errs.KindInvalidArgument, "invalid request body: %v", err))
		return
	}
	if err := s.controller.SetSpeed(c.Request.Context(), ownerKey(c), sessionID(c), req.Speed); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"speed": req.Speed})
}
