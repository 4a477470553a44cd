package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/errs"
)

func accountID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("account_id"))
	if err != nil {
		writeError(c, errs.Field("account_id", "account id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req struct {
		Cash decimal.Decimal `json:"cash"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, errs.E(errs.KindInvalidArgument, "invalid request body: %v", err))
			return
		}
	}

	acct, err := s.controller.CreateAccount(c.Request.Context(), ownerKey(c), sessionID(c), req.Cash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accts, err := s.controller.ListAccounts(c.Request.Context(), ownerKey(c), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accts)
}

func (s *Server) handleGetAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	acct, err := s.controller.GetAccount(c.Request.Context(), ownerKey(c), sessionID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) handlePatchAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req struct {
		Cash *decimal.Decimal `json:"cash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.E(errs.KindInvalidArgument, "invalid request body: %v", err))
		return
	}
	if req.Cash == nil {
		writeError(c, errs.Field("cash", "cash is required"))
		return
	}

	acct, err := s.controller.AdjustAccountCash(c.Request.Context(), ownerKey(c), sessionID(c), id, *req.Cash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := s.controller.DeleteAccount(c.Request.Context(), ownerKey(c), sessionID(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
