package ledger

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/token"
	"github.com/openwork-labs/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for account funding and balance queries.
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:id/deposit", h.Deposit)
	r.POST("/accounts/:id/withdraw", h.Withdraw)
	r.GET("/accounts/:id/balances", h.Balances)
	r.GET("/accounts/:id/history", h.History)
}

// MoveRequest contains the parameters for a deposit or withdrawal.
type MoveRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount" binding:"required"`
}

// Deposit handles POST /v1/accounts/:id/deposit
func (h *Handler) Deposit(c *gin.Context) {
	h.move(c, h.service.Deposit)
}

// Withdraw handles POST /v1/accounts/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	h.move(c, h.service.Withdraw)
}

func (h *Handler) move(c *gin.Context, op func(ctx context.Context, accountID int64, tok, amount, ref string) error) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "amount is required"})
		return
	}

	if errs := validation.Validate(
		validation.ValidCurrency("token", req.Token),
		validation.PositiveAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tok, err := token.Normalize(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if err := op(c.Request.Context(), id, tok, req.Amount, ""); err != nil {
		h.writeError(c, err)
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), id, tok)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// Balances handles GET /v1/accounts/:id/balances
func (h *Handler) Balances(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	balances, err := h.service.Balances(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances, "count": len(balances)})
}

// History handles GET /v1/accounts/:id/history?token=0x…&limit=N
func (h *Handler) History(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	tok, err := token.Normalize(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.service.History(c.Request.Context(), id, tok, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrInsufficientAvailable), errors.Is(err, ErrInsufficientEscrowed):
		status = http.StatusConflict
		code = "insufficient_funds"
	case errors.Is(err, ErrNonPositiveAmount), errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidCurrency):
		status = http.StatusBadRequest
		code = "invalid_request"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
