package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tawsellah/driverportal-sub000/internal/api"
	"github.com/tawsellah/driverportal-sub000/internal/auth"
	"github.com/tawsellah/driverportal-sub000/internal/logger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetBalance godoc
// @Summary      Wallet balance
// @Description  Returns the current driver's wallet, creating it on first access.
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  Wallet
// @Failure      401  {object}  api.ErrorResponse
// @Failure      500  {object}  api.ErrorResponse
// @Router       /wallet [get]
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	w, err := h.service.Balance(c.Request.Context(), userID)
	if err != nil {
		logger.Error("load wallet failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load wallet"})
		return
	}

	c.JSON(http.StatusOK, w)
}

// ListTransactions godoc
// @Summary      Wallet history
// @Description  Lists ledger entries of the current driver, newest first.
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query     int  false  "Page size (default 50)"
// @Param        offset  query     int  false  "Offset"
// @Success      200     {array}   Transaction
// @Failure      401     {object}  api.ErrorResponse
// @Failure      500     {object}  api.ErrorResponse
// @Router       /wallet/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.service.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		logger.Error("load transactions failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load transactions"})
		return
	}

	c.JSON(http.StatusOK, txs)
}

// GetSummary godoc
// @Summary      Earnings summary
// @Description  Totals of charges, trip earnings, trip fees and adjustments for the current driver.
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  Summary
// @Failure      401  {object}  api.ErrorResponse
// @Failure      500  {object}  api.ErrorResponse
// @Router       /wallet/summary [get]
func (h *Handler) GetSummary(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	sum, err := h.service.Summary(c.Request.Context(), userID)
	if err != nil {
		logger.Error("load wallet summary failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load summary"})
		return
	}

	c.JSON(http.StatusOK, sum)
}

// PostTransaction godoc
// @Summary      Post ledger entry
// @Description  Records a trip earning, trip fee or system adjustment for a driver.
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        userID   path      int             true  "Driver user ID"
// @Param        request  body      PostingRequest  true  "Posting"
// @Success      201      {object}  Transaction
// @Failure      400      {object}  api.ErrorResponse
// @Failure      409      {object}  api.ErrorResponse
// @Failure      500      {object}  api.ErrorResponse
// @Router       /admin/users/{userID}/wallet/transactions [post]
func (h *Handler) PostTransaction(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("userID"))
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid user id"})
		return
	}

	var req PostingRequest
	if !api.BindJSON(c, &req) {
		return
	}

	tx, err := h.service.Post(c.Request.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrChargeReserved), errors.Is(err, ErrInvalidPosting), errors.Is(err, ErrZeroAmount):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		case errors.Is(err, ErrInsufficientBalance):
			c.JSON(http.StatusConflict, api.ErrorResponse{Error: err.Error()})
		default:
			logger.Error("wallet posting failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to record transaction"})
		}
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Reconcile godoc
// @Summary      Reconcile wallet
// @Description  Compares a driver's stored balance with the sum of the ledger.
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        userID  path      int  true  "Driver user ID"
// @Success      200     {object}  Reconciliation
// @Failure      400     {object}  api.ErrorResponse
// @Failure      500     {object}  api.ErrorResponse
// @Router       /admin/users/{userID}/wallet/reconcile [get]
func (h *Handler) Reconcile(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("userID"))
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid user id"})
		return
	}

	rec, err := h.service.Reconcile(c.Request.Context(), userID)
	if err != nil {
		logger.Error("wallet reconcile failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to reconcile wallet"})
		return
	}

	c.JSON(http.StatusOK, rec)
}
