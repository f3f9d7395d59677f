package chargecode

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tawsellah/driverportal-sub000/internal/api"
	"github.com/tawsellah/driverportal-sub000/internal/auth"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyRedeemed:
		return http.StatusConflict
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ChargeWallet godoc
// @Summary      Charge wallet with code
// @Description  Redeems a prepaid charge code and credits its amount to the current driver's wallet.
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      ChargeRequest  true  "Charge code"
// @Success      200      {object}  Result
// @Failure      400      {object}  Result
// @Failure      404      {object}  Result
// @Failure      409      {object}  Result
// @Failure      429      {object}  Result
// @Failure      503      {object}  Result
// @Router       /wallet/charge [post]
func (h *Handler) ChargeWallet(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Result{Success: false, Message: "user not authenticated"})
		return
	}

	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Result{Success: false, Message: "code is required"})
		return
	}

	r, err := h.service.Redeem(c.Request.Context(), userID, req.Code)
	if err != nil {
		c.JSON(StatusFor(KindOf(err)), Result{Success: false, Message: MessageOf(err)})
		return
	}

	balance := r.Balance
	c.JSON(http.StatusOK, Result{Success: true, Message: MsgCharged, NewBalance: &balance})
}

// GenerateCodes godoc
// @Summary      Generate charge codes
// @Description  Creates a batch of unique single-use charge codes of the given amount.
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      GenerateRequest  true  "Batch size and amount"
// @Success      201      {object}  Batch
// @Failure      400      {object}  api.ErrorResponse
// @Failure      500      {object}  api.ErrorResponse
// @Failure      503      {object}  api.ErrorResponse
// @Router       /admin/charge-codes [post]
func (h *Handler) GenerateCodes(c *gin.Context) {
	var req GenerateRequest
	if !api.BindJSON(c, &req) {
		return
	}

	batch, err := h.service.Generate(c.Request.Context(), req.Count, req.Amount)
	if err != nil {
		c.JSON(StatusFor(KindOf(err)), api.ErrorResponse{Error: MessageOf(err)})
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// ListCodes godoc
// @Summary      List charge codes
// @Description  Lists charge codes, optionally filtered by redemption state or batch.
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        redeemed  query     bool    false  "Filter by redemption state"
// @Param        batch_id  query     string  false  "Filter by batch"
// @Param        limit     query     int     false  "Page size (default 100)"
// @Param        offset    query     int     false  "Offset"
// @Success      200       {array}   ChargeCode
// @Failure      400       {object}  api.ErrorResponse
// @Failure      503       {object}  api.ErrorResponse
// @Router       /admin/charge-codes [get]
func (h *Handler) ListCodes(c *gin.Context) {
	var filter ListFilter

	if v := c.Query("redeemed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "redeemed must be true or false"})
			return
		}
		filter.Redeemed = &b
	}
	if v := c.Query("batch_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid batch_id"})
			return
		}
		filter.BatchID = &id
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	codes, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(StatusFor(KindOf(err)), api.ErrorResponse{Error: MessageOf(err)})
		return
	}

	c.JSON(http.StatusOK, codes)
}

// GetCode godoc
// @Summary      Get charge code
// @Description  Returns a charge code with its redemption state.
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        code  path      string  true  "Charge code"
// @Success      200   {object}  ChargeCode
// @Failure      400   {object}  api.ErrorResponse
// @Failure      404   {object}  api.ErrorResponse
// @Router       /admin/charge-codes/{code} [get]
func (h *Handler) GetCode(c *gin.Context) {
	code, err := h.service.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(StatusFor(KindOf(err)), api.ErrorResponse{Error: MessageOf(err)})
		return
	}

	c.JSON(http.StatusOK, code)
}
