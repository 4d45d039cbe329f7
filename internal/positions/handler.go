package positions

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nx-tradecore/internal/httputil"
	"nx-tradecore/internal/model"
	"nx-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Marker resolves the current validated price for a symbol; the engine's
// price guard backs it in production.
type Marker interface {
	Reference(symbol string) (decimal.Decimal, bool)
}

type Handler struct {
	svc    *Service
	marker Marker
}

func NewHandler(svc *Service, marker Marker) *Handler {
	return &Handler{svc: svc, marker: marker}
}

type openRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
	Leverage int64  `json:"leverage"`
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, userID string) {
	var req openRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid quantity"})
		return
	}
	mark, ok := h.marker.Reference(symbol)
	if !ok {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "no market price for " + symbol})
		return
	}
	pos, err := h.svc.Open(r.Context(), OpenRequest{
		UserID:     userID,
		Symbol:     symbol,
		Side:       types.Side(strings.ToLower(req.Side)),
		Quantity:   qty,
		EntryPrice: mark,
		Leverage:   req.Leverage,
		Ref:        uuid.NewString(),
	})
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pos)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	pos, err := h.svc.Get(r.Context(), userID, positionID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	mark, ok := h.marker.Reference(pos.Symbol)
	if !ok {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "no market price for " + pos.Symbol})
		return
	}
	closed, err := h.svc.Close(r.Context(), userID, positionID, mark, types.CloseReasonManual)
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closed)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	status := types.PositionStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := h.svc.List(r.Context(), userID, status, limit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if list == nil {
		list = []model.Position{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientMargin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidLeverage), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
