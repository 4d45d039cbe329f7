package monitor

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nx-tradecore/internal/httputil"
	"nx-tradecore/internal/model"
	"nx-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	monitor *Monitor
}

func NewHandler(m *Monitor) *Handler {
	return &Handler{monitor: m}
}

type placeRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	TargetPrice string `json:"target_price"`
	Quantity    string `json:"quantity"`
	Leverage    int64  `json:"leverage"`
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid target price"})
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid quantity"})
		return
	}
	order, err := h.monitor.Place(r.Context(), PlaceRequest{
		UserID:      userID,
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:        types.Side(strings.ToLower(req.Side)),
		TargetPrice: target,
		Quantity:    qty,
		Leverage:    req.Leverage,
	})
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, order)
}

type editRequest struct {
	TargetPrice string `json:"target_price"`
	Quantity    string `json:"quantity"`
	Leverage    int64  `json:"leverage"`
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	var req editRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid target price"})
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid quantity"})
		return
	}
	order, err := h.monitor.Edit(r.Context(), userID, orderID, target, qty, req.Leverage)
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	order, err := h.monitor.Cancel(r.Context(), userID, orderID)
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	status := types.OrderStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := h.monitor.List(r.Context(), userID, status, limit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if list == nil {
		list = []model.LimitOrder{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOrderNotEditable), errors.Is(err, ErrOrderNotCancellable):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidLeverage), errors.Is(err, ErrInvalidSide):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
