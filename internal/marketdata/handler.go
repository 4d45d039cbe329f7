package marketdata

import (
	"net/http"
	"strings"
	"time"

	"nx-tradecore/internal/httputil"
	"nx-tradecore/internal/orderbook"

	"github.com/shopspring/decimal"
)

// Marker resolves the last validated price for a symbol.
type Marker interface {
	Reference(symbol string) (decimal.Decimal, bool)
}

type Handler struct {
	pairs  *PairStore
	marker Marker
}

func NewHandler(pairs *PairStore, marker Marker) *Handler {
	return &Handler{pairs: pairs, marker: marker}
}

func (h *Handler) Pairs(w http.ResponseWriter, r *http.Request) {
	list, err := h.pairs.ListActive(r.Context())
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if list == nil {
		list = []Pair{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Price(w http.ResponseWriter, r *http.Request, symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	price, ok := h.marker.Reference(symbol)
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "no market price for " + symbol})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"price":  price,
		"ts":     time.Now().UnixMilli(),
	})
}

// Book synthesizes a fresh depth snapshot at the current validated price.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request, symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	price, ok := h.marker.Reference(symbol)
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "no market price for " + symbol})
		return
	}
	mark, _ := price.Float64()
	httputil.WriteJSON(w, http.StatusOK, orderbook.Synthesize(symbol, mark, time.Now().UnixMilli()))
}
