package ledger

import (
	"net/http"
	"strings"

	"nx-tradecore/internal/httputil"
	"nx-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc           *Service
	faucetEnabled bool
	faucetMax     decimal.Decimal
}

func NewHandler(svc *Service, faucetEnabled bool, faucetMax decimal.Decimal) *Handler {
	return &Handler{svc: svc, faucetEnabled: faucetEnabled, faucetMax: faucetMax}
}

func (h *Handler) Balances(w http.ResponseWriter, r *http.Request, userID string) {
	balances, err := h.svc.BalancesByUser(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if balances == nil {
		balances = []Balance{}
	}
	httputil.WriteJSON(w, http.StatusOK, balances)
}

type faucetRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Faucet credits demo funds to the caller. Only enabled on demo deployments.
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request, userID string) {
	if !h.faucetEnabled {
		httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "faucet disabled"})
		return
	}
	var req faucetRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	if amount.GreaterThan(h.faucetMax) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "amount exceeds faucet max"})
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	if asset == "" {
		asset = "USDT"
	}
	if err := h.svc.Credit(r.Context(), userID, asset, amount, types.LedgerEntryTypeFaucet, "faucet"); err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
