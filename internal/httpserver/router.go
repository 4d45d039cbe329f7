package httpserver

import (
	"net/http"

	"nx-tradecore/internal/auth"
	"nx-tradecore/internal/httputil"
	"nx-tradecore/internal/ledger"
	"nx-tradecore/internal/marketdata"
	"nx-tradecore/internal/monitor"
	"nx-tradecore/internal/positions"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthHandler      *auth.Handler
	LedgerHandler    *ledger.Handler
	PositionsHandler *positions.Handler
	OrdersHandler    *monitor.Handler
	MarketHandler    *marketdata.Handler
	AuthService      *auth.Service
	WSHandler        http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS middleware for development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})
		r.Get("/ws", d.WSHandler.ServeHTTP)
		r.Get("/market/pairs", d.MarketHandler.Pairs)
		r.Get("/market/price/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			d.MarketHandler.Price(w, r, chi.URLParam(r, "symbol"))
		})
		r.Get("/market/book/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			d.MarketHandler.Book(w, r, chi.URLParam(r, "symbol"))
		})
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
				userID, ok := UserID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.AuthHandler.Me(w, r, userID)
			})
			r.Get("/balances", func(w http.ResponseWriter, r *http.Request) {
				userID, ok := UserID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.LedgerHandler.Balances(w, r, userID)
			})
			r.Post("/faucet", func(w http.ResponseWriter, r *http.Request) {
				userID, ok := UserID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.LedgerHandler.Faucet(w, r, userID)
			})
			r.Route("/positions", func(r chi.Router) {
				r.Post("/", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.PositionsHandler.Open(w, r, userID)
				})
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.PositionsHandler.List(w, r, userID)
				})
				r.Post("/{id}/close", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.PositionsHandler.Close(w, r, userID, chi.URLParam(r, "id"))
				})
			})
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrdersHandler.Place(w, r, userID)
				})
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrdersHandler.List(w, r, userID)
				})
				r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrdersHandler.Edit(w, r, userID, chi.URLParam(r, "id"))
				})
				r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
					userID, ok := UserID(r)
					if !ok {
						httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
						return
					}
					d.OrdersHandler.Cancel(w, r, userID, chi.URLParam(r, "id"))
				})
			})
		})
	})
	return r
}
