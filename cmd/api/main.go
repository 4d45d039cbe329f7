package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nx-tradecore/internal/auth"
	"nx-tradecore/internal/config"
	"nx-tradecore/internal/db"
	"nx-tradecore/internal/engine"
	"nx-tradecore/internal/feed"
	"nx-tradecore/internal/httpserver"
	"nx-tradecore/internal/ledger"
	"nx-tradecore/internal/marketdata"
	"nx-tradecore/internal/monitor"
	"nx-tradecore/internal/notify"
	"nx-tradecore/internal/positions"
	"nx-tradecore/internal/priceguard"

	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	var notifier notify.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	} else {
		notifier = notify.NewLogNotifier()
	}

	bus := marketdata.NewBus()
	guard := priceguard.New()
	pairs := marketdata.NewPairStore(pool)
	ledgerSvc := ledger.NewService(pool)

	positionSvc := positions.NewService(positions.NewPGStore(pool), ledgerSvc, notifier, bus, "USDT")
	orderMonitor := monitor.New(monitor.NewPGStore(pool), positionSvc, bus, notifier)
	if err := orderMonitor.Load(ctx); err != nil {
		log.Fatal(err)
	}

	priceFeed := feed.New(cfg.FeedURL, cfg.Symbols, cfg.FeedRetry)
	eng := engine.New(priceFeed, guard, positionSvc, orderMonitor, bus, cfg.BookRefresh)

	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	authSvc.SetProvisioner(ledgerSvc)
	authHandler := auth.NewHandler(authSvc)
	faucetMax, err := decimal.NewFromString(cfg.FaucetMax)
	if err != nil {
		log.Fatal(err)
	}
	ledgerHandler := ledger.NewHandler(ledgerSvc, cfg.FaucetEnabled, faucetMax)
	positionsHandler := positions.NewHandler(positionSvc, guard)
	ordersHandler := monitor.NewHandler(orderMonitor)
	marketHandler := marketdata.NewHandler(pairs, guard)
	wsHandler := httpserver.NewWSHandler(bus, authSvc, eng, cfg.WebSocketOrigin)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:      authHandler,
		LedgerHandler:    ledgerHandler,
		PositionsHandler: positionsHandler,
		OrdersHandler:    ordersHandler,
		MarketHandler:    marketHandler,
		AuthService:      authSvc,
		WSHandler:        wsHandler,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("engine stopped: %v", err)
		}
	}()

	log.Printf("server listening on %s", cfg.HTTPAddr)
	log.Printf("streaming %v from %s", cfg.Symbols, cfg.FeedURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
