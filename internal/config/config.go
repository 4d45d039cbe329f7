package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	DBDSN            string
	JWTIssuer        string
	JWTSecret        string
	JWTTTL           time.Duration
	WebSocketOrigin  string
	FeedURL          string
	FeedRetry        time.Duration
	Symbols          []string
	BookRefresh      time.Duration
	TelegramBotToken string
	TelegramChatID   string
	FaucetEnabled    bool
	FaucetMax        string
}

func Load() (Config, error) {
	// .env is a convenience for local runs; absence is not an error.
	_ = godotenv.Load()

	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}
	c.FeedURL = os.Getenv("FEED_URL")
	if c.FeedURL == "" {
		c.FeedURL = "wss://stream.binance.com:9443/ws"
	}
	retry := os.Getenv("FEED_RETRY")
	if retry == "" {
		c.FeedRetry = 5 * time.Second
	} else {
		d, err := time.ParseDuration(retry)
		if err != nil {
			return c, err
		}
		c.FeedRetry = d
	}
	symbols := os.Getenv("SYMBOLS")
	if symbols == "" {
		symbols = "BTCUSDT"
	}
	for _, s := range strings.Split(symbols, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			c.Symbols = append(c.Symbols, s)
		}
	}
	refresh := os.Getenv("BOOK_REFRESH")
	if refresh == "" {
		c.BookRefresh = 3 * time.Second
	} else {
		d, err := time.ParseDuration(refresh)
		if err != nil {
			return c, err
		}
		c.BookRefresh = d
	}
	c.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	faucetEnabled := os.Getenv("FAUCET_ENABLED")
	if faucetEnabled == "" {
		c.FaucetEnabled = true
	} else {
		b, err := strconv.ParseBool(faucetEnabled)
		if err != nil {
			return c, err
		}
		c.FaucetEnabled = b
	}
	max := os.Getenv("FAUCET_MAX")
	if max == "" {
		max = "100000"
	}
	c.FaucetMax = max
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}
