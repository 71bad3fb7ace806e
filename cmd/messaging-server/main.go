package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/fitfriends/messaging/internal/api"
	"github.com/fitfriends/messaging/internal/chat"
	"github.com/fitfriends/messaging/internal/config"
	"github.com/fitfriends/messaging/internal/history"
	"github.com/fitfriends/messaging/internal/notify"
	"github.com/fitfriends/messaging/internal/stats"
	"github.com/fitfriends/messaging/internal/store"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	redisAddr      string
	pushGatewayURL string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for the cross-instance relay (disabled when empty)")
	flag.StringVar(&pushGatewayURL, "push-gateway-url", "", "base URL of the push notification gateway (disabled when empty)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[messaging] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.RedisAddr = redisAddr
	cfg.PushGatewayURL = pushGatewayURL

	db, err := store.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	var dispatcher notify.Dispatcher = notify.NoopDispatcher{}
	if cfg.PushGatewayURL != "" {
		dispatcher = notify.NewPushDispatcher(cfg.PushGatewayURL, logger)
	}

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()

	var relay chat.Relay
	var redisRelay *chat.RedisRelay
	if cfg.RedisAddr != "" {
		redisRelay = chat.NewRedisRelay(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), logger)
		relay = redisRelay
	}

	gateway, err := chat.NewGateway(logger, db, dispatcher, statsUpdater, relay)
	if err != nil {
		logger.Fatal("new gateway:", err)
	}

	if redisRelay != nil {
		go func() {
			if err := redisRelay.Run(relayCtx, gateway.HandleRelayEvent); err != nil && relayCtx.Err() == nil {
				logger.Println("relay:", err)
			}
		}()
	}

	srv := api.NewMessagingApp(mux, logger, gateway, db, history.NewReader(db), cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go gateway.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down gateway...")
	if err := gateway.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("gateway shutdown:", err)
	}

	logger.Println("shutdown complete")
}
