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

	"github.com/voluntr/realtime/internal/api"
	"github.com/voluntr/realtime/internal/config"
	"github.com/voluntr/realtime/internal/server"
	"github.com/voluntr/realtime/internal/stats"
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
	signingKey     string
	internalSecret string
	authzURL       string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded session token signing key")
	flag.StringVar(&internalSecret, "internal-secret", "", "shared secret for the ingestion endpoint")
	flag.StringVar(&authzURL, "authz-url", "", "base URL of the REST layer for room membership checks (empty allows all joins)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[voluntr-rt] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, signingKey, internalSecret, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var authz server.RoomAuthorizer = server.AllowAllAuthorizer{}
	if authzURL != "" {
		authz = server.NewHTTPRoomAuthorizer(authzURL, cfg.InternalSecret)
	} else {
		logger.Println("no authz-url configured, all room joins are allowed")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	eventServer, err := server.NewEventServer(logger, authz, statsUpdater)
	if err != nil {
		logger.Fatal("new event server:", err)
	}

	gw := api.NewGatewayApp(mux, logger, eventServer, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go eventServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
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

	if err := gw.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down event server...")
	if err := eventServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("event server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
