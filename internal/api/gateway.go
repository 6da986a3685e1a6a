package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/voluntr/realtime/internal/config"
	"github.com/voluntr/realtime/internal/server"
	"github.com/voluntr/realtime/internal/stats"
)

const internalSecretHeader = "x-internal-secret"

// GatewayApp is the HTTP face of the gateway: the websocket handshake
// for clients and the internal ingestion endpoint for the publish
// bridge.
type GatewayApp struct {
	log            *log.Logger
	srv            *http.Server
	es             *server.EventServer
	stats          stats.StatsProvider
	signingKey     []byte
	internalSecret string
	allowedOrigins []string
}

func NewGatewayApp(mux *http.ServeMux, logger *log.Logger, es *server.EventServer, st stats.StatsProvider, cfg *config.Config) *GatewayApp {
	g := &GatewayApp{
		log:            logger,
		es:             es,
		stats:          st,
		signingKey:     cfg.SigningKey,
		internalSecret: cfg.InternalSecret,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /ws", g.authMiddleware(g.serveWs))
	mux.HandleFunc("POST /_internal/notify", g.internalAuthMiddleware(g.notify))
	mux.HandleFunc("GET /healthz", g.healthz)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = g.errorHandler(h)

	g.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return g
}

func (g *GatewayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Printf("json encode: %v", err)
	}
}

func (g *GatewayApp) Start() error {
	g.log.Printf("starting gateway on %s\n", g.srv.Addr)
	return g.srv.ListenAndServe()
}

func (g *GatewayApp) Shutdown(ctx context.Context) error {
	g.log.Println("shutting down gateway...")
	if err := g.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
