package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
)

func (g *GatewayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				g.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				g.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware guards the client-facing endpoints with the same
// session tokens the REST layer issues.
func (g *GatewayApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := handshakeToken(r)
		if err != nil {
			errResp := NewUnauthorizedError()
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		userId, err := g.extractUserIdFromToken(tokenString)
		if err != nil {
			g.log.Printf("failed to extract user id from token: %v", err)
			errResp := NewUnauthorizedError()
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithUserId(r.Context(), userId)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// internalAuthMiddleware guards the ingestion endpoint with the shared
// secret the publish bridge carries. No retry on mismatch, just a 401.
func (g *GatewayApp) internalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(internalSecretHeader)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(g.internalSecret)) != 1 {
			g.log.Printf("ingest rejected: bad internal secret from %s", r.RemoteAddr)
			errResp := NewUnauthorizedError()
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	}
}
