package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim    = "user-id"
	usernameClaim  = "username"
	tokenCookieKey = "token"
	tokenQueryKey  = "token"
)

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

// handshakeToken pulls the session token from the request: the query
// parameter the websocket handshake carries, or the cookie the REST
// layer sets for browser clients.
func handshakeToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token, nil
	}

	cookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return "", fmt.Errorf("no token in request: %w", err)
	}

	return cookie.Value, nil
}

// extractUserIdFromToken validates the token exactly as the REST layer
// does: HMAC-signed JWT carrying the user id claim.
func (g *GatewayApp) extractUserIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}

func (g *GatewayApp) usernameFromToken(tokenString string) string {
	token, _ := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return g.signingKey, nil
	})
	if token == nil {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}

	username, _ := claims[usernameClaim].(string)
	return username
}
