package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stretchr/testify/mock"
)

// RoomAuthorizer answers whether a user may join an explicit room. The
// membership data itself is owned by the volunteer-management REST
// layer; the gateway only asks.
type RoomAuthorizer interface {
	CanJoin(ctx context.Context, userId int, room string) (bool, error)
}

// AllowAllAuthorizer admits every join. Useful for development and for
// deployments where room membership is enforced upstream.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) CanJoin(_ context.Context, _ int, _ string) (bool, error) {
	return true, nil
}

// HTTPRoomAuthorizer checks membership against the REST layer's
// membership endpoint, authenticated with the shared internal secret.
type HTTPRoomAuthorizer struct {
	BaseURL string
	Secret  string
	Client  *http.Client
}

func NewHTTPRoomAuthorizer(baseURL, secret string) *HTTPRoomAuthorizer {
	return &HTTPRoomAuthorizer{
		BaseURL: baseURL,
		Secret:  secret,
		Client:  &http.Client{Timeout: 3 * time.Second},
	}
}

func (a *HTTPRoomAuthorizer) CanJoin(ctx context.Context, userId int, room string) (bool, error) {
	q := url.Values{}
	q.Set("user_id", strconv.Itoa(userId))
	q.Set("room", room)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.BaseURL+"/api/memberships/check?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("build membership request: %w", err)
	}
	req.Header.Set("x-internal-secret", a.Secret)

	resp, err := a.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("membership check: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound, http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("membership check: unexpected status %d", resp.StatusCode)
	}
}

type MockRoomAuthorizer struct {
	mock.Mock
}

func (m *MockRoomAuthorizer) CanJoin(ctx context.Context, userId int, room string) (bool, error) {
	args := m.Called(ctx, userId, room)
	return args.Bool(0), args.Error(1)
}
