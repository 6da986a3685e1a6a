package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voluntr/realtime/internal/types"
)

// RestNotificationAPI talks to the CRUD layer's notification
// endpoints, authenticated with the caller's session token.
type RestNotificationAPI struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewRestNotificationAPI(baseURL, token string) *RestNotificationAPI {
	return &RestNotificationAPI{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *RestNotificationAPI) ListNotifications(ctx context.Context, limit, offset int) ([]types.Notification, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.BaseURL+"/api/notifications?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	a.authorize(req)

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list notifications: unexpected status %d", resp.StatusCode)
	}

	var notifications []types.Notification
	if err := json.NewDecoder(resp.Body).Decode(&notifications); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}

	return notifications, nil
}

func (a *RestNotificationAPI) MarkRead(ctx context.Context, id int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/notifications/%d/read", a.BaseURL, id), nil)
	if err != nil {
		return fmt.Errorf("build mark-read request: %w", err)
	}
	a.authorize(req)

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("mark read: unexpected status %d", resp.StatusCode)
	}

	return nil
}

func (a *RestNotificationAPI) authorize(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "token", Value: a.Token})
}
