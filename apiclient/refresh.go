package apiclient

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/prepstock/go-prepstock-client/internal/obs"
)

const refreshPath = "/refresh"

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionExp   int64  `json:"session_exp"`
}

// refreshAccessToken obtains a fresh access token, coordinating concurrent
// callers through a single shared in-flight refresh: every request that hits
// a 401 while a refresh is outstanding waits on the same result and is then
// replayed with the new token, or fails with the shared error.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	result, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// doRefresh calls the backend refresh endpoint authenticated with the stored
// refresh token. Any failure is fatal for the session: the persisted session
// is cleared and the application is sent back to the login entry point.
func (c *Client) doRefresh(ctx context.Context) (string, error) {
	sess := c.sessions.Load()
	if sess == nil || sess.RefreshToken == "" {
		c.teardownSession("no refresh token available")
		return "", errors.Wrap(ErrSessionExpired, "[Client.doRefresh] no refresh token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, nil)
	if err != nil {
		c.teardownSession("building refresh request failed")
		return "", errors.Wrap(err, "[Client.doRefresh] new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sess.RefreshToken)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		obs.TokenRefreshTotal.WithLabelValues("error").Inc()
		c.teardownSession("refresh call failed")
		return "", errors.Wrap(err, "[Client.doRefresh] post")
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		obs.TokenRefreshTotal.WithLabelValues("error").Inc()
		c.teardownSession("reading refresh response failed")
		return "", errors.Wrap(err, "[Client.doRefresh] read body")
	}

	if httpResp.StatusCode != http.StatusOK {
		obs.TokenRefreshTotal.WithLabelValues("rejected").Inc()
		c.teardownSession("refresh token rejected")
		return "", errors.Wrapf(ErrSessionExpired, "[Client.doRefresh] status %d", httpResp.StatusCode)
	}

	var refreshed refreshResponse
	if err := (&Response{Body: body}).Decode(&refreshed); err != nil {
		obs.TokenRefreshTotal.WithLabelValues("error").Inc()
		c.teardownSession("unreadable refresh response")
		return "", err
	}
	if refreshed.AccessToken == "" {
		obs.TokenRefreshTotal.WithLabelValues("error").Inc()
		c.teardownSession("refresh response missing access token")
		return "", errors.New("[Client.doRefresh] no access_token in refresh response")
	}

	if _, err := c.sessions.UpdateTokens(refreshed.AccessToken, refreshed.RefreshToken, refreshed.SessionExp); err != nil {
		obs.TokenRefreshTotal.WithLabelValues("error").Inc()
		c.teardownSession("persisting refreshed token failed")
		return "", err
	}

	obs.TokenRefreshTotal.WithLabelValues("ok").Inc()
	c.logger.Debug().Msg("access token refreshed")
	return refreshed.AccessToken, nil
}

func (c *Client) teardownSession(reason string) {
	c.logger.Warn().Str("reason", reason).Msg("clearing session, re-authentication required")
	c.sessions.Clear()
	if c.loginRedirect != nil {
		c.loginRedirect()
	}
}
