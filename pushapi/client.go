// Package pushapi talks to the REST API that stores push subscriptions
// for the signed-in user and can send a test notification to one.
package pushapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://story-api.dicoding.dev/v1"

// Keys are the public subscription keys, base64url encoded.
type Keys struct {
	P256dh string `json:"p256dh" yaml:"p256dh"`
	Auth   string `json:"auth" yaml:"auth"`
}

// Subscription is a push subscription as handed out by the push service.
type Subscription struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Keys     Keys   `json:"keys" yaml:"keys"`
}

func (s Subscription) Validate() error {
	switch {
	case strings.TrimSpace(s.Endpoint) == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSub)
	case s.Keys.P256dh == "":
		return fmt.Errorf("%w: keys.p256dh is required", ErrInvalidSub)
	case s.Keys.Auth == "":
		return fmt.Errorf("%w: keys.auth is required", ErrInvalidSub)
	}
	return nil
}

// Result is the body of every API answer.
type Result struct {
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	BaseURL string
	Tokens  TokenSource
	// HTTP is the client used for requests. http.DefaultClient if nil.
	HTTP   *http.Client
	Logger *zerolog.Logger
}

func (c *Client) Subscribe(ctx context.Context, sub Subscription) (Result, error) {
	if err := sub.Validate(); err != nil {
		return Result{}, err
	}
	return c.do(ctx, http.MethodPost, "/notifications/subscribe", sub)
}

func (c *Client) Unsubscribe(ctx context.Context, endpoint string) (Result, error) {
	if strings.TrimSpace(endpoint) == "" {
		return Result{}, fmt.Errorf("%w: endpoint is required", ErrInvalidSub)
	}
	return c.do(ctx, http.MethodDelete, "/notifications/subscribe", struct {
		Endpoint string `json:"endpoint"`
	}{endpoint})
}

// SendTest asks the API to push a test notification to sub.
func (c *Client) SendTest(ctx context.Context, sub Subscription) (Result, error) {
	if err := sub.Validate(); err != nil {
		return Result{}, err
	}
	return c.do(ctx, http.MethodPost, "/notifications/test", sub)
}

func (c *Client) log() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return c.Logger.With().Str("component", "pushapi").Logger()
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (Result, error) {
	log := c.log()
	if c.Tokens == nil {
		return Result{}, ErrNoToken
	}
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("path", path).Msg("Push API request failed")
		return Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var result Result
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil && res.StatusCode < 300 {
			return Result{}, fmt.Errorf("decode response: %w", err)
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := &APIError{Status: res.StatusCode, Message: result.Message}
		if isAuthError(res.StatusCode, result.Message) {
			if err := c.Tokens.Clear(ctx); err != nil {
				log.Error().Err(err).Msg("Could not clear token")
			}
			log.Warn().Int("status", res.StatusCode).Str("path", path).Msg("Token rejected, cleared")
			return result, errors.Join(ErrUnauthorized, apiErr)
		}
		log.Debug().Int("status", res.StatusCode).Str("path", path).Str("message", result.Message).Msg("Push API error")
		return result, apiErr
	}
	log.Trace().Int("status", res.StatusCode).Str("path", path).Msg("Push API request done")
	return result, nil
}

func isAuthError(status int, message string) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "token") || strings.Contains(m, "unauthorized") || strings.Contains(m, "forbidden")
}
