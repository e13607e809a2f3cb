package pushapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSub = Subscription{
	Endpoint: "https://push.example.com/send/abc",
	Keys:     Keys{P256dh: "BPUBLIC", Auth: "AUTH"},
}

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, result Result) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&rec.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestSubscribe(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, Result{Message: "Success to subscribe web push notification."})
	c := &Client{BaseURL: srv.URL + "/v1", Tokens: NewMemoryTokens("tok")}

	res, err := c.Subscribe(context.Background(), testSub)
	require.NoError(t, err)
	assert.False(t, res.Error)
	assert.Equal(t, "Success to subscribe web push notification.", res.Message)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/v1/notifications/subscribe", rec.path)
	assert.Equal(t, "Bearer tok", rec.auth)
	assert.Equal(t, testSub.Endpoint, rec.body["endpoint"])
	keys, ok := rec.body["keys"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BPUBLIC", keys["p256dh"])
}

func TestUnsubscribeSendsOnlyEndpoint(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, Result{Message: "ok"})
	c := &Client{BaseURL: srv.URL, Tokens: NewMemoryTokens("tok")}

	_, err := c.Unsubscribe(context.Background(), testSub.Endpoint)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, "/notifications/subscribe", rec.path)
	assert.Equal(t, map[string]any{"endpoint": testSub.Endpoint}, rec.body)

	_, err = c.Unsubscribe(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidSub)
}

func TestSendTest(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, Result{Message: "sent"})
	c := &Client{BaseURL: srv.URL, Tokens: NewMemoryTokens("tok")}

	_, err := c.SendTest(context.Background(), testSub)
	require.NoError(t, err)
	assert.Equal(t, "/notifications/test", rec.path)
}

func TestNoToken(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, Result{})
	c := &Client{BaseURL: srv.URL, Tokens: NewMemoryTokens("")}

	_, err := c.Subscribe(context.Background(), testSub)
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Empty(t, rec.method, "no request is made without a token")

	_, err = (&Client{BaseURL: srv.URL}).Subscribe(context.Background(), testSub)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestUnauthorizedClearsToken(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, Result{Error: true, Message: "Missing authentication"})
	tokens := NewMemoryTokens("expired")
	c := &Client{BaseURL: srv.URL, Tokens: tokens}

	res, err := c.Subscribe(context.Background(), testSub)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, res.Error)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = tokens.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestServerErrorKeepsToken(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, Result{Error: true, Message: "\"endpoint\" must be a valid uri"})
	tokens := NewMemoryTokens("tok")
	c := &Client{BaseURL: srv.URL, Tokens: tokens}

	_, err := c.Subscribe(context.Background(), testSub)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "\"endpoint\" must be a valid uri", apiErr.Message)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	token, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, testSub.Validate())

	missing := []Subscription{
		{Keys: testSub.Keys},
		{Endpoint: testSub.Endpoint, Keys: Keys{Auth: "a"}},
		{Endpoint: testSub.Endpoint, Keys: Keys{P256dh: "p"}},
	}
	for _, sub := range missing {
		assert.ErrorIs(t, sub.Validate(), ErrInvalidSub)
	}
}
