package offlineshell

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/offline-shell/cache"
	"github.com/always-cache/offline-shell/clients"
	"github.com/always-cache/offline-shell/push"
	"github.com/always-cache/offline-shell/pushapi"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// ShellPrefix is where the event surface is mounted. Every other path is intercepted.
const ShellPrefix = "/_shell"

// maxPushSize bounds push message bodies, the limit push services apply.
const maxPushSize = 4096

// Surface is the HTTP face of the shell: the event endpoints through which
// the host environment delivers push messages and clicks, plus the
// interception boundary for everything else.
type Surface struct {
	Registration  *Registration
	Notifications *push.Center
	Clients       *clients.Registry
	Storage       cache.Storage
	// PushAPI forwards subscriptions. The caller's bearer token is used.
	PushAPI *pushapi.Client
	Logger  *zerolog.Logger
}

// Handler returns the router for the surface.
func (s Surface) Handler() http.Handler {
	logger := zerolog.Nop()
	if s.Logger != nil {
		logger = *s.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))

	r.Route(ShellPrefix, func(r chi.Router) {
		r.Post("/push", s.handlePush)
		r.Post("/notificationclick", s.handleClick)
		r.Get("/notifications", s.listNotifications)
		r.Get("/clients", s.listClients)
		r.Post("/clients", s.openClient)
		r.Get("/caches", s.listCaches)
		r.Get("/state", s.state)
		r.Post("/subscription", s.subscribe)
		r.Delete("/subscription", s.unsubscribe)
		r.Post("/subscription/test", s.sendTest)
	})
	r.Handle("/*", s.Registration)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, pushapi.Result{Error: true, Message: err.Error()})
}

func (s Surface) activeWorker(w http.ResponseWriter) *Worker {
	worker := s.Registration.Active()
	if worker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoActiveWorker)
	}
	return worker
}

func (s Surface) handlePush(w http.ResponseWriter, r *http.Request) {
	worker := s.activeWorker(w)
	if worker == nil {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	ev := PushEvent{Data: data, ContentEncoding: r.Header.Get("Content-Encoding")}
	if err := worker.Dispatch(r.Context(), ev); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Push event failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var displayed []push.Notification
	if s.Notifications != nil {
		displayed = s.Notifications.Displayed()
	}
	writeJSON(w, http.StatusCreated, displayed)
}

func (s Surface) handleClick(w http.ResponseWriter, r *http.Request) {
	worker := s.activeWorker(w)
	if worker == nil {
		return
	}
	var click push.Click
	if err := json.NewDecoder(r.Body).Decode(&click); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// the click carries the id only; the data comes from the displayed notification
	if s.Notifications != nil && click.Notification.ID != "" {
		if n, ok := s.Notifications.Get(click.Notification.ID); ok {
			click.Notification = n
		}
	}
	if err := worker.Dispatch(r.Context(), NotificationClickEvent{Click: click}); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Notification click failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s Surface) listNotifications(w http.ResponseWriter, r *http.Request) {
	displayed := []push.Notification{}
	if s.Notifications != nil {
		displayed = s.Notifications.Displayed()
	}
	writeJSON(w, http.StatusOK, displayed)
}

func (s Surface) listClients(w http.ResponseWriter, r *http.Request) {
	list, err := s.Clients.MatchAll(r.Context(), clients.MatchOptions{
		Type:                clients.TypeWindow,
		IncludeUncontrolled: true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s Surface) openClient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	c, err := s.Clients.OpenWindow(r.Context(), body.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s Surface) listCaches(w http.ResponseWriter, r *http.Request) {
	names, err := s.Storage.Names(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

type workerState struct {
	Generation string `json:"generation"`
	State      State  `json:"state"`
}

func (s Surface) state(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Active  *workerState `json:"active"`
		Waiting *workerState `json:"waiting"`
	}{}
	if a := s.Registration.Active(); a != nil {
		out.Active = &workerState{Generation: a.Generation(), State: a.State()}
	}
	if wt := s.Registration.Waiting(); wt != nil {
		out.Waiting = &workerState{Generation: wt.Generation(), State: wt.State()}
	}
	writeJSON(w, http.StatusOK, out)
}

// requestTokens is the bearer token of the calling client.
type requestTokens string

func (t requestTokens) Token(context.Context) (string, error) {
	if t == "" {
		return "", pushapi.ErrNoToken
	}
	return string(t), nil
}

// Clear is a no-op: the caller owns the token and sees the 401.
func (requestTokens) Clear(context.Context) error { return nil }

func (s Surface) pushAPI(r *http.Request) *pushapi.Client {
	c := pushapi.Client{}
	if s.PushAPI != nil {
		c = *s.PushAPI
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	c.Tokens = requestTokens(strings.TrimSpace(token))
	return &c
}

// subscription reads a subscription from the request. Missing keys are
// filled in from the worker's push keys.
func (s Surface) subscription(r *http.Request) (pushapi.Subscription, error) {
	var sub pushapi.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		return sub, err
	}
	if worker := s.Registration.Active(); worker != nil {
		if keys, ok := worker.PushKeys(); ok {
			if sub.Keys.P256dh == "" {
				sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(keys.P256dh())
			}
			if sub.Keys.Auth == "" {
				sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(keys.Auth)
			}
		}
	}
	return sub, nil
}

func (s Surface) subscribe(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscription(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.pushAPI(r).Subscribe(r.Context(), sub)
	writeAPIResult(w, res, err)
}

func (s Surface) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.pushAPI(r).Unsubscribe(r.Context(), body.Endpoint)
	writeAPIResult(w, res, err)
}

func (s Surface) sendTest(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscription(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.pushAPI(r).SendTest(r.Context(), sub)
	writeAPIResult(w, res, err)
}

func writeAPIResult(w http.ResponseWriter, res pushapi.Result, err error) {
	var apiErr *pushapi.APIError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, pushapi.ErrNoToken), errors.Is(err, pushapi.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, pushapi.ErrInvalidSub):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.Status, pushapi.Result{Error: true, Message: apiErr.Message})
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}
