package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/always-cache/offline-shell/clients"

	"github.com/rs/zerolog"
)

var ErrNoNotifier = errors.New("no notifier configured")

// Notifier displays notifications to the user.
type Notifier interface {
	// Show displays n and returns it with its assigned ID.
	Show(ctx context.Context, n Notification) (Notification, error)
	// Close removes a displayed notification.
	Close(ctx context.Context, id string) error
}

// WindowClients is the part of the client list the click routing needs.
type WindowClients interface {
	MatchAll(ctx context.Context, opts clients.MatchOptions) ([]clients.Client, error)
	Focus(ctx context.Context, id string) (clients.Client, error)
	OpenWindow(ctx context.Context, url string) (clients.Client, error)
}

// Click is a click on a displayed notification.
type Click struct {
	// Action is "open", "close" or empty for a click on the body.
	Action       string       `json:"action"`
	Notification Notification `json:"notification"`
}

// Outcome is the terminal state of a handled click.
type Outcome string

const (
	OutcomeClosed  Outcome = "closed"
	OutcomeFocused Outcome = "focused"
	OutcomeOpened  Outcome = "opened"
)

type Config struct {
	Defaults Defaults
	// Origin resolves relative notification target URLs.
	Origin *url.URL
	// Logger to use. A disabled logger is used if nil.
	Logger *zerolog.Logger
}

type Router struct {
	notifier Notifier
	clients  WindowClients
	defaults Defaults
	origin   *url.URL
	log      zerolog.Logger
}

func NewRouter(notifier Notifier, windows WindowClients, config Config) *Router {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Router{
		notifier: notifier,
		clients:  windows,
		defaults: config.Defaults.withFallback(),
		origin:   config.Origin,
		log:      logger.With().Str("component", "push").Logger(),
	}
}

// HandlePush displays the notification for an inbound push message.
// It returns once the notification is shown.
func (r *Router) HandlePush(ctx context.Context, data []byte) (Notification, error) {
	n, err := Decode(data, r.defaults)
	if err != nil {
		r.log.Error().Err(err).Msg("Error parsing push data, using defaults")
	}
	if r.notifier == nil {
		return n, ErrNoNotifier
	}
	shown, err := r.notifier.Show(ctx, n)
	if err != nil {
		return n, fmt.Errorf("show notification: %w", err)
	}
	return shown, nil
}

// HandleClick closes the clicked notification and, unless the close action
// was chosen, focuses a window already showing the target URL or opens one.
func (r *Router) HandleClick(ctx context.Context, click Click) (Outcome, error) {
	log := r.log.With().Str("id", click.Notification.ID).Str("action", click.Action).Logger()
	log.Debug().Msg("Notification clicked")

	if r.notifier != nil && click.Notification.ID != "" {
		if err := r.notifier.Close(ctx, click.Notification.ID); err != nil {
			log.Error().Err(err).Msg("Could not close notification")
		}
	}
	if click.Action == ActionClose {
		return OutcomeClosed, nil
	}

	target := r.targetURL(click.Notification)
	windows, err := r.clients.MatchAll(ctx, clients.MatchOptions{
		Type:                clients.TypeWindow,
		IncludeUncontrolled: true,
	})
	if err != nil {
		return "", fmt.Errorf("match clients: %w", err)
	}
	for _, w := range windows {
		if w.URL == target {
			if _, err := r.clients.Focus(ctx, w.ID); err != nil {
				return "", fmt.Errorf("focus client: %w", err)
			}
			log.Debug().Str("client", w.ID).Str("url", target).Msg("Focused existing window")
			return OutcomeFocused, nil
		}
	}
	if _, err := r.clients.OpenWindow(ctx, target); err != nil {
		return "", fmt.Errorf("open window: %w", err)
	}
	log.Debug().Str("url", target).Msg("Opened new window")
	return OutcomeOpened, nil
}

// targetURL returns the absolute URL a click on n leads to.
func (r *Router) targetURL(n Notification) string {
	raw := n.Data.URL
	if raw == "" {
		raw = "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		r.log.Warn().Err(err).Str("url", raw).Msg("Invalid notification URL, using root")
		u = &url.URL{Path: "/"}
	}
	if r.origin != nil {
		u = r.origin.ResolveReference(u)
	}
	return u.String()
}
