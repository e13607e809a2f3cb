// Package clients keeps track of the application windows the shell serves,
// which of them a worker generation controls, and which one has focus.
package clients

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const TypeWindow = "window"

var ErrClientNotFound = errors.New("client not found")

// Client is a snapshot of an open window.
type Client struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
	// Generation of the worker controlling the window, empty when uncontrolled.
	Controller string    `json:"controller,omitempty"`
	Focused    bool      `json:"focused"`
	OpenedAt   time.Time `json:"opened_at"`
}

type MatchOptions struct {
	// Type restricts the result to clients of that type. Empty matches all.
	Type string
	// IncludeUncontrolled also returns clients no worker controls.
	IncludeUncontrolled bool
}

// Registry is an in-process client list.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	order   []string
	log     zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		log:     logger.With().Str("component", "clients").Logger(),
	}
}

// OpenWindow opens a new, focused and uncontrolled window at url.
func (r *Registry) OpenWindow(_ context.Context, url string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Client{
		ID:       uuid.NewString(),
		Type:     TypeWindow,
		URL:      url,
		OpenedAt: time.Now(),
	}
	r.blurAllLocked()
	c.Focused = true
	r.clients[c.ID] = c
	r.order = append(r.order, c.ID)
	r.log.Debug().Str("client", c.ID).Str("url", url).Msg("Opened window")
	return *c, nil
}

// MatchAll returns the matching clients in the order they were opened.
func (r *Registry) MatchAll(_ context.Context, opts MatchOptions) ([]Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Client, 0, len(r.order))
	for _, id := range r.order {
		c := r.clients[id]
		if opts.Type != "" && c.Type != opts.Type {
			continue
		}
		if c.Controller == "" && !opts.IncludeUncontrolled {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

// Focus gives the client focus, taking it from every other client.
func (r *Registry) Focus(_ context.Context, id string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	r.blurAllLocked()
	c.Focused = true
	r.log.Debug().Str("client", id).Str("url", c.URL).Msg("Focused window")
	return *c, nil
}

// Claim makes the given worker generation the controller of every open client.
// It returns the number of clients whose controller changed.
func (r *Registry) Claim(_ context.Context, generation string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	claimed := 0
	for _, c := range r.clients {
		if c.Controller != generation {
			c.Controller = generation
			claimed++
		}
	}
	r.log.Debug().Str("generation", generation).Int("claimed", claimed).Msg("Claimed clients")
	return claimed, nil
}

// Close removes a client, e.g. when its window was closed.
func (r *Registry) Close(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return ErrClientNotFound
	}
	delete(r.clients, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Registry) blurAllLocked() {
	for _, c := range r.clients {
		c.Focused = false
	}
}
