package push

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Center is an in-process Notifier. It keeps the displayed notifications;
// a notification replaces any displayed one with the same tag.
type Center struct {
	mu    sync.Mutex
	shown []Notification
	log   zerolog.Logger
}

func NewCenter(logger zerolog.Logger) *Center {
	return &Center{
		log: logger.With().Str("component", "notifications").Logger(),
	}
}

func (c *Center) Show(_ context.Context, n Notification) (Notification, error) {
	n.ID = uuid.NewString()
	n.ShownAt = time.Now()
	n.Actions = append([]Action(nil), n.Actions...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if n.Tag != "" {
		for i, old := range c.shown {
			if old.Tag == n.Tag {
				c.log.Trace().Str("tag", n.Tag).Str("replaced", old.ID).Msg("Replacing notification with same tag")
				c.shown = append(c.shown[:i], c.shown[i+1:]...)
				break
			}
		}
	}
	c.shown = append(c.shown, n)
	c.log.Info().Str("id", n.ID).Str("tag", n.Tag).Str("title", n.Title).Msg("Showing notification")
	return n, nil
}

// Close removes the notification. Closing an unknown or already closed
// notification is not an error.
func (c *Center) Close(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.shown {
		if n.ID == id {
			c.shown = append(c.shown[:i], c.shown[i+1:]...)
			c.log.Debug().Str("id", id).Msg("Closed notification")
			return nil
		}
	}
	return nil
}

// Get returns the displayed notification with the given id.
func (c *Center) Get(id string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.shown {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// Displayed returns the displayed notifications, oldest first.
func (c *Center) Displayed() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.shown...)
}
