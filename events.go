package offlineshell

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	cachestatus "github.com/always-cache/offline-shell/pkg/cache-status"
	"github.com/always-cache/offline-shell/push"
	"github.com/always-cache/offline-shell/push/webpush"
)

// Event is delivered to a worker by the host environment.
type Event interface {
	EventName() string
}

type InstallEvent struct{}

type ActivateEvent struct{}

// FetchEvent is an intercepted request. Dispatch fills in the response.
type FetchEvent struct {
	Request *http.Request

	Class    Class
	Response *http.Response
	Status   cachestatus.CacheStatus
}

// PushEvent is an inbound push message.
type PushEvent struct {
	Data []byte
	// ContentEncoding is "aes128gcm" for an encrypted message.
	ContentEncoding string
}

type NotificationClickEvent struct {
	Click push.Click
}

func (InstallEvent) EventName() string           { return "install" }
func (ActivateEvent) EventName() string          { return "activate" }
func (*FetchEvent) EventName() string            { return "fetch" }
func (PushEvent) EventName() string              { return "push" }
func (NotificationClickEvent) EventName() string { return "notificationclick" }

// Dispatch handles ev and returns once its work has settled. Detached work,
// such as cache writes and revalidation, may still be running; see Wait.
func (w *Worker) Dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case InstallEvent:
		return w.Install(ctx)
	case ActivateEvent:
		return w.Activate(ctx)
	case *FetchEvent:
		return w.fetch(ctx, e)
	case PushEvent:
		_, err := w.push.HandlePush(ctx, w.pushData(e))
		return err
	case NotificationClickEvent:
		_, err := w.push.HandleClick(ctx, e.Click)
		return err
	case nil:
		return fmt.Errorf("%w: nil", ErrUnknownEvent)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.EventName())
	}
}

func (w *Worker) fetch(ctx context.Context, ev *FetchEvent) error {
	if ev == nil || ev.Request == nil {
		return fmt.Errorf("%w: fetch without request", ErrUnknownEvent)
	}
	if s := w.State(); s != StateActive {
		return fmt.Errorf("%w: worker is %s", ErrNoActiveWorker, s)
	}
	d := DescribeRequest(ev.Request, w.origin)
	ev.Class = w.classifier.Classify(d)
	req := outboundRequest(ev.Request.WithContext(ctx), d.URL)

	w.log.Trace().
		Str("method", d.Method).
		Str("url", d.URL.String()).
		Str("class", ev.Class.String()).
		Msg("Handling fetch")

	res, cs, err := w.strategyFor(ev.Class)(ctx, req)
	ev.Status = cs
	if err != nil {
		return fmt.Errorf("%s %s: %w", d.Method, d.URL, err)
	}
	ev.Response = res
	return nil
}

// pushData returns the plaintext of a push message. Messages that cannot be
// decrypted are treated as carrying no payload.
func (w *Worker) pushData(e PushEvent) []byte {
	if !strings.EqualFold(e.ContentEncoding, webpush.ContentEncoding) {
		return e.Data
	}
	keys, ok := w.PushKeys()
	if !ok {
		w.log.Error().Msg("Encrypted push message but no push keys configured")
		return nil
	}
	plain, err := webpush.Decrypt(e.Data, keys)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not decrypt push message")
		return nil
	}
	return plain
}
