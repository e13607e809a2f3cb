package offlineshell

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/always-cache/offline-shell/cache"
	cachestatus "github.com/always-cache/offline-shell/pkg/cache-status"
)

// strategy resolves a request to a response. A returned error is a network
// error the strategy chose not to recover from.
type strategy func(ctx context.Context, r *http.Request) (*http.Response, cachestatus.CacheStatus, error)

func (w *Worker) strategyFor(class Class) strategy {
	switch class {
	case ClassNavigation:
		return w.networkFirst
	case ClassBypass:
		return w.passthrough
	default:
		return w.cacheFirst
	}
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

// networkFirst tries the network and stores successful responses.
// If the network fails, the stored response is served, else the offline document.
// A response with an error status is not a network failure and is returned as is.
func (w *Worker) networkFirst(ctx context.Context, r *http.Request) (*http.Response, cachestatus.CacheStatus, error) {
	cs := cachestatus.CacheStatus{}
	key := w.keyer.Key(r)

	res, err := w.network.RoundTrip(r)
	if err == nil {
		cs.Forward(cachestatus.FwdReasonRequest)
		if isOK(res.StatusCode) && r.Method == http.MethodGet {
			var snapshot cache.Response
			snapshot, err = snapshotResponse(res)
			if err == nil {
				w.storeDetached(ctx, key, snapshot)
				cs.Stored = true
				return res, cs, nil
			}
			w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not read network response")
		} else {
			return res, cs, nil
		}
	}
	w.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network failed, trying cache")

	if stored, ok := w.match(ctx, key); ok {
		cs.Hit()
		cs.Detail = "offline"
		return stored.HTTPResponse(r), cs, nil
	}
	cs.Forward(cachestatus.FwdReasonOffline)
	cs.Detail = "fallback"
	return w.offlineResponse(r), cs, nil
}

// cacheFirst serves stored responses and refreshes them in the background.
// A miss goes to the network and a qualifying response is stored for next time.
func (w *Worker) cacheFirst(ctx context.Context, r *http.Request) (*http.Response, cachestatus.CacheStatus, error) {
	cs := cachestatus.CacheStatus{}
	key := w.keyer.Key(r)

	if stored, ok := w.match(ctx, key); ok {
		w.log.Trace().Str("key", key).Msg("Serving from cache")
		w.revalidate(ctx, r, key)
		cs.Hit()
		return stored.HTTPResponse(r), cs, nil
	}

	res, err := w.network.RoundTrip(r)
	if err != nil {
		w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Cache miss and network failed")
		cs.Forward(cachestatus.FwdReasonOffline)
		cs.Detail = "error"
		return w.errorResponse(r), cs, nil
	}
	if r.Method != http.MethodGet {
		cs.Forward(cachestatus.FwdReasonMethod)
	} else {
		cs.Forward(cachestatus.FwdReasonUriMiss)
	}
	if w.storable(r, res) {
		snapshot, err := snapshotResponse(res)
		if err != nil {
			w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not read network response")
			return w.errorResponse(r), cs, nil
		}
		w.log.Trace().Str("key", key).Msg("Storing network response")
		w.storeDetached(ctx, key, snapshot)
		cs.Stored = true
	}
	return res, cs, nil
}

// passthrough forwards the request. The cache is not touched.
func (w *Worker) passthrough(_ context.Context, r *http.Request) (*http.Response, cachestatus.CacheStatus, error) {
	cs := cachestatus.CacheStatus{}
	cs.Forward(cachestatus.FwdReasonBypass)
	res, err := w.network.RoundTrip(r)
	return res, cs, err
}

// storable reports whether a network response may be written to the cache:
// a successful GET answered by the application origin itself.
func (w *Worker) storable(r *http.Request, res *http.Response) bool {
	if !isOK(res.StatusCode) || r.Method != http.MethodGet {
		return false
	}
	if r.URL.Scheme == "data" {
		return false
	}
	if res.Request != nil && res.Request.URL != nil && !sameOrigin(res.Request.URL, w.origin) {
		return false
	}
	return sameOrigin(r.URL, w.origin)
}

// revalidate fetches r once in the background and overwrites the stored
// entry with a successful response. The caller keeps the stale response.
func (w *Worker) revalidate(ctx context.Context, r *http.Request, key string) {
	req := r.Clone(context.WithoutCancel(ctx))
	req.Body = nil
	w.bg.Go(ctx, "revalidate", func(ctx context.Context) error {
		res, err := w.network.RoundTrip(req.WithContext(ctx))
		if err != nil {
			w.log.Debug().Err(err).Str("key", key).Msg("Revalidation fetch failed")
			return nil
		}
		if !isOK(res.StatusCode) {
			res.Body.Close()
			w.log.Trace().Int("status", res.StatusCode).Str("key", key).Msg("Revalidation not stored")
			return nil
		}
		snapshot, err := snapshotResponse(res)
		if err != nil {
			return err
		}
		return w.put(ctx, key, snapshot)
	})
}

// storeDetached writes the snapshot without holding up the response.
func (w *Worker) storeDetached(ctx context.Context, key string, snapshot cache.Response) {
	w.bg.Go(ctx, "store", func(ctx context.Context) error {
		return w.put(ctx, key, snapshot)
	})
}

func (w *Worker) put(ctx context.Context, key string, snapshot cache.Response) error {
	h, err := w.handle(ctx)
	if err != nil {
		return err
	}
	if err := h.Put(ctx, key, snapshot); err != nil {
		return err
	}
	w.log.Trace().Str("key", key).Str("cache", h.Name()).Msg("Wrote to cache")
	return nil
}

// match looks key up in the current generation. Read failures count as a miss.
func (w *Worker) match(ctx context.Context, key string) (cache.Response, bool) {
	h, err := w.handle(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not open cache")
		return cache.Response{}, false
	}
	res, ok, err := h.Match(ctx, key)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return cache.Response{}, false
	}
	return res, ok
}

// snapshotResponse reads the body of res into a stored response and gives
// res a fresh body over the same bytes.
func snapshotResponse(res *http.Response) (cache.Response, error) {
	var body []byte
	if res.Body != nil {
		b, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return cache.Response{}, err
		}
		body = b
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return cache.Snapshot(res, body), nil
}
