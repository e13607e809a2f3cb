package offlineshell

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	cachestatus "github.com/always-cache/offline-shell/pkg/cache-status"

	"github.com/rs/zerolog"
)

// Registration routes intercepted requests to the active worker and
// swaps workers when a new generation is registered.
type Registration struct {
	mu      sync.RWMutex
	active  *Worker
	waiting *Worker

	origin       *url.URL
	reverseproxy httputil.ReverseProxy
	log          zerolog.Logger
}

// NewRegistration returns a registration for origin. Until a worker is
// active, requests are forwarded to network untouched.
func NewRegistration(origin *url.URL, network Network, logger *zerolog.Logger) *Registration {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "registration").Logger()
	}
	reg := &Registration{
		origin: origin,
		log:    l,
	}
	reg.reverseproxy = httputil.ReverseProxy{
		Director:  createDirector(origin),
		Transport: network,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			reg.log.Error().Err(err).Str("url", r.URL.String()).Msg("Passthrough failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return reg
}

func createDirector(origin *url.URL) func(req *http.Request) {
	return func(req *http.Request) {
		if req.URL.IsAbs() || origin == nil {
			return
		}
		req.URL.Scheme = origin.Scheme
		req.URL.Host = origin.Host
		req.Host = origin.Host
	}
}

// Register installs w and activates it unless it has to wait for the
// active worker. The previous worker becomes redundant.
func (reg *Registration) Register(ctx context.Context, w *Worker) error {
	if err := w.Dispatch(ctx, InstallEvent{}); err != nil {
		return err
	}

	if !w.SkipWaiting() && reg.Active() != nil {
		reg.mu.Lock()
		reg.waiting = w
		reg.mu.Unlock()
		reg.log.Info().Str("generation", w.Generation()).Msg("Worker installed, waiting")
		return nil
	}

	if err := w.Dispatch(ctx, ActivateEvent{}); err != nil {
		return err
	}

	reg.mu.Lock()
	prev := reg.active
	reg.active = w
	if reg.waiting == w {
		reg.waiting = nil
	}
	reg.mu.Unlock()

	if prev != nil && prev != w {
		prev.MarkRedundant()
	}
	reg.log.Info().Str("generation", w.Generation()).Msg("Worker active")
	return nil
}

// Active returns the worker handling intercepted requests, or nil.
func (reg *Registration) Active() *Worker {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.active
}

// Waiting returns an installed worker that is waiting to be activated, or nil.
func (reg *Registration) Waiting() *Worker {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.waiting
}

// ServeHTTP implements the http.Handler interface.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	worker := reg.Active()
	if worker == nil {
		reg.log.Trace().Str("url", r.URL.String()).Msg("No active worker, passing through")
		reg.reverseproxy.ServeHTTP(w, r)
		return
	}

	ev := &FetchEvent{Request: r}
	if err := worker.Dispatch(r.Context(), ev); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		reg.log.Error().Err(err).Msg("Fetch failed")
		w.Header().Set(cachestatus.HeaderName, ev.Status.String())
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	reg.writeResponse(w, r, ev)
}

func (reg *Registration) writeResponse(w http.ResponseWriter, r *http.Request, ev *FetchEvent) {
	res := ev.Response
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Set(cachestatus.HeaderName, ev.Status.String())
	w.WriteHeader(res.StatusCode)
	var written int64
	if res.Body != nil {
		n, err := io.Copy(w, res.Body)
		if err != nil {
			reg.log.Error().Err(err).Msg("Could not write response body to client")
		}
		written = n
	}
	reg.logRequest(r, ev)
	reg.log.Trace().Msgf("Wrote body (%d bytes)", written)
}

func (reg *Registration) logRequest(r *http.Request, ev *FetchEvent) {
	cs := ev.Status
	isHit := 0
	if cs.Status == cachestatus.StatusHit {
		isHit = 1
	}
	reg.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("class", ev.Class.String()).
		Int("status", ev.Response.StatusCode).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// hop-by-hop headers belong to the upstream connection
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
