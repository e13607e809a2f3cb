package offlineshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/always-cache/offline-shell/cache"
	"github.com/always-cache/offline-shell/clients"
	"github.com/always-cache/offline-shell/push"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://story.localhost"

var errOffline = errors.New("dial tcp: connection refused")

func mustOrigin(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(testOrigin)
	require.NoError(t, err)
	return u
}

func testSettings(generation string) Settings {
	s := DefaultSettings()
	s.Origin = testOrigin
	s.Cache.Generation = generation
	return s
}

// testNetwork serves every path with "<path> v<version>" and records the
// URLs fetched. It can be switched offline as a whole or per path.
type testNetwork struct {
	mu      sync.Mutex
	calls   map[string]int
	failing map[string]bool
	status  map[string]int
	offline bool
	version atomic.Int32
}

func newTestNetwork() *testNetwork {
	n := &testNetwork{
		calls:   map[string]int{},
		failing: map[string]bool{},
		status:  map[string]int{},
	}
	n.version.Store(1)
	return n
}

func (n *testNetwork) RoundTrip(r *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.calls[r.URL.String()]++
	fail := n.offline || n.failing[r.URL.Path]
	status := n.status[r.URL.Path]
	n.mu.Unlock()
	if fail {
		return nil, errOffline
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if status != 0 {
			w.WriteHeader(status)
		}
		fmt.Fprintf(w, "%s v%d", r.URL.Path, n.version.Load())
	})
	return HandlerNetwork{Handler: handler}.RoundTrip(r)
}

func (n *testNetwork) count(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[url]
}

func (n *testNetwork) setOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *testNetwork) fail(path string) {
	n.mu.Lock()
	n.failing[path] = true
	n.mu.Unlock()
}

func (n *testNetwork) respond(path string, status int) {
	n.mu.Lock()
	n.status[path] = status
	n.mu.Unlock()
}

type testShell struct {
	worker  *Worker
	storage cache.Storage
	network *testNetwork
	center  *push.Center
	clients *clients.Registry
}

func newWorker(t *testing.T, settings Settings, storage cache.Storage, network Network) *Worker {
	t.Helper()
	logger := zerolog.Nop()
	w, err := NewWorker(Config{
		Settings: settings,
		Storage:  storage,
		Network:  network,
		Logger:   &logger,
	})
	require.NoError(t, err)
	return w
}

// newActiveShell returns an installed and activated worker.
func newActiveShell(t *testing.T, settings Settings) *testShell {
	t.Helper()
	logger := zerolog.Nop()
	s := &testShell{
		storage: cache.NewMemStorage(),
		network: newTestNetwork(),
		center:  push.NewCenter(logger),
		clients: clients.NewRegistry(logger),
	}
	w, err := NewWorker(Config{
		Settings: settings,
		Storage:  s.storage,
		Network:  s.network,
		Clients:  s.clients,
		Notifier: s.center,
		Logger:   &logger,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Dispatch(ctx, InstallEvent{}))
	require.NoError(t, w.Dispatch(ctx, ActivateEvent{}))
	s.worker = w
	t.Cleanup(func() { w.Close(context.Background()) })
	return s
}

// fetch dispatches a fetch event for target and returns the settled event.
func (s *testShell) fetch(t *testing.T, method, target string, navigate bool) (*FetchEvent, string) {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	if navigate {
		r.Header.Set("Sec-Fetch-Mode", "navigate")
	}
	ev := &FetchEvent{Request: r}
	require.NoError(t, s.worker.Dispatch(context.Background(), ev))
	require.NotNil(t, ev.Response)
	body, err := io.ReadAll(ev.Response.Body)
	require.NoError(t, err)
	ev.Response.Body.Close()
	return ev, string(body)
}

func (s *testShell) wait(t *testing.T) {
	t.Helper()
	require.NoError(t, s.worker.Wait(context.Background()))
}

func (s *testShell) stored(t *testing.T, path string) (cache.Response, bool) {
	t.Helper()
	h, err := s.storage.Open(context.Background(), s.worker.Generation())
	require.NoError(t, err)
	res, ok, err := h.Match(context.Background(), "GET:"+path)
	require.NoError(t, err)
	return res, ok
}

// spyStorage counts the reads and writes that reach the cache.
type spyStorage struct {
	cache.Storage
	puts    atomic.Int32
	matches atomic.Int32
}

func (s *spyStorage) Open(ctx context.Context, name string) (cache.Handle, error) {
	h, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &spyHandle{Handle: h, spy: s}, nil
}

type spyHandle struct {
	cache.Handle
	spy *spyStorage
}

func (h *spyHandle) Put(ctx context.Context, key string, res cache.Response) error {
	h.spy.puts.Add(1)
	return h.Handle.Put(ctx, key, res)
}

func (h *spyHandle) Match(ctx context.Context, key string) (cache.Response, bool, error) {
	h.spy.matches.Add(1)
	return h.Handle.Match(ctx, key)
}

var errBrokenCache = errors.New("disk I/O error")

// brokenStorage fails every read and write. With failOpen set it cannot
// even open a cache.
type brokenStorage struct {
	cache.Storage
	failOpen bool
}

func (s *brokenStorage) Open(ctx context.Context, name string) (cache.Handle, error) {
	if s.failOpen {
		return nil, errBrokenCache
	}
	h, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return brokenHandle{Handle: h}, nil
}

type brokenHandle struct {
	cache.Handle
}

func (brokenHandle) Put(context.Context, string, cache.Response) error {
	return errBrokenCache
}

func (brokenHandle) Match(context.Context, string) (cache.Response, bool, error) {
	return cache.Response{}, false, errBrokenCache
}
