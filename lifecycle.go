package offlineshell

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/always-cache/offline-shell/cache"
	"github.com/always-cache/offline-shell/clients"
	cachekey "github.com/always-cache/offline-shell/pkg/cache-key"
	"github.com/always-cache/offline-shell/push"
	"github.com/always-cache/offline-shell/push/webpush"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a worker.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Worker owns one cache generation. It reacts to the events delivered
// through Dispatch and never acts on its own.
type Worker struct {
	settings   Settings
	generation string
	origin     *url.URL
	classifier Classifier
	keyer      cachekey.CacheKeyer
	storage    cache.Storage
	network    Network
	clients    Clients
	push       *push.Router
	pushKeys   *webpush.Keys
	bg         *background
	log        zerolog.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool
	cache       cache.Handle
}

// NewWorker validates config.Settings and creates a worker in the parsed state.
func NewWorker(config Config) (*Worker, error) {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	settings := config.Settings
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if config.Storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidConfig)
	}
	origin := settings.OriginURL()

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", origin.String()).
		Str("generation", settings.Cache.Generation).
		Logger()

	w := &Worker{
		settings:   settings,
		generation: settings.Cache.Generation,
		origin:     origin,
		classifier: NewClassifier(origin, settings),
		keyer:      cachekey.NewCacheKeyer(origin),
		storage:    config.Storage,
		network:    config.Network,
		clients:    config.Clients,
		bg:         newBackground(settings.Background.Limit, logger),
		log:        logger,
	}
	if w.network == nil {
		w.network = NewUpstreamNetwork(origin, settings.UpstreamURL(), "")
	}
	if w.clients == nil {
		w.clients = clients.NewRegistry(logger)
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = push.NewCenter(logger)
	}
	w.push = push.NewRouter(notifier, w.clients, push.Config{
		Defaults: settings.Push.Defaults,
		Origin:   origin,
		Logger:   &logger,
	})
	if settings.Push.Keys.PrivateKey != "" {
		keys, err := webpush.ParseKeys(settings.Push.Keys.PrivateKey, settings.Push.Keys.Auth)
		if err != nil {
			return nil, fmt.Errorf("%w: push.keys: %v", ErrInvalidConfig, err)
		}
		w.pushKeys = &keys
	}
	return w, nil
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Generation is the name of the cache the worker owns.
func (w *Worker) Generation() string {
	return w.generation
}

// SkipWaiting reports whether the worker asked to be activated right after install.
func (w *Worker) SkipWaiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// PushKeys returns the keys encrypted push messages are decrypted with.
func (w *Worker) PushKeys() (webpush.Keys, bool) {
	if w.pushKeys == nil {
		return webpush.Keys{}, false
	}
	return *w.pushKeys, true
}

// transition moves from one state to the next, or fails without side effects.
func (w *Worker) transition(from, to State, event string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: %s while %s", ErrLifecycleOrder, event, w.state)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// handle returns the open cache of the current generation.
func (w *Worker) handle(ctx context.Context) (cache.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cache != nil {
		return w.cache, nil
	}
	h, err := w.storage.Open(ctx, w.generation)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", w.generation, err)
	}
	w.cache = h
	return h, nil
}

// Install opens the current generation and seeds it with the same-origin
// static assets. Assets that cannot be fetched or stored are skipped; seeding
// never fails the install.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateParsed, StateInstalling, "install"); err != nil {
		return err
	}
	w.log.Info().Msg("Installing")

	if h, err := w.handle(ctx); err != nil {
		w.log.Error().Err(err).Msg("Could not open cache, skipping seeding")
	} else {
		seeded := 0
		for _, asset := range w.settings.StaticAssets {
			if w.seed(ctx, h, asset) {
				seeded++
			}
		}
		w.log.Debug().Msgf("Seeded %d of %d static assets", seeded, len(w.settings.StaticAssets))
	}

	w.mu.Lock()
	w.state = StateInstalled
	w.skipWaiting = true
	w.mu.Unlock()
	return nil
}

func (w *Worker) seed(ctx context.Context, h cache.Handle, asset string) bool {
	log := w.log.With().Str("asset", asset).Logger()
	ref, err := url.Parse(asset)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid asset URL, skipping")
		return false
	}
	u := w.origin.ResolveReference(ref)
	if !sameOrigin(u, w.origin) {
		log.Debug().Msg("Cross-origin asset, skipping")
		return false
	}
	key, err := w.keyer.GetKey(u.String())
	if err != nil {
		log.Warn().Err(err).Msg("Invalid asset URL, skipping")
		return false
	}
	req, err := w.keyer.GetRequestFromKey(key)
	if err != nil {
		log.Warn().Err(err).Msg("Could not create request, skipping")
		return false
	}
	req = req.WithContext(ctx)
	res, err := w.network.RoundTrip(req)
	if err != nil {
		log.Warn().Err(err).Msg("Could not fetch asset, skipping")
		return false
	}
	if !isOK(res.StatusCode) {
		res.Body.Close()
		log.Warn().Int("status", res.StatusCode).Msg("Asset not fetched, skipping")
		return false
	}
	snapshot, err := snapshotResponse(res)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read asset, skipping")
		return false
	}
	if err := h.Put(ctx, key, snapshot); err != nil {
		log.Error().Err(err).Msg("Could not store asset")
		return false
	}
	log.Trace().Msg("Seeded asset")
	return true
}

// Activate deletes every cache generation but the current one and claims
// the open clients.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating, "activate"); err != nil {
		return err
	}
	w.log.Info().Msg("Activating")

	names, err := w.storage.Names(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not list caches")
	}
	for _, name := range names {
		if name == w.generation {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.log.Error().Err(err).Str("cache", name).Msg("Could not delete old cache")
			continue
		}
		w.log.Info().Str("cache", name).Msg("Deleted old cache")
	}

	claimed, err := w.clients.Claim(ctx, w.generation)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not claim clients")
	}
	w.log.Debug().Msgf("Claimed %d clients", claimed)

	w.setState(StateActive)
	return nil
}

// MarkRedundant retires the worker once a newer one took over.
func (w *Worker) MarkRedundant() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRedundant {
		w.state = StateRedundant
		w.log.Info().Msg("Worker is redundant")
	}
}

// Wait blocks until all detached work has finished or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	return w.bg.Wait(ctx)
}

// Close marks the worker redundant and waits for detached work.
// The storage is owned by the caller and stays open.
func (w *Worker) Close(ctx context.Context) error {
	w.MarkRedundant()
	return w.Wait(ctx)
}
