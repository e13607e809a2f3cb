package offlineshell

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/always-cache/offline-shell/cache"
	"github.com/always-cache/offline-shell/clients"
	"github.com/always-cache/offline-shell/push"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is what a Worker is constructed from.
type Config struct {
	Settings Settings
	// Storage for the cache generations. Required.
	Storage cache.Storage
	// Network used for every fetch. Requests for the origin are sent to
	// Settings.Upstream by default.
	Network Network
	// Open client windows. A fresh registry is used if nil.
	Clients Clients
	// Notifier used for push messages. An in-process push.Center is used if nil.
	Notifier push.Notifier
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Clients are the windows a worker can claim and route notification clicks to.
type Clients interface {
	push.WindowClients
	Claim(ctx context.Context, generation string) (int, error)
}

var _ Clients = (*clients.Registry)(nil)

// Settings is the externally supplied configuration, usually read from YAML.
type Settings struct {
	// Origin is the application's own origin, e.g. http://localhost:9000.
	Origin string `yaml:"origin"`
	// Upstream serves the origin's content. Defaults to Origin.
	Upstream string `yaml:"upstream"`
	Listen   string `yaml:"listen"`

	Cache CacheSettings `yaml:"cache"`

	// StaticAssets are seeded on install. Cross-origin entries are skipped.
	StaticAssets []string `yaml:"staticAssets"`
	// ExcludedHosts are never cached, including their subdomains.
	ExcludedHosts []string `yaml:"excludedHosts"`
	// ExcludedPatterns are never cached when contained in the request URL.
	ExcludedPatterns []string `yaml:"excludedPatterns"`
	// NavigationPaths are always handled network-first.
	NavigationPaths []string `yaml:"navigationPaths"`

	OfflineHTML string `yaml:"offlineHTML"`
	ErrorHTML   string `yaml:"errorHTML"`

	Background BackgroundSettings `yaml:"background"`
	Push       PushSettings       `yaml:"push"`

	originURL   *url.URL
	upstreamURL *url.URL
}

type CacheSettings struct {
	// Generation names the current cache. Changing it evicts all others on activation.
	Generation string `yaml:"generation"`
	Provider   string `yaml:"provider"`
	DSN        string `yaml:"dsn"`
}

type BackgroundSettings struct {
	// Limit bounds the number of detached tasks running at once.
	Limit int `yaml:"limit"`
}

type PushSettings struct {
	Defaults push.Defaults  `yaml:"defaults"`
	API      PushAPISettings `yaml:"api"`
	Keys     PushKeys        `yaml:"keys"`
}

type PushAPISettings struct {
	BaseURL string `yaml:"baseURL"`
}

// PushKeys are the subscription's private key and auth secret, base64url.
// Encrypted push messages are rejected without them.
type PushKeys struct {
	PrivateKey string `yaml:"privateKey"`
	Auth       string `yaml:"auth"`
}

const (
	defaultGeneration      = "dicoding-story-v1"
	defaultBackgroundLimit = 16
	defaultOfflineHTML     = "<h1>Anda sedang offline.</h1>"
	defaultErrorHTML       = "<h1>Terjadi Kesalahan.</h1>"
)

// DefaultSettings returns the settings of the story application deployment.
// Origin is left empty.
func DefaultSettings() Settings {
	return Settings{
		Listen: ":8080",
		Cache: CacheSettings{
			Generation: defaultGeneration,
			Provider:   "sqlite",
		},
		StaticAssets: []string{
			"/",
			"/manifest.json",
			"/icons/icon-152x152.png",
			"/icons/icon-192x192.png",
			"/icons/icon-32x32.png",
			"/icons/icon-16x16.png",
			"/src/styles/main.css",
		},
		ExcludedHosts: []string{
			"story-app.dicoding.dev",
			"openstreetmap.org",
			"unpkg.com",
			"cdnjs.cloudflare.com",
		},
		ExcludedPatterns: []string{
			"sockjs-node",
			"hot-update.js",
		},
		NavigationPaths: []string{
			"/",
			"/index.html",
			"/src/scripts/index.js",
			"/src/scripts/app.js",
		},
		OfflineHTML: defaultOfflineHTML,
		ErrorHTML:   defaultErrorHTML,
		Background:  BackgroundSettings{Limit: defaultBackgroundLimit},
		Push: PushSettings{
			Defaults: push.DefaultDefaults(),
		},
	}
}

// LoadSettings reads a YAML file over DefaultSettings and validates the result.
func LoadSettings(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	s := DefaultSettings()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	err = s.Validate()
	return s, err
}

// Validate checks the settings and fills in derived values.
// It must be called after the settings were changed.
func (s *Settings) Validate() error {
	origin, err := parseOrigin(s.Origin)
	if err != nil {
		return fmt.Errorf("%w: origin: %v", ErrInvalidConfig, err)
	}
	s.Origin = origin.String()
	s.originURL = origin

	s.upstreamURL = origin
	if s.Upstream != "" {
		upstream, err := parseOrigin(s.Upstream)
		if err != nil {
			return fmt.Errorf("%w: upstream: %v", ErrInvalidConfig, err)
		}
		s.upstreamURL = upstream
	}

	if strings.TrimSpace(s.Cache.Generation) == "" {
		return fmt.Errorf("%w: cache.generation is required", ErrInvalidConfig)
	}
	for i, p := range s.NavigationPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: navigationPaths[%d]: %q is not an absolute path", ErrInvalidConfig, i, p)
		}
	}
	for i, a := range s.StaticAssets {
		if _, err := url.Parse(a); err != nil || a == "" {
			return fmt.Errorf("%w: staticAssets[%d]: invalid URL %q", ErrInvalidConfig, i, a)
		}
	}
	for i := range s.ExcludedHosts {
		s.ExcludedHosts[i] = strings.ToLower(strings.TrimSpace(s.ExcludedHosts[i]))
	}
	if s.Background.Limit < 0 {
		return fmt.Errorf("%w: background.limit must not be negative", ErrInvalidConfig)
	}
	if s.Background.Limit == 0 {
		s.Background.Limit = defaultBackgroundLimit
	}
	s.OfflineHTML = fallbackDocument(s.OfflineHTML, defaultOfflineHTML)
	s.ErrorHTML = fallbackDocument(s.ErrorHTML, defaultErrorHTML)
	if (s.Push.Keys.PrivateKey == "") != (s.Push.Keys.Auth == "") {
		return fmt.Errorf("%w: push.keys needs both privateKey and auth", ErrInvalidConfig)
	}
	return nil
}

// fallbackPolicy is applied to the configured fallback documents. They are
// served under the application origin, so scripts and event handlers go.
var fallbackPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("html", "head", "body", "title", "main", "header", "footer", "section")
	p.AllowAttrs("charset", "name", "content").OnElements("meta")
	return p
}()

func fallbackDocument(doc, def string) string {
	doc = strings.TrimSpace(fallbackPolicy.Sanitize(doc))
	if doc == "" {
		return def
	}
	return doc
}

// OriginURL returns the validated origin.
func (s Settings) OriginURL() *url.URL {
	if s.originURL == nil {
		u, _ := parseOrigin(s.Origin)
		return u
	}
	return s.originURL
}

// UpstreamURL returns the validated upstream, the origin if none was set.
func (s Settings) UpstreamURL() *url.URL {
	if s.upstreamURL == nil {
		if u, err := parseOrigin(s.Upstream); err == nil {
			return u
		}
		return s.OriginURL()
	}
	return s.upstreamURL
}

// parseOrigin accepts an absolute http(s) URL without path, query or fragment.
func parseOrigin(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		// origins with paths are not supported
		return nil, fmt.Errorf("must not have a path, query or fragment")
	}
	return &url.URL{Scheme: u.Scheme, Host: strings.ToLower(u.Host)}, nil
}
