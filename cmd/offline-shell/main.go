package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlineshell "github.com/always-cache/offline-shell"
	"github.com/always-cache/offline-shell/cache"
	"github.com/always-cache/offline-shell/clients"
	"github.com/always-cache/offline-shell/push"
	"github.com/always-cache/offline-shell/pushapi"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	upstreamFlag       string
	hostFlag           string
	portFlag           int
	providerFlag       string
	dbFlag             string
	generationFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", getenvDefault("OFFLINE_SHELL_CONFIG", ""), "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Application origin (overrides config)")
	flag.StringVar(&upstreamFlag, "upstream", "", "Server the origin's content is fetched from (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname to use for TLS negotiation with the upstream")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider: memory, sqlite, leveldb or redis (overrides config)")
	flag.StringVar(&dbFlag, "db", "", "Cache DSN: sqlite file ('memory' for in-memory db), leveldb dir or redis URL")
	flag.StringVar(&generationFlag, "generation", "", "Cache generation name (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	settings, err := loadSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}

	storage, err := cache.Open(settings.Cache.Provider, settings.Cache.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache storage")
	}
	defer storage.Close()

	origin := settings.OriginURL()
	network := offlineshell.NewUpstreamNetwork(origin, settings.UpstreamURL(), hostFlag)
	windows := clients.NewRegistry(log.Logger)
	center := push.NewCenter(log.Logger)

	worker, err := offlineshell.NewWorker(offlineshell.Config{
		Settings: settings,
		Storage:  storage,
		Network:  network,
		Clients:  windows,
		Notifier: center,
		Logger:   &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registration := offlineshell.NewRegistration(origin, network, &log.Logger)
	if err := registration.Register(ctx, worker); err != nil {
		log.Fatal().Err(err).Msg("Could not register worker")
	}

	surface := offlineshell.Surface{
		Registration:  registration,
		Notifications: center,
		Clients:       windows,
		Storage:       storage,
		PushAPI: &pushapi.Client{
			BaseURL: settings.Push.API.BaseURL,
			Logger:  &log.Logger,
		},
		Logger: &log.Logger,
	}
	srv := &http.Server{
		Addr:              settings.Listen,
		Handler:           surface.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("Serving %s on %s (upstream %s)", origin, settings.Listen, settings.UpstreamURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server")
	}
	if err := worker.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Background tasks did not finish")
	}
}

// loadSettings reads the config file if given and applies the flag overrides.
func loadSettings() (offlineshell.Settings, error) {
	settings := offlineshell.DefaultSettings()
	if configFilenameFlag != "" {
		s, err := offlineshell.LoadSettings(configFilenameFlag)
		if err != nil && !errors.Is(err, offlineshell.ErrInvalidConfig) {
			return s, err
		}
		// validated again once the flags are applied
		settings = s
	}
	if originFlag != "" {
		settings.Origin = originFlag
	}
	if upstreamFlag != "" {
		settings.Upstream = upstreamFlag
	}
	if portFlag > 0 {
		settings.Listen = fmt.Sprintf(":%d", portFlag)
	}
	if providerFlag != "" {
		settings.Cache.Provider = providerFlag
	}
	if dbFlag != "" {
		settings.Cache.DSN = dbFlag
	}
	if generationFlag != "" {
		settings.Cache.Generation = generationFlag
	}
	if settings.Origin == "" {
		return settings, errors.New("please specify origin")
	}
	err := settings.Validate()
	return settings, err
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
