// Command layerd hosts the layer registry with its observers and serves the
// layer API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"layerdeck/internal/adapters/httpapi"
	"layerdeck/internal/archive"
	"layerdeck/internal/blob"
	"layerdeck/internal/config"
	"layerdeck/internal/core"
	"layerdeck/internal/eventbus"
	"layerdeck/internal/importer"
	"layerdeck/internal/journal"
	"layerdeck/internal/logging"
	"layerdeck/internal/metrics"
	"layerdeck/internal/notify"
	"layerdeck/internal/render"
	"layerdeck/internal/views"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args, os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to a TOML config file")
	addr := fs.String("addr", "", "listen address (overrides http.addr)")
	importDir := fs.String("import", "", "directory to import at startup (overrides import.dir)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.LoadFrom(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "layerd: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *importDir != "" {
		cfg.Import.Dir = *importDir
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	a, err := newApp(ctx, cfg, logger, clockwork.NewRealClock())
	if err != nil {
		logger.Error("Failed to start.", "error", err)
		return 1
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		logger.Error("Server stopped with error.", "error", err)
		return 1
	}
	return 0
}

// app is the wired process: registry, observers, archive, journal and API.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *core.Registry
	channels *eventbus.Channels
	surface  *views.MapSurface
	list     *views.LayerList
	sel      *views.Selection
	archive  *archive.Archive
	journal  *journal.Journal
	importer *importer.Importer
	handler  http.Handler
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, clock clockwork.Clock) (*app, error) {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	channels := eventbus.NewChannels(
		eventbus.WithLogger(logger),
		eventbus.WithPanicHook(func(bus string, topic eventbus.Topic) {
			m.HandlerPanics.WithLabelValues(bus, string(topic)).Inc()
		}),
	)

	feed := notify.NewFeed(cfg.Notify.FeedSize, clock)
	notifier := notify.Multi{notify.NewLogger(logger.With("component", "notify")), feed}
	registry := core.NewRegistry(channels, render.NewRenderer(render.Strategy(cfg.Stamp.Strategy)), notifier,
		core.WithLogger(logger.With("component", "registry")),
		core.WithMetrics(m),
		core.WithNotifyDuration(cfg.Notify.Duration),
	)
	registry.Prepare()

	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	journalStore, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		channels: channels,
		surface:  views.NewMapSurface(channels.Map),
		list:     views.NewLayerList(channels.LayerList),
		sel:      views.NewSelection(channels.Selection, channels.Layers, logger),
		archive:  archive.New(store, logger, m),
		journal:  journal.New(journalStore, journal.WithClock(clock), journal.WithLogger(logger)),
		importer: importer.New(channels.Layers, logger),
	}
	a.archive.Attach(channels.Map)
	a.journal.Attach(channels.LayerList)

	a.handler, err = httpapi.NewHandler(httpapi.Config{
		Layers:         registry,
		Requests:       channels.Layers,
		Notifications:  channels.LayerList,
		Raw:            a.archive,
		Feed:           feed,
		Journal:        a.journal,
		Metrics:        promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		Clock:          clock,
		Logger:         logger.With("component", "http"),
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	})
	if err != nil {
		_ = a.journal.Close()
		return nil, err
	}

	if cfg.Import.Dir != "" {
		n, err := a.importer.ImportDir(ctx, cfg.Import.Dir)
		if err != nil {
			logger.Warn("Startup import incomplete.", "dir", cfg.Import.Dir, "error", err)
		}
		logger.Info("Startup import done.", "dir", cfg.Import.Dir, "files", n, "layers", registry.Len())
	}
	logger.Info("Layer registry ready.", "blob_driver", store.Driver(), "journal_driver", cfg.Journal.Driver, "stamp", cfg.Stamp.Strategy)
	return a, nil
}

// Serve listens on cfg.HTTP.Addr until ctx is done, then shuts down
// gracefully within cfg.HTTP.ShutdownTimeout.
func (a *app) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.serveOn(ctx, ln)
}

func (a *app) newServer() *http.Server {
	return &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
	}
}

func (a *app) serveOn(ctx context.Context, ln net.Listener) error {
	srv := a.newServer()
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	a.logger.Info("HTTP server listening.", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	a.logger.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close detaches the observers and closes the journal.
func (a *app) Close() {
	a.surface.Close()
	a.list.Close()
	a.sel.Close()
	a.archive.Detach()
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("Failed to close journal.", "error", err)
	}
}
