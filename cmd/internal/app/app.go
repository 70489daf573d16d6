// Package app wires the whizqr server runtime: config, logging, the pairing
// service, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairapi"
	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairing"
	"github.com/Whizmburu/Whiz-qr/cmd/internal/realtime"
	"github.com/Whizmburu/Whiz-qr/cmd/internal/sessionindex"
	"github.com/Whizmburu/Whiz-qr/cmd/internal/whatsapp"
)

// App is the whizqr server runtime.
type App struct {
	cfg     Config
	pairCfg pairing.Config
	log     Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *prometheus.Registry
	svc     *pairing.Service
	ws      *realtime.WSGateway
	pair    *pairapi.Handler
}

// Option overrides App dependencies.
type Option func(*options)

type options struct {
	dialer pairing.Dialer
}

// WithDialer replaces the WhatsApp protocol client.
func WithDialer(d pairing.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, pairCfg pairing.Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.dialer == nil {
		o.dialer = whatsapp.NewDialer(log, pairCfg.BrandName)
	}

	index, dbPool, err := newIndex(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := realtime.NewHub(log)
	svc, err := pairing.NewService(pairCfg, log, o.dialer, index,
		pairing.WithMetrics(pairing.NewMetrics(reg)),
		pairing.WithNotifier(hub),
	)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	pair, err := pairapi.NewHandler(log, svc)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		pairCfg:   pairCfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbPool != nil,
		metrics:   reg,
		svc:       svc,
		ws:        realtime.NewWSGateway(log, hub, pairapi.NewStatusSource(svc)),
		pair:      pair,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	return WithRequestID(h)
}

// Run serves HTTP and runs the orphan sweep until ctx is done or either fails,
// then tears down live attempts.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := a.cfg.PublicURL
	if base == "" {
		base = runtimeBaseURL(a.cfg.HTTPAddr)
	}
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"pair_url", base+"/pair",
		"ws_url", wsBaseURL(base)+"/pair/{id}/ws",
		"db_enabled", a.dbEnabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.svc.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			errs = append(errs, err)
		}
		if err := a.svc.Shutdown(shutdownCtx); err != nil {
			a.log.Error("pairing.shutdown.fail", "err", err)
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	closePool(a.dbPool)
	a.log.Info("server.stopped")
	return err
}

// Close releases resources without serving. Used when Run is never called.
func (a *App) Close(ctx context.Context) error {
	err := a.svc.Shutdown(ctx)
	closePool(a.dbPool)
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newIndex picks the durable session index: Postgres when a database URL is
// configured, the JSON file otherwise.
func newIndex(ctx context.Context, cfg Config, log Logger) (sessionindex.Index, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		key, err := sessionindex.ParseKeyHex(cfg.IndexKeyHex)
		if err != nil {
			return nil, nil, err
		}
		idx, err := sessionindex.OpenFile(cfg.IndexPath, sessionindex.WithSealKey(key))
		if err != nil {
			return nil, nil, err
		}
		log.Info("index.file", "path", cfg.IndexPath, "sealed", key != nil)
		return idx, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := sessionindex.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("index.postgres")
	return store, pool, nil
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
