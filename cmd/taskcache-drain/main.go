// Command taskcache-drain periodically flushes staged entity writes from the
// staging cache into the durable document store.
//
//	taskcache-drain -config /etc/taskcache.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/taskcache"
	"github.com/unkn0wn-root/taskcache/config"
	"github.com/unkn0wn-root/taskcache/docstore"
	"github.com/unkn0wn-root/taskcache/docstore/postgres"
	"github.com/unkn0wn-root/taskcache/docstore/sqlite"
	"github.com/unkn0wn-root/taskcache/genstore"
	asynchook "github.com/unkn0wn-root/taskcache/hooks/async"
	promhooks "github.com/unkn0wn-root/taskcache/hooks/prom"
	tzap "github.com/unkn0wn-root/taskcache/log/zap"
	pr "github.com/unkn0wn-root/taskcache/provider"
	bcprov "github.com/unkn0wn-root/taskcache/provider/bigcache"
	rprov "github.com/unkn0wn-root/taskcache/provider/redis"
	ristprov "github.com/unkn0wn-root/taskcache/provider/ristretto"
)

func main() {
	path := flag.String("config", "taskcache.toml", "path to the TOML config file")
	once := flag.Bool("once", false, "drain every type once and exit")
	flag.Parse()

	if err := run(*path, *once); err != nil {
		fmt.Fprintln(os.Stderr, "taskcache-drain:", err)
		os.Exit(1)
	}
}

func run(path string, once bool) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	zl, err := newZap(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := tzap.ZapLogger{L: zl}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()

	b, err := build(ctx, cfg, rdb, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer b.close(context.Background())

	drainer := taskcache.NewDrainer(cfg.DrainerOptions(logger), b.flushers...)
	if once {
		return drainer.DrainOnce(ctx)
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	zl.Info("draining", zap.Strings("types", cfg.Types), zap.Duration("interval", cfg.Drain.Interval.Duration))
	drainer.Start()
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(sctx)
	}
	return drainer.Stop(sctx)
}

func newZap(c config.Log) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// backends holds everything the daemon opened, for close.
type backends struct {
	flushers []taskcache.Flusher
	store    docstore.Store
	closers  []func(context.Context) error
}

func (b *backends) close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i](ctx)
	}
}

// build wires one Cached per configured type. Staged hashes and drain
// generations live in rdb, which the caller owns.
func build(ctx context.Context, cfg *config.Config, rdb goredis.UniversalClient, logger taskcache.Logger, reg prometheus.Registerer) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.close(context.Background())
		return nil, err
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fail(fmt.Errorf("redis ping: %w", err))
	}
	hash, err := rprov.New(rprov.Config{Client: rdb})
	if err != nil {
		return fail(err)
	}
	gens := genstore.NewRedisGenStore(rdb, cfg.Project)

	kv, err := newProvider(ctx, cfg, hash)
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, kv.Close)

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fail(err)
	}
	b.store = store
	b.closers = append(b.closers, store.Close)

	ph, err := promhooks.New(reg)
	if err != nil {
		return fail(err)
	}
	hooks := asynchook.New(ph, 1, 1024)
	b.closers = append(b.closers, func(context.Context) error { hooks.Close(); return nil })

	cd, err := codecFor(cfg.Codec, cfg.MaxDecodeBytes)
	if err != nil {
		return fail(err)
	}
	for _, typ := range cfg.Types {
		coll, err := store.Collection(ctx, typ)
		if err != nil {
			return fail(err)
		}
		cc, err := taskcache.New[rawEntity](taskcache.Options[rawEntity]{
			Project:            cfg.Project,
			TypeName:           typ,
			Provider:           kv,
			Hash:               hash,
			Collection:         coll,
			Codec:              cd,
			Logger:             logger,
			Hooks:              hooks,
			CacheExpiry:        cfg.CacheExpiry.Duration,
			GenStore:           gens,
			IsolateFlushErrors: cfg.IsolateFlushErrors,
		})
		if err != nil {
			return fail(err)
		}
		b.flushers = append(b.flushers, cc)
	}
	return b, nil
}

// newProvider picks the fast-read store. The daemon never reads it, but
// building it validates the deployment's cache settings.
func newProvider(ctx context.Context, cfg *config.Config, hash *rprov.Redis) (pr.Provider, error) {
	switch cfg.Cache.Provider {
	case "bigcache":
		return bcprov.New(ctx, bcprov.Config{LifeWindow: cfg.CacheExpiry.Duration})
	case "ristretto":
		return ristprov.New(ristprov.Config{NumCounters: cfg.Cache.MaxCost / 10, MaxCost: cfg.Cache.MaxCost, BufferItems: 64})
	default:
		return hash, nil
	}
}

func openStore(ctx context.Context, c config.Store) (docstore.Store, error) {
	switch c.Driver {
	case "postgres":
		return postgres.Open(ctx, c.DSN)
	default:
		return sqlite.Open(ctx, c.DSN)
	}
}
