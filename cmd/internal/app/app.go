// Package app wires the questguard server runtime: config, logging,
// the session-security core, and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tokyoquest/cmd/directory"
	"tokyoquest/cmd/internal/authapi"
	"tokyoquest/cmd/internal/gate"
	"tokyoquest/cmd/internal/ratelimit"
	"tokyoquest/cmd/internal/session"
)

// App is the questguard server runtime: it owns HTTP server wiring and
// the lifecycle of the session registry and rate limiters.
type App struct {
	cfg     Config
	log     Logger
	sessCfg session.Config

	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions *session.Service
	limiters map[ratelimit.Class]*ratelimit.Limiter
	gate     *gate.Gate
	auth     *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	dbPool, dbEnabled, err := newDB(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	tokens, err := session.NewHS256Manager(sessCfg)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	// Audit always goes to the log; Postgres persistence is additive.
	sink := session.FanoutSink{session.NewLogSink(log)}
	var dir directory.Directory
	if dbEnabled {
		sink = append(sink, session.NewPostgresSink(dbPool, log))
		pgDir, err := directory.NewPostgresDirectory(dbPool)
		if err != nil {
			dbPool.Close()
			return nil, err
		}
		dir = pgDir
	}

	registry := session.NewRegistry(sessCfg, sink)
	sessions := session.NewService(sessCfg, registry, tokens)

	fp, err := ratelimit.NewFingerprinter(cfg.FingerprintKey)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	limiters := map[ratelimit.Class]*ratelimit.Limiter{}
	for _, class := range []ratelimit.Class{
		ratelimit.ClassGeneral, ratelimit.ClassAuth, ratelimit.ClassAdmin, ratelimit.ClassUpload,
	} {
		limiters[class] = ratelimit.New(ratelimit.LoadConfigFromEnv(class))
	}

	authCfg := authapi.LoadConfigFromEnv()
	authCfg.TrustProxy = cfg.TrustProxy

	if err := ValidateSecurityConfig(cfg, authCfg); err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	g, err := gate.New(log, gate.Options{
		Sessions:    sessions,
		Directory:   dir,
		Fingerprint: fp,
		Limiters:    limiters,
		TrustProxy:  cfg.TrustProxy,
		CookieName:  authCfg.CookieName,
	})
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	auth, err := authapi.NewHandler(log, authCfg, sessions, g, dir)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		sessCfg:   sessCfg,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		sessions:  sessions,
		limiters:  limiters,
		gate:      g,
		auth:      auth,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or
// fatal server error. The session registry and rate limiters never
// schedule their own timers; the cleanup ticker lives here.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)
	handler = WithRequestID(handler)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go a.cleanupLoop(cleanupCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

// cleanupLoop periodically sweeps the session registry and rate-limit
// tables until ctx is canceled.
func (a *App) cleanupLoop(ctx context.Context) {
	interval := nonZeroDuration(a.sessCfg.CleanupInterval, 10*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			res := a.sessions.Registry().CleanupExpired(ctx, now)

			removed := 0
			for _, l := range a.limiters {
				removed += l.Cleanup(now)
			}

			a.log.Info("cleanup.sweep",
				"sessions_expired", res.Expired,
				"sessions_inactive", res.Inactive,
				"sessions_evicted", res.Evicted,
				"ratelimit_removed", removed,
			)
		}
	}
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

// newDB decides between Postgres-backed persistence and pure in-memory
// operation. The registry itself is always in-memory; the pool only
// backs the audit trail and the staff directory.
func newDB(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_only")
		return nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, false, err
	}

	log.Info("db.enabled.postgres")
	return pool, true, nil
}
