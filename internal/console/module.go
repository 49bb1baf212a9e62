package console

import (
	"context"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/backend"
	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/cache"
	"github.com/matheus3301/wacrm/internal/config"
	"github.com/matheus3301/wacrm/internal/journal"
	"github.com/matheus3301/wacrm/internal/lock"
	"github.com/matheus3301/wacrm/internal/logging"
	"github.com/matheus3301/wacrm/internal/outbox"
	"github.com/matheus3301/wacrm/internal/profile"
	"github.com/matheus3301/wacrm/internal/push"
	"github.com/matheus3301/wacrm/internal/status"
	intsync "github.com/matheus3301/wacrm/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile  string
	Settings *config.Settings
	Dir      string      // optional override for testing; empty = profile.Dir(Profile)
	Logger   *zap.Logger // optional; empty = file-only log in the profile dir
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return profile.Dir(p.Profile)
}

// Module returns the fx module for one console session, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("console",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideJournal,
			provideBackend,
			providePush,
			provideEngine,
			provideReconciler,
			providePipeline,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.NewFileOnly(filepath.Join(p.dir(), "logs", "wacrm.log"), p.Profile, zap.InfoLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideJournal depends on the lock so the database is never opened by a
// second console.
func provideJournal(p Params, _ *lock.Lock, logger *zap.Logger) (*journal.DB, error) {
	path := filepath.Join(p.dir(), "journal.db")
	db, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("journal initialized", zap.String("path", path))
	return db, nil
}

func provideBackend(p Params, logger *zap.Logger) (*backend.Client, error) {
	s := p.Settings
	op := backend.Operator{ID: s.Operator.ID, Name: s.Operator.Name, Email: s.Operator.Email}
	return backend.New(s.APIBaseURL, s.RequestTimeout, op, logger)
}

func providePush(p Params, m *status.Machine, logger *zap.Logger) (*push.Socket, error) {
	s := p.Settings
	return push.NewSocket(push.SocketConfig{
		URL: s.PushURL,
		Auth: map[string]string{
			"userId":    s.Operator.ID,
			"userName":  s.Operator.Name,
			"userEmail": s.Operator.Email,
		},
	}, m, logger)
}

func provideEngine(p Params, c *backend.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	s := p.Settings
	return intsync.NewEngine(c, b, logger, intsync.Options{
		RefreshInterval: s.RefreshInterval,
		Cache:           []cache.Option{cache.WithTTL(s.CacheTTL), cache.WithCapacity(s.CacheCapacity)},
	})
}

func provideReconciler(p Params, e *intsync.Engine, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	var n intsync.Notifier
	if p.Settings.Notify {
		n = intsync.BusNotifier{Bus: b}
	}
	return intsync.NewReconciler(e, n, logger)
}

func providePipeline(e *intsync.Engine, c *backend.Client, db *journal.DB, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(e, c, db, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *journal.DB,
	sock *push.Socket,
	engine *intsync.Engine,
	rec *intsync.Reconciler,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Handlers go in before the socket can deliver anything.
			rec.Attach(sock)
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("status server error", zap.Error(err))
				}
			}()

			return sock.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			var err error
			err = multierr.Append(err, sock.Stop())
			rec.Detach()
			engine.Stop()
			srv.Stop(ctx)
			err = multierr.Append(err, db.Close())
			err = multierr.Append(err, lk.Release())
			if err != nil {
				logger.Warn("console stopped with errors", zap.Error(err))
			} else {
				logger.Info("console stopped")
			}
			return err
		},
	})
}
