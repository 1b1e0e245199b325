package daemon

import (
	"context"

	"github.com/presencesync/presenced/internal/bridge"
	"github.com/presencesync/presenced/internal/bus"
	"github.com/presencesync/presenced/internal/calendar"
	"github.com/presencesync/presenced/internal/chat"
	"github.com/presencesync/presenced/internal/config"
	"github.com/presencesync/presenced/internal/directory"
	"github.com/presencesync/presenced/internal/engine"
	"github.com/presencesync/presenced/internal/lock"
	"github.com/presencesync/presenced/internal/logging"
	"github.com/presencesync/presenced/internal/mark"
	"github.com/presencesync/presenced/internal/paths"
	"github.com/presencesync/presenced/internal/registry"
	"github.com/presencesync/presenced/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks around the validated config.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideMarks,
			provideCalendar,
			provideChat,
			provideEngine,
			provideBinder,
			provideQueueConsumer,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(paths.LogPath(cfg.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDirs(cfg.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data directory lock", zap.String("data_dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(cfg.DataDir)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry(db *store.DB, b *bus.Bus, logger *zap.Logger) (*registry.Registry, error) {
	reg := registry.New(db, b, logger)
	if err := reg.Load(); err != nil {
		return nil, err
	}
	return reg, nil
}

func provideMarks() *mark.Tracker {
	return mark.NewTracker()
}

func provideCalendar(cfg *config.Config) calendar.Source {
	return calendar.NewClient(cfg.Calendar.BaseURL, cfg.Calendar.ServiceToken, nil)
}

func provideChat(cfg *config.Config) *chat.Client {
	return chat.NewClient(cfg.Chat.BaseURL, nil)
}

func provideEngine(cfg *config.Config, reg *registry.Registry, marks *mark.Tracker, source calendar.Source, sink *chat.Client, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	mapping := engine.Mapping{
		BusyText:      cfg.Sync.BusyText,
		BusyEmoji:     cfg.Sync.BusyEmoji,
		AwayText:      cfg.Sync.AwayText,
		AwayEmoji:     cfg.Sync.AwayEmoji,
		TentativeBusy: cfg.Sync.TentativeBusy,
	}
	opts := engine.Options{
		PollInterval:  cfg.Sync.PollInterval.Duration,
		CallTimeout:   cfg.Sync.CallTimeout.Duration,
		MaxConcurrent: int64(cfg.Sync.MaxConcurrent),
	}
	return engine.New(reg, marks, source, sink, mapping, opts, b, logger)
}

func provideBinder(cfg *config.Config, reg *registry.Registry, dir *chat.Client, b *bus.Bus, logger *zap.Logger) *directory.Binder {
	return directory.New(reg, dir, cfg.Chat.AdminToken, cfg.Sync.DirectoryInterval.Duration, b, logger)
}

func provideQueueConsumer(cfg *config.Config, reg *registry.Registry, eng *engine.Engine, logger *zap.Logger) (*bridge.QueueConsumer, error) {
	return bridge.NewQueueConsumer(cfg.Queue.URL, cfg.Queue.Subject, cfg.Queue.VerificationToken, reg, eng, logger)
}

func provideHTTPServer(cfg *config.Config, reg *registry.Registry, eng *engine.Engine, logger *zap.Logger) *bridge.Server {
	settings := bridge.OAuthSettings{
		ClientID:     cfg.Server.OAuthClientID,
		ClientSecret: cfg.Server.OAuthClientSecret,
		RedirectURL:  cfg.Server.OAuthRedirectURL,
		AuthURL:      cfg.Chat.BaseURL + "/oauth/authorize",
		TokenURL:     cfg.Chat.BaseURL + "/api/oauth.access",
	}
	return bridge.NewServer(cfg.Server.ListenAddr, settings, reg, eng, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *bridge.Server, consumer *bridge.QueueConsumer, eng *engine.Engine, binder *directory.Binder, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			eng.Start(context.Background())
			binder.Start(context.Background())

			if err := consumer.Start(context.Background()); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http bridge error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			consumer.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("http bridge shutdown error", zap.Error(err))
			}
			binder.Stop()
			eng.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("store close error", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
