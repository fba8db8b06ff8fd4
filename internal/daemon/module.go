package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/auth"
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/chat"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/gateway"
	"github.com/matheus3301/chatline/internal/live"
	"github.com/matheus3301/chatline/internal/lock"
	"github.com/matheus3301/chatline/internal/logging"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/prefs"
	"github.com/matheus3301/chatline/internal/session"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
	intsync "github.com/matheus3301/chatline/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Version is reported in the User-Agent of gateway requests.
var Version = "dev"

// Gateway is the remote endpoint shared by the poller and the sender.
type Gateway interface {
	Send(ctx context.Context, command string) (string, error)
}

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.chatline/config.toml
	Gateway     Gateway        // optional override for testing; nil = HTTP client
	Logger      *zap.Logger    // optional override for testing; nil = session log file
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			providePrefs,
			provideGateway,
			provideHistory,
			provideReplies,
			providePoller,
			provideSender,
			provideSession,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOrDefault(session.ConfigPath())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// process holding it.
func provideStore(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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
	return db.WithBus(b), nil
}

func providePrefs(db *store.DB, b *bus.Bus, logger *zap.Logger) (*prefs.Store, error) {
	ps, err := prefs.Open(db, b)
	if err != nil {
		return nil, err
	}
	p := ps.Profile()
	if p.DisplayName == "" {
		logger.Info("no display name set, messages will be anonymous")
	}
	if p.AccessToken != "" {
		info, err := auth.Inspect(p.AccessToken, time.Now())
		switch {
		case err != nil:
			logger.Warn("stored access token is unreadable", zap.Error(err))
		case info.Expired:
			logger.Warn("stored access token has expired",
				zap.String("subject", info.Subject),
				zap.Time("expired_at", info.ExpiresAt))
		}
	}
	return ps, nil
}

func provideGateway(p Params, cfg *config.Config, ps *prefs.Store, logger *zap.Logger) (Gateway, error) {
	if p.Gateway != nil {
		return p.Gateway, nil
	}
	return gateway.New(gateway.Config{
		BaseURL:   cfg.ServerURL,
		Timeout:   cfg.RequestTimeout.Duration,
		UserAgent: "chatline/" + Version,
		Tokens:    ps,
	}, logger.Named("gateway"))
}

func provideHistory(db *store.DB, b *bus.Bus, logger *zap.Logger) *live.History {
	return live.NewHistory(db, b, logger.Named("history"))
}

func provideReplies(db *store.DB, b *bus.Bus, logger *zap.Logger) *live.ReplyCache {
	return live.NewReplyCache(db, b, logger.Named("replies"))
}

func providePoller(db *store.DB, gw Gateway, b *bus.Bus, m *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Poller {
	return intsync.NewPoller(db, gw, b, m, intsync.Options{
		Interval:       cfg.PollInterval.Duration,
		MaxBackoff:     cfg.MaxPollBackoff.Duration,
		HistoryCommand: cfg.HistoryCommand,
	}, logger.Named("poller"))
}

func provideSender(db *store.DB, gw Gateway, ps *prefs.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, gw, ps, b, outbox.Options{
		Prefix:      cfg.CommandPrefix,
		SendCommand: cfg.SendCommand,
	}, logger.Named("sender"))
}

func provideSession(db *store.DB, sender *outbox.Sender, poller *intsync.Poller, h *live.History, r *live.ReplyCache, logger *zap.Logger) *chat.Session {
	return chat.NewSession(db, sender, poller, h, r, logger)
}

func provideService(p Params, cfg *config.Config, s *chat.Session, db *store.DB, ps *prefs.Store, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(api.Deps{
		SessionName: p.SessionName,
		ServerURL:   cfg.ServerURL,
		Session:     s,
		DB:          db,
		Prefs:       ps,
		Machine:     m,
		Bus:         b,
		Logger:      logger.Named("api"),
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, ms *MetricsServer, lk *lock.Lock, db *store.DB, s *chat.Session, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The session outlives the start hook's context.
			if err := s.Open(context.Background()); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := ms.Start(); err != nil {
				s.Close()
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			ms.Stop(ctx)
			s.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
