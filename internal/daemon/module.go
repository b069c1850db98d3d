package daemon

import (
	"context"
	"errors"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/client"
	"github.com/ayonsaha2011/ipchat/internal/config"
	"github.com/ayonsaha2011/ipchat/internal/discovery"
	"github.com/ayonsaha2011/ipchat/internal/ingest"
	"github.com/ayonsaha2011/ipchat/internal/lock"
	"github.com/ayonsaha2011/ipchat/internal/logging"
	"github.com/ayonsaha2011/ipchat/internal/profile"
	"github.com/ayonsaha2011/ipchat/internal/store"
	"github.com/ayonsaha2011/ipchat/internal/transfer"
	"github.com/ayonsaha2011/ipchat/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Identity is the local user as advertised on the network.
type Identity struct {
	ID   string
	Name string
}

// Module returns the fx module for a chat node, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideIdentity,
			provideDirectory,
			provideTransportClient,
			provideTransportServer,
			provideEngine,
			provideController,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	// The log lives in memory for the lifetime of the process; history
	// is rebuilt from live peers on the next start.
	db, err := store.Open(store.MemoryDSN("ipchat-" + p.Profile))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.Uint("schema", result.Version))
	return db, nil
}

func provideIdentity(cfg *config.Config, logger *zap.Logger) Identity {
	id := Identity{
		ID:   discovery.LocalID(),
		Name: discovery.LocalName(cfg.DeviceName),
	}
	logger.Info("local identity",
		zap.String("id", id.ID),
		zap.String("name", id.Name))
	return id
}

func provideDirectory(cfg *config.Config, id Identity, b *bus.Bus, logger *zap.Logger) *discovery.Directory {
	return discovery.NewDirectory(id.ID, id.Name, cfg.ChatPort, cfg.PeerRefresh(), b, logger)
}

func provideTransportClient(dir *discovery.Directory, id Identity, logger *zap.Logger) *transport.Client {
	return transport.NewClient(dir, id.ID, logger)
}

func provideTransportServer(cfg *config.Config, db *store.DB, b *bus.Bus, id Identity, logger *zap.Logger) *transport.Server {
	return transport.NewServer(db, b, id.ID, cfg.ChatPort, logger)
}

func provideEngine(db *store.DB, b *bus.Bus, id Identity, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, id.ID, logger)
}

func provideController(db *store.DB, b *bus.Bus, tc *transport.Client, id Identity, logger *zap.Logger) *transfer.Controller {
	return transfer.NewController(db, b, tc, id.ID, logger)
}

func provideSession(
	cfg *config.Config,
	db *store.DB,
	b *bus.Bus,
	engine *ingest.Engine,
	controller *transfer.Controller,
	tc *transport.Client,
	dir *discovery.Directory,
	id Identity,
	logger *zap.Logger,
) *client.Session {
	return client.NewSession(cfg, db, b, engine, controller, tc, dir, id.ID, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *transport.Server,
	dir *discovery.Directory,
	sess *client.Session,
	db *store.DB,
	lk *lock.Lock,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Start(); err != nil {
				return err
			}
			if err := dir.Start(); err != nil {
				srv.Stop()
				return err
			}
			return sess.Initialize(ctx)
		},
		OnStop: func(_ context.Context) error {
			_ = sess.Close()
			dir.Stop()
			srv.Stop()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("node stopped")
			return nil
		},
	})
}
