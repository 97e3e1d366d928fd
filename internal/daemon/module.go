package daemon

import (
	"context"

	"github.com/matheus3301/tlk/internal/api"
	"github.com/matheus3301/tlk/internal/backend"
	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/calllog"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/config"
	"github.com/matheus3301/tlk/internal/inbox"
	"github.com/matheus3301/tlk/internal/lock"
	"github.com/matheus3301/tlk/internal/logging"
	"github.com/matheus3301/tlk/internal/media"
	"github.com/matheus3301/tlk/internal/messenger"
	"github.com/matheus3301/tlk/internal/realtime"
	"github.com/matheus3301/tlk/internal/session"
	"github.com/matheus3301/tlk/internal/status"
	"github.com/matheus3301/tlk/internal/store"
	"github.com/matheus3301/tlk/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
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
			provideBackend,
			provideDevices,
			provideTimeline,
			provideInbox,
			provideCallMachine,
			provideMessenger,
			provideRealtime,
			provideRecorder,
			provideSessionService,
			provideConversationService,
			provideCallService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, session.EnvFilePath()); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
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
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the archive is never opened by two
// daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ArchivePath(p.SessionName)
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
		logger.Info("archive migrated",
			zap.String("path", result.Path),
			zap.Uint("from", result.From),
			zap.Uint("version", result.Version))
	} else {
		logger.Info("archive opened", zap.String("path", result.Path), zap.Uint("version", result.Version))
	}
	return db, nil
}

func provideBackend(cfg *config.Config, logger *zap.Logger) (*backend.Client, error) {
	return backend.New(backend.Config{
		URL:     cfg.Backend.URL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout.Duration,
	}, logger.Named("backend"))
}

func provideDevices(cfg *config.Config) media.Devices {
	return media.StaticDevices{Microphone: cfg.Media.Microphone, Camera: cfg.Media.Camera}
}

func provideTimeline(b *bus.Bus) *timeline.Timeline {
	return timeline.New(b)
}

func provideInbox(bc *backend.Client, tl *timeline.Timeline, b *bus.Bus, logger *zap.Logger) *inbox.Store {
	return inbox.New(bc, tl, b, logger.Named("inbox"))
}

func provideCallMachine(cfg *config.Config, devices media.Devices, bc *backend.Client, b *bus.Bus, logger *zap.Logger) *call.Machine {
	return call.NewMachine(CallConfig(cfg.Call), devices, bc, b, logger.Named("call"))
}

func provideMessenger(bc *backend.Client, in *inbox.Store, tl *timeline.Timeline, db *store.DB, b *bus.Bus, logger *zap.Logger) *messenger.Messenger {
	return messenger.New(bc, in, tl, db, b, logger.Named("messenger"))
}

func provideRealtime(cfg *config.Config, bc *backend.Client, calls *call.Machine, state *status.Machine, b *bus.Bus, logger *zap.Logger) (*realtime.Client, error) {
	dialer, err := realtime.NewDialer(cfg.Realtime.Driver, cfg.Realtime.URL)
	if err != nil {
		return nil, err
	}
	return realtime.NewClient(dialer, bc, calls, state, b, cfg.Realtime.RefreshMargin.Duration, logger.Named("realtime")), nil
}

func provideRecorder(calls *call.Machine, db *store.DB, logger *zap.Logger) *calllog.Recorder {
	return calllog.NewRecorder(calls, db, logger.Named("calllog"))
}

func provideSessionService(p Params, m *status.Machine, msgr *messenger.Messenger, in *inbox.Store, db *store.DB) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, msgr, in, db)
}

func provideConversationService(p Params, in *inbox.Store, tl *timeline.Timeline, msgr *messenger.Messenger, bc *backend.Client, db *store.DB, b *bus.Bus) *api.ConversationService {
	return api.NewConversationService(p.SessionName, in, tl, msgr, bc, db, b)
}

func provideCallService(calls *call.Machine, in *inbox.Store, db *store.DB) *api.CallService {
	return api.NewCallService(calls, in, db)
}

// CallConfig converts the [call] config section.
func CallConfig(c config.CallConfig) call.Config {
	return call.Config{
		AcceptDelay:  c.AcceptDelay.Duration,
		ConnectDelay: c.ConnectDelay.Duration,
		EndedWindow:  c.EndedWindow.Duration,
		RingTimeout:  c.RingTimeout.Duration,
		SignalBusy:   c.SignalBusy,
	}
}

type lifecycleDeps struct {
	fx.In

	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Backend   *backend.Client
	Inbox     *inbox.Store
	Messenger *messenger.Messenger
	Calls     *call.Machine
	Realtime  *realtime.Client
	Recorder  *calllog.Recorder
	State     *status.Machine
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Recorder.Start(ctx)
			d.Messenger.Start(ctx)

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			boot := &Bootstrap{
				Profile: d.Backend,
				Inbox:   d.Inbox,
				SetSelf: []func(chat.Profile){
					d.Messenger.SetSelf,
					func(p chat.Profile) { d.Calls.SetSelf(call.PartyFromProfile(p)) },
				},
				Realtime: d.Realtime,
				State:    d.State,
				Logger:   d.Logger,
			}
			go func() {
				defer close(done)
				_ = boot.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			<-done
			d.Realtime.Stop()
			d.Messenger.Stop()
			d.Calls.Close()
			d.Recorder.Stop()
			d.Inbox.Wait()
			d.Server.Stop(stopCtx)
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
