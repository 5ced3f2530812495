// Package app composes the runtime: config, logging, cache, stores,
// transport, trackers, responder and the sync engine, wired through fx.
package app

import (
	"context"
	"math/rand"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/cache"
	"github.com/opencoach/chatsync/internal/clock"
	"github.com/opencoach/chatsync/internal/config"
	"github.com/opencoach/chatsync/internal/lock"
	"github.com/opencoach/chatsync/internal/logging"
	"github.com/opencoach/chatsync/internal/model"
	"github.com/opencoach/chatsync/internal/presence"
	"github.com/opencoach/chatsync/internal/readstate"
	"github.com/opencoach/chatsync/internal/responder"
	"github.com/opencoach/chatsync/internal/rest"
	"github.com/opencoach/chatsync/internal/status"
	"github.com/opencoach/chatsync/internal/store"
	intsync "github.com/opencoach/chatsync/internal/sync"
	"github.com/opencoach/chatsync/internal/transport"
	"github.com/opencoach/chatsync/internal/typing"
)

// Params holds the bootstrap inputs passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideClock,
			provideStateMachine,
			provideLock,
			provideCache,
			provideMessageStore,
			provideConversationStore,
			provideRestClient,
			provideHandler,
			provideTransport,
			providePresence,
			provideTypingCoordinator,
			provideComposer,
			provideResponder,
			provideReadState,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath, cfg.User.Email)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideClock() clock.Clock {
	return clock.System()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	dir := filepath.Dir(cfg.Cache.Path)
	l, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("cache lock acquired", zap.String("dir", dir))
	return l, nil
}

func provideCache(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (cache.Port, error) {
	port, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Path, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("cache opened",
		zap.String("backend", cfg.Cache.Backend),
		zap.String("path", cfg.Cache.Path))
	return port, nil
}

func provideMessageStore() *store.MessageStore {
	return store.NewMessageStore()
}

func provideConversationStore(msgs *store.MessageStore, cfg *config.Config) *store.ConversationStore {
	return store.NewConversationStore(msgs, cfg.User.Email)
}

func provideRestClient(cfg *config.Config) *rest.Client {
	return rest.New(cfg.Server.RestBaseURL)
}

func provideHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *transport.Handler {
	return transport.NewHandler(b, machine, logger)
}

func provideTransport(cfg *config.Config, handler *transport.Handler, logger *zap.Logger) transport.Client {
	return transport.NewWSClient(cfg.Server.WebsocketURL, handler, logger)
}

func providePresence(b *bus.Bus, clk clock.Clock) *presence.Tracker {
	return presence.NewTracker(b, clk)
}

func provideTypingCoordinator(cfg *config.Config, b *bus.Bus, clk clock.Clock, convs *store.ConversationStore) *typing.Coordinator {
	window := time.Duration(cfg.Typing.ExpiryMS) * time.Millisecond
	resolve := func(participant string) (string, bool) {
		c, ok := convs.FindByParticipant(participant)
		if !ok {
			return "", false
		}
		return c.ID, true
	}
	return typing.NewCoordinator(b, clk, window, resolve)
}

func provideComposer(cfg *config.Config, client transport.Client, clk clock.Clock, convs *store.ConversationStore) *typing.Composer {
	idle := time.Duration(cfg.Typing.DebounceMS) * time.Millisecond
	shouldEmit := func(conversationID string) bool {
		c, ok := convs.Get(conversationID)
		return ok && !c.Synthetic
	}
	return typing.NewComposer(client, clk, idle, cfg.User.Email, shouldEmit)
}

func provideResponder(cfg *config.Config, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *responder.Responder {
	timing := responder.Timing{
		TypingDelay: time.Duration(cfg.Responder.TypingDelayMS) * time.Millisecond,
		ReplyMin:    time.Duration(cfg.Responder.ReplyMinMS) * time.Millisecond,
		ReplyJitter: time.Duration(cfg.Responder.ReplyJitterMS) * time.Millisecond,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return responder.New(b, clk, cfg.User.Email, responder.DefaultPersonas(), timing, rng, logger)
}

func provideReadState(msgs *store.MessageStore, convs *store.ConversationStore, client transport.Client, cfg *config.Config, logger *zap.Logger) *readstate.Manager {
	return readstate.NewManager(msgs, convs, client, cfg.User.Email, logger)
}

func provideEngine(
	msgs *store.MessageStore,
	convs *store.ConversationStore,
	port cache.Port,
	restClient *rest.Client,
	client transport.Client,
	resp *responder.Responder,
	rs *readstate.Manager,
	machine *status.Machine,
	b *bus.Bus,
	clk clock.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *intsync.Engine {
	return intsync.NewEngine(intsync.Deps{
		Messages:      msgs,
		Conversations: convs,
		Cache:         port,
		Rest:          restClient,
		Transport:     client,
		Responder:     resp,
		ReadState:     rs,
		Machine:       machine,
		Bus:           b,
		Clock:         clk,
		Logger:        logger,
		LocalUser: model.Participant{
			Email:       cfg.User.Email,
			DisplayName: cfg.User.DisplayName,
			Role:        cfg.User.Role,
		},
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	engine *intsync.Engine,
	client transport.Client,
	coordinator *typing.Coordinator,
	tracker *presence.Tracker,
	machine *status.Machine,
	port cache.Port,
	lk *lock.Lock,
	cfg *config.Config,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			tracker.Start(context.Background())
			coordinator.Start(context.Background())

			if err := engine.Bootstrap(ctx); err != nil {
				return err
			}
			engine.Start(context.Background())

			// The transport connects in the background; bootstrap already
			// left the stores usable without it.
			go func() {
				connectCtx := context.Background()
				if err := client.Connect(connectCtx); err != nil {
					logger.Warn("transport connect failed, staying offline", zap.Error(err))
					_ = machine.Transition(status.Offline)
					return
				}
				if err := client.Join(connectCtx, cfg.User.Email); err != nil {
					logger.Warn("join failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if err := client.Disconnect(); err != nil {
				logger.Warn("transport disconnect", zap.Error(err))
			}
			coordinator.Stop()
			tracker.Stop()
			engine.Stop()
			if err := engine.Persist(); err != nil {
				logger.Warn("final snapshot save failed", zap.Error(err))
			}
			if err := port.Close(); err != nil {
				logger.Warn("cache close", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release", zap.Error(err))
			}
			logger.Info("stopped")
			return nil
		},
	})
}
