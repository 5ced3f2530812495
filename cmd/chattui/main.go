package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/opencoach/chatsync/internal/app"
	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/config"
	"github.com/opencoach/chatsync/internal/presence"
	"github.com/opencoach/chatsync/internal/status"
	"github.com/opencoach/chatsync/internal/store"
	intsync "github.com/opencoach/chatsync/internal/sync"
	"github.com/opencoach/chatsync/internal/tui"
	"github.com/opencoach/chatsync/internal/typing"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (default ~/.chatsync/chatsync.toml)")
	flag.Parse()

	path, err := resolveConfigPath(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{ConfigPath: path}),
		fx.Provide(provideTUI),
		fx.Invoke(registerTUI),
	).Run()
}

func resolveConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chatsync", "chatsync.toml"), nil
}

func provideTUI(
	engine *intsync.Engine,
	msgs *store.MessageStore,
	convs *store.ConversationStore,
	b *bus.Bus,
	coordinator *typing.Coordinator,
	composer *typing.Composer,
	tracker *presence.Tracker,
	machine *status.Machine,
	cfg *config.Config,
) *tui.App {
	return tui.NewApp(tui.Deps{
		Engine:        engine,
		Messages:      msgs,
		Conversations: convs,
		Bus:           b,
		Typing:        coordinator,
		Composer:      composer,
		Presence:      tracker,
		Machine:       machine,
		Config:        cfg,
	})
}

func registerTUI(lc fx.Lifecycle, a *tui.App, shutdowner fx.Shutdowner, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := a.Run(); err != nil {
					logger.Error("tui exited", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			a.Stop()
			return nil
		},
	})
}
