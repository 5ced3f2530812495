package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/opencoach/chatsync/internal/app"
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
