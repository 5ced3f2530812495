package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.chatsync/chatsync.toml.
type Config struct {
	User      User      `toml:"user"`
	Server    Server    `toml:"server"`
	Cache     Cache     `toml:"cache"`
	Typing    Typing    `toml:"typing"`
	Responder Responder `toml:"responder"`
	LogPath   string    `toml:"log_path"`
}

// User identifies the local participant.
type User struct {
	Email       string `toml:"email"`
	DisplayName string `toml:"display_name"`
	Role        string `toml:"role"`
}

// Server holds the backend endpoints.
type Server struct {
	RestBaseURL  string `toml:"rest_base_url"`
	WebsocketURL string `toml:"websocket_url"`
}

// Cache selects and locates the local cache backend.
type Cache struct {
	Backend string `toml:"backend"` // sqlite (default) or pebble
	Path    string `toml:"path"`
}

// Typing tunes the typing indicator windows, in milliseconds.
type Typing struct {
	ExpiryMS   int `toml:"expiry_ms"`
	DebounceMS int `toml:"debounce_ms"`
}

// Responder tunes the auto-responder delays, in milliseconds.
type Responder struct {
	TypingDelayMS int `toml:"typing_delay_ms"`
	ReplyMinMS    int `toml:"reply_min_ms"`
	ReplyJitterMS int `toml:"reply_jitter_ms"`
}

// Default returns the configuration used when no file exists, rooted at dir.
func Default(dir string) *Config {
	return &Config{
		User: User{
			Email:       "athlete@chatsync.local",
			DisplayName: "Athlete",
			Role:        "Athlete",
		},
		Server: Server{
			RestBaseURL:  "http://localhost:8080/api",
			WebsocketURL: "ws://localhost:8080/ws",
		},
		Cache: Cache{
			Backend: "sqlite",
			Path:    filepath.Join(dir, "cache.db"),
		},
		Typing: Typing{
			ExpiryMS:   2000,
			DebounceMS: 1500,
		},
		Responder: Responder{
			TypingDelayMS: 600,
			ReplyMinMS:    900,
			ReplyJitterMS: 1200,
		},
		LogPath: filepath.Join(dir, "chatsync.log"),
	}
}

// Load reads config from the given path. A missing file returns defaults
// rooted in the file's directory; any other failure is an error.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(filepath.Dir(path)), nil
	}
	if err != nil {
		return nil, err
	}
	applyDefaults(&cfg, filepath.Dir(path))
	return &cfg, nil
}

func applyDefaults(cfg *Config, dir string) {
	def := Default(dir)
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = def.Cache.Backend
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = def.Cache.Path
	}
	if cfg.Typing.ExpiryMS <= 0 {
		cfg.Typing.ExpiryMS = def.Typing.ExpiryMS
	}
	if cfg.Typing.DebounceMS <= 0 {
		cfg.Typing.DebounceMS = def.Typing.DebounceMS
	}
	if cfg.Responder.TypingDelayMS <= 0 {
		cfg.Responder.TypingDelayMS = def.Responder.TypingDelayMS
	}
	if cfg.Responder.ReplyMinMS <= 0 {
		cfg.Responder.ReplyMinMS = def.Responder.ReplyMinMS
	}
	if cfg.Responder.ReplyJitterMS <= 0 {
		cfg.Responder.ReplyJitterMS = def.Responder.ReplyJitterMS
	}
	if cfg.LogPath == "" {
		cfg.LogPath = def.LogPath
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
