package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Store backends for chat persistence
const (
	StorePayload = "payload"
	StoreSQLite  = "sqlite"
)

// Config is the full server configuration. Zero values are never used
// directly; LoadConfig starts from DefaultConfig and overlays the file.
type Config struct {
	Addr       string `yaml:"addr"`
	PublicURL  string `yaml:"public_url"` // base URL used for share links, empty = request host
	PayloadURL string `yaml:"payload_url"`
	Store      string `yaml:"store"` // "payload" or "sqlite"
	SQLitePath string `yaml:"sqlite_path"`

	// AllowedOrigins lists browser origins (scheme://host[:port]) that may
	// open sockets besides the server's own host. Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// PersistTimeout bounds a single create-message call
	PersistTimeout time.Duration `yaml:"persist_timeout"`

	// HeartbeatInterval is the liveness sweep period
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	Log    LogConfig    `yaml:"log"`
	Game   GameConfig   `yaml:"game"`
	Chat   ChatConfig   `yaml:"chat"`
	Limits LimitsConfig `yaml:"limits"`
	Admin  AdminConfig  `yaml:"admin"`
}

// LogConfig selects the log destination
type LogConfig struct {
	File  string `yaml:"file"`  // empty = stderr
	Level string `yaml:"level"` // debug, info, warn, error
}

// GameConfig holds the snake world tunables
type GameConfig struct {
	TickRate         int `yaml:"tick_rate"` // ticks per second
	MapSize          int `yaml:"map_size"`
	Grid             int `yaml:"grid"`
	InitialLength    int `yaml:"initial_length"`
	FoodCount        int `yaml:"food_count"`
	ScorePerFood     int `yaml:"score_per_food"`
	FoodDropCap      int `yaml:"food_drop_cap"` // extra food allowed above FoodCount from deaths
	MaxPlayerNameLen int `yaml:"max_player_name_len"`
}

// ChatConfig holds the relay tunables
type ChatConfig struct {
	MaxStrokes    int `yaml:"max_strokes"`
	MaxNameLen    int `yaml:"max_name_len"`
	MaxContentLen int `yaml:"max_content_len"`
}

// LimitsConfig bounds per-connection resource use
type LimitsConfig struct {
	MaxConnsPerIP     int   `yaml:"max_conns_per_ip"`
	MaxTotalConns     int   `yaml:"max_total_conns"`
	MaxMessageSize    int64 `yaml:"max_message_size"`
	MaxMessagesPerSec int   `yaml:"max_messages_per_sec"` // 0 disables
	SendBuffer        int   `yaml:"send_buffer"`
}

// AdminConfig protects the status endpoint
type AdminConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`    // empty = /status is open
	PasswordHash string `yaml:"password_hash"` // bcrypt; enables POST /admin/token
}

// DefaultConfig returns the stock configuration
func DefaultConfig() Config {
	return Config{
		Addr:              ":3001",
		PayloadURL:        "http://localhost:3000",
		Store:             StorePayload,
		SQLitePath:        "messages.db",
		PersistTimeout:    10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
		Game: GameConfig{
			TickRate:         15,
			MapSize:          2000,
			Grid:             20,
			InitialLength:    5,
			FoodCount:        30,
			ScorePerFood:     10,
			FoodDropCap:      20,
			MaxPlayerNameLen: 20,
		},
		Chat: ChatConfig{
			MaxStrokes:    500,
			MaxNameLen:    50,
			MaxContentLen: 1000,
		},
		Limits: LimitsConfig{
			MaxConnsPerIP:     20,
			MaxTotalConns:     1000,
			MaxMessageSize:    512 * 1024,
			MaxMessagesPerSec: 120,
			SendBuffer:        256,
		},
	}
}

// TickDuration is the wall-clock period of one game tick
func (g GameConfig) TickDuration() time.Duration {
	return time.Second / time.Duration(g.TickRate)
}

// LoadConfig reads a YAML file over the defaults. An empty path returns
// the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays the deployment environment variables the server has
// always honored: PORT or WS_PORT for the listen port, PAYLOAD_URL for
// the persistence API.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		c.Addr = ":" + port
	} else if port := getenv("WS_PORT"); port != "" {
		c.Addr = ":" + port
	}
	if u := getenv("PAYLOAD_URL"); u != "" {
		c.PayloadURL = u
	}
}

// BindFlags registers command-line overrides. Each flag defaults to the
// current value, so unset flags leave file and environment values alone.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.StringVar(&c.PayloadURL, "payload-url", c.PayloadURL, "Base URL of the message persistence API")
	fs.StringVar(&c.Store, "store", c.Store, "Message store backend: payload or sqlite")
	fs.StringVar(&c.SQLitePath, "sqlite-path", c.SQLitePath, "SQLite database file for the sqlite store")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "Rotating log file (default stderr)")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level: debug, info, warn, error")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origin", c.AllowedOrigins, "Browser origin allowed to open sockets (repeatable, default any)")
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	g := c.Game
	if g.TickRate <= 0 {
		errs = append(errs, errors.New("game.tick_rate must be positive"))
	}
	if g.Grid <= 0 {
		errs = append(errs, errors.New("game.grid must be positive"))
	} else if g.MapSize%g.Grid != 0 {
		errs = append(errs, fmt.Errorf("game.map_size %d is not a multiple of game.grid %d", g.MapSize, g.Grid))
	}
	if g.InitialLength < 1 {
		errs = append(errs, errors.New("game.initial_length must be at least 1"))
	}
	if g.Grid > 0 && g.MapSize < spawnMargin(g.Grid)*2+g.InitialLength*g.Grid {
		errs = append(errs, fmt.Errorf("game.map_size %d too small for spawning", g.MapSize))
	}
	if g.FoodCount < 0 || g.FoodDropCap < 0 || g.ScorePerFood < 0 {
		errs = append(errs, errors.New("game food settings must not be negative"))
	}
	if g.MaxPlayerNameLen <= 0 {
		errs = append(errs, errors.New("game.max_player_name_len must be positive"))
	}
	if c.Chat.MaxStrokes <= 0 || c.Chat.MaxNameLen <= 0 || c.Chat.MaxContentLen <= 0 {
		errs = append(errs, errors.New("chat limits must be positive"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	if c.Limits.SendBuffer <= 0 || c.Limits.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("limits.send_buffer and limits.max_message_size must be positive"))
	}
	if c.Admin.PasswordHash != "" {
		if c.Admin.JWTSecret == "" {
			errs = append(errs, errors.New("admin.password_hash requires admin.jwt_secret"))
		}
		if _, err := bcrypt.Cost([]byte(c.Admin.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("admin.password_hash: %w", err))
		}
	}
	switch c.Store {
	case StorePayload:
		if c.PayloadURL == "" {
			errs = append(errs, errors.New("payload_url is required for the payload store"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	return errors.Join(errs...)
}
