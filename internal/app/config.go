package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"blockworld/server/internal/net/session"
	"blockworld/server/internal/world"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "BLOCKWORLD_"

// Config is the process configuration, read from the environment.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":25565"`
	// HTTPAddr serves /health, /diagnostics and /ws. Empty disables it.
	HTTPAddr  string   `env:"HTTP_ADDR"  envDefault:":8080"`
	ClientDir string   `env:"CLIENT_DIR"`
	AppName   string   `env:"APP_NAME"   envDefault:"blockworld"`
	Operators []string `env:"OPERATORS"  envSeparator:","`

	ServerName  string `env:"SERVER_NAME"  envDefault:"Blockworld"`
	MOTD        string `env:"MOTD"         envDefault:"Welcome!"`
	MaxPlayers  int    `env:"MAX_PLAYERS"  envDefault:"64"`
	VerifyNames bool   `env:"VERIFY_NAMES" envDefault:"false"`
	Salt        string `env:"SALT"`

	// LevelFile is an optional YAML level description.
	LevelFile string `env:"LEVEL_FILE"`
	// DatabasePath selects the SQLite store. Empty keeps players in memory.
	DatabasePath string `env:"DATABASE_PATH"`

	TickRate           int           `env:"TICK_RATE"           envDefault:"20"`
	PingInterval       time.Duration `env:"PING_INTERVAL"       envDefault:"2s"`
	CheckpointInterval time.Duration `env:"CHECKPOINT_INTERVAL" envDefault:"5m"`
	FollowInterval     time.Duration `env:"FOLLOW_INTERVAL"     envDefault:"1s"`

	PersistenceWorkers int           `env:"PERSISTENCE_WORKERS" envDefault:"2"`
	PersistenceTimeout time.Duration `env:"PERSISTENCE_TIMEOUT" envDefault:"10s"`

	OutboundQueue int           `env:"OUTBOUND_QUEUE" envDefault:"1024"`
	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT"   envDefault:"90s"`
	WriteTimeout  time.Duration `env:"WRITE_TIMEOUT"  envDefault:"10s"`
	PacketRate    float64       `env:"PACKET_RATE"    envDefault:"120"`
	PacketBurst   int           `env:"PACKET_BURST"   envDefault:"240"`

	LogLevel      string `env:"LOG_LEVEL"      envDefault:"info"`
	LogColor      string `env:"LOG_COLOR"      envDefault:"auto"`
	EventSeverity string `env:"EVENT_SEVERITY" envDefault:"info"`

	// Pprof mounts /debug/pprof on the HTTP listener.
	Pprof bool `env:"PPROF" envDefault:"false"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseEnv reads the configuration from the process environment.
func ParseEnv() (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// ParseEnvMap reads the configuration from the given variables instead of
// the process environment.
func ParseEnvMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.Normalized()
}

// Normalized clamps values into their working ranges and rejects settings
// that cannot work.
func (c Config) Normalized() (Config, error) {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return Config{}, errors.New("listen address is required")
	}
	if c.MaxPlayers <= 0 || c.MaxPlayers > world.MaxEntities {
		c.MaxPlayers = world.MaxEntities
	}
	if c.VerifyNames && c.Salt == "" {
		return Config{}, errors.New("name verification needs a salt")
	}
	if c.TickRate <= 0 {
		c.TickRate = 20
	}
	if c.TickRate > 1000 {
		c.TickRate = 1000
	}
	switch strings.ToLower(c.LogColor) {
	case "auto", "always", "never":
		c.LogColor = strings.ToLower(c.LogColor)
	default:
		c.LogColor = "auto"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c, nil
}

// Session returns the per-connection settings.
func (c Config) Session() session.Config {
	return session.Config{
		OutboundQueue: c.OutboundQueue,
		IdleTimeout:   c.IdleTimeout,
		WriteTimeout:  c.WriteTimeout,
		PacketRate:    c.PacketRate,
		PacketBurst:   c.PacketBurst,
	}.Normalized()
}

// Level loads the level description, falling back to the defaults.
func (c Config) Level() (*world.Level, error) {
	levelCfg, err := world.LoadConfig(c.LevelFile)
	if err != nil {
		return nil, err
	}
	return levelCfg.Build()
}
