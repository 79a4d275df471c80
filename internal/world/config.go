package world

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	DefaultName    = "main"
	DefaultWidth   = 128
	DefaultHeight  = 64
	DefaultLength  = 128
	DefaultSurface = 32
)

// SpawnConfig pins the spawn point to a block and heading.
type SpawnConfig struct {
	X     int `yaml:"x"`
	Y     int `yaml:"y"`
	Z     int `yaml:"z"`
	Yaw   int `yaml:"yaw"`
	Pitch int `yaml:"pitch"`
}

// Config describes the level the server generates at start up. It is read
// from an optional YAML file.
type Config struct {
	Name        string            `yaml:"name"`
	Width       int               `yaml:"width"`
	Height      int               `yaml:"height"`
	Length      int               `yaml:"length"`
	Surface     int               `yaml:"surface"`
	Spawn       *SpawnConfig      `yaml:"spawn"`
	Environment Environment       `yaml:"environment"`
	Colors      map[string][3]int `yaml:"colors"`
	TexturePack string            `yaml:"texture_pack"`
	Blocks      []BlockDefinition `yaml:"blocks"`
}

var colorSlots = map[string]int{
	"sky":     ColorSky,
	"cloud":   ColorCloud,
	"fog":     ColorFog,
	"ambient": ColorAmbient,
	"diffuse": ColorDiffuse,
}

func (cfg Config) normalized() Config {
	normalized := cfg
	normalized.Name = strings.TrimSpace(normalized.Name)
	if normalized.Name == "" {
		normalized.Name = DefaultName
	}
	if normalized.Width <= 0 {
		normalized.Width = DefaultWidth
	}
	if normalized.Height <= 0 {
		normalized.Height = DefaultHeight
	}
	if normalized.Length <= 0 {
		normalized.Length = DefaultLength
	}
	normalized.Width = min(normalized.Width, MaxDimension)
	normalized.Height = min(normalized.Height, MaxDimension)
	normalized.Length = min(normalized.Length, MaxDimension)
	if normalized.Surface <= 0 {
		normalized.Surface = min(DefaultSurface, normalized.Height/2)
	}
	if normalized.Surface >= normalized.Height {
		normalized.Surface = normalized.Height - 1
	}
	if normalized.Environment == (Environment{}) {
		normalized.Environment = DefaultEnvironment(normalized.Surface)
	}
	return normalized
}

func (cfg Config) Normalized() Config {
	return cfg.normalized()
}

// DefaultEnvironment is the map aspect of a generated flat level.
func DefaultEnvironment(surface int) Environment {
	return Environment{
		SideBlock:    int(BlockBedrock),
		EdgeBlock:    int(BlockWater),
		EdgeHeight:   surface,
		CloudHeight:  surface + 32,
		ViewDistance: 0,
		CloudSpeed:   256,
		WeatherSpeed: 256,
		WeatherFade:  128,
		ExpFog:       0,
		SideOffset:   -2,
	}
}

func DefaultConfig() Config {
	return Config{
		Name:    DefaultName,
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		Length:  DefaultLength,
		Surface: DefaultSurface,
	}.normalized()
}

// ParseConfig decodes a YAML level description.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse level config: %w", err)
	}
	for name := range cfg.Colors {
		if _, ok := colorSlots[strings.ToLower(name)]; !ok {
			return Config{}, fmt.Errorf("parse level config: unknown colour %q", name)
		}
	}
	return cfg.normalized(), nil
}

// LoadConfig reads path, returning the defaults when path is empty.
func LoadConfig(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read level config: %w", err)
	}
	return ParseConfig(data)
}

// Build generates the configured level.
func (cfg Config) Build() (*Level, error) {
	cfg = cfg.normalized()
	level, err := GenerateFlat(cfg.Width, cfg.Height, cfg.Length, cfg.Surface)
	if err != nil {
		return nil, err
	}
	level.Name = cfg.Name
	level.Environment = cfg.Environment
	level.TextureURL = cfg.TexturePack
	level.Definitions = append([]BlockDefinition(nil), cfg.Blocks...)
	for name, rgb := range cfg.Colors {
		level.Colors[colorSlots[strings.ToLower(name)]] = Color{R: rgb[0], G: rgb[1], B: rgb[2]}
	}
	if cfg.Spawn != nil {
		level.SpawnPosition = Standing(cfg.Spawn.X, cfg.Spawn.Y, cfg.Spawn.Z)
		level.SpawnRotation = Rotation{Yaw: cfg.Spawn.Yaw, Pitch: cfg.Spawn.Pitch}
	}
	return level, nil
}

// GenerateFlat builds bedrock at y=0, stone and dirt up to the surface, and
// grass on top. Spawn is the centre of the surface.
func GenerateFlat(width, height, length, surface int) (*Level, error) {
	level, err := NewLevel(width, height, length)
	if err != nil {
		return nil, err
	}
	surface = max(1, min(surface, height-1))
	level.Fill(0, 1, 0, width-1, surface-4, length-1, BlockStone)
	level.Fill(0, max(1, surface-3), 0, width-1, surface-1, length-1, BlockDirt)
	level.Fill(0, surface, 0, width-1, surface, length-1, BlockGrass)
	level.Fill(0, 0, 0, width-1, 0, length-1, BlockBedrock)
	level.SpawnPosition = Standing(width/2, surface+1, length/2)
	return level, nil
}
