package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tilesync.io/internal/sim/camera"
	"tilesync.io/internal/sim/geom"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	BlockSize  int `yaml:"block_size"`
	Depth      int `yaml:"depth"`
	FOV        int `yaml:"fov"`
	MinPadding int `yaml:"min_padding"`
	TilePixels int `yaml:"tile_pixels"`

	// MapRadiusBlocks bounds the generated terrain to [-r, r) blocks on
	// both axes.
	MapRadiusBlocks    int   `yaml:"map_radius_blocks"`
	Seed               int64 `yaml:"seed"`
	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks"`
	SendQueue          int   `yaml:"send_queue"`
	MaxViewers         int   `yaml:"max_viewers"`

	StunMS           int `yaml:"stun_ms"`
	ActionDebounceMS int `yaml:"action_debounce_ms"`

	Atmos      Atmos      `yaml:"atmos"`
	RateLimits RateLimits `yaml:"rate_limits"`
}

type Atmos struct {
	LocaleBlocks     int `yaml:"locale_blocks"`
	VisibleThreshold int `yaml:"visible_threshold"`
	LeakPerTick      int `yaml:"leak_per_tick"`
	MaxLevel         int `yaml:"max_level"`
}

type RateLimits struct {
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	CommandBurst      int     `yaml:"command_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         10,
		BlockSize:          10,
		Depth:              1,
		FOV:                15,
		MinPadding:         2,
		TilePixels:         32,
		MapRadiusBlocks:    4,
		Seed:               1337,
		SnapshotEveryTicks: 3000,
		SendQueue:          64,
		MaxViewers:         256,
		StunMS:             2000,
		ActionDebounceMS:   100,
		Atmos: Atmos{
			LocaleBlocks:     2,
			VisibleThreshold: 40,
			LeakPerTick:      1,
			MaxLevel:         100,
		},
		RateLimits: RateLimits{
			CommandsPerSecond: 20,
			CommandBurst:      40,
		},
	}
}

// Load reads path over Defaults, so a partial file only overrides what it
// names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be > 0"))
	}
	if err := t.Geometry().Validate(); err != nil {
		errs = append(errs, err)
	}
	if t.FOV <= 0 || t.FOV%2 == 0 {
		errs = append(errs, fmt.Errorf("fov must be a positive odd number, got %d", t.FOV))
	}
	if t.MinPadding < 0 {
		errs = append(errs, fmt.Errorf("min_padding must be >= 0"))
	}
	if t.MapRadiusBlocks <= 0 {
		errs = append(errs, fmt.Errorf("map_radius_blocks must be > 0"))
	}
	if t.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("send_queue must be > 0"))
	}
	if t.Atmos.VisibleThreshold <= 0 || t.Atmos.VisibleThreshold > t.Atmos.MaxLevel {
		errs = append(errs, fmt.Errorf("atmos.visible_threshold must be in (0, max_level]"))
	}
	if t.RateLimits.CommandsPerSecond <= 0 || t.RateLimits.CommandBurst <= 0 {
		errs = append(errs, fmt.Errorf("rate_limits must be > 0"))
	}
	return errors.Join(errs...)
}

func (t Tuning) Geometry() geom.Geometry {
	return geom.Geometry{BlockSize: t.BlockSize, Depth: t.Depth}
}

func (t Tuning) Camera() camera.Config {
	return camera.Config{FOV: t.FOV, Padding: t.MinPadding}
}

// WindowBlocks is the camera window side in blocks.
func (t Tuning) WindowBlocks() int {
	return camera.WindowBlocks(t.BlockSize, t.Camera())
}
