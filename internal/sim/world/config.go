package world

import (
	"tilesync.io/internal/sim/camera"
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/sim/tuning"
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	Geometry   geom.Geometry
	Camera     camera.Config
	TilePixels int

	// Generated terrain spans [-MapRadiusBlocks, MapRadiusBlocks) blocks.
	MapRadiusBlocks int
	Seed            int64

	SnapshotEveryTicks int
	StunMS             int
	MaxViewers         int

	Atmos AtmosConfig
}

type AtmosConfig struct {
	// LocaleBlocks is the side of a square atmos locale, in blocks.
	LocaleBlocks     int
	VisibleThreshold int
	LeakPerTick      int
	MaxLevel         int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
	if c.Geometry.BlockSize <= 0 {
		c.Geometry.BlockSize = 10
	}
	if c.Geometry.Depth <= 0 {
		c.Geometry.Depth = 1
	}
	if c.Camera.FOV <= 0 {
		c.Camera.FOV = 15
	}
	if c.Camera.Padding < 0 {
		c.Camera.Padding = 0
	}
	if c.TilePixels <= 0 {
		c.TilePixels = 32
	}
	if c.MapRadiusBlocks <= 0 {
		c.MapRadiusBlocks = 4
	}
	if c.StunMS <= 0 {
		c.StunMS = 2000
	}
	if c.MaxViewers <= 0 {
		c.MaxViewers = 256
	}
	if c.Atmos.LocaleBlocks <= 0 {
		c.Atmos.LocaleBlocks = 2
	}
	if c.Atmos.MaxLevel <= 0 {
		c.Atmos.MaxLevel = 100
	}
	if c.Atmos.VisibleThreshold <= 0 || c.Atmos.VisibleThreshold > c.Atmos.MaxLevel {
		c.Atmos.VisibleThreshold = c.Atmos.MaxLevel * 2 / 5
	}
}

func (c *WorldConfig) stunTicks() uint64 {
	t := c.StunMS * c.TickRateHz / 1000
	if t < 1 {
		t = 1
	}
	return uint64(t)
}

// ConfigFromTuning maps tuning.yaml onto a world config. seed 0 keeps the
// tuning seed.
func ConfigFromTuning(id string, t tuning.Tuning, seed int64) WorldConfig {
	if seed == 0 {
		seed = t.Seed
	}
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		Geometry:           t.Geometry(),
		Camera:             t.Camera(),
		TilePixels:         t.TilePixels,
		MapRadiusBlocks:    t.MapRadiusBlocks,
		Seed:               seed,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		StunMS:             t.StunMS,
		MaxViewers:         t.MaxViewers,
		Atmos: AtmosConfig{
			LocaleBlocks:     t.Atmos.LocaleBlocks,
			VisibleThreshold: t.Atmos.VisibleThreshold,
			LeakPerTick:      t.Atmos.LeakPerTick,
			MaxLevel:         t.Atmos.MaxLevel,
		},
	}
}
