package world

import (
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/sim/mathx"
)

// generate builds the terrain and its starting entities. Blocks inside the
// map radius are persistent; anything placed outside is created lazily.
func (w *World) generate() {
	w.generateTerrain()
	w.generateEntities()
}

// generateTerrain creates blocks and locales only; snapshot import reuses it
// before restoring entities.
func (w *World) generateTerrain() {
	r := w.cfg.MapRadiusBlocks
	for by := -r; by < r; by++ {
		for bx := -r; bx < r; bx++ {
			w.grid.EnsureBlock(geom.BlockKey{X: bx, Y: by}).Persistent = true
		}
	}

	lb := w.cfg.Atmos.LocaleBlocks
	n := w.cfg.Geometry.BlockSize
	w.locales = w.locales[:0]
	for ly := -r; ly < r; ly += lb {
		for lx := -r; lx < r; lx += lb {
			l := &locale{ID: len(w.locales) + 1}
			l.Min = geom.Pos{X: lx * n, Y: ly * n}
			l.Max = geom.Pos{X: min(lx+lb, r)*n - 1, Y: min(ly+lb, r)*n - 1}
			l.Center = geom.Pos{X: (l.Min.X + l.Max.X) / 2, Y: (l.Min.Y + l.Max.Y) / 2}
			w.locales = append(w.locales, l)
			for y := l.Min.Y; y <= l.Max.Y; y++ {
				for x := l.Min.X; x <= l.Max.X; x++ {
					for z := 0; z < w.cfg.Geometry.Depth; z++ {
						if t := w.grid.TileAt(geom.Pos{X: x, Y: y, Z: z}); t != nil {
							t.LocaleID = l.ID
						}
					}
				}
			}
		}
	}
}

func (w *World) generateEntities() {
	r := w.cfg.MapRadiusBlocks
	n := w.cfg.Geometry.BlockSize
	lo, hi := -r*n, r*n-1
	for y := lo; y <= hi; y++ {
		for x := lo; x <= hi; x++ {
			p := geom.Pos{X: x, Y: y}
			switch {
			case x == lo || x == hi || y == lo || y == hi:
				w.spawnWall(p)
			case mathx.Hash2(w.cfg.Seed, x, y)%97 == 0:
				w.spawnCrate(p)
			}
		}
	}
	for _, l := range w.locales {
		l.Level = int(mathx.Hash2(w.cfg.Seed, l.ID, 0) % uint64(w.cfg.Atmos.MaxLevel+1))
		l.Rising = mathx.Hash2(w.cfg.Seed, 0, l.ID)%2 == 0
		l.Visible = l.Level >= w.cfg.Atmos.VisibleThreshold
		if t := w.grid.TileAt(l.Center); t != nil {
			t.Overlay = l.readout()
		}
		gas := w.newEntity(KindGas)
		gas.Name = "gas"
		gas.Layer = LayerGas
		if l.Visible {
			gas.Icons = []uint32{IconGas}
		}
		_ = w.place(gas, l.Center)
		l.GasID = gas.ID
	}
}

func (w *World) spawnWall(p geom.Pos) *Entity {
	e := w.newEntity(KindStructure)
	e.Name = "wall"
	e.Icons = []uint32{IconWall}
	e.Layer = LayerWall
	e.Dense = true
	if err := w.place(e, p); err != nil {
		delete(w.entities, e.ID)
		return nil
	}
	return e
}

func (w *World) spawnCrate(p geom.Pos) *Entity {
	e := w.newEntity(KindItem)
	e.Name = "crate"
	e.Icons = []uint32{IconCrate}
	e.Layer = LayerFloorItem
	if err := w.place(e, p); err != nil {
		delete(w.entities, e.ID)
		return nil
	}
	return e
}

// spawnPoint finds a free tile near the map centre for a new creature.
func (w *World) spawnPoint(nth int) (geom.Pos, bool) {
	r := w.cfg.MapRadiusBlocks * w.cfg.Geometry.BlockSize
	side := 2*r - 2
	for i := 0; i < side*side; i++ {
		k := (nth*7 + i) % (side * side)
		p := geom.Pos{X: 5 + k%side, Y: 5 + k/side}
		if p.X >= r-1 {
			p.X -= side
		}
		if p.Y >= r-1 {
			p.Y -= side
		}
		t := w.grid.TileAt(p)
		if t == nil || w.blocked(t, 0) {
			continue
		}
		return p, true
	}
	return geom.Pos{}, false
}
