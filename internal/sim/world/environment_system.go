package world

import (
	"fmt"

	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

// locale is one atmos region. Visibility transitions reach viewers as
// IconsChanged on the locale's gas entity; the level is read out on the
// centre tile's overlay.
type locale struct {
	ID      int
	Min     geom.Pos
	Max     geom.Pos
	Center  geom.Pos
	Level   int
	Rising  bool
	Visible bool
	GasID   diff.EntityID
}

func (w *World) systemEnvironment(nowTick uint64) {
	leak := w.cfg.Atmos.LeakPerTick
	if leak <= 0 {
		return
	}
	top := w.cfg.Atmos.MaxLevel
	for _, l := range w.locales {
		if l.Rising {
			l.Level += leak
			if l.Level >= top {
				l.Level = top
				l.Rising = false
			}
		} else {
			l.Level -= leak
			if l.Level <= 0 {
				l.Level = 0
				l.Rising = true
			}
		}
		w.setOverlay(w.grid.TileAt(l.Center), l.readout())
		visible := l.Level >= w.cfg.Atmos.VisibleThreshold
		if visible == l.Visible {
			continue
		}
		l.Visible = visible
		gas := w.entities[l.GasID]
		if gas == nil {
			continue
		}
		if visible {
			w.setIcons(gas, []uint32{IconGas})
		} else {
			w.setIcons(gas, nil)
		}
	}
}

func (l *locale) readout() string {
	return fmt.Sprintf("locale %d: %d", l.ID, l.Level)
}

func (w *World) localeByID(id int) *locale {
	if id <= 0 || id > len(w.locales) {
		return nil
	}
	return w.locales[id-1]
}
