package diff

import (
	"testing"

	"tilesync.io/internal/sim/geom"
)

func TestRelocateAsAddKeepsOrderAndSnapshot(t *testing.T) {
	e := EntityInfo{ID: 7, Name: "crate", Icons: []uint32{3, 4}, Layer: 2}
	r := Relocate(e, geom.Pos{X: 12, Y: -3}, 1, geom.BlockKey{X: 0, Y: -1}, true)
	r.Seq = 42

	add := r.AsAdd()
	if add.Kind != KindAdd || add.Seq != 42 || add.ID != 7 {
		t.Fatalf("AsAdd = %v, want ADD#42 id=7", add)
	}
	if add.To != r.To || add.Slot != 1 || add.Entity.Name != "crate" {
		t.Fatalf("AsAdd lost placement: %+v", add)
	}
	add.Entity.Icons[0] = 99
	if r.Entity.Icons[0] != 3 {
		t.Fatalf("AsAdd shares icon storage with the original record")
	}

	rm := r.AsRemove()
	if rm.Kind != KindRemove || rm.Seq != 42 || rm.ID != 7 {
		t.Fatalf("AsRemove = %v, want REMOVE#42 id=7", rm)
	}
}

func TestConstructorsCopyIcons(t *testing.T) {
	icons := []uint32{1, 2}
	r := IconsChanged(5, icons)
	icons[0] = 9
	if r.Icons[0] != 1 {
		t.Fatalf("IconsChanged aliases caller slice")
	}
}

func TestKindValid(t *testing.T) {
	for k := KindAdd; k <= KindOverlayChanged; k++ {
		if !k.Valid() {
			t.Fatalf("kind %d should be valid", k)
		}
	}
	if Kind(0).Valid() || Kind(11).Valid() {
		t.Fatalf("out-of-range kinds must be invalid")
	}
}
