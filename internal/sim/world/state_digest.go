package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// stateDigest hashes everything a replay must reproduce: entity placement,
// attributes and atmos levels.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	writeI64 := func(v int64) { writeU64(uint64(v)) }

	writeU64(nowTick)
	writeI64(w.cfg.Seed)
	for _, id := range w.sortedEntityIDs() {
		e := w.entities[id]
		writeI64(int64(e.ID))
		h.Write([]byte{byte(e.Kind), byte(e.Dir), boolByte(e.Dense), boolByte(e.placed)})
		writeI64(int64(e.Pos.X))
		writeI64(int64(e.Pos.Y))
		writeI64(int64(e.Pos.Z))
		writeU64(uint64(len(e.Icons)))
		for _, ic := range e.Icons {
			writeU64(uint64(ic))
		}
		writeU64(e.StunnedUntil)
		writeI64(int64(e.Held))
	}
	for _, l := range w.locales {
		writeI64(int64(l.Level))
		h.Write([]byte{boolByte(l.Rising), boolByte(l.Visible)})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
