package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed            int64 `json:"seed"`
	TickRate        int   `json:"tick_rate_hz"`
	BlockSize       int   `json:"block_size"`
	Depth           int   `json:"depth"`
	MapRadiusBlocks int   `json:"map_radius_blocks"`

	NextEntityID int32 `json:"next_entity_id"`

	Entities []EntityV1 `json:"entities"`
	Locales  []LocaleV1 `json:"locales,omitempty"`
	Viewers  []ViewerV1 `json:"viewers,omitempty"`
}

// EntityV1 is one entity. Slot is its index in the tile contents at export
// time; import re-inserts in slot order. Carried items are off the grid.
type EntityV1 struct {
	ID    int32    `json:"id"`
	Kind  uint8    `json:"kind"`
	Name  string   `json:"name,omitempty"`
	Icons []uint32 `json:"icons,omitempty"`
	Layer int32    `json:"layer"`
	Dir   uint8    `json:"dir"`
	Dense bool     `json:"dense,omitempty"`
	Speed float32  `json:"speed,omitempty"`
	Pos   [3]int   `json:"pos"`
	Slot  int      `json:"slot"`

	StunnedUntil uint64 `json:"stunned_until,omitempty"`
	// Body links a ghost to the creature it left behind.
	Body int32 `json:"body,omitempty"`
	// Held is the item a creature carries.
	Held    int32 `json:"held,omitempty"`
	OffGrid bool  `json:"off_grid,omitempty"`
}

type LocaleV1 struct {
	ID      int   `json:"id"`
	Level   int   `json:"level"`
	Rising  bool  `json:"rising"`
	GasID   int32 `json:"gas_id"`
	Visible bool  `json:"visible"`
}

type ViewerV1 struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	ResumeToken string `json:"resume_token"`
	EntityID    int32  `json:"entity_id"`
	BodyID      int32  `json:"body_id"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header is repeated inside the gob body.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	return snap, nil
}
