package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	session := fs.String("session", "", "session_id filter (sessions, commands)")
	rejected := fs.Bool("rejected", false, "only rejected commands")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, dbFilter{Limit: *limit, Session: *session, Rejected: *rejected}, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type dbFilter struct {
	Limit    int
	Session  string
	Rejected bool
}

// runQuery prints one JSON object per row, newest first.
func runQuery(db *sql.DB, q string, f dbFilter, out io.Writer) error {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	enc := json.NewEncoder(out)

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,seed,entities,viewers,locales FROM snapshots ORDER BY tick DESC LIMIT ?`, f.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Path     string `json:"path"`
				Seed     int64  `json:"seed"`
				Entities int    `json:"entities"`
				Viewers  int    `json:"viewers"`
				Locales  int    `json:"locales"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Seed, &r.Entities, &r.Viewers, &r.Locales); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,joins,leaves,dropped,commands,rejected,frames,bytes FROM ticks ORDER BY tick DESC LIMIT ?`, f.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Digest   string `json:"digest"`
				Joins    int    `json:"joins"`
				Leaves   int    `json:"leaves"`
				Dropped  int    `json:"dropped"`
				Commands int    `json:"commands"`
				Rejected int    `json:"rejected"`
				Frames   int    `json:"frames"`
				Bytes    int    `json:"bytes"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Joins, &r.Leaves, &r.Dropped, &r.Commands, &r.Rejected, &r.Frames, &r.Bytes); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "sessions":
		query := `SELECT tick,session_id,name,entity_id,kind FROM sessions`
		var args []any
		if f.Session != "" {
			query += ` WHERE session_id=?`
			args = append(args, f.Session)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, f.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				SessionID string `json:"session_id"`
				Name      string `json:"name"`
				EntityID  int32  `json:"entity_id"`
				Kind      string `json:"kind"`
			}
			if err := rows.Scan(&r.Tick, &r.SessionID, &r.Name, &r.EntityID, &r.Kind); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "commands":
		query := `SELECT tick,seq,session_id,command,result FROM commands`
		var where []string
		var args []any
		if f.Session != "" {
			where = append(where, `session_id=?`)
			args = append(args, f.Session)
		}
		if f.Rejected {
			where = append(where, `result<>''`)
		}
		if len(where) > 0 {
			query += ` WHERE ` + strings.Join(where, ` AND `)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, f.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				Seq       int    `json:"seq"`
				SessionID string `json:"session_id"`
				Command   string `json:"command"`
				Result    string `json:"result,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.SessionID, &r.Command, &r.Result); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown db query %q (snapshots, ticks, sessions, commands)", q)
	}
}
