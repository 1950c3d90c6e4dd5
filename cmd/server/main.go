package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tilesync.io/internal/messaging"
	"tilesync.io/internal/observability"
	persistlog "tilesync.io/internal/persistence/log"
	"tilesync.io/internal/persistence/snapshot"
	"tilesync.io/internal/sim/tuning"
	"tilesync.io/internal/sim/world"
	"tilesync.io/internal/transport/httpapi"
	"tilesync.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 0, "world seed for a fresh world (0: use tuning seed)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (ticks, sessions, snapshot metadata)")
		natsTarget = flag.String("nats", "", `world event bus: "" (off), "embedded", or a nats:// url`)

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("load .env: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	applyEnvOverrides(&tune)
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	// Optional read-model index (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	cfg := world.ConfigFromTuning(*worldID, tune, *seed)
	w, err := world.New(cfg, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	ctx, cancel := signalContext()
	defer cancel()

	events, closeEvents, err := openEventBus(*natsTarget, *worldID, logger)
	if err != nil {
		logger.Fatalf("event bus: %v", err)
	}
	defer closeEvents()

	tickLog := persistlog.NewTickLogger(worldDir)
	sessionLog := persistlog.NewSessionLogger(worldDir)
	defer tickLog.Close()
	defer sessionLog.Close()

	ticks := multiTickLogger{tickLog}
	sessions := multiSessionLogger{sessionLog}
	if idx != nil {
		ticks = append(ticks, idx)
		sessions = append(sessions, idx)
	}
	if events != nil {
		ticks = append(ticks, events)
		sessions = append(sessions, events)
	}
	w.SetTickLogger(ticks)
	w.SetSessionLogger(sessions)
	w.SetTelemetry(observability.NewWorldTelemetry(*worldID))

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	enableAdminHTTP := envBool("TS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (TS_ENABLE_ADMIN_HTTP=false)")
	}
	wsSrv := ws.NewServer(w, ws.Config{
		DefaultQueue:      tune.SendQueue,
		MaxQueue:          envInt("TS_MAX_SEND_QUEUE", 4*tune.SendQueue),
		CommandsPerSecond: tune.RateLimits.CommandsPerSecond,
		CommandBurst:      tune.RateLimits.CommandBurst,
	}, logger)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		World:       w,
		WS:          wsSrv.Handler(),
		Metrics:     observability.Handler(),
		EnableAdmin: enableAdminHTTP,
		EnablePprof: envBool("TS_ENABLE_PPROF_HTTP", false),
		CORSOrigins: envList("TS_CORS_ORIGINS"),
		LogRequests: envBool("TS_LOG_REQUESTS", false),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s window=%d blocks", *addr, *worldID, tune.WindowBlocks())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// applyEnvOverrides lets deployments adjust a few knobs without editing
// tuning.yaml.
func applyEnvOverrides(t *tuning.Tuning) {
	t.TickRateHz = envInt("TS_TICK_RATE_HZ", t.TickRateHz)
	t.MaxViewers = envInt("TS_MAX_VIEWERS", t.MaxViewers)
	t.SendQueue = envInt("TS_SEND_QUEUE", t.SendQueue)
	t.SnapshotEveryTicks = envInt("TS_SNAPSHOT_EVERY_TICKS", t.SnapshotEveryTicks)
}

// openEventBus wires the world event publisher. target is empty (off),
// "embedded" (in-process NATS on TS_NATS_PORT) or a client url.
func openEventBus(target, worldID string, logger *log.Logger) (*messaging.WorldEvents, func(), error) {
	target = strings.TrimSpace(target)
	switch target {
	case "":
		return nil, func() {}, nil
	case "embedded":
		ns, err := messaging.NewNatsServer(messaging.WithPort(envInt("TS_NATS_PORT", 4222)))
		if err != nil {
			return nil, nil, err
		}
		if err := ns.Start(); err != nil {
			return nil, nil, err
		}
		logger.Printf("embedded nats at %s", ns.ClientURL())
		return messaging.NewWorldEvents(ns, worldID), ns.Close, nil
	default:
		pub, err := messaging.Dial(target)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("publishing world events to %s", target)
		return messaging.NewWorldEvents(pub, worldID), pub.Close, nil
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger []world.TickLogger

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	for _, l := range m {
		_ = l.WriteTick(entry)
	}
	return nil
}

type multiSessionLogger []world.SessionLogger

func (m multiSessionLogger) WriteSession(ev world.SessionEvent) error {
	for _, l := range m {
		_ = l.WriteSession(ev)
	}
	return nil
}
