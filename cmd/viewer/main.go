package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tilesync.io/internal/mirror"
	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/viewer"
)

var walkDirs = []geom.Direction{geom.DirNorth, geom.DirSouth, geom.DirWest, geom.DirEast}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "viewer", "viewer name")
		resume   = flag.String("resume", "", "resume token from a previous session")
		queue    = flag.Int("queue", 0, "requested send queue (0: server default)")
		step     = flag.Duration("step", 300*time.Millisecond, "interval between random walk steps")
		report   = flag.Duration("report", 2*time.Second, "interval between state reports")
		duration = flag.Duration("duration", 0, "disconnect after this long (0: run until interrupted)")
		seed     = flag.Int64("seed", 0, "random walk seed (0: time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var c2 context.CancelFunc
		ctx, c2 = context.WithTimeout(ctx, *duration)
		defer c2()
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := viewer.Dial(dialCtx, viewer.Config{
		URL:         *url,
		Name:        *name,
		ResumeToken: *resume,
		MaxQueue:    *queue,
		Debounce:    100 * time.Millisecond,
	}, logger)
	dialCancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	p := c.Params()
	logger.Printf("WELCOME session=%s entity=%d world=%s window=%d blocks tick_rate=%d resume=%s",
		c.SessionID(), c.Welcome().EntityID, p.WorldID, p.WindowBlocks, p.TickRateHz, c.ResumeToken())

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))
	windowPixels := p.WindowBlocks * p.BlockSize * p.TilePixels

	stepTicker := time.NewTicker(*step)
	defer stepTicker.Stop()
	reportTicker := time.NewTicker(*report)
	defer reportTicker.Stop()

	m := c.Mirror()
	for {
		select {
		case <-ctx.Done():
			_ = c.Disconnect()
			select {
			case <-c.Done():
			case <-time.After(2 * time.Second):
			}
			logger.Printf("bye")
			return
		case <-c.Done():
			logger.Fatalf("connection closed: %v", c.Err())
		case <-stepTicker.C:
			walk(m, rng, windowPixels)
		case <-reportTicker.C:
			logState(logger, c)
		}
	}
}

// walk issues one random intent: mostly moves, sometimes a click on
// whatever sits under a random point, rarely a drop or a wall.
func walk(m *mirror.Mirror, rng *rand.Rand, windowPixels int) {
	switch n := rng.Intn(20); {
	case n < 15:
		_ = m.EnqueueLocalIntent(protocol.CmdMove, mirror.Intent{Direction: walkDirs[rng.Intn(len(walkDirs))]})
	case n < 18:
		if windowPixels <= 0 {
			return
		}
		if id, ok := m.GetEntityUnderPoint(rng.Intn(windowPixels), rng.Intn(windowPixels)); ok {
			_ = m.EnqueueLocalIntent(protocol.CmdClick, mirror.Intent{Target: id})
		}
	case n < 19:
		_ = m.EnqueueLocalIntent(protocol.CmdDrop, mirror.Intent{})
	default:
		_ = m.EnqueueLocalIntent(protocol.CmdBuild, mirror.Intent{})
	}
}

func logState(logger *log.Logger, c *viewer.Client) {
	m := c.Mirror()
	origin, _ := m.Origin()
	focus, _ := m.Focus()
	ctrl, _ := m.Controllable()
	st := m.Stats()
	ents := 0
	for _, b := range m.Blocks() {
		for _, t := range b.Tiles {
			ents += len(t.Entities)
		}
	}
	logger.Printf("origin=%v focus=%v controllable=%d blocks=%d entities=%d frames=%d records=%d snapshots=%d desyncs=%d stunned=%v",
		origin, focus, ctrl.ID, len(m.Blocks()), ents, st.Frames, st.Records, st.Snapshots, st.Desyncs, m.Stunned())
	if e, ok := c.LastError(); ok {
		logger.Printf("last server error: %v", e)
	}
}
