// Package observability exports world tick counters as Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tilesync.io/internal/sim/world"
)

// Labels are bounded: world id and a fixed set of kinds.
var (
	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilesync_tick_duration_seconds",
		Help:    "Time spent in one world tick",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"world"})

	worldTick = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilesync_world_tick",
		Help: "Last completed world tick",
	}, []string{"world"})

	viewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilesync_viewers",
		Help: "Viewer sessions by connection state",
	}, []string{"world", "state"}) // attached, detached

	entities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilesync_entities",
		Help: "Entities in the world",
	}, []string{"world"})

	blocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilesync_blocks",
		Help: "Blocks held by the grid",
	}, []string{"world"})

	cameraEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_camera_events_total",
		Help: "Camera output by kind",
	}, []string{"world", "kind"}) // records, snapshots, promoted, demoted, shifts

	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_frames_sent_total",
		Help: "Window update frames queued to connections",
	}, []string{"world"})

	bytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_frame_bytes_total",
		Help: "Encoded window update bytes queued to connections",
	}, []string{"world"})

	viewersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_viewers_dropped_total",
		Help: "Viewers disconnected because their send queue was full",
	}, []string{"world"})

	commandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_commands_rejected_total",
		Help: "Commands and steps the world refused",
	}, []string{"world"})

	blocksCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_blocks_collected_total",
		Help: "Empty lazy blocks destroyed",
	}, []string{"world"})
)

// WorldTelemetry feeds one world's tick summaries into the collectors.
type WorldTelemetry struct {
	world string
}

func NewWorldTelemetry(worldID string) *WorldTelemetry {
	return &WorldTelemetry{world: worldID}
}

func (t *WorldTelemetry) ObserveTick(s world.TickSummary) {
	w := t.world
	tickDuration.WithLabelValues(w).Observe(s.StepMS / 1000)
	worldTick.WithLabelValues(w).Set(float64(s.Tick))
	viewers.WithLabelValues(w, "attached").Set(float64(s.Attached))
	viewers.WithLabelValues(w, "detached").Set(float64(s.Viewers - s.Attached))
	entities.WithLabelValues(w).Set(float64(s.Entities))
	blocks.WithLabelValues(w).Set(float64(s.Blocks))

	cameraEvents.WithLabelValues(w, "records").Add(float64(s.Records))
	cameraEvents.WithLabelValues(w, "snapshots").Add(float64(s.Snapshots))
	cameraEvents.WithLabelValues(w, "promoted").Add(float64(s.Promoted))
	cameraEvents.WithLabelValues(w, "demoted").Add(float64(s.Demoted))
	cameraEvents.WithLabelValues(w, "shifts").Add(float64(s.Shifts))

	framesSent.WithLabelValues(w).Add(float64(s.Frames))
	bytesSent.WithLabelValues(w).Add(float64(s.Bytes))
	viewersDropped.WithLabelValues(w).Add(float64(s.Dropped))
	commandsRejected.WithLabelValues(w).Add(float64(s.Rejected))
	blocksCollected.WithLabelValues(w).Add(float64(s.Collected))
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
