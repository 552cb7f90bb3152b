// Package metrics holds the Prometheus collectors for self-play runs. They are
// registered with the default registry and served by the viewer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SinkCSV     = "csv"
	SinkParquet = "parquet"
)

var (
	ArenaCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arenamcts_arena_capacity_slots",
		Help: "Total node slots reserved by the shared arena",
	})

	ArenaGrows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenamcts_arena_grows_total",
		Help: "Number of blocks added to the shared arena",
	})

	Games = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arenamcts_games_total",
		Help: "Finished self-play games by game and result for player 0",
	}, []string{"game", "result"})

	Plies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenamcts_plies_total",
		Help: "Moves played across all self-play games",
	})

	SearchIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenamcts_search_iterations_total",
		Help: "Completed MCTS traversals",
	})

	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arenamcts_rows_written_total",
		Help: "Training rows persisted by sink",
	}, []string{"sink"})

	RowWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arenamcts_row_write_errors_total",
		Help: "Training rows dropped by sink",
	}, []string{"sink"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arenamcts_search_duration_seconds",
		Help:    "Time spent searching one ply",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	})
)

// ObserveArenaGrow is shaped for arena.WithGrowHook.
func ObserveArenaGrow(added, capacity int) {
	ArenaGrows.Inc()
	ArenaCapacity.Set(float64(capacity))
}
