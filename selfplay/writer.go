package selfplay

import (
	"log/slog"

	"github.com/brensch/arenamcts/metrics"
	"github.com/brensch/arenamcts/store"
)

const defaultGamesPerFlush = 50

// Writer persists finished games. Run it on a single goroutine fed by the
// workers.
type Writer struct {
	// CSV is optional.
	CSV *store.CSVAppender
	// ParquetDir is optional; empty disables Parquet output.
	ParquetDir    string
	GamesPerFlush int
	Logger        *slog.Logger
}

// Run consumes in until it is closed, then flushes the remaining buffered
// games.
func (w *Writer) Run(in <-chan GameResult) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gamesPerFlush := w.GamesPerFlush
	if gamesPerFlush <= 0 {
		gamesPerFlush = defaultGamesPerFlush
	}

	var pending []store.TrainingRow
	pendingGames := 0

	flush := func(final bool) {
		if pendingGames == 0 || len(pending) == 0 {
			return
		}
		outPath, err := store.WriteBatchParquetAtomic(w.ParquetDir, pending)
		if err != nil {
			metrics.RowWriteErrors.WithLabelValues(metrics.SinkParquet).Add(float64(len(pending)))
			logger.Warn("parquet flush failed", "path", w.ParquetDir, "games", pendingGames, "rows", len(pending), "final", final, "err", err)
		} else {
			metrics.RowsWritten.WithLabelValues(metrics.SinkParquet).Add(float64(len(pending)))
			logger.Info("parquet flush ok", "path", outPath, "games", pendingGames, "rows", len(pending), "final", final)
		}
		pending = pending[:0]
		pendingGames = 0
	}

	for res := range in {
		if len(res.Rows) == 0 {
			continue
		}
		if w.CSV != nil {
			n := w.CSV.Append(res.Rows)
			metrics.RowsWritten.WithLabelValues(metrics.SinkCSV).Add(float64(n))
			if dropped := len(res.Rows) - n; dropped > 0 {
				metrics.RowWriteErrors.WithLabelValues(metrics.SinkCSV).Add(float64(dropped))
			}
		}
		if w.ParquetDir == "" {
			continue
		}
		pending = append(pending, res.Rows...)
		pendingGames++
		if pendingGames >= gamesPerFlush {
			flush(false)
		}
	}
	flush(true)
}
