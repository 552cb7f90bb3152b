package store

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// CSVAppender appends rows of the form f_0,...,f_{k-1},game_result to a file.
//
// Persistence is best effort: a file that cannot be opened or a row that
// cannot be written is logged and skipped, never returned as an error.
type CSVAppender struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

func NewCSVAppender(path string, logger *slog.Logger) *CSVAppender {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVAppender{path: path, logger: logger}
}

func (a *CSVAppender) Path() string { return a.path }

// Append writes the rows of one game and returns how many were written.
func (a *CSVAppender) Append(rows []TrainingRow) int {
	if len(rows) == 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.logger.Warn("create csv dir failed, skipping rows", "path", a.path, "rows", len(rows), "err", err)
			return 0
		}
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Warn("open csv failed, skipping rows", "path", a.path, "rows", len(rows), "err", err)
		return 0
	}
	defer func() {
		if err := f.Close(); err != nil {
			a.logger.Warn("close csv failed", "path", a.path, "err", err)
		}
	}()

	w := csv.NewWriter(f)
	written := 0
	record := make([]string, 0, 32)
	for _, row := range rows {
		record = record[:0]
		for _, v := range row.Features {
			record = append(record, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		record = append(record, strconv.FormatFloat(float64(row.Result), 'g', -1, 32))

		if err := w.Write(record); err != nil {
			a.logger.Warn("write csv row failed, skipping", "path", a.path, "game_id", row.GameID, "ply", row.Ply, "err", err)
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil {
			a.logger.Warn("write csv row failed, skipping", "path", a.path, "game_id", row.GameID, "ply", row.Ply, "err", err)
			continue
		}
		written++
	}
	return written
}
