// Package store persists self-play training rows.
//
// Two sinks exist: a flat CSV file of feature vectors and game results, and
// a directory of zstd-compressed Parquet batch files that readers can scan
// while self-play is still writing.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const schemaVersion = "training_row_v1"

// TrainingRow is one position from a finished self-play game.
//
// Result is the final reward from player 0's perspective, identical for every
// row of a game. Policy is the normalised root visit distribution over the
// legal actions at this ply.
type TrainingRow struct {
	GameID   string    `parquet:"game_id,dict"`
	Game     string    `parquet:"game,dict"`
	Ply      int32     `parquet:"ply"`
	Player   int32     `parquet:"player"`
	Action   int32     `parquet:"action"`
	Features []float32 `parquet:"features"`
	Policy   []float32 `parquet:"policy"`
	Result   float32   `parquet:"result"`
	Source   string    `parquet:"source,dict"`
}

// WriteBatchParquetAtomic writes rows into outDir/tmp and then renames the
// file into outDir, so readers globbing outDir never see partial files.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schemaVersion),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadParquet loads every row of one batch file.
func ReadParquet(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// BatchFiles lists the completed batch files in dir.
func BatchFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
