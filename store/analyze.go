package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// GameSummary aggregates the Parquet rows of one game type.
type GameSummary struct {
	Game      string  `json:"game"`
	Games     int64   `json:"games"`
	Rows      int64   `json:"rows"`
	AvgPlies  float64 `json:"avg_plies"`
	Player0   float64 `json:"player0_share"` // share of games won by player 0
	Player1   float64 `json:"player1_share"`
	DrawShare float64 `json:"draw_share"`
}

// Summarize scans every completed batch file under dir with DuckDB.
func Summarize(ctx context.Context, dir string) ([]GameSummary, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	// Batch files sit directly in dir; dir/tmp holds partial writes.
	glob := escapeSQLString(filepath.Join(dir, "*.parquet"))
	query := `
		WITH games AS (
			SELECT game, game_id, count(*) AS plies, any_value(result) AS result
			FROM read_parquet('` + glob + `')
			GROUP BY game, game_id
		)
		SELECT
			game,
			count(*) AS games,
			CAST(sum(plies) AS BIGINT) AS total_rows,
			CAST(avg(plies) AS DOUBLE) AS avg_plies,
			CAST(avg(CASE WHEN result > 0 THEN 1 ELSE 0 END) AS DOUBLE) AS p0,
			CAST(avg(CASE WHEN result < 0 THEN 1 ELSE 0 END) AS DOUBLE) AS p1,
			CAST(avg(CASE WHEN result = 0 THEN 1 ELSE 0 END) AS DOUBLE) AS draws
		FROM games
		GROUP BY game
		ORDER BY game`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query parquet: %w", err)
	}
	defer rows.Close()

	var out []GameSummary
	for rows.Next() {
		var s GameSummary
		if err := rows.Scan(&s.Game, &s.Games, &s.Rows, &s.AvgPlies, &s.Player0, &s.Player1, &s.DrawShare); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
