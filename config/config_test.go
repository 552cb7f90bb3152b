package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
game: tictactoe
evaluator: rollout
workers: 16
onnx_batch_timeout: 5ms
tui: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GameTicTacToe, cfg.Game)
	assert.Equal(t, EvaluatorRollout, cfg.Evaluator)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 5*time.Millisecond, cfg.ONNXBatchTimeout)
	assert.True(t, cfg.TUI)
	assert.Equal(t, Default().Iterations, cfg.Iterations)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [1, 2"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown game", func(c *Config) { c.Game = "chess" }},
		{"board too small", func(c *Config) { c.BoardSize = 3 }},
		{"board too large", func(c *Config) { c.BoardSize = 17 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no games", func(c *Config) { c.GamesPerWorker = -1 }},
		{"no iterations", func(c *Config) { c.Iterations = 0 }},
		{"unknown evaluator", func(c *Config) { c.Evaluator = "oracle" }},
		{"heuristic on tictactoe", func(c *Config) {
			c.Game = GameTicTacToe
			c.Evaluator = EvaluatorHeuristic
		}},
		{"onnx without model", func(c *Config) { c.Evaluator = EvaluatorONNX }},
		{"onnx on tictactoe", func(c *Config) {
			c.Game = GameTicTacToe
			c.Evaluator = EvaluatorONNX
			c.ModelPath = "m.onnx"
		}},
		{"arena max below initial", func(c *Config) { c.ArenaMax = c.ArenaInitial - 1 }},
		{"negative alpha", func(c *Config) { c.DirichletAlpha = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestUnsetEvaluatorFollowsGame(t *testing.T) {
	cfg := Default()
	cfg.Game = GameTicTacToe
	require.NoError(t, cfg.Validate())
	cfg.ResolveEvaluator()
	assert.Equal(t, EvaluatorRollout, cfg.Evaluator)

	cfg = Default()
	cfg.ResolveEvaluator()
	assert.Equal(t, EvaluatorHeuristic, cfg.Evaluator)

	cfg = Default()
	cfg.Game = GameTicTacToe
	cfg.Evaluator = EvaluatorONNX
	cfg.ResolveEvaluator()
	assert.Equal(t, EvaluatorONNX, cfg.Evaluator, "explicit choice is kept")
}

func TestBoardSizeIgnoredForTicTacToe(t *testing.T) {
	cfg := Default()
	cfg.Game = GameTicTacToe
	cfg.BoardSize = 0
	assert.NoError(t, cfg.Validate())
}
