// Package config loads self-play settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brensch/arenamcts/connect4"
)

const (
	GameTicTacToe = "tictactoe"
	GameConnect4  = "connect4"

	EvaluatorRollout   = "rollout"
	EvaluatorHeuristic = "heuristic"
	EvaluatorONNX      = "onnx"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Game      string `yaml:"game"`
	BoardSize int    `yaml:"board_size"`

	Workers        int    `yaml:"workers"`
	GamesPerWorker int    `yaml:"games_per_worker"`
	Iterations     int    `yaml:"iterations"`
	Seed           uint64 `yaml:"seed"`

	// Evaluator is one of rollout, heuristic or onnx. onnx is Connect-4 only.
	// Empty picks the game's own evaluator, see DefaultEvaluator.
	Evaluator        string        `yaml:"evaluator"`
	Rollouts         int           `yaml:"rollouts"`
	ModelPath        string        `yaml:"model_path"`
	ONNXSessions     int           `yaml:"onnx_sessions"`
	ONNXBatchSize    int           `yaml:"onnx_batch_size"`
	ONNXBatchTimeout time.Duration `yaml:"onnx_batch_timeout"`

	ArenaInitial int `yaml:"arena_initial"`
	// ArenaMax caps the shared arena in slots; 0 means no cap beyond the
	// block limit.
	ArenaMax int `yaml:"arena_max"`

	StochasticPlies int     `yaml:"stochastic_plies"`
	DirichletAlpha  float64 `yaml:"dirichlet_alpha"`

	CSVPath       string `yaml:"csv_path"`
	ParquetDir    string `yaml:"parquet_dir"`
	GamesPerFlush int    `yaml:"games_per_flush"`

	// Listen is the viewer address; empty disables it.
	Listen   string `yaml:"listen"`
	TUI      bool   `yaml:"tui"`
	LogLevel string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Game:             GameConnect4,
		BoardSize:        7,
		Workers:          4,
		GamesPerWorker:   10,
		Iterations:       800,
		Seed:             1,
		Rollouts:         100,
		ONNXSessions:     1,
		ONNXBatchSize:    64,
		ONNXBatchTimeout: time.Millisecond,
		ArenaInitial:     1 << 14,
		StochasticPlies:  8,
		DirichletAlpha:   0.3,
		CSVPath:          "data/selfplay.csv",
		ParquetDir:       "data/generated",
		GamesPerFlush:    50,
		LogLevel:         "info",
	}
}

// DefaultEvaluator is the evaluator used when none is configured.
func DefaultEvaluator(game string) string {
	if game == GameTicTacToe {
		return EvaluatorRollout
	}
	return EvaluatorHeuristic
}

// ResolveEvaluator fills an unset Evaluator from the game. Call it once the
// game is final, after flags are applied.
func (c *Config) ResolveEvaluator() {
	if c.Evaluator == "" {
		c.Evaluator = DefaultEvaluator(c.Game)
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Game {
	case GameTicTacToe:
	case GameConnect4:
		if c.BoardSize < connect4.MinSize || c.BoardSize > connect4.MaxSize {
			bad("board_size %d outside %d..%d", c.BoardSize, connect4.MinSize, connect4.MaxSize)
		}
	default:
		bad("unknown game %q", c.Game)
	}

	if c.Workers <= 0 {
		bad("workers must be positive, got %d", c.Workers)
	}
	if c.GamesPerWorker <= 0 {
		bad("games_per_worker must be positive, got %d", c.GamesPerWorker)
	}
	if c.Iterations <= 0 {
		bad("iterations must be positive, got %d", c.Iterations)
	}

	evaluator := c.Evaluator
	if evaluator == "" {
		evaluator = DefaultEvaluator(c.Game)
	}
	switch evaluator {
	case EvaluatorRollout, EvaluatorHeuristic:
		if evaluator == EvaluatorHeuristic && c.Game != GameConnect4 {
			bad("heuristic evaluator needs game %s", GameConnect4)
		}
	case EvaluatorONNX:
		if c.Game != GameConnect4 {
			bad("onnx evaluator needs game %s", GameConnect4)
		}
		if c.ModelPath == "" {
			bad("onnx evaluator needs model_path")
		}
		if c.ONNXSessions <= 0 {
			bad("onnx_sessions must be positive, got %d", c.ONNXSessions)
		}
	default:
		bad("unknown evaluator %q", c.Evaluator)
	}

	if c.ArenaInitial <= 0 {
		bad("arena_initial must be positive, got %d", c.ArenaInitial)
	}
	if c.ArenaMax != 0 && c.ArenaMax < c.ArenaInitial {
		bad("arena_max %d below arena_initial %d", c.ArenaMax, c.ArenaInitial)
	}
	if c.StochasticPlies < 0 {
		bad("stochastic_plies must not be negative, got %d", c.StochasticPlies)
	}
	if c.DirichletAlpha < 0 {
		bad("dirichlet_alpha must not be negative, got %g", c.DirichletAlpha)
	}
	return errors.Join(errs...)
}
