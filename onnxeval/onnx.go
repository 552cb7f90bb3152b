// Package onnxeval evaluates Connect-4 positions with an exported value
// network through ONNX Runtime.
//
// The model takes "input" of shape [batch, 2*size*size] (the one-hot planes of
// connect4.Board.Planes) and produces "value" of shape [batch, 1] in [-1, 1]
// from player 0's perspective. Requests from many search goroutines are
// gathered into batches by a single loop per session.
package onnxeval

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/arenamcts/connect4"
	"github.com/brensch/arenamcts/game"
)

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond
)

// ErrClosed is returned by Evaluate after Close.
var ErrClosed = errors.New("onnxeval: client closed")

type Config struct {
	BoardSize    int
	BatchSize    int
	BatchTimeout time.Duration
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// runFunc evaluates n stacked inputs and returns n values.
type runFunc func(input []float32, n int) ([]float32, error)

type request struct {
	input []float32
	resp  chan response
}

type response struct {
	value float32
	err   error
}

// RuntimeStats are cumulative batching counters.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

// Client batches evaluations onto one ONNX Runtime session.
type Client struct {
	cfg       Config
	inputSize int
	run       runFunc
	destroy   func() error

	requests chan request
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	batches  atomic.Int64
	items    atomic.Int64
	runNanos atomic.Int64
	last     atomic.Int64
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// NewClient loads the model at modelPath and starts the batching loop.
func NewClient(modelPath string, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BoardSize < connect4.MinSize || cfg.BoardSize > connect4.MaxSize {
		return nil, fmt.Errorf("board size %d not in [%d,%d]", cfg.BoardSize, connect4.MinSize, connect4.MaxSize)
	}

	if runtime.GOOS == "linux" {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else if cwd, err := os.Getwd(); err == nil {
			if p := findSharedLibrary(cwd); p != "" {
				ort.SetSharedLibraryPath(p)
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Many search goroutines share the process; keep each session single threaded.
	_ = options.SetIntraOpNumThreads(1)
	_ = options.SetInterOpNumThreads(1)

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err == nil {
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			cfg.Logger.Info("cuda provider unavailable", "err", err)
		} else {
			cfg.Logger.Info("cuda provider enabled")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"value"}, options)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	inputSize := 2 * cfg.BoardSize * cfg.BoardSize
	run := func(input []float32, n int) ([]float32, error) {
		inputTensor, err := ort.NewTensor(ort.NewShape(int64(n), int64(inputSize)), input)
		if err != nil {
			return nil, err
		}
		defer inputTensor.Destroy()

		valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), 1))
		if err != nil {
			return nil, err
		}
		defer valueTensor.Destroy()

		if err := session.Run([]ort.Value{inputTensor}, []ort.Value{valueTensor}); err != nil {
			return nil, err
		}
		out := make([]float32, n)
		copy(out, valueTensor.GetData())
		return out, nil
	}

	c := newClient(cfg, run, session.Destroy)
	cfg.Logger.Info("onnx session ready", "model", modelPath, "board_size", cfg.BoardSize, "batch_size", cfg.BatchSize)
	return c, nil
}

func newClient(cfg Config, run runFunc, destroy func() error) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:       cfg,
		inputSize: 2 * cfg.BoardSize * cfg.BoardSize,
		run:       run,
		destroy:   destroy,
		requests:  make(chan request, cfg.BatchSize*2),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go c.batchLoop()
	return c
}

// findSharedLibrary looks for the runtime library in dir, then in the
// onnxruntime wheel of a virtualenv under dir. It returns "" when none exists.
func findSharedLibrary(dir string) string {
	dirs := []string{dir}
	matches, _ := filepath.Glob(filepath.Join(dir, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"))
	dirs = append(dirs, matches...)
	for _, d := range dirs {
		for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
			p := filepath.Join(d, name)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				return p
			}
		}
	}
	return ""
}

// Evaluate blocks until the batch holding state has run.
func (c *Client) Evaluate(state *connect4.Board) (game.Reward, error) {
	if state.Size() != c.cfg.BoardSize {
		return game.Reward{}, fmt.Errorf("board size %d, model expects %d", state.Size(), c.cfg.BoardSize)
	}
	input := make([]float32, c.inputSize)
	state.Planes(input)

	req := request{input: input, resp: make(chan response, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return game.Reward{}, ErrClosed
	}

	var resp response
	select {
	case resp = <-req.resp:
	case <-c.stopped:
		// The loop drains on shutdown, so a reply may still be waiting.
		select {
		case resp = <-req.resp:
		default:
			return game.Reward{}, ErrClosed
		}
	}
	if resp.err != nil {
		return game.Reward{}, resp.err
	}
	v := math.Max(-1, math.Min(1, float64(resp.value)))
	return game.Reward{v, -v}, nil
}

func (c *Client) batchLoop() {
	defer close(c.stopped)

	batchInput := make([]float32, 0, c.cfg.BatchSize*c.inputSize)
	requests := make([]request, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(requests) == 0 {
			return
		}
		c.runBatch(requests, batchInput)
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case req := <-c.requests:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.done:
			for {
				select {
				case req := <-c.requests:
					requests = append(requests, req)
					batchInput = append(batchInput, req.input...)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (c *Client) runBatch(requests []request, batchInput []float32) {
	start := time.Now()
	values, err := c.run(batchInput, len(requests))
	if err == nil && len(values) < len(requests) {
		err = fmt.Errorf("model returned %d values for %d inputs", len(values), len(requests))
	}
	c.batches.Add(1)
	c.items.Add(int64(len(requests)))
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.last.Store(int64(len(requests)))

	if err != nil {
		c.failBatch(requests, err)
		return
	}
	for i, req := range requests {
		req.resp <- response{value: values[i]}
	}
}

func (c *Client) failBatch(requests []request, err error) {
	c.cfg.Logger.Warn("inference batch failed", "size", len(requests), "err", err)
	for _, req := range requests {
		req.resp <- response{err: err}
	}
}

func (c *Client) Stats() RuntimeStats {
	st := RuntimeStats{
		TotalBatches:  c.batches.Load(),
		TotalItems:    c.items.Load(),
		TotalRunNanos: c.runNanos.Load(),
		LastBatchSize: c.last.Load(),
		QueueLen:      len(c.requests),
	}
	if st.TotalBatches > 0 {
		st.AvgBatchSize = float64(st.TotalItems) / float64(st.TotalBatches)
		st.AvgRunMs = float64(st.TotalRunNanos) / 1e6 / float64(st.TotalBatches)
	}
	return st
}

// Close stops the batching loop after answering queued requests and destroys
// the session.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		<-c.stopped
		if c.destroy != nil {
			err = c.destroy()
		}
	})
	return err
}

var _ game.Evaluator[*connect4.Board] = (*Client)(nil)
