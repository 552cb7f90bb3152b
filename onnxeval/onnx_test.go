package onnxeval

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/arenamcts/connect4"
)

// sumRunner scores each input as the number of player 0 pieces minus player
// 1 pieces, scaled into [-1, 1].
func sumRunner(size int) runFunc {
	n := size * size
	return func(input []float32, batch int) ([]float32, error) {
		out := make([]float32, batch)
		for i := 0; i < batch; i++ {
			row := input[i*2*n : (i+1)*2*n]
			var v float32
			for j := 0; j < n; j++ {
				v += row[j] - row[n+j]
			}
			out[i] = v / float32(n)
		}
		return out, nil
	}
}

func board(t *testing.T, size int, cols ...int) *connect4.Board {
	t.Helper()
	b, err := connect4.New(size)
	require.NoError(t, err)
	for _, c := range cols {
		a, err := b.ActionFor(c)
		require.NoError(t, err)
		require.NoError(t, b.Step(a))
	}
	return b
}

func TestClientBatchesConcurrentRequests(t *testing.T) {
	c := newClient(Config{BoardSize: 4, BatchSize: 8, BatchTimeout: 5 * time.Millisecond}, sumRunner(4), nil)
	defer c.Close()

	b := board(t, 4, 0)
	var wg sync.WaitGroup
	for w := 0; w < 32; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.Evaluate(b)
			if err != nil {
				t.Errorf("evaluate: %v", err)
				return
			}
			if r[0] != 1.0/16 || r[1] != -1.0/16 {
				t.Errorf("unexpected reward %v", r)
			}
		}()
	}
	wg.Wait()

	st := c.Stats()
	assert.Equal(t, int64(32), st.TotalItems)
	assert.LessOrEqual(t, st.TotalBatches, int64(32))
	assert.Positive(t, st.AvgBatchSize)
}

func TestClientRejectsWrongBoardSize(t *testing.T) {
	c := newClient(Config{BoardSize: 4}, sumRunner(4), nil)
	defer c.Close()
	_, err := c.Evaluate(board(t, 5))
	assert.Error(t, err)
}

func TestClientFailsWholeBatch(t *testing.T) {
	boom := errors.New("boom")
	c := newClient(Config{BoardSize: 4, BatchSize: 2}, func([]float32, int) ([]float32, error) {
		return nil, boom
	}, nil)
	defer c.Close()
	_, err := c.Evaluate(board(t, 4))
	assert.ErrorIs(t, err, boom)
}

func TestClientClampsValues(t *testing.T) {
	c := newClient(Config{BoardSize: 4}, func(_ []float32, n int) ([]float32, error) {
		out := make([]float32, n)
		for i := range out {
			out[i] = 3
		}
		return out, nil
	}, nil)
	defer c.Close()
	r, err := c.Evaluate(board(t, 4))
	require.NoError(t, err)
	assert.Equal(t, 1.0, r[0])
	assert.Equal(t, -1.0, r[1])
}

func TestClientClose(t *testing.T) {
	destroyed := false
	c := newClient(Config{BoardSize: 4}, sumRunner(4), func() error {
		destroyed = true
		return nil
	})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, destroyed)

	_, err := c.Evaluate(board(t, 4))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPoolRoundRobin(t *testing.T) {
	p := &Pool{clients: []*Client{
		newClient(Config{BoardSize: 4}, sumRunner(4), nil),
		newClient(Config{BoardSize: 4}, sumRunner(4), nil),
	}}
	defer p.Close()

	for i := 0; i < 6; i++ {
		_, err := p.Evaluate(board(t, 4, 1, 2))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), p.clients[0].Stats().TotalItems)
	assert.Equal(t, int64(3), p.clients[1].Stats().TotalItems)
	assert.Equal(t, int64(6), p.Stats().TotalItems)
}

// Runs against a real exported model when one is provided.
func TestRealModel(t *testing.T) {
	path := os.Getenv("ARENAMCTS_TEST_MODEL")
	if path == "" {
		t.Skip("ARENAMCTS_TEST_MODEL not set")
	}
	c, err := NewClient(path, Config{BoardSize: 7})
	require.NoError(t, err)
	defer c.Close()

	r, err := c.Evaluate(board(t, 7, 3))
	require.NoError(t, err)
	assert.InDelta(t, 0, r[0]+r[1], 1e-9)
}

func TestFindSharedLibrary(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, findSharedLibrary(dir))

	capi := filepath.Join(dir, ".venv", "lib", "python3.11", "site-packages", "onnxruntime", "capi")
	require.NoError(t, os.MkdirAll(capi, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(capi, "libonnxruntime.so.1"), nil, 0o644))
	assert.Equal(t, filepath.Join(capi, "libonnxruntime.so.1"), findSharedLibrary(dir))

	// A directory with the library's name is skipped.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "libonnxruntime.so"), 0o755))
	assert.Equal(t, filepath.Join(capi, "libonnxruntime.so.1"), findSharedLibrary(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "libonnxruntime.so.1"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "libonnxruntime.so.1"), findSharedLibrary(dir), "the working directory wins")
}
