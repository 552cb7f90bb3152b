package onnxeval

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/brensch/arenamcts/connect4"
	"github.com/brensch/arenamcts/game"
)

// Pool fans evaluations out round-robin across several clients, each with its
// own session and batching loop.
type Pool struct {
	clients []*Client
	rr      atomic.Uint64
}

// NewPool opens sessions clients on the same model. Values below one open a
// single session.
func NewPool(modelPath string, sessions int, cfg Config) (*Pool, error) {
	sessions = max(1, sessions)
	clients := make([]*Client, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewClient(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}
	return &Pool{clients: clients}, nil
}

func (p *Pool) Evaluate(state *connect4.Board) (game.Reward, error) {
	if len(p.clients) == 0 {
		return game.Reward{}, errors.New("onnx pool has no clients")
	}
	idx := int((p.rr.Add(1) - 1) % uint64(len(p.clients)))
	return p.clients[idx].Evaluate(state)
}

func (p *Pool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, c := range p.clients {
		st := c.Stats()
		out.TotalBatches += st.TotalBatches
		out.TotalItems += st.TotalItems
		out.TotalRunNanos += st.TotalRunNanos
		out.QueueLen += st.QueueLen
		out.LastBatchSize = max(out.LastBatchSize, st.LastBatchSize)
	}
	if out.TotalBatches > 0 {
		out.AvgBatchSize = float64(out.TotalItems) / float64(out.TotalBatches)
		out.AvgRunMs = float64(out.TotalRunNanos) / 1e6 / float64(out.TotalBatches)
	}
	return out
}

func (p *Pool) Close() error {
	var errs []error
	for _, c := range p.clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

var _ game.Evaluator[*connect4.Board] = (*Pool)(nil)
