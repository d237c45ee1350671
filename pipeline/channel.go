package pipeline

import (
	"context"
	"errors"

	"github.com/fluxrip/fluxrip/flux"
)

// ErrOverrun reports that the revolution queue was full and samples were
// dropped. Dropped flux edges corrupt clock recovery for the rest of the
// revolution, so the condition is surfaced instead of overwriting.
var ErrOverrun = errors.New("pipeline: revolution queue full, samples dropped")

// DefaultQueueDepth bounds the live-capture queue when the config leaves
// it unset.
const DefaultQueueDepth = 8

// Channel runs a pipeline on one dedicated worker fed from a bounded
// queue, the shape a live capture source needs: the producer never blocks
// and backpressure is explicit.
type Channel struct {
	pipe    *Pipeline
	queue   chan []flux.Sample
	results chan Revolution

	pending   []flux.Sample
	seenIndex bool
}

// NewChannel wraps a pipeline with a bounded queue.
func NewChannel(pipe *Pipeline) *Channel {
	depth := pipe.cfg.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Channel{
		pipe:    pipe,
		queue:   make(chan []flux.Sample, depth),
		results: make(chan Revolution, depth),
	}
}

// Push enqueues one complete revolution without blocking. A full queue
// drops the revolution, counts an overrun and returns ErrOverrun.
func (c *Channel) Push(rev []flux.Sample) error {
	select {
	case c.queue <- rev:
		return nil
	default:
		c.pipe.counters.Increment(Overrun)
		return ErrOverrun
	}
}

// Feed accepts raw samples from the capture source, splits them into
// revolutions on index flags and pushes each complete revolution. It
// returns ErrOverrun if any revolution was dropped. Feed is producer-side
// state; call it from one goroutine only.
func (c *Channel) Feed(samples []flux.Sample) error {
	var dropped bool
	for _, s := range samples {
		if s.Index {
			if c.seenIndex && len(c.pending) > 0 {
				rev := c.pending
				c.pending = nil
				if err := c.Push(rev); err != nil {
					dropped = true
				}
			}
			c.pending = c.pending[:0]
			c.seenIndex = true
		}
		if c.seenIndex {
			c.pending = append(c.pending, s)
		}
	}
	if dropped {
		return ErrOverrun
	}
	return nil
}

// Close signals that no more revolutions will arrive. Run drains the queue
// and then closes Results. A clean stream ends exactly on an index pulse;
// samples pending past one mean the source dried up mid-revolution, which
// is counted as an underrun and the partial revolution discarded.
func (c *Channel) Close() {
	if len(c.pending) > 1 {
		c.pipe.counters.Increment(Underrun)
	}
	c.pending = nil
	close(c.queue)
}

// Results delivers decoded revolutions in arrival order.
func (c *Channel) Results() <-chan Revolution {
	return c.results
}

// Run consumes the queue until it is closed or the context is canceled.
// Decode errors from a malformed stream are session-level and abort the
// run; per-sector errors never do.
func (c *Channel) Run(ctx context.Context) error {
	defer close(c.results)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rev, ok := <-c.queue:
			if !ok {
				return nil
			}
			decoded, err := c.pipe.DecodeRevolution(rev)
			if err != nil {
				return err
			}
			select {
			case c.results <- decoded:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
