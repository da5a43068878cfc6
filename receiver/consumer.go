package receiver

import (
	"context"
	"time"
)

const DefaultTick = 20 * time.Millisecond

// Consumer drains the queue into the rig once per tick. Each tick advances
// the timeline by one frame.
type Consumer struct {
	queue *Queue
	rig   *Rig
	tick  time.Duration
	frame int
}

func NewConsumer(q *Queue, rig *Rig, tick time.Duration) *Consumer {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Consumer{queue: q, rig: rig, tick: tick}
}

// Step applies every pending frame in arrival order and returns how many
// were applied.
func (c *Consumer) Step() int {
	pending := c.queue.Drain()
	for _, fs := range pending {
		c.rig.Apply(fs, c.frame)
	}
	c.frame++
	return len(pending)
}

// Frame is the current timeline frame.
func (c *Consumer) Frame() int {
	return c.frame
}

func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Step()
			return
		case <-ticker.C:
			c.Step()
		}
	}
}
