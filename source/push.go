// Package source provides landmark frame sources that do not need a camera.
package source

import (
	"context"
	"errors"
	"io"
	"sync"

	iface "FaceMocap/interface"
)

var ErrClosed = errors.New("source closed")

// Push is a FrameSource fed by an external producer such as the gRPC ingest
// stream. It holds at most buffer frames and drops the oldest when full.
type Push struct {
	mu     sync.Mutex
	frames chan iface.Frame
	done   chan struct{}
	once   sync.Once
}

func NewPush(buffer int) *Push {
	if buffer < 1 {
		buffer = 1
	}
	return &Push{
		frames: make(chan iface.Frame, buffer),
		done:   make(chan struct{}),
	}
}

// Offer enqueues f without blocking and reports whether an older frame was
// dropped to make room.
func (p *Push) Offer(f iface.Frame) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return false, ErrClosed
	default:
	}
	dropped := false
	for {
		select {
		case p.frames <- f:
			return dropped, nil
		default:
		}
		select {
		case <-p.frames:
			dropped = true
		default:
		}
	}
}

// Next blocks until a frame arrives; after Close it drains what is left and
// then returns io.EOF.
func (p *Push) Next(ctx context.Context) (iface.Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	default:
	}
	select {
	case <-ctx.Done():
		return iface.Frame{}, ctx.Err()
	case f := <-p.frames:
		return f, nil
	case <-p.done:
		select {
		case f := <-p.frames:
			return f, nil
		default:
			return iface.Frame{}, io.EOF
		}
	}
}

func (p *Push) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
