package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"FaceMocap/logger"
	"FaceMocap/monitor"
	"FaceMocap/transport"
)

// Listener receives feature datagrams and queues every one that parses.
type Listener struct {
	conn *net.UDPConn
	log  *zap.Logger
}

func Listen(host string, port int) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{conn: conn, log: logger.Named("receiver")}, nil
}

func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = 500 * time.Millisecond
)

// readBackoff is the pause after the n-th consecutive read error.
func readBackoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := minReadBackoff
	for i := 1; i < n && d < maxReadBackoff; i++ {
		d *= 2
	}
	return min(d, maxReadBackoff)
}

// Run blocks until ctx is cancelled or the socket is closed. Malformed
// datagrams are logged and dropped.
func (l *Listener) Run(ctx context.Context, q *Queue) error {
	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()

	buf := make([]byte, transport.MaxDatagram)
	warn := rate.Sometimes{First: 1, Interval: time.Second}
	failures := 0
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			warn.Do(func() { l.log.Warn("receive failed", zap.Int("consecutive", failures), zap.Error(err)) })
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readBackoff(failures)):
			}
			continue
		}
		failures = 0
		fs, err := transport.Decode(buf[:n])
		if err != nil {
			l.log.Warn("dropping datagram", zap.Stringer("from", from), zap.Int("bytes", n), zap.Error(err))
			continue
		}
		monitor.DatagramsReceived.Inc()
		if q.Push(fs) {
			monitor.QueueDropped.Inc()
		}
	}
}

func (l *Listener) Close() error {
	err := l.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
