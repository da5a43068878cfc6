package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	iface "FaceMocap/interface"
	"FaceMocap/logger"
)

// WSDetector keeps one WebSocket open to the service: a binary frame with the
// image goes out, a text frame with the reply comes back. A broken connection
// is redialled on the next call.
type WSDetector struct {
	mu      sync.Mutex
	url     string
	timeout time.Duration
	dialer  websocket.Dialer
	conn    *websocket.Conn
	log     *zap.Logger
}

func NewWSDetector(url string, timeout time.Duration) *WSDetector {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = timeout
	return &WSDetector{url: url, timeout: timeout, dialer: dialer, log: logger.Named("detector")}
}

func (d *WSDetector) connect(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	conn.SetReadLimit(8 * 1024 * 1024)
	d.log.Info("face mesh connected", zap.String("url", d.url))
	d.conn = conn
	return conn, nil
}

func (d *WSDetector) drop() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

func (d *WSDetector) Detect(ctx context.Context, jpeg []byte) (iface.Landmarks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
		d.drop()
		return nil, fmt.Errorf("send image: %w", err)
	}
	_ = conn.SetReadDeadline(deadline)
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		d.drop()
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected message type %d", mt)
	}
	return parseReply(msg)
}

func (d *WSDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := d.conn.Close()
	d.conn = nil
	return err
}
