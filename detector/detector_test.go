package detector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iface "FaceMocap/interface"
)

const oneFace = `{"faces":[{"landmarks":[[0.1,0.2,0.0],[0.3,0.4,0.01]]}]}`

func TestReply_Landmarks(t *testing.T) {
	lm, err := parseReply([]byte(oneFace))
	require.NoError(t, err)
	assert.Equal(t, iface.Landmarks{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.4, Z: 0.01}}, lm)

	_, err = parseReply([]byte(`{"faces":[]}`))
	assert.True(t, errors.Is(err, iface.ErrNoFace))

	_, err = parseReply([]byte(`{"error":"model not loaded"}`))
	assert.ErrorContains(t, err, "model not loaded")

	_, err = parseReply([]byte(`<html>`))
	assert.Error(t, err)
}

func TestHTTPDetector(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		switch string(body) {
		case "face":
			_, _ = w.Write([]byte(oneFace))
		case "empty":
			_, _ = w.Write([]byte(`{"faces":[]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`bad image`))
		}
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, time.Second)
	defer d.Close()
	ctx := context.Background()

	lm, err := d.Detect(ctx, []byte("face"))
	require.NoError(t, err)
	assert.Len(t, lm, 2)

	_, err = d.Detect(ctx, []byte("empty"))
	assert.True(t, errors.Is(err, iface.ErrNoFace))

	_, err = d.Detect(ctx, []byte("garbage"))
	assert.ErrorContains(t, err, "400")
}

func wsServer(t *testing.T, closeAfter int32) (*httptest.Server, *int32) {
	var conns int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&conns, 1)
		defer conn.Close()
		var served int32
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			reply := oneFace
			if string(msg) == "empty" {
				reply = `{"faces":[]}`
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
			served++
			if closeAfter > 0 && served >= closeAfter {
				return
			}
		}
	}))
	return srv, &conns
}

func TestWSDetector_DetectAndReconnect(t *testing.T) {
	srv, conns := wsServer(t, 1)
	defer srv.Close()

	d := NewWSDetector("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	defer d.Close()
	ctx := context.Background()

	lm, err := d.Detect(ctx, []byte("face"))
	require.NoError(t, err)
	assert.Len(t, lm, 2)

	// 服务端已断开，下一次调用失败后重连
	var ok bool
	for i := 0; i < 3 && !ok; i++ {
		_, err = d.Detect(ctx, []byte("empty"))
		ok = errors.Is(err, iface.ErrNoFace)
	}
	assert.True(t, ok)
	assert.GreaterOrEqual(t, atomic.LoadInt32(conns), int32(2))
}

func TestWSDetector_DialFailure(t *testing.T) {
	d := NewWSDetector("ws://127.0.0.1:1/facemesh", 200*time.Millisecond)
	_, err := d.Detect(context.Background(), []byte("face"))
	assert.Error(t, err)
	assert.NoError(t, d.Close())
}
