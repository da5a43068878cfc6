package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FaceMocap/engine"
	iface "FaceMocap/interface"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type mockController struct {
	mu        sync.Mutex
	latest    iface.FeatureSet
	facialErr error
	headErr   error
	resetErr  error
	resets    int
	smoothing bool
}

func (m *mockController) CalibrateFacial() (map[string]float64, error) {
	if m.facialErr != nil {
		return nil, m.facialErr
	}
	return map[string]float64{"mouth_width": 0.46}, nil
}

func (m *mockController) CalibrateHead() (map[string]float64, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	return map[string]float64{"pitch": 178, "yaw": 2, "roll": -1}, nil
}

func (m *mockController) ResetCalibration() error {
	m.resets++
	return m.resetErr
}

func (m *mockController) Latest() iface.FeatureSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil
	}
	return m.latest.Clone()
}

func (m *mockController) SetSmoothing(enabled bool) {
	m.mu.Lock()
	m.smoothing = enabled
	m.mu.Unlock()
}

func (m *mockController) Status() iface.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return iface.Status{State: engine.RUNNING, Frames: 42, Smoothing: m.smoothing}
}

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Data    jsoniter.RawMessage `json:"data"`
	Error   string              `json:"error"`
	Message string              `json:"message"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestPingAndStatus(t *testing.T) {
	r := NewRouter(&mockController{smoothing: true})

	code, env := do(t, r, http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", env.Message)

	code, env = do(t, r, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	var st map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "RUNNING", st["state"])
	assert.Equal(t, 42.0, st["frames"])
	assert.Equal(t, true, st["smoothing"])
}

func TestFeatures(t *testing.T) {
	ctrl := &mockController{}
	r := NewRouter(ctrl)

	code, env := do(t, r, http.MethodGet, "/api/features", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, env.Error)

	ctrl.latest = iface.FeatureSet{"mouth_open": 0.25, "head_yaw": -3}
	code, env = do(t, r, http.MethodGet, "/api/features", "")
	require.Equal(t, http.StatusOK, code)
	var fs iface.FeatureSet
	require.NoError(t, json.Unmarshal(env.Data, &fs))
	assert.Equal(t, ctrl.latest, fs)
}

func TestCalibration(t *testing.T) {
	ctrl := &mockController{}
	r := NewRouter(ctrl)

	code, env := do(t, r, http.MethodPost, "/api/calibration/facial", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"mouth_width":0.46}`, string(env.Data))

	code, _ = do(t, r, http.MethodPost, "/api/calibration/head", "")
	assert.Equal(t, http.StatusOK, code)

	ctrl.facialErr = engine.ErrNoFrame
	ctrl.headErr = engine.ErrNoPose
	code, env = do(t, r, http.MethodPost, "/api/calibration/facial", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, engine.ErrNoFrame.Error(), env.Error)
	code, _ = do(t, r, http.MethodPost, "/api/calibration/head", "")
	assert.Equal(t, http.StatusConflict, code)

	ctrl.facialErr = fmt.Errorf("%w: mouth_width", engine.ErrChannelInvalid)
	code, env = do(t, r, http.MethodPost, "/api/calibration/facial", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, env.Error, "mouth_width")

	ctrl.headErr = errors.New("disk full")
	code, _ = do(t, r, http.MethodPost, "/api/calibration/head", "")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = do(t, r, http.MethodPost, "/api/calibration/reset", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, ctrl.resets)

	ctrl.resetErr = errors.New("read-only file system")
	code, _ = do(t, r, http.MethodPost, "/api/calibration/reset", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestSmoothing(t *testing.T) {
	ctrl := &mockController{smoothing: true}
	r := NewRouter(ctrl)

	code, _ := do(t, r, http.MethodPut, "/api/smoothing", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, ctrl.Status().Smoothing)

	code, _ = do(t, r, http.MethodPut, "/api/smoothing", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, r, http.MethodPut, "/api/smoothing", `{"enabled":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetrics(t *testing.T) {
	r := NewRouter(&mockController{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "facemocap_frames_total")
}

func TestFeatureStream(t *testing.T) {
	old := StreamInterval
	StreamInterval = 5 * time.Millisecond
	defer func() { StreamInterval = old }()

	ctrl := &mockController{latest: iface.FeatureSet{"left_eyelid": 0.8}}
	srv := httptest.NewServer(NewRouter(ctrl))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/features"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var fs iface.FeatureSet
	require.NoError(t, conn.ReadJSON(&fs))
	assert.Equal(t, 0.8, fs["left_eyelid"])
}
