// Package capture reads camera frames with OpenCV and turns them into
// landmark frames through a remote face-mesh detector.
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"FaceMocap/logger"
)

// OpenCV capture API identifiers (cv::CAP_*).
var backends = map[string]gocv.VideoCaptureAPI{
	"auto":         gocv.VideoCaptureAPI(0),
	"v4l2":         gocv.VideoCaptureAPI(200),
	"avfoundation": gocv.VideoCaptureAPI(1200),
	"dshow":        gocv.VideoCaptureAPI(700),
	"msmf":         gocv.VideoCaptureAPI(1400),
}

// 自动探测的设备序号范围
const probeDevices = 4

var ErrNoCamera = errors.New("no usable camera")

type Config struct {
	Device  string
	Backend string
	Width   int
	Height  int
	Mirror  bool
}

// Camera owns an open capture device. Frames are mirrored horizontally when
// configured, so the preview behaves like a mirror.
type Camera struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	raw    gocv.Mat
	frame  gocv.Mat
	mirror bool
	name   string
}

// OpenCamera opens cfg.Device, or the first working device index 0..3 when
// Device is empty.
func OpenCamera(cfg Config) (*Camera, error) {
	log := logger.Named("capture")
	api, ok := backends[strings.ToLower(cfg.Backend)]
	if !ok {
		api = backends["auto"]
	}

	var (
		vc   *gocv.VideoCapture
		name string
		err  error
	)
	if cfg.Device != "" {
		vc, err = openDevice(cfg.Device, api)
		name = cfg.Device
	} else {
		for idx := 0; idx < probeDevices; idx++ {
			vc, err = gocv.VideoCaptureDeviceWithAPI(idx, api)
			if err == nil && vc.IsOpened() {
				name = strconv.Itoa(idx)
				break
			}
			if vc != nil {
				_ = vc.Close()
				vc = nil
			}
		}
	}
	if vc == nil || !vc.IsOpened() {
		if vc != nil {
			_ = vc.Close()
		}
		if err == nil {
			err = ErrNoCamera
		}
		return nil, fmt.Errorf("open camera %q (%s): %w", cfg.Device, cfg.Backend, err)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	log.Info("camera opened",
		zap.String("device", name),
		zap.String("backend", cfg.Backend),
		zap.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)))

	return &Camera{
		cap:    vc,
		raw:    gocv.NewMat(),
		frame:  gocv.NewMat(),
		mirror: cfg.Mirror,
		name:   name,
	}, nil
}

func openDevice(device string, api gocv.VideoCaptureAPI) (*gocv.VideoCapture, error) {
	if idx, err := strconv.Atoi(device); err == nil {
		return gocv.VideoCaptureDeviceWithAPI(idx, api)
	}
	return gocv.VideoCaptureFileWithAPI(device, api)
}

// Read grabs the next frame. The returned Mat is owned by the camera and is
// only valid until the next Read.
func (c *Camera) Read() (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return gocv.Mat{}, ErrNoCamera
	}
	if ok := c.cap.Read(&c.raw); !ok || c.raw.Empty() {
		return gocv.Mat{}, fmt.Errorf("camera %s: read failed", c.name)
	}
	if !c.mirror {
		return c.raw, nil
	}
	gocv.Flip(c.raw, &c.frame, 1)
	return c.frame, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	err := c.cap.Close()
	c.cap = nil
	_ = c.raw.Close()
	_ = c.frame.Close()
	return err
}
