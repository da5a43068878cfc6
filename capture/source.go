package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"FaceMocap/detector"
	iface "FaceMocap/interface"
)

// DetectingSource is a FrameSource that reads the camera and asks the
// detector for landmarks.
type DetectingSource struct {
	cam *Camera
	det detector.LandmarkDetector

	mu   sync.Mutex
	last gocv.Mat
}

func NewDetectingSource(cam *Camera, det detector.LandmarkDetector) *DetectingSource {
	return &DetectingSource{cam: cam, det: det, last: gocv.NewMat()}
}

func (s *DetectingSource) Next(ctx context.Context) (iface.Frame, error) {
	img, err := s.cam.Read()
	if err != nil {
		return iface.Frame{}, err
	}
	s.mu.Lock()
	img.CopyTo(&s.last)
	s.mu.Unlock()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return iface.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	lm, err := s.det.Detect(ctx, buf.GetBytes())
	if err != nil {
		return iface.Frame{}, err
	}
	return iface.Frame{
		Landmarks: lm,
		Width:     img.Cols(),
		Height:    img.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// Snapshot copies the most recent camera image into dst.
func (s *DetectingSource) Snapshot(dst *gocv.Mat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.Empty() {
		return false
	}
	s.last.CopyTo(dst)
	return true
}

func (s *DetectingSource) Close() error {
	s.mu.Lock()
	_ = s.last.Close()
	s.mu.Unlock()
	if err := s.det.Close(); err != nil {
		_ = s.cam.Close()
		return err
	}
	return s.cam.Close()
}
