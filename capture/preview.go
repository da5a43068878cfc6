package capture

import (
	"fmt"
	"image"
	"image/color"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	iface "FaceMocap/interface"
	"FaceMocap/logger"
)

const escKey = 27

var (
	landmarkColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	textColor     = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Preview shows the camera image with landmarks and feature values. Keys:
// c calibrates the face, h the head, r resets calibration, ESC stops.
// highgui requires it to run on the thread that created it.
type Preview struct {
	window *gocv.Window
	src    *DetectingSource
	ctrl   iface.Controller
	stop   func()
	img    gocv.Mat
	log    *zap.Logger
}

func NewPreview(src *DetectingSource, ctrl iface.Controller, stop func()) *Preview {
	return &Preview{
		window: gocv.NewWindow("FaceMocap"),
		src:    src,
		ctrl:   ctrl,
		stop:   stop,
		img:    gocv.NewMat(),
		log:    logger.Named("preview"),
	}
}

// OnFrame draws one processed frame and handles a pending key press.
func (p *Preview) OnFrame(frame iface.Frame, features iface.FeatureSet) {
	if !p.src.Snapshot(&p.img) {
		return
	}
	for _, pt := range frame.Landmarks {
		if !pt.Valid() {
			continue
		}
		center := image.Pt(int(pt.X*float64(p.img.Cols())), int(pt.Y*float64(p.img.Rows())))
		gocv.Circle(&p.img, center, 1, landmarkColor, -1)
	}
	y := 20
	for _, key := range features.Keys() {
		gocv.PutText(&p.img, fmt.Sprintf("%s: %.3f", key, features[key]), image.Pt(10, y),
			gocv.FontHersheySimplex, 0.45, textColor, 1)
		y += 18
	}
	p.window.IMShow(p.img)
	p.handleKey(p.window.WaitKey(1))
}

func (p *Preview) handleKey(key int) {
	var err error
	switch key {
	case 'c':
		_, err = p.ctrl.CalibrateFacial()
	case 'h':
		_, err = p.ctrl.CalibrateHead()
	case 'r':
		err = p.ctrl.ResetCalibration()
	case escKey:
		p.stop()
	default:
		return
	}
	if err != nil {
		p.log.Warn("key command failed", zap.Int("key", key), zap.Error(err))
	}
}

func (p *Preview) Close() error {
	_ = p.img.Close()
	return p.window.Close()
}
