// Package headpose estimates head pitch, yaw and roll from face-mesh landmarks
// by fitting a static 3D face model to them (perspective-n-point).
package headpose

import (
	"errors"
	"fmt"
	"sync"

	"FaceMocap/calibration"
	"FaceMocap/features"
	iface "FaceMocap/interface"
)

// HeadCalibration is the neutral head orientation provider.
type HeadCalibration interface {
	HeadCalibration() calibration.Record
	HasHeadCalibration() bool
	SaveHeadCalibration(pitch, yaw, roll float64) (calibration.Record, error)
}

// ErrCalibrationWrite means the automatic neutral pose could not be stored.
// The pose returned with it is still valid.
var ErrCalibrationWrite = errors.New("head calibration write failed")

type Config struct {
	Solver     string  `yaml:"solver" validate:"oneof=iterative posit opencv"`
	Subset     string  `yaml:"subset" validate:"oneof=general stable"`
	FocalScale float64 `yaml:"focal_scale" validate:"gt=0"`
	// AutoInit stores the first successful solve as the neutral pose when no
	// head calibration exists yet.
	AutoInit bool `yaml:"auto_init"`
}

func DefaultConfig() Config {
	return Config{
		Solver:     SolverIterative,
		Subset:     SubsetGeneral,
		FocalScale: 0.9,
	}
}

// Estimator implements features.PoseEstimator. On failure it repeats the last
// successfully computed angles, so the head channels never go missing.
type Estimator struct {
	cfg   Config
	calib HeadCalibration
	ids   []int
	model []Vec3

	mu   sync.Mutex
	last features.Pose
}

func NewEstimator(cfg Config, calib HeadCalibration) *Estimator {
	ids, model := subset(cfg.Subset)
	if cfg.FocalScale <= 0 {
		cfg.FocalScale = DefaultConfig().FocalScale
	}
	return &Estimator{cfg: cfg, calib: calib, ids: ids, model: model}
}

func (e *Estimator) Estimate(lm iface.Landmarks, width, height int) (features.Pose, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.solve(lm, width, height)
	if err != nil {
		held := e.last
		held.Valid = false
		return held, err
	}

	var saveErr error
	if e.calib != nil && e.cfg.AutoInit && !e.calib.HasHeadCalibration() {
		if _, err := e.calib.SaveHeadCalibration(raw[0], raw[1], raw[2]); err != nil {
			// 保存失败时仍按已有标定输出，下一帧再试
			saveErr = fmt.Errorf("%w: %v", ErrCalibrationWrite, err)
		}
	}
	var offset calibration.Record
	if e.calib != nil {
		offset = e.calib.HeadCalibration()
	}
	pose := features.Pose{
		Pitch:    WrapDegrees(raw[0] - offset.Offset(calibration.KeyPitch)),
		Yaw:      WrapDegrees(raw[1] - offset.Offset(calibration.KeyYaw)),
		Roll:     WrapDegrees(raw[2] - offset.Offset(calibration.KeyRoll)),
		RawPitch: raw[0],
		RawYaw:   raw[1],
		RawRoll:  raw[2],
		Valid:    true,
	}
	e.last = pose
	return pose, saveErr
}

// solve returns the sign-adjusted, wrapped raw angles (pitch, yaw, roll).
func (e *Estimator) solve(lm iface.Landmarks, width, height int) ([3]float64, error) {
	if width <= 0 || height <= 0 {
		return [3]float64{}, fmt.Errorf("%w: frame size %dx%d", ErrSolveFailed, width, height)
	}
	image := make([]Point2, len(e.ids))
	for i, idx := range e.ids {
		if idx >= len(lm) || !lm[idx].Valid() {
			return [3]float64{}, fmt.Errorf("%w: landmark %d unavailable", ErrSolveFailed, idx)
		}
		image[i] = Point2{X: lm[idx].X * float64(width), Y: lm[idx].Y * float64(height)}
	}
	cam := NewCamera(width, height, e.cfg.FocalScale)
	pose, err := SolvePnP(e.model, image, cam, e.cfg.Solver)
	if err != nil {
		return [3]float64{}, err
	}
	pitch, yaw, roll := EulerDegrees(pose.R)
	// 图像 y 轴向下，俯仰和偏航取反
	return [3]float64{WrapDegrees(-pitch), WrapDegrees(-yaw), WrapDegrees(roll)}, nil
}
