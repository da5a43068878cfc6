package iface

import "context"

// FrameSource 逐帧提供人脸关键点
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Sink receives one output feature set per transmitted frame.
type Sink interface {
	Send(features FeatureSet) error
	Close() error
}

// Controller 是控制通道（HTTP / gRPC / 按键）对采集引擎的操作
type Controller interface {
	CalibrateFacial() (map[string]float64, error)
	CalibrateHead() (map[string]float64, error)
	ResetCalibration() error
	Latest() FeatureSet
	SetSmoothing(enabled bool)
	Status() Status
}
