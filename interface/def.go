package iface

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrNoFace 表示该帧没有检测到人脸，主循环直接跳过
var ErrNoFace = errors.New("no face in frame")

// Landmark 是归一化图像坐标下的一个关键点，Z 为可选深度
type Landmark struct {
	X, Y, Z float64
}

// Valid reports whether the point carries finite coordinates.
func (l Landmark) Valid() bool {
	return !math.IsNaN(l.X) && !math.IsNaN(l.Y) && !math.IsInf(l.X, 0) && !math.IsInf(l.Y, 0)
}

type Landmarks []Landmark

type Frame struct {
	Landmarks Landmarks
	Width     int
	Height    int
	Timestamp time.Time
}

// FeatureSet 特征名 -> 数值
type FeatureSet map[string]float64

func (f FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the feature names in sorted order.
func (f FeatureSet) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Status struct {
	State          int        `json:"state"`
	Frames         uint64     `json:"frames"`
	Smoothing      bool       `json:"smoothing"`
	LastFrame      time.Time  `json:"lastFrame"`
	Features       FeatureSet `json:"features"`
	HeadCalibrated bool       `json:"headCalibrated"`
}

// NewLandmarks converts [x, y] or [x, y, z] triples.
func NewLandmarks(points [][]float64) (Landmarks, error) {
	out := make(Landmarks, len(points))
	for i, p := range points {
		switch len(p) {
		case 3:
			out[i] = Landmark{X: p[0], Y: p[1], Z: p[2]}
		case 2:
			out[i] = Landmark{X: p[0], Y: p[1]}
		default:
			return nil, fmt.Errorf("landmark %d: want 2 or 3 coordinates, got %d", i, len(p))
		}
	}
	return out, nil
}
