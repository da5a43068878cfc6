package headpose

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const gimbalEpsilon = 1e-6

// EulerDegrees decomposes r (R = Rz*Ry*Rx) into pitch about x, yaw about y
// and roll about z, in degrees. Near gimbal lock the roll is fixed at 0.
func EulerDegrees(r mat.Matrix) (pitch, yaw, roll float64) {
	sy := math.Hypot(r.At(0, 0), r.At(1, 0))
	if sy >= gimbalEpsilon {
		pitch = math.Atan2(r.At(2, 1), r.At(2, 2))
		yaw = math.Atan2(-r.At(2, 0), sy)
		roll = math.Atan2(r.At(1, 0), r.At(0, 0))
	} else {
		pitch = math.Atan2(-r.At(1, 2), r.At(1, 1))
		yaw = math.Atan2(-r.At(2, 0), sy)
		roll = 0
	}
	return toDeg(pitch), toDeg(yaw), toDeg(roll)
}

// EulerMatrix is the inverse of EulerDegrees.
func EulerMatrix(pitch, yaw, roll float64) *mat.Dense {
	x, y, z := toRad(pitch), toRad(yaw), toRad(roll)
	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(x), -math.Sin(x),
		0, math.Sin(x), math.Cos(x),
	})
	ry := mat.NewDense(3, 3, []float64{
		math.Cos(y), 0, math.Sin(y),
		0, 1, 0,
		-math.Sin(y), 0, math.Cos(y),
	})
	rz := mat.NewDense(3, 3, []float64{
		math.Cos(z), -math.Sin(z), 0,
		math.Sin(z), math.Cos(z), 0,
		0, 0, 1,
	})
	var zy, out mat.Dense
	zy.Mul(rz, ry)
	out.Mul(&zy, rx)
	return &out
}

// WrapDegrees maps a to [-180, 180).
func WrapDegrees(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

func toDeg(r float64) float64 { return r * 180 / math.Pi }
func toRad(d float64) float64 { return d * math.Pi / 180 }
