package capture

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"FaceMocap/headpose"
)

// cv::SOLVEPNP_ITERATIVE
const solvePnPIterative = 0

func init() {
	headpose.RegisterSolver(headpose.SolverOpenCV, SolvePnP)
}

// SolvePnP fits the model with cv::solvePnP and converts the rotation vector
// with cv::Rodrigues. The camera has no distortion.
func SolvePnP(model []headpose.Vec3, image []headpose.Point2, cam headpose.Camera) (headpose.Pose, error) {
	obj := make([]gocv.Point3f, len(model))
	for i, m := range model {
		obj[i] = gocv.Point3f{X: float32(m[0]), Y: float32(m[1]), Z: float32(m[2])}
	}
	img := make([]gocv.Point2f, len(image))
	for i, p := range image {
		img[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	objVec := gocv.NewPoint3fVectorFromPoints(obj)
	defer objVec.Close()
	imgVec := gocv.NewPoint2fVectorFromPoints(img)
	defer imgVec.Close()

	k := gocv.Eye(3, 3, gocv.MatTypeCV64F)
	defer k.Close()
	k.SetDoubleAt(0, 0, cam.Focal)
	k.SetDoubleAt(0, 2, cam.Cx)
	k.SetDoubleAt(1, 1, cam.Focal)
	k.SetDoubleAt(1, 2, cam.Cy)
	dist := gocv.NewMat()
	defer dist.Close()

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()
	if !gocv.SolvePnP(objVec, imgVec, k, dist, &rvec, &tvec, false, solvePnPIterative) {
		return headpose.Pose{}, errors.New("solvePnP did not converge")
	}
	if rvec.Total() != 3 || tvec.Total() != 3 {
		return headpose.Pose{}, fmt.Errorf("solvePnP returned %d/%d values", rvec.Total(), tvec.Total())
	}

	rot := gocv.NewMat()
	defer rot.Close()
	if err := gocv.Rodrigues(rvec, &rot); err != nil {
		return headpose.Pose{}, fmt.Errorf("rodrigues: %w", err)
	}
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.Set(i, j, rot.GetDoubleAt(i, j))
		}
	}
	return headpose.Pose{
		R: r,
		T: [3]float64{tvec.GetDoubleAt(0, 0), tvec.GetDoubleAt(1, 0), tvec.GetDoubleAt(2, 0)},
	}, nil
}
