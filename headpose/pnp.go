package headpose

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Solver names.
const (
	// SolverIterative refines the direct estimate by minimising reprojection
	// error with Levenberg-Marquardt.
	SolverIterative = "iterative"
	// SolverDirect runs POSIT only.
	SolverDirect = "posit"
	// SolverOpenCV is provided by the capture package (cv::solvePnP).
	SolverOpenCV = "opencv"
)

// SolverFunc is an external PnP backend.
type SolverFunc func(model []Vec3, image []Point2, cam Camera) (Pose, error)

var (
	solversMu sync.RWMutex
	solvers   = map[string]SolverFunc{}
)

// RegisterSolver makes fn selectable by name. The built-in names cannot be
// replaced.
func RegisterSolver(name string, fn SolverFunc) {
	if name == SolverIterative || name == SolverDirect {
		panic("headpose: cannot replace built-in solver " + name)
	}
	solversMu.Lock()
	defer solversMu.Unlock()
	solvers[name] = fn
}

func lookupSolver(name string) (SolverFunc, bool) {
	solversMu.RLock()
	defer solversMu.RUnlock()
	fn, ok := solvers[name]
	return fn, ok
}

var (
	ErrSolveFailed  = errors.New("head pose solve failed")
	errDegenerate   = errors.New("degenerate point configuration")
	errBehindCamera = errors.New("model point behind camera")
)

// Camera is a pinhole camera with square pixels, no skew and no distortion.
type Camera struct {
	Focal  float64
	Cx, Cy float64
}

// NewCamera approximates intrinsics from the frame size: focal length is
// focalScale times the image width, principal point at the image centre.
func NewCamera(width, height int, focalScale float64) Camera {
	if focalScale <= 0 {
		focalScale = 1
	}
	return Camera{
		Focal: float64(width) * focalScale,
		Cx:    float64(width) / 2,
		Cy:    float64(height) / 2,
	}
}

// Point2 is a pixel coordinate.
type Point2 struct {
	X, Y float64
}

// Pose maps model coordinates into camera coordinates: Pc = R*M + T.
type Pose struct {
	R *mat.Dense
	T [3]float64
}

// Project returns the pixel position of model point m under p.
func (c Camera) Project(p Pose, m Vec3) (Point2, error) {
	var pc [3]float64
	for r := 0; r < 3; r++ {
		pc[r] = p.R.At(r, 0)*m[0] + p.R.At(r, 1)*m[1] + p.R.At(r, 2)*m[2] + p.T[r]
	}
	if pc[2] <= 1e-9 {
		return Point2{}, errBehindCamera
	}
	return Point2{
		X: c.Focal*pc[0]/pc[2] + c.Cx,
		Y: c.Focal*pc[1]/pc[2] + c.Cy,
	}, nil
}

// SolvePnP recovers the pose of the model from its observed projections.
func SolvePnP(model []Vec3, image []Point2, cam Camera, solver string) (Pose, error) {
	if len(model) != len(image) {
		return Pose{}, fmt.Errorf("%w: %d model points, %d image points", ErrSolveFailed, len(model), len(image))
	}
	if len(model) < 4 {
		return Pose{}, fmt.Errorf("%w: need at least 4 points", ErrSolveFailed)
	}
	if solver != SolverIterative && solver != SolverDirect {
		fn, ok := lookupSolver(solver)
		if !ok {
			return Pose{}, fmt.Errorf("%w: solver %q not available", ErrSolveFailed, solver)
		}
		pose, err := fn(model, image, cam)
		if err != nil {
			return Pose{}, fmt.Errorf("%w: %s: %v", ErrSolveFailed, solver, err)
		}
		if pose.R == nil || !finitePose(pose) {
			return Pose{}, fmt.Errorf("%w: non-finite result", ErrSolveFailed)
		}
		return pose, nil
	}
	pose, err := posit(model, image, cam)
	if err != nil {
		return Pose{}, fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}
	if solver == SolverIterative {
		pose, err = refine(model, image, cam, pose)
		if err != nil {
			return Pose{}, fmt.Errorf("%w: %v", ErrSolveFailed, err)
		}
	}
	if !finitePose(pose) {
		return Pose{}, fmt.Errorf("%w: non-finite result", ErrSolveFailed)
	}
	return pose, nil
}

// posit is DeMenthon & Davis' POSIT: iterate scaled-orthographic solves,
// correcting the image points by each model point's estimated depth.
func posit(model []Vec3, image []Point2, cam Camera) (Pose, error) {
	n := len(model)
	a := mat.NewDense(n-1, 3, nil)
	for i := 1; i < n; i++ {
		for c := 0; c < 3; c++ {
			a.Set(i-1, c, model[i][c]-model[0][c])
		}
	}
	var ata, inv, b mat.Dense
	ata.Mul(a.T(), a)
	if err := inv.Inverse(&ata); err != nil {
		return Pose{}, errDegenerate
	}
	b.Mul(&inv, a.T())

	x := make([]float64, n)
	y := make([]float64, n)
	for i, p := range image {
		x[i] = p.X - cam.Cx
		y[i] = p.Y - cam.Cy
	}

	eps := make([]float64, n-1)
	xp := mat.NewVecDense(n-1, nil)
	yp := mat.NewVecDense(n-1, nil)
	var iv, jv mat.VecDense
	var ri, rj, rk [3]float64
	var scale float64

	for iter := 0; iter < 100; iter++ {
		for i := 1; i < n; i++ {
			xp.SetVec(i-1, x[i]*(1+eps[i-1])-x[0])
			yp.SetVec(i-1, y[i]*(1+eps[i-1])-y[0])
		}
		iv.MulVec(&b, xp)
		jv.MulVec(&b, yp)
		s1 := mat.Norm(&iv, 2)
		s2 := mat.Norm(&jv, 2)
		if s1 < 1e-12 || s2 < 1e-12 {
			return Pose{}, errDegenerate
		}
		scale = (s1 + s2) / 2
		for c := 0; c < 3; c++ {
			ri[c] = iv.AtVec(c) / s1
			rj[c] = jv.AtVec(c) / s2
		}
		rk = normalize(cross(ri, rj))
		rj = cross(rk, ri)

		z0 := cam.Focal / scale
		delta := 0.0
		for i := 1; i < n; i++ {
			d := model[i][0] - model[0][0]
			e := model[i][1] - model[0][1]
			f := model[i][2] - model[0][2]
			next := (d*rk[0] + e*rk[1] + f*rk[2]) / z0
			delta = math.Max(delta, math.Abs(next-eps[i-1]))
			eps[i-1] = next
		}
		if delta < 1e-10 {
			break
		}
	}

	r := mat.NewDense(3, 3, []float64{
		ri[0], ri[1], ri[2],
		rj[0], rj[1], rj[2],
		rk[0], rk[1], rk[2],
	})
	z0 := cam.Focal / scale
	// model[0] is not necessarily the origin when callers pass their own model
	t0 := [3]float64{x[0] / scale, y[0] / scale, z0}
	var t [3]float64
	for c := 0; c < 3; c++ {
		t[c] = t0[c] - (r.At(c, 0)*model[0][0] + r.At(c, 1)*model[0][1] + r.At(c, 2)*model[0][2])
	}
	return Pose{R: r, T: t}, nil
}

// refine minimises the squared reprojection error with Levenberg-Marquardt.
// The rotation is updated multiplicatively, R <- exp(w)*R, which keeps the
// parameterisation regular even at 180 degree rotations.
func refine(model []Vec3, image []Point2, cam Camera, start Pose) (Pose, error) {
	const (
		maxIter = 100
		hRot    = 1e-6
	)
	cur := start
	curRes, err := residuals(model, image, cam, cur)
	if err != nil {
		return Pose{}, err
	}
	curCost := sumSquares(curRes)
	lambda := 1e-3
	m := len(curRes)
	hTrans := 1e-6 * math.Max(1, math.Abs(cur.T[2]))

	jac := mat.NewDense(m, 6, nil)
	for iter := 0; iter < maxIter && curCost > 1e-18; iter++ {
		for p := 0; p < 6; p++ {
			h := hRot
			if p >= 3 {
				h = hTrans
			}
			var d [6]float64
			d[p] = h
			plus, errP := residuals(model, image, cam, perturb(cur, d))
			d[p] = -h
			minus, errM := residuals(model, image, cam, perturb(cur, d))
			if errP != nil || errM != nil {
				return Pose{}, errBehindCamera
			}
			for r := 0; r < m; r++ {
				jac.Set(r, p, (plus[r]-minus[r])/(2*h))
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(m, curRes))

		improved := false
		for attempt := 0; attempt < 10; attempt++ {
			aug := mat.DenseCopyOf(&jtj)
			for d := 0; d < 6; d++ {
				aug.Set(d, d, jtj.At(d, d)*(1+lambda)+1e-12)
			}
			var step mat.VecDense
			if err := step.SolveVec(aug, &g); err != nil {
				lambda *= 10
				continue
			}
			var d [6]float64
			for i := range d {
				d[i] = -step.AtVec(i)
			}
			cand := perturb(cur, d)
			res, err := residuals(model, image, cam, cand)
			if err != nil {
				lambda *= 10
				continue
			}
			cost := sumSquares(res)
			if cost < curCost {
				rel := (curCost - cost) / math.Max(curCost, 1e-30)
				cur, curRes, curCost = cand, res, cost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				if rel < 1e-12 || mat.Norm(&step, 2) < 1e-12 {
					return cur, nil
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	return cur, nil
}

func residuals(model []Vec3, image []Point2, cam Camera, p Pose) ([]float64, error) {
	out := make([]float64, 0, 2*len(model))
	for i, m := range model {
		proj, err := cam.Project(p, m)
		if err != nil {
			return nil, err
		}
		out = append(out, proj.X-image[i].X, proj.Y-image[i].Y)
	}
	return out, nil
}

// ReprojectionRMS is the root-mean-square pixel error of p over all points.
func ReprojectionRMS(model []Vec3, image []Point2, cam Camera, p Pose) (float64, error) {
	res, err := residuals(model, image, cam, p)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(sumSquares(res) / float64(len(model))), nil
}

func perturb(p Pose, d [6]float64) Pose {
	var r mat.Dense
	r.Mul(Rodrigues([3]float64{d[0], d[1], d[2]}), p.R)
	return Pose{R: &r, T: [3]float64{p.T[0] + d[3], p.T[1] + d[4], p.T[2] + d[5]}}
}

// Rodrigues converts an axis-angle vector to a rotation matrix.
func Rodrigues(w [3]float64) *mat.Dense {
	theta := math.Sqrt(w[0]*w[0] + w[1]*w[1] + w[2]*w[2])
	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		r.Set(0, 1, -w[2])
		r.Set(0, 2, w[1])
		r.Set(1, 0, w[2])
		r.Set(1, 2, -w[0])
		r.Set(2, 0, -w[1])
		r.Set(2, 1, w[0])
		return r
	}
	k := [3]float64{w[0] / theta, w[1] / theta, w[2] / theta}
	kx := mat.NewDense(3, 3, []float64{
		0, -k[2], k[1],
		k[2], 0, -k[0],
		-k[1], k[0], 0,
	})
	var kx2 mat.Dense
	kx2.Mul(kx, kx)
	var term mat.Dense
	term.Scale(math.Sin(theta), kx)
	r.Add(r, &term)
	term.Scale(1-math.Cos(theta), &kx2)
	r.Add(r, &term)
	return r
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

func finitePose(p Pose) bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := p.R.At(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
		if math.IsNaN(p.T[r]) || math.IsInf(p.T[r], 0) {
			return false
		}
	}
	return true
}
