// Package features turns one frame of face-mesh landmarks into the named,
// calibration-relative expression channels streamed to the rig.
package features

import (
	"fmt"
	"math"

	"go.uber.org/multierr"

	"FaceMocap/calibration"
	iface "FaceMocap/interface"
)

// LandmarkError reports a landmark a channel needed but could not use.
type LandmarkError struct {
	Channel string
	Index   int
	Reason  string
}

func (e *LandmarkError) Error() string {
	return fmt.Sprintf("%s: landmark %d %s", e.Channel, e.Index, e.Reason)
}

// Calibration provides the baselines subtracted from raw measurements.
type Calibration interface {
	FacialCalibration() calibration.Record
}

// PoseEstimator fills the head channels. It must never leave them unset.
type PoseEstimator interface {
	Estimate(lm iface.Landmarks, width, height int) (Pose, error)
}

// Pose is a calibrated head orientation together with the raw angles it was
// derived from.
type Pose struct {
	Pitch, Yaw, Roll          float64
	RawPitch, RawYaw, RawRoll float64
	Valid                     bool
}

// Raw holds the uncalibrated measurements of the calibrated channels; these
// are the values saved when the current pose is captured as neutral.
type Raw struct {
	MouthWidth float64
	LeftBrow   float64
	RightBrow  float64
	TeethOpen  float64
	HeadPitch  float64
	HeadYaw    float64
	HeadRoll   float64
	HeadValid  bool
	// Missing lists the facial channels above that failed on this frame; their
	// fields hold 0 rather than a measurement.
	Missing []string
}

// FacialComplete reports whether every facial channel was measured.
func (r Raw) FacialComplete() bool { return len(r.Missing) == 0 }

// FacialValues converts the facial part of r to a calibration record payload.
func (r Raw) FacialValues() calibration.FacialValues {
	return calibration.FacialValues{
		MouthWidth: r.MouthWidth,
		BrowLeft:   r.LeftBrow,
		BrowRight:  r.RightBrow,
		TeethOpen:  r.TeethOpen,
	}
}

type Extractor struct {
	calib     Calibration
	pose      PoseEstimator
	teethRefs [2]int
}

func NewExtractor(calib Calibration, pose PoseEstimator, teethRefs [2]int) *Extractor {
	return &Extractor{calib: calib, pose: pose, teethRefs: teethRefs}
}

// Extract computes every feature channel for one frame. Channels fail
// independently: a failed channel is set to 0 (head channels keep whatever the
// estimator returns) and its error is folded into the returned error, which is
// informational only. The returned set always holds every Vocabulary key.
func (e *Extractor) Extract(lm iface.Landmarks, width, height int) (iface.FeatureSet, Raw, error) {
	out := make(iface.FeatureSet, len(Vocabulary))
	for _, k := range Vocabulary {
		out[k] = 0
	}
	var raw Raw
	var errs error

	calib := calibration.Record{}
	if e.calib != nil {
		calib = e.calib.FacialCalibration()
	}
	p := points{lm: lm}

	if v, r, err := mouthWidth(p, calib); err != nil {
		errs = multierr.Append(errs, err)
		raw.Missing = append(raw.Missing, MouthWidth)
	} else {
		out[MouthWidth], raw.MouthWidth = v, r
	}
	if v, err := mouthOpen(p); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		out[MouthOpen] = v
	}

	for _, s := range sides {
		if v, err := eyelid(p, s); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			out[s.name+"_eyelid"] = v
		}
		if x, y, err := pupil(p, s); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			out[s.name+"_pupil_x"], out[s.name+"_pupil_y"] = x, y
		}
		if v, r, err := brow(p, s, calib); err != nil {
			errs = multierr.Append(errs, err)
			raw.Missing = append(raw.Missing, s.name+"_brow")
		} else {
			out[s.name+"_brow"] = v
			if s.name == "left" {
				raw.LeftBrow = r
			} else {
				raw.RightBrow = r
			}
		}
	}

	if v, r, err := teethOpen(p, e.teethRefs, calib); err != nil {
		errs = multierr.Append(errs, err)
		raw.Missing = append(raw.Missing, TeethOpen)
	} else {
		out[TeethOpen], raw.TeethOpen = v, r
	}

	if e.pose != nil {
		pose, err := e.pose.Estimate(lm, width, height)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		out[HeadPitch], out[HeadYaw], out[HeadRoll] = pose.Pitch, pose.Yaw, pose.Roll
		if pose.Valid {
			raw.HeadPitch, raw.HeadYaw, raw.HeadRoll = pose.RawPitch, pose.RawYaw, pose.RawRoll
			raw.HeadValid = true
		}
	}
	return out, raw, errs
}

type side struct {
	name               string
	up, down           int
	inner, outer       int
	pupilRing, browIDs []int
	calibKey           string
}

var sides = []side{
	{
		name: "left", up: LeftEyeUp, down: LeftEyeDown,
		inner: LeftEyeInner, outer: LeftEyeOuter,
		pupilRing: LeftPupilRing, browIDs: LeftBrowIDs,
		calibKey: calibration.KeyBrowLeft,
	},
	{
		name: "right", up: RightEyeUp, down: RightEyeDown,
		inner: RightEyeInner, outer: RightEyeOuter,
		pupilRing: RightPupilRing, browIDs: RightBrowIDs,
		calibKey: calibration.KeyBrowRight,
	},
}

// points guards landmark access by index.
type points struct {
	lm iface.Landmarks
}

func (p points) at(channel string, idx int) (iface.Landmark, error) {
	if idx < 0 || idx >= len(p.lm) {
		return iface.Landmark{}, &LandmarkError{Channel: channel, Index: idx, Reason: "out of range"}
	}
	pt := p.lm[idx]
	if !pt.Valid() {
		return iface.Landmark{}, &LandmarkError{Channel: channel, Index: idx, Reason: "not finite"}
	}
	return pt, nil
}

func (p points) meanY(channel string, ids []int) (float64, error) {
	var sum float64
	for _, idx := range ids {
		pt, err := p.at(channel, idx)
		if err != nil {
			return 0, err
		}
		sum += pt.Y
	}
	return sum / float64(len(ids)), nil
}

func dist(a, b iface.Landmark) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// mouthWidth is lip-corner distance over outer-eye-corner distance.
func mouthWidth(p points, calib calibration.Record) (float64, float64, error) {
	var pts [4]iface.Landmark
	for i, idx := range []int{LeftEyeOuter, RightEyeOuter, LeftLipCorner, RightLipCorner} {
		pt, err := p.at(MouthWidth, idx)
		if err != nil {
			return 0, 0, err
		}
		pts[i] = pt
	}
	ref := dist(pts[0], pts[1])
	if ref < minEyeSpan {
		return 0, 0, &LandmarkError{Channel: MouthWidth, Index: LeftEyeOuter, Reason: "inter-ocular distance is zero"}
	}
	raw := dist(pts[2], pts[3]) / ref
	return raw - calib.Baseline(calibration.KeyMouthWidth, raw), raw, nil
}

func mouthOpen(p points) (float64, error) {
	up, err := p.at(MouthOpen, LipsUp)
	if err != nil {
		return 0, err
	}
	down, err := p.at(MouthOpen, LipsDown)
	if err != nil {
		return 0, err
	}
	return math.Max((down.Y-up.Y)*mouthOpenGain, 0), nil
}

func eyelid(p points, s side) (float64, error) {
	channel := s.name + "_eyelid"
	up, err := p.at(channel, s.up)
	if err != nil {
		return 0, err
	}
	down, err := p.at(channel, s.down)
	if err != nil {
		return 0, err
	}
	return clamp((down.Y-up.Y)*eyelidGain, 0, 1), nil
}

// pupil locates the iris-ring centre inside the eye box, centred on 0.
func pupil(p points, s side) (float64, float64, error) {
	channel := s.name + "_pupil"
	var eye [4]iface.Landmark
	for i, idx := range []int{s.inner, s.outer, s.up, s.down} {
		pt, err := p.at(channel, idx)
		if err != nil {
			return 0, 0, err
		}
		eye[i] = pt
	}
	inner, outer, up, down := eye[0], eye[1], eye[2], eye[3]

	var cx, cy float64
	for _, idx := range s.pupilRing {
		pt, err := p.at(channel, idx)
		if err != nil {
			return 0, 0, err
		}
		cx += pt.X
		cy += pt.Y
	}
	n := float64(len(s.pupilRing))
	cx, cy = cx/n, cy/n

	w := outer.X - inner.X
	h := down.Y - up.Y
	if math.Abs(w) < minEyeSpan {
		w = minEyeSpan
	}
	if math.Abs(h) < minEyeSpan {
		h = minEyeSpan
	}
	limit := PupilRange / 2
	x := clamp(((cx-inner.X)/w-0.5)*PupilRange, -limit, limit)
	y := clamp(((cy-up.Y)/h-0.5)*PupilRange, -limit, limit)
	return x, y, nil
}

func brow(p points, s side, calib calibration.Record) (float64, float64, error) {
	channel := s.name + "_brow"
	nose, err := p.at(channel, NoseTip)
	if err != nil {
		return 0, 0, err
	}
	browY, err := p.meanY(channel, s.browIDs)
	if err != nil {
		return 0, 0, err
	}
	raw := (nose.Y - browY) * browGain
	return raw - calib.Baseline(s.calibKey, raw), raw, nil
}

// teethOpen measures how far the chin has dropped relative to the lower lip,
// normalised by the reference landmark distance.
func teethOpen(p points, refs [2]int, calib calibration.Record) (float64, float64, error) {
	var pts [5]iface.Landmark
	for i, idx := range []int{NoseTip, Chin, MouthLowerCenter, refs[0], refs[1]} {
		pt, err := p.at(TeethOpen, idx)
		if err != nil {
			return 0, 0, err
		}
		pts[i] = pt
	}
	nose, chin, lowerLip := pts[0], pts[1], pts[2]
	ref := dist(pts[3], pts[4])
	if ref < minEyeSpan {
		return 0, 0, &LandmarkError{Channel: TeethOpen, Index: refs[0], Reason: "reference distance is zero"}
	}
	vertical := math.Abs(chin.Y - nose.Y)
	lowerLipDist := math.Abs(lowerLip.Y - nose.Y)
	raw := math.Max((vertical-lowerLipDist)/ref*teethGain, 0)
	return math.Max(raw-calib.Baseline(calibration.KeyTeethOpen, raw), 0), raw, nil
}
