package features

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"FaceMocap/calibration"
	iface "FaceMocap/interface"
)

type fixedCalib calibration.Record

func (f fixedCalib) FacialCalibration() calibration.Record {
	return calibration.Record(f)
}

type stubPose struct {
	pose Pose
	err  error
}

func (s stubPose) Estimate(iface.Landmarks, int, int) (Pose, error) {
	return s.pose, s.err
}

// neutral is a frontal face with open eyes and slightly parted lips.
func neutral() iface.Landmarks {
	lm := make(iface.Landmarks, NumLandmarks)
	for i := range lm {
		lm[i] = iface.Landmark{X: 0.5, Y: 0.5}
	}
	set := func(idx int, x, y float64) { lm[idx] = iface.Landmark{X: x, Y: y} }
	set(LeftEyeOuter, 0.35, 0.40)
	set(RightEyeOuter, 0.65, 0.40)
	set(LeftEyeInner, 0.45, 0.40)
	set(RightEyeInner, 0.55, 0.40)
	set(LeftEyeUp, 0.40, 0.39)
	set(LeftEyeDown, 0.40, 0.41)
	set(RightEyeUp, 0.60, 0.39)
	set(RightEyeDown, 0.60, 0.41)
	set(LeftLipCorner, 0.43, 0.70)
	set(RightLipCorner, 0.57, 0.70)
	set(LipsUp, 0.50, 0.68)
	set(LipsDown, 0.50, 0.70)
	set(MouthLowerCenter, 0.50, 0.72)
	set(NoseTip, 0.50, 0.55)
	set(Chin, 0.50, 0.85)
	for _, idx := range LeftBrowIDs {
		set(idx, 0.40, 0.33)
	}
	for _, idx := range RightBrowIDs {
		set(idx, 0.60, 0.33)
	}
	for _, idx := range LeftPupilRing {
		set(idx, 0.40, 0.40)
	}
	for _, idx := range RightPupilRing {
		set(idx, 0.60, 0.40)
	}
	return lm
}

func channels(err error) []string {
	var out []string
	for _, one := range multierr.Errors(err) {
		var le *LandmarkError
		if errors.As(one, &le) {
			out = append(out, le.Channel)
		}
	}
	return out
}

func TestExtract_NeutralFaceUncalibrated(t *testing.T) {
	e := NewExtractor(nil, nil, DefaultTeethRefPoints)
	out, raw, err := e.Extract(neutral(), 640, 480)
	require.NoError(t, err)

	assert.Len(t, out, len(Vocabulary))
	assert.InDelta(t, 0, out[MouthWidth], 1e-12)
	assert.InDelta(t, 0.1, out[MouthOpen], 1e-9)
	assert.InDelta(t, 0.2, out[LeftEyelid], 1e-9)
	assert.InDelta(t, 0.2, out[RightEyelid], 1e-9)
	assert.InDelta(t, 0, out[LeftPupilX], 1e-9)
	assert.InDelta(t, 0, out[RightPupilY], 1e-9)
	assert.InDelta(t, 0, out[LeftBrow], 1e-12)
	assert.InDelta(t, 0, out[TeethOpen], 1e-12)
	assert.Equal(t, 0.0, out[HeadYaw])

	assert.InDelta(t, 0.14/0.30, raw.MouthWidth, 1e-9)
	assert.InDelta(t, 2.2, raw.LeftBrow, 1e-9)
	assert.InDelta(t, 2.2, raw.RightBrow, 1e-9)
	assert.InDelta(t, 6.5, raw.TeethOpen, 1e-9)
	assert.False(t, raw.HeadValid)
}

func TestExtract_CalibrationIsSubtracted(t *testing.T) {
	calib := fixedCalib{
		calibration.KeyMouthWidth: 0.4,
		calibration.KeyBrowLeft:   2.0,
		calibration.KeyBrowRight:  2.5,
		calibration.KeyTeethOpen:  7.0,
	}
	e := NewExtractor(calib, nil, DefaultTeethRefPoints)
	out, _, err := e.Extract(neutral(), 640, 480)
	require.NoError(t, err)

	assert.InDelta(t, 0.14/0.30-0.4, out[MouthWidth], 1e-9)
	assert.InDelta(t, 0.2, out[LeftBrow], 1e-9)
	assert.InDelta(t, -0.3, out[RightBrow], 1e-9)
	// teeth never go negative
	assert.Equal(t, 0.0, out[TeethOpen])
}

func TestExtract_CapturedRawZeroesOutput(t *testing.T) {
	e := NewExtractor(nil, nil, DefaultTeethRefPoints)
	_, raw, err := e.Extract(neutral(), 640, 480)
	require.NoError(t, err)

	v := raw.FacialValues()
	calib := fixedCalib{
		calibration.KeyMouthWidth: v.MouthWidth,
		calibration.KeyBrowLeft:   v.BrowLeft,
		calibration.KeyBrowRight:  v.BrowRight,
		calibration.KeyTeethOpen:  v.TeethOpen,
	}
	out, _, err := NewExtractor(calib, nil, DefaultTeethRefPoints).Extract(neutral(), 640, 480)
	require.NoError(t, err)
	for _, k := range []string{MouthWidth, LeftBrow, RightBrow, TeethOpen} {
		assert.InDelta(t, 0, out[k], 1e-12, k)
	}
}

func TestExtract_EyelidAndMouthClamp(t *testing.T) {
	lm := neutral()
	lm[LeftEyeUp] = iface.Landmark{X: 0.40, Y: 0.20}
	lm[LeftEyeDown] = iface.Landmark{X: 0.40, Y: 0.60}
	lm[RightEyeUp] = iface.Landmark{X: 0.60, Y: 0.42}
	lm[RightEyeDown] = iface.Landmark{X: 0.60, Y: 0.40}
	lm[LipsUp] = iface.Landmark{X: 0.50, Y: 0.71}

	out, _, err := NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(lm, 640, 480)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out[LeftEyelid])
	assert.Equal(t, 0.0, out[RightEyelid])
	assert.Equal(t, 0.0, out[MouthOpen])
}

func TestExtract_PupilStaysInRange(t *testing.T) {
	lm := neutral()
	for _, idx := range LeftPupilRing {
		lm[idx] = iface.Landmark{X: 0.10, Y: 0.90}
	}
	// 内外眼角重合
	lm[RightEyeOuter] = lm[RightEyeInner]
	lm[RightEyeDown] = lm[RightEyeUp]

	out, _, err := NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(lm, 640, 480)
	require.NoError(t, err)
	limit := PupilRange / 2
	for _, k := range []string{LeftPupilX, LeftPupilY, RightPupilX, RightPupilY} {
		assert.False(t, math.IsNaN(out[k]), k)
		assert.LessOrEqual(t, math.Abs(out[k]), limit, k)
	}
	assert.Equal(t, limit, out[LeftPupilX])
	assert.Equal(t, limit, out[LeftPupilY])
}

func TestExtract_ChannelsFailIndependently(t *testing.T) {
	lm := neutral()
	lm[LipsUp] = iface.Landmark{X: math.NaN(), Y: 0.68}

	out, _, err := NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(lm, 640, 480)
	require.Error(t, err)
	assert.Equal(t, []string{MouthOpen}, channels(err))
	assert.Equal(t, 0.0, out[MouthOpen])
	assert.InDelta(t, 0.2, out[LeftEyelid], 1e-9)
}

func TestExtract_ShortLandmarkList(t *testing.T) {
	lm := neutral()[:400]
	out, _, err := NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(lm, 640, 480)
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"left_pupil", "right_pupil"}, channels(err))
	assert.Len(t, out, len(Vocabulary))
	assert.InDelta(t, 0.1, out[MouthOpen], 1e-9)
	assert.Equal(t, 0.0, out[LeftPupilX])

	out, _, err = NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(nil, 640, 480)
	require.Error(t, err)
	assert.Len(t, out, len(Vocabulary))
}

func TestExtract_ZeroInterOcularDistance(t *testing.T) {
	lm := neutral()
	lm[RightEyeOuter] = lm[LeftEyeOuter]
	out, raw, err := NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(lm, 640, 480)
	require.Error(t, err)
	assert.Contains(t, channels(err), MouthWidth)
	assert.Equal(t, 0.0, out[MouthWidth])
	assert.Contains(t, raw.Missing, MouthWidth)
	assert.False(t, raw.FacialComplete())
}

func TestExtract_RawMarksOnlyFacialChannels(t *testing.T) {
	_, raw, err := NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(neutral(), 640, 480)
	require.NoError(t, err)
	assert.True(t, raw.FacialComplete())

	// mouth_open is not calibrated, so its failure leaves the baseline usable
	lm := neutral()
	lm[LipsUp] = iface.Landmark{X: math.NaN(), Y: 0.68}
	_, raw, err = NewExtractor(nil, nil, DefaultTeethRefPoints).Extract(lm, 640, 480)
	require.Error(t, err)
	assert.True(t, raw.FacialComplete())
}

func TestExtract_TeethReferencePoints(t *testing.T) {
	e := NewExtractor(nil, nil, [2]int{LeftEyeOuter, RightEyeOuter})
	_, raw, err := e.Extract(neutral(), 640, 480)
	require.NoError(t, err)
	assert.InDelta(t, 0.13/0.30*5, raw.TeethOpen, 1e-9)
}

func TestExtract_HeadChannels(t *testing.T) {
	pose := Pose{Pitch: 5, Yaw: -10, Roll: 2, RawPitch: 175, RawYaw: -12, RawRoll: 1, Valid: true}
	out, raw, err := NewExtractor(nil, stubPose{pose: pose}, DefaultTeethRefPoints).Extract(neutral(), 640, 480)
	require.NoError(t, err)
	assert.Equal(t, 5.0, out[HeadPitch])
	assert.Equal(t, -10.0, out[HeadYaw])
	assert.Equal(t, 2.0, out[HeadRoll])
	assert.True(t, raw.HeadValid)
	assert.Equal(t, 175.0, raw.HeadPitch)

	held := Pose{Pitch: 5, Yaw: -10, Roll: 2}
	failure := errors.New("solve failed")
	out, raw, err = NewExtractor(nil, stubPose{pose: held, err: failure}, DefaultTeethRefPoints).Extract(neutral(), 640, 480)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, -10.0, out[HeadYaw])
	assert.False(t, raw.HeadValid)
}
