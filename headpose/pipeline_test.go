package headpose

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FaceMocap/calibration"
	"FaceMocap/features"
	iface "FaceMocap/interface"
)

// frontalFace completes the projected model points with neutral eyes, lips,
// brows and pupils.
func frontalFace(t *testing.T) iface.Landmarks {
	lm := syntheticLandmarks(t, headPose(0, 0, 0))
	lo, ro := lm[features.LeftEyeOuter], lm[features.RightEyeOuter]
	mid := func(a, b iface.Landmark, f float64) iface.Landmark {
		return iface.Landmark{X: a.X + (b.X-a.X)*f, Y: a.Y + (b.Y-a.Y)*f}
	}
	li, ri := mid(lo, ro, 0.3), mid(lo, ro, 0.7)
	lm[features.LeftEyeInner], lm[features.RightEyeInner] = li, ri

	eye := func(outer, inner iface.Landmark, up, down int, ring []int) {
		c := mid(outer, inner, 0.5)
		lm[up] = iface.Landmark{X: c.X, Y: c.Y - 0.01}
		lm[down] = iface.Landmark{X: c.X, Y: c.Y + 0.01}
		for _, idx := range ring {
			lm[idx] = c
		}
	}
	eye(lo, li, features.LeftEyeUp, features.LeftEyeDown, features.LeftPupilRing)
	eye(ro, ri, features.RightEyeUp, features.RightEyeDown, features.RightPupilRing)

	lips := mid(lm[features.LeftLipCorner], lm[features.RightLipCorner], 0.5)
	lm[features.LipsUp], lm[features.LipsDown] = lips, lips
	lm[features.MouthLowerCenter] = iface.Landmark{X: lips.X, Y: lips.Y + 0.02}

	for _, idx := range features.LeftBrowIDs {
		lm[idx] = lm[features.BrowCenterLeft]
	}
	for _, idx := range features.RightBrowIDs {
		lm[idx] = lm[features.BrowCenterRight]
	}
	return lm
}

func TestPipeline_CalibratedFrontalFaceIsNeutral(t *testing.T) {
	dir := t.TempDir()
	store := calibration.NewStore(filepath.Join(dir, "calibration.json"), filepath.Join(dir, "head_calibration.json"))
	ex := features.NewExtractor(store, NewEstimator(DefaultConfig(), store), features.DefaultTeethRefPoints)
	face := frontalFace(t)

	_, raw, err := ex.Extract(face, testWidth, testHeight)
	require.NoError(t, err)
	require.True(t, raw.HeadValid)
	_, err = store.SaveFacialCalibration(raw.FacialValues())
	require.NoError(t, err)
	_, err = store.SaveHeadCalibration(raw.HeadPitch, raw.HeadYaw, raw.HeadRoll)
	require.NoError(t, err)

	out, _, err := ex.Extract(face, testWidth, testHeight)
	require.NoError(t, err)
	for _, k := range []string{features.MouthWidth, features.MouthOpen, features.LeftBrow, features.RightBrow, features.TeethOpen} {
		assert.InDelta(t, 0, out[k], 1e-9, k)
	}
	for _, k := range []string{features.LeftPupilX, features.LeftPupilY, features.RightPupilX, features.RightPupilY} {
		assert.InDelta(t, 0, out[k], 1e-9, k)
	}
	assert.InDelta(t, 0.2, out[features.LeftEyelid], 1e-9)
	assert.InDelta(t, 0.2, out[features.RightEyelid], 1e-9)
	for _, k := range []string{features.HeadPitch, features.HeadYaw, features.HeadRoll} {
		assert.InDelta(t, 0, out[k], 0.1, k)
	}
}
