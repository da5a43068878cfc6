package headpose

import "FaceMocap/features"

// Vec3 is a point of the static face model.
type Vec3 [3]float64

// modelPoints and landmarkIDs correspond 1:1 and in order. The first entry
// must stay the nose tip at the model origin: the direct solver uses it as
// its reference point.
var modelPoints = []Vec3{
	{0.0, 0.0, 0.0},         // nose tip
	{0.0, -330.0, -65.0},    // chin
	{-165.0, 170.0, -135.0}, // left eye outer corner
	{165.0, 170.0, -135.0},  // right eye outer corner
	{-75.0, -40.0, -125.0},  // left mouth corner
	{75.0, -40.0, -125.0},   // right mouth corner
	{-60.0, 130.0, -110.0},  // left brow centre
	{60.0, 130.0, -110.0},   // right brow centre
}

var landmarkIDs = []int{
	features.NoseTip,
	features.Chin,
	features.LeftEyeOuter,
	features.RightEyeOuter,
	features.LeftLipCorner,
	features.RightLipCorner,
	features.BrowCenterLeft,
	features.BrowCenterRight,
}

// Point subsets.
const (
	// SubsetGeneral uses all eight correspondences.
	SubsetGeneral = "general"
	// SubsetStable drops the brow centres, which move with expression.
	SubsetStable = "stable"
)

func subset(name string) ([]int, []Vec3) {
	n := len(modelPoints)
	if name == SubsetStable {
		n = 6
	}
	return landmarkIDs[:n], modelPoints[:n]
}
