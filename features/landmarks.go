package features

// Face-mesh landmark indices (478-point topology with refined iris points).
const (
	NumLandmarks = 478

	LipsUp           = 13
	LipsDown         = 14
	LeftLipCorner    = 61
	RightLipCorner   = 291
	MouthLowerCenter = 164

	LeftEyeUp    = 159
	LeftEyeDown  = 145
	RightEyeUp   = 386
	RightEyeDown = 374

	LeftEyeInner  = 133
	LeftEyeOuter  = 33
	RightEyeInner = 362
	RightEyeOuter = 263

	LeftPupil  = 468
	RightPupil = 473

	BrowCenterLeft  = 107
	BrowCenterRight = 336

	NoseTip = 1
	Chin    = 152
)

// 瞳孔环：中心点 + 四个边界点
var (
	LeftPupilRing  = []int{468, 469, 470, 471, 472}
	RightPupilRing = []int{473, 474, 475, 476, 477}
)

var (
	LeftBrowIDs  = []int{65, 55, 52, 53, 46}
	RightBrowIDs = []int{295, 285, 282, 283, 276}
)

// DefaultTeethRefPoints are the two inner eye corners.
var DefaultTeethRefPoints = [2]int{LeftEyeInner, RightEyeInner}

// Feature names. Every key is present in every output set.
const (
	MouthWidth  = "mouth_width"
	MouthOpen   = "mouth_open"
	LeftEyelid  = "left_eyelid"
	RightEyelid = "right_eyelid"
	LeftPupilX  = "left_pupil_x"
	LeftPupilY  = "left_pupil_y"
	RightPupilX = "right_pupil_x"
	RightPupilY = "right_pupil_y"
	LeftBrow    = "left_brow"
	RightBrow   = "right_brow"
	TeethOpen   = "teeth_open"
	HeadPitch   = "head_pitch"
	HeadYaw     = "head_yaw"
	HeadRoll    = "head_roll"
)

// Vocabulary lists every output feature key.
var Vocabulary = []string{
	MouthWidth, MouthOpen,
	LeftEyelid, RightEyelid,
	LeftPupilX, LeftPupilY, RightPupilX, RightPupilY,
	LeftBrow, RightBrow,
	TeethOpen,
	HeadPitch, HeadYaw, HeadRoll,
}

const (
	mouthOpenGain = 5.0
	eyelidGain    = 10.0
	browGain      = 10.0
	teethGain     = 5.0

	// PupilRange scales the centred pupil offset; outputs stay within ±PupilRange/2.
	PupilRange = 0.1
	minEyeSpan = 1e-4
)
