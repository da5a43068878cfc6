package receiver

import (
	"io"
	"math"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	iface "FaceMocap/interface"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Control bone names.
const (
	BoneMouth       = "MFC_Mouth"
	BoneLeftEyelid  = "MFC_LeftEyelid"
	BoneRightEyelid = "MFC_RightEyelid"
	BoneLeftPupil   = "MFC_LeftPupil"
	BoneRightPupil  = "MFC_RightPupil"
	BoneLeftBrow    = "MFC_LeftBrow"
	BoneRightBrow   = "MFC_RightBrow"
	BoneHead        = "MFC_Head"
	BoneTeeth       = "MFC_Teeth"
)

// Controls maps each switchable control to the bone it drives.
var Controls = map[string]string{
	"mouth":        BoneMouth,
	"left_eyelid":  BoneLeftEyelid,
	"right_eyelid": BoneRightEyelid,
	"left_pupil":   BoneLeftPupil,
	"right_pupil":  BoneRightPupil,
	"left_brow":    BoneLeftBrow,
	"right_brow":   BoneRightBrow,
	"head":         BoneHead,
	"teeth":        BoneTeeth,
}

// PupilMoveRange bounds the pupil bone translation on both axes.
const PupilMoveRange = 0.1

// Animated properties.
const (
	PathScale    = "scale"
	PathLocation = "location"
	PathRotation = "rotation_euler"
)

// Bone is a pose bone of the control skeleton. Rotation is XYZ Euler in
// radians.
type Bone struct {
	Name     string     `json:"name"`
	Location [3]float64 `json:"location"`
	Rotation [3]float64 `json:"rotation"`
	Scale    [3]float64 `json:"scale"`
}

type Keyframe struct {
	Frame int        `json:"frame"`
	Bone  string     `json:"bone"`
	Path  string     `json:"path"`
	Value [3]float64 `json:"value"`
}

// Rig holds the control skeleton and, when auto-keying, the recorded timeline.
type Rig struct {
	mu      sync.Mutex
	bones   map[string]*Bone
	enabled map[string]bool
	autoKey bool
	keys    []Keyframe
}

// NewRig creates the control skeleton in rest pose. Controls missing from
// enabled are on.
func NewRig(enabled map[string]bool, autoKey bool) *Rig {
	r := &Rig{
		bones:   make(map[string]*Bone, len(Controls)),
		enabled: make(map[string]bool, len(Controls)),
		autoKey: autoKey,
	}
	for control, bone := range Controls {
		r.bones[bone] = &Bone{Name: bone, Scale: [3]float64{1, 1, 1}}
		on, ok := enabled[control]
		r.enabled[control] = on || !ok
	}
	return r
}

func (r *Rig) SetEnabled(control string, on bool) {
	r.mu.Lock()
	r.enabled[control] = on
	r.mu.Unlock()
}

func (r *Rig) SetAutoKey(on bool) {
	r.mu.Lock()
	r.autoKey = on
	r.mu.Unlock()
}

// Bone returns a copy of the named bone.
func (r *Rig) Bone(name string) (Bone, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bones[name]
	if !ok {
		return Bone{}, false
	}
	return *b, true
}

// Apply poses the enabled bones from one frame. Missing keys read as 0.
func (r *Rig) Apply(fs iface.FeatureSet, frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled["mouth"] {
		b := r.bones[BoneMouth]
		b.Scale[0] = 1 + fs["mouth_width"]
		b.Scale[2] = fs["mouth_open"]
		r.key(frame, b, PathScale)
	}
	for _, side := range []string{"left", "right"} {
		if r.enabled[side+"_eyelid"] {
			b := r.bones[Controls[side+"_eyelid"]]
			b.Scale[2] = fs[side+"_eyelid"]
			r.key(frame, b, PathScale)
		}
	}
	for _, side := range []string{"left", "right"} {
		if r.enabled[side+"_pupil"] {
			b := r.bones[Controls[side+"_pupil"]]
			b.Location = [3]float64{
				clampRange(fs[side+"_pupil_x"], PupilMoveRange),
				clampRange(fs[side+"_pupil_y"], PupilMoveRange),
				0,
			}
			r.key(frame, b, PathLocation)
		}
	}
	for _, side := range []string{"left", "right"} {
		if r.enabled[side+"_brow"] {
			b := r.bones[Controls[side+"_brow"]]
			b.Scale[2] = 1 + fs[side+"_brow"]
			r.key(frame, b, PathScale)
		}
	}
	if r.enabled["head"] {
		b := r.bones[BoneHead]
		b.Rotation = [3]float64{
			radians(fs["head_pitch"]),
			radians(fs["head_yaw"]),
			radians(fs["head_roll"]),
		}
		r.key(frame, b, PathRotation)
	}
	if r.enabled["teeth"] {
		b := r.bones[BoneTeeth]
		b.Scale[2] = fs["teeth_open"]
		r.key(frame, b, PathScale)
	}
}

func (r *Rig) key(frame int, b *Bone, path string) {
	if !r.autoKey {
		return
	}
	k := Keyframe{Frame: frame, Bone: b.Name, Path: path}
	switch path {
	case PathScale:
		k.Value = b.Scale
	case PathLocation:
		k.Value = b.Location
	case PathRotation:
		k.Value = b.Rotation
	}
	// 同一帧同一通道只保留最后一次
	if n := len(r.keys); n > 0 {
		for i := n - 1; i >= 0 && r.keys[i].Frame == frame; i-- {
			if r.keys[i].Bone == k.Bone && r.keys[i].Path == k.Path {
				r.keys[i] = k
				return
			}
		}
	}
	r.keys = append(r.keys, k)
}

// Keyframes returns the recorded timeline ordered by frame.
func (r *Rig) Keyframes() []Keyframe {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Keyframe, len(r.keys))
	copy(out, r.keys)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

type bakeFile struct {
	Bones     []Bone     `json:"bones"`
	Keyframes []Keyframe `json:"keyframes"`
}

// Bake writes the current pose and the keyframe timeline as JSON.
func (r *Rig) Bake(w io.Writer) error {
	keys := r.Keyframes()
	r.mu.Lock()
	bones := make([]Bone, 0, len(r.bones))
	for _, b := range r.bones {
		bones = append(bones, *b)
	}
	r.mu.Unlock()
	sort.Slice(bones, func(i, j int) bool { return bones[i].Name < bones[j].Name })

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bakeFile{Bones: bones, Keyframes: keys})
}

func clampRange(v, limit float64) float64 {
	return math.Max(math.Min(v, limit), -limit)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
