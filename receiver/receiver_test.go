package receiver

import (
	"bytes"
	"context"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iface "FaceMocap/interface"
	"FaceMocap/transport"
)

func TestQueue_FIFOAndDropOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Push(iface.FeatureSet{"i": float64(i)})
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())

	got := q.Drain()
	require.Len(t, got, 3)
	for i, fs := range got {
		assert.Equal(t, float64(i+2), fs["i"])
	}
	assert.Nil(t, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	q := NewQueue(1000)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			q.Push(iface.FeatureSet{"i": float64(i)})
		}
	}()
	var seen []float64
	deadline := time.Now().Add(5 * time.Second)
	for len(seen) < 500 && time.Now().Before(deadline) {
		for _, fs := range q.Drain() {
			seen = append(seen, fs["i"])
		}
	}
	wg.Wait()
	require.Len(t, seen, 500)
	for i, v := range seen {
		assert.Equal(t, float64(i), v)
	}
}

func TestRig_Apply(t *testing.T) {
	rig := NewRig(nil, false)
	rig.Apply(iface.FeatureSet{
		"mouth_width":   0.2,
		"mouth_open":    0.4,
		"left_eyelid":   0.7,
		"right_pupil_x": 0.5,
		"right_pupil_y": -0.02,
		"left_brow":     0.3,
		"head_pitch":    90,
		"head_yaw":      -180,
		"teeth_open":    0.1,
	}, 0)

	mouth, ok := rig.Bone(BoneMouth)
	require.True(t, ok)
	assert.InDelta(t, 1.2, mouth.Scale[0], 1e-12)
	assert.Equal(t, 1.0, mouth.Scale[1])
	assert.Equal(t, 0.4, mouth.Scale[2])

	eyelid, _ := rig.Bone(BoneLeftEyelid)
	assert.Equal(t, 0.7, eyelid.Scale[2])
	right, _ := rig.Bone(BoneRightEyelid)
	assert.Equal(t, 0.0, right.Scale[2])

	pupil, _ := rig.Bone(BoneRightPupil)
	assert.Equal(t, [3]float64{PupilMoveRange, -0.02, 0}, pupil.Location)

	brow, _ := rig.Bone(BoneLeftBrow)
	assert.InDelta(t, 1.3, brow.Scale[2], 1e-12)

	head, _ := rig.Bone(BoneHead)
	assert.InDelta(t, math.Pi/2, head.Rotation[0], 1e-12)
	assert.InDelta(t, -math.Pi, head.Rotation[1], 1e-12)
	assert.Equal(t, 0.0, head.Rotation[2])

	teeth, _ := rig.Bone(BoneTeeth)
	assert.Equal(t, 0.1, teeth.Scale[2])

	assert.Empty(t, rig.Keyframes())
}

func TestRig_DisabledControlUntouched(t *testing.T) {
	rig := NewRig(map[string]bool{"mouth": false}, false)
	rig.Apply(iface.FeatureSet{"mouth_open": 1, "teeth_open": 1}, 0)
	mouth, _ := rig.Bone(BoneMouth)
	assert.Equal(t, [3]float64{1, 1, 1}, mouth.Scale)
	teeth, _ := rig.Bone(BoneTeeth)
	assert.Equal(t, 1.0, teeth.Scale[2])

	rig.SetEnabled("mouth", true)
	rig.Apply(iface.FeatureSet{"mouth_open": 1}, 1)
	mouth, _ = rig.Bone(BoneMouth)
	assert.Equal(t, 1.0, mouth.Scale[2])
}

func TestRig_AutoKeyAndBake(t *testing.T) {
	rig := NewRig(map[string]bool{"head": true, "mouth": false, "teeth": false,
		"left_eyelid": false, "right_eyelid": false, "left_pupil": false,
		"right_pupil": false, "left_brow": false, "right_brow": false}, true)

	rig.Apply(iface.FeatureSet{"head_yaw": 10}, 0)
	rig.Apply(iface.FeatureSet{"head_yaw": 20}, 0)
	rig.Apply(iface.FeatureSet{"head_yaw": 30}, 1)

	keys := rig.Keyframes()
	require.Len(t, keys, 2)
	assert.Equal(t, 0, keys[0].Frame)
	assert.Equal(t, BoneHead, keys[0].Bone)
	assert.Equal(t, PathRotation, keys[0].Path)
	assert.InDelta(t, 20*math.Pi/180, keys[0].Value[1], 1e-12)
	assert.Equal(t, 1, keys[1].Frame)

	var buf bytes.Buffer
	require.NoError(t, rig.Bake(&buf))
	var baked bakeFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &baked))
	assert.Len(t, baked.Bones, len(Controls))
	assert.Len(t, baked.Keyframes, 2)
}

func TestConsumer_StepAppliesInOrder(t *testing.T) {
	q := NewQueue(8)
	rig := NewRig(nil, true)
	c := NewConsumer(q, rig, 0)

	q.Push(iface.FeatureSet{"teeth_open": 0.1})
	q.Push(iface.FeatureSet{"teeth_open": 0.9})
	assert.Equal(t, 2, c.Step())
	teeth, _ := rig.Bone(BoneTeeth)
	assert.Equal(t, 0.9, teeth.Scale[2])
	assert.Equal(t, 1, c.Frame())

	assert.Equal(t, 0, c.Step())
	assert.Equal(t, 2, c.Frame())
}

func TestListener_EndToEnd(t *testing.T) {
	l, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	q := NewQueue(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, q) }()

	sink, err := transport.NewUDPSink("127.0.0.1", l.Addr().Port)
	require.NoError(t, err)
	defer sink.Close()

	raw, err := net.DialUDP("udp", nil, l.Addr())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("not json"))
	require.NoError(t, err)

	require.NoError(t, sink.Send(iface.FeatureSet{"mouth_open": 0.5}))

	var got []iface.FeatureSet
	require.Eventually(t, func() bool {
		got = append(got, q.Drain()...)
		return len(got) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.5, got[0]["mouth_open"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.NoError(t, l.Close())
}

func TestReadBackoff_GrowsAndCaps(t *testing.T) {
	assert.Equal(t, time.Duration(0), readBackoff(0))
	assert.Equal(t, 10*time.Millisecond, readBackoff(1))
	assert.Equal(t, 20*time.Millisecond, readBackoff(2))
	assert.Equal(t, 80*time.Millisecond, readBackoff(4))
	assert.Equal(t, maxReadBackoff, readBackoff(7))
	assert.Equal(t, maxReadBackoff, readBackoff(1000))
	for n := 1; n < 20; n++ {
		assert.GreaterOrEqual(t, readBackoff(n+1), readBackoff(n))
	}
}
