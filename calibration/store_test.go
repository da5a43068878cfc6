package calibration

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	dir := t.TempDir()
	facial := filepath.Join(dir, "calibration.json")
	head := filepath.Join(dir, "head_calibration.json")
	return NewStore(facial, head), facial, head
}

func TestStore_MissingFilesAreEmpty(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.Empty(t, s.FacialCalibration())
	assert.Empty(t, s.HeadCalibration())
	assert.False(t, s.HasHeadCalibration())
}

func TestStore_SaveFacialReplacesWholesale(t *testing.T) {
	s, facial, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(facial, []byte(`{"mouth_width": 9, "extra": 3}`), 0o644))
	assert.Equal(t, 9.0, s.FacialCalibration()[KeyMouthWidth])

	_, err := s.SaveFacialCalibration(FacialValues{MouthWidth: 0.8, BrowLeft: 1.1, BrowRight: 1.2, TeethOpen: 0.3})
	require.NoError(t, err)

	rec := s.FacialCalibration()
	assert.Equal(t, Record{KeyMouthWidth: 0.8, KeyBrowLeft: 1.1, KeyBrowRight: 1.2, KeyTeethOpen: 0.3}, rec)
	_, stale := rec["extra"]
	assert.False(t, stale)
}

func TestStore_SaveHead(t *testing.T) {
	s, _, head := newTestStore(t)
	_, err := s.SaveHeadCalibration(170, -3, 1.5)
	require.NoError(t, err)
	assert.True(t, s.HasHeadCalibration())
	assert.Equal(t, Record{KeyPitch: 170, KeyYaw: -3, KeyRoll: 1.5}, s.HeadCalibration())

	b, err := os.ReadFile(head)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"pitch"`)
}

func TestStore_ReloadsOnExternalChange(t *testing.T) {
	s, facial, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(facial, []byte(`{"mouth_width": 1}`), 0o644))
	assert.Equal(t, 1.0, s.FacialCalibration()[KeyMouthWidth])

	require.NoError(t, os.WriteFile(facial, []byte(`{"mouth_width": 2}`), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(facial, later, later))
	assert.Equal(t, 2.0, s.FacialCalibration()[KeyMouthWidth])
}

func TestStore_CachedWhenUnchanged(t *testing.T) {
	s, facial, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(facial, []byte(`{"mouth_width": 1}`), 0o644))
	fixed := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(facial, fixed, fixed))
	assert.Equal(t, 1.0, s.FacialCalibration()[KeyMouthWidth])

	// 内容改变但修改时间相同，缓存仍然生效
	require.NoError(t, os.WriteFile(facial, []byte(`{"mouth_width": 5}`), 0o644))
	require.NoError(t, os.Chtimes(facial, fixed, fixed))
	assert.Equal(t, 1.0, s.FacialCalibration()[KeyMouthWidth])
}

func TestStore_CorruptFileIsEmpty(t *testing.T) {
	s, facial, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(facial, []byte(`{"mouth_width": `), 0o644))
	assert.Empty(t, s.FacialCalibration())

	require.NoError(t, os.WriteFile(facial, []byte(`{"mouth_width": 4}`), 0o644))
	later := time.Now().Add(3 * time.Second)
	require.NoError(t, os.Chtimes(facial, later, later))
	assert.Equal(t, 4.0, s.FacialCalibration()[KeyMouthWidth])
}

func TestStore_IgnoresNonNumericEntries(t *testing.T) {
	s, _, head := newTestStore(t)
	require.NoError(t, os.WriteFile(head, []byte(`{"pitch": 1, "head_calibrated": true}`), 0o644))
	assert.Equal(t, Record{KeyPitch: 1}, s.HeadCalibration())
}

func TestStore_Reset(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.SaveFacialCalibration(FacialValues{MouthWidth: 3})
	require.NoError(t, err)
	require.NoError(t, s.Reset())
	assert.Equal(t, 0.0, s.FacialCalibration()[KeyMouthWidth])
	assert.Equal(t, Record{KeyPitch: 0, KeyYaw: 0, KeyRoll: 0}, s.HeadCalibration())
}

func TestStore_ConcurrentReadWrite(t *testing.T) {
	s, _, _ := newTestStore(t)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = s.SaveFacialCalibration(FacialValues{MouthWidth: float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rec := s.FacialCalibration()
			if v, ok := rec[KeyMouthWidth]; ok {
				assert.GreaterOrEqual(t, v, 0.0)
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 49.0, s.FacialCalibration()[KeyMouthWidth])
}

func TestRecord_Baseline(t *testing.T) {
	r := Record{KeyBrowLeft: 0.5}
	assert.Equal(t, 0.5, r.Baseline(KeyBrowLeft, 2))
	assert.Equal(t, 2.0, r.Baseline(KeyBrowRight, 2))
	assert.Equal(t, 0.0, r.Offset(KeyPitch))
}
