// Package calibration persists the neutral-pose baselines subtracted from raw
// facial and head measurements.
//
// Each record lives in its own JSON file and is cached in memory. A read
// reloads the file only when its modification time differs from the one seen
// at the last successful load, so a file rewritten by another process or by a
// control command is picked up on the next frame without re-reading it every
// frame. Any read failure yields an empty record: the pipeline keeps running
// uncalibrated instead of stopping.
package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"FaceMocap/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Facial record keys.
const (
	KeyMouthWidth = "mouth_width"
	KeyBrowLeft   = "brow_left"
	KeyBrowRight  = "brow_right"
	KeyTeethOpen  = "teeth_open"
)

// Head record keys, degrees.
const (
	KeyPitch = "pitch"
	KeyYaw   = "yaw"
	KeyRoll  = "roll"
)

// Record 通道名 -> 基线值
type Record map[string]float64

// Baseline returns the stored baseline for key, or raw itself when the record
// has no entry, which makes the calibrated value zero.
func (r Record) Baseline(key string, raw float64) float64 {
	if v, ok := r[key]; ok {
		return v
	}
	return raw
}

// Offset returns the stored baseline for key, or 0 when absent.
func (r Record) Offset(key string) float64 {
	return r[key]
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FacialValues are the raw (uncalibrated) measurements captured as a new
// facial baseline.
type FacialValues struct {
	MouthWidth float64
	BrowLeft   float64
	BrowRight  float64
	TeethOpen  float64
}

type Store struct {
	facial *cachedFile
	head   *cachedFile
}

func NewStore(facialPath, headPath string) *Store {
	return &Store{
		facial: &cachedFile{path: facialPath},
		head:   &cachedFile{path: headPath},
	}
}

// FacialCalibration returns the current facial record. The returned map is a
// copy and may be modified by the caller.
func (s *Store) FacialCalibration() Record {
	return s.facial.get()
}

// HeadCalibration returns the current head record.
func (s *Store) HeadCalibration() Record {
	return s.head.get()
}

// HasHeadCalibration reports whether a head record is present on disk and
// parses.
func (s *Store) HasHeadCalibration() bool {
	return len(s.head.get()) > 0
}

// SaveFacialCalibration replaces the facial record with v.
func (s *Store) SaveFacialCalibration(v FacialValues) (Record, error) {
	rec := Record{
		KeyMouthWidth: v.MouthWidth,
		KeyBrowLeft:   v.BrowLeft,
		KeyBrowRight:  v.BrowRight,
		KeyTeethOpen:  v.TeethOpen,
	}
	if err := s.facial.save(rec); err != nil {
		return nil, err
	}
	logger.Log().Info("facial calibration saved", zap.String("file", s.facial.path), zap.Any("baseline", rec))
	return rec, nil
}

// SaveHeadCalibration replaces the head record with the given raw angles.
func (s *Store) SaveHeadCalibration(pitch, yaw, roll float64) (Record, error) {
	rec := Record{KeyPitch: pitch, KeyYaw: yaw, KeyRoll: roll}
	if err := s.head.save(rec); err != nil {
		return nil, err
	}
	logger.Log().Info("head calibration saved", zap.String("file", s.head.path), zap.Any("baseline", rec))
	return rec, nil
}

// Reset writes all-zero records for both files.
func (s *Store) Reset() error {
	if err := s.facial.save(Record{KeyMouthWidth: 0, KeyBrowLeft: 0, KeyBrowRight: 0, KeyTeethOpen: 0}); err != nil {
		return err
	}
	if err := s.head.save(Record{KeyPitch: 0, KeyYaw: 0, KeyRoll: 0}); err != nil {
		return err
	}
	logger.Log().Info("all calibration data has been reset")
	return nil
}

type cachedFile struct {
	path string

	mu      sync.Mutex
	loaded  bool
	modTime time.Time
	data    Record
}

func (c *cachedFile) get() Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if c.loaded || c.data != nil {
			logger.Log().Debug("calibration file unavailable", zap.String("file", c.path), zap.Error(err))
		}
		c.loaded = false
		c.data = nil
		return Record{}
	}
	if c.loaded && info.ModTime().Equal(c.modTime) {
		return c.data.clone()
	}

	rec, err := readRecord(c.path)
	if err != nil {
		// 半写入或损坏的文件按未校准处理，下一帧重试
		logger.Log().Debug("calibration file unreadable", zap.String("file", c.path), zap.Error(err))
		c.loaded = false
		c.data = nil
		return Record{}
	}
	c.loaded = true
	c.modTime = info.ModTime()
	c.data = rec
	return rec.clone()
}

func (c *cachedFile) save(rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeRecord(c.path, rec); err != nil {
		return err
	}
	c.loaded = false
	c.data = nil
	return nil
}

func readRecord(path string) (Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	rec := make(Record, len(raw))
	for k, v := range raw {
		// 旧版本文件里混有 bool 标记（head_calibrated），只保留数值
		if f, ok := v.(float64); ok {
			rec[k] = f
		}
	}
	return rec, nil
}

// writeRecord replaces path atomically: a concurrent reader sees either the
// old or the new content, never a partial file.
func writeRecord(path string, rec Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close calibration: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
