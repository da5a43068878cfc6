// Package recording writes the output stream to CSV and reads it back.
package recording

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	iface "FaceMocap/interface"
)

// Columns is the CSV header; every column after the first is a feature key.
var Columns = []string{
	"timestamp",
	"head_pitch", "head_yaw", "head_roll",
	"mouth_open", "mouth_width",
	"left_eyelid", "right_eyelid",
	"left_pupil_x", "left_pupil_y",
	"right_pupil_x", "right_pupil_y",
}

// ResolvePath turns a user path into a CSV file path. A path without an
// extension is a directory: it is created and a timestamped file name is
// placed inside it.
func ResolvePath(path string, now time.Time) (string, error) {
	if path == "" {
		path = "recordings"
	}
	if filepath.Ext(path) != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create recording dir: %w", err)
			}
		}
		return path, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	return filepath.Join(path, fmt.Sprintf("recording_%s.csv", now.Format("20060102_150405"))), nil
}

type Recorder struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	w        *csv.Writer
	interval time.Duration
	start    time.Time
	last     time.Time
	now      func() time.Time
}

// NewRecorder creates the file and writes the header immediately. Rows are
// limited to fps per second.
func NewRecorder(path string, fps float64) (*Recorder, error) {
	return newRecorder(path, fps, time.Now)
}

func newRecorder(path string, fps float64, now func() time.Time) (*Recorder, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("recording fps must be positive, got %v", fps)
	}
	start := now()
	resolved, err := ResolvePath(path, start)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(resolved)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r := &Recorder{
		path:     resolved,
		file:     f,
		w:        csv.NewWriter(f),
		interval: time.Duration(float64(time.Second) / fps),
		start:    start,
		now:      now,
	}
	if err := r.w.Write(Columns); err != nil {
		_ = f.Close()
		return nil, err
	}
	r.w.Flush()
	return r, r.w.Error()
}

func (r *Recorder) Path() string {
	return r.path
}

// Record appends one row unless the previous row is younger than the frame
// interval. It reports whether a row was written. Missing features are 0.
func (r *Recorder) Record(features iface.FeatureSet) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return false, os.ErrClosed
	}
	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return false, nil
	}
	elapsed := float64(now.Sub(r.start).Milliseconds()) / 1000
	row := make([]string, len(Columns))
	row[0] = strconv.FormatFloat(elapsed, 'f', -1, 64)
	for i, key := range Columns[1:] {
		row[i+1] = strconv.FormatFloat(features[key], 'f', -1, 64)
	}
	if err := r.w.Write(row); err != nil {
		return false, err
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return false, err
	}
	r.last = now
	return true, nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	r.w.Flush()
	err := r.w.Error()
	r.w = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
