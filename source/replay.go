package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	iface "FaceMocap/interface"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReplayRecord is one line of a landmark replay file.
type ReplayRecord struct {
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Landmarks [][]float64 `json:"landmarks"`
}

// Replay plays a JSON-lines landmark file. With fps > 0 frames are paced,
// otherwise they are returned as fast as they are read. An empty landmark
// list is reported as iface.ErrNoFace.
type Replay struct {
	file    *os.File
	scanner *bufio.Scanner
	limiter *rate.Limiter
	line    int
}

func OpenReplay(path string, fps float64) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	r := &Replay{file: f, scanner: sc}
	if fps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	}
	return r, nil
}

func (r *Replay) Next(ctx context.Context) (iface.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return iface.Frame{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return iface.Frame{}, err
			}
			return iface.Frame{}, io.EOF
		}
		r.line++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ReplayRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return iface.Frame{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return iface.Frame{}, err
			}
		}
		if len(rec.Landmarks) == 0 {
			return iface.Frame{}, iface.ErrNoFace
		}
		lm, err := iface.NewLandmarks(rec.Landmarks)
		if err != nil {
			return iface.Frame{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		return iface.Frame{Landmarks: lm, Width: rec.Width, Height: rec.Height, Timestamp: time.Now()}, nil
	}
}

func (r *Replay) Close() error {
	return r.file.Close()
}
