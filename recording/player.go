package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	iface "FaceMocap/interface"
)

// Sample is one recorded row.
type Sample struct {
	Offset   time.Duration
	Features iface.FeatureSet
}

// Player reads a recording row by row.
type Player struct {
	file   *os.File
	r      *csv.Reader
	header []string
}

func OpenPlayer(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read recording header: %w", err)
	}
	if len(header) == 0 || header[0] != Columns[0] {
		_ = f.Close()
		return nil, fmt.Errorf("recording %s: first column must be %q", path, Columns[0])
	}
	return &Player{file: f, r: r, header: header}, nil
}

// Next returns the next row, or io.EOF after the last one.
func (p *Player) Next() (Sample, error) {
	row, err := p.r.Read()
	if errors.Is(err, io.EOF) {
		return Sample{}, io.EOF
	}
	if err != nil {
		return Sample{}, err
	}
	ts, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("timestamp %q: %w", row[0], err)
	}
	fs := make(iface.FeatureSet, len(row)-1)
	for i, cell := range row[1:] {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("%s %q: %w", p.header[i+1], cell, err)
		}
		fs[p.header[i+1]] = v
	}
	return Sample{Offset: time.Duration(math.Round(ts*1000)) * time.Millisecond, Features: fs}, nil
}

func (p *Player) Close() error {
	return p.file.Close()
}
