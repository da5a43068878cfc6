// Package smoother applies a one-pole exponential low-pass filter to every
// feature channel independently.
package smoother

import (
	"strings"
	"sync"

	iface "FaceMocap/interface"
)

// Factors are the smoothing factors per channel group. Higher means more lag.
type Factors struct {
	Head    float64 `yaml:"head" validate:"gte=0,lte=1"`
	Eyelids float64 `yaml:"eyelids" validate:"gte=0,lte=1"`
	Pupils  float64 `yaml:"pupils" validate:"gte=0,lte=1"`
	Mouth   float64 `yaml:"mouth" validate:"gte=0,lte=1"`
	Brows   float64 `yaml:"brows" validate:"gte=0,lte=1"`
	Teeth   float64 `yaml:"teeth" validate:"gte=0,lte=1"`
	Default float64 `yaml:"default" validate:"gte=0,lte=1"`
}

func DefaultFactors() Factors {
	return Factors{
		Head:    0.8,
		Eyelids: 0.6,
		Pupils:  0.3,
		Mouth:   0.7,
		Brows:   0.5,
		Teeth:   0.4,
		Default: 0.5,
	}
}

// Alpha picks the factor for key; the first matching rule wins.
func (f Factors) Alpha(key string) float64 {
	switch {
	case strings.Contains(key, "pupil"):
		return f.Pupils
	case strings.HasSuffix(key, "_eyelid"):
		return f.Eyelids
	case strings.HasPrefix(key, "head"):
		return f.Head
	case strings.Contains(key, "mouth"):
		return f.Mouth
	case strings.Contains(key, "brow"):
		return f.Brows
	case strings.Contains(key, "teeth"):
		return f.Teeth
	default:
		return f.Default
	}
}

// Smoother keeps the previous output per channel. Disabling it bypasses the
// filter without touching stored state.
type Smoother struct {
	mu      sync.Mutex
	factors Factors
	enabled bool
	alphas  map[string]float64
	prev    map[string]float64
}

func New(factors Factors, enabled bool) *Smoother {
	return &Smoother{
		factors: factors,
		enabled: enabled,
		alphas:  make(map[string]float64),
		prev:    make(map[string]float64),
	}
}

func (s *Smoother) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *Smoother) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Apply returns a new set; raw is not modified.
func (s *Smoother) Apply(raw iface.FeatureSet) iface.FeatureSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := raw.Clone()
	if !s.enabled {
		return out
	}
	for k, v := range raw {
		prev, seen := s.prev[k]
		if !seen {
			s.prev[k] = v
			continue
		}
		alpha, ok := s.alphas[k]
		if !ok {
			alpha = s.factors.Alpha(k)
			s.alphas[k] = alpha
		}
		v = alpha*prev + (1-alpha)*v
		s.prev[k] = v
		out[k] = v
	}
	return out
}
