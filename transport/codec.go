// Package transport serialises feature sets and ships them to the rig.
package transport

import (
	"errors"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"

	iface "FaceMocap/interface"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxDatagram is the receive buffer provisioned by the consumer.
const MaxDatagram = 4096

var (
	ErrDatagramTooLarge = errors.New("datagram exceeds 4096 bytes")
	ErrMalformed        = errors.New("malformed feature datagram")
)

// Round3 rounds v to 3 decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Encode renders one frame as a JSON object with values rounded to 3 decimals.
func Encode(features iface.FeatureSet) ([]byte, error) {
	out := make(map[string]float64, len(features))
	for k, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("feature %s: non-finite value %v", k, v)
		}
		out[k] = Round3(v)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDatagram {
		return nil, fmt.Errorf("%w: %d", ErrDatagramTooLarge, len(data))
	}
	return data, nil
}

// Decode parses a datagram produced by Encode.
func Decode(data []byte) (iface.FeatureSet, error) {
	var out map[string]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	return iface.FeatureSet(out), nil
}
