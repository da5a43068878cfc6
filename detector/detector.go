// Package detector talks to a remote face-mesh service that turns an encoded
// camera image into landmarks.
package detector

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	iface "FaceMocap/interface"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LandmarkDetector returns the landmarks of the first face in a JPEG image,
// or iface.ErrNoFace.
type LandmarkDetector interface {
	Detect(ctx context.Context, jpeg []byte) (iface.Landmarks, error)
	Close() error
}

// Reply is the face-mesh service response.
type Reply struct {
	Faces []struct {
		Landmarks [][]float64 `json:"landmarks"`
	} `json:"faces"`
	Error string `json:"error,omitempty"`
}

// Landmarks picks the first face.
func (r Reply) Landmarks() (iface.Landmarks, error) {
	if r.Error != "" {
		return nil, fmt.Errorf("face mesh service: %s", r.Error)
	}
	if len(r.Faces) == 0 || len(r.Faces[0].Landmarks) == 0 {
		return nil, iface.ErrNoFace
	}
	return iface.NewLandmarks(r.Faces[0].Landmarks)
}

func parseReply(body []byte) (iface.Landmarks, error) {
	var r Reply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode face mesh reply: %w", err)
	}
	return r.Landmarks()
}
