package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	iface "FaceMocap/interface"
)

// HTTPDetector posts each image to the service and waits for the reply.
type HTTPDetector struct {
	client *resty.Client
	url    string
}

func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(10 * time.Millisecond)
	return &HTTPDetector{client: client, url: url}
}

func (d *HTTPDetector) Detect(ctx context.Context, jpeg []byte) (iface.Landmarks, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(jpeg).
		Post(d.url)
	if err != nil {
		return nil, fmt.Errorf("face mesh request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("face mesh service returned %s: %s", resp.Status(), resp.String())
	}
	return parseReply(resp.Body())
}

func (d *HTTPDetector) Close() error {
	return nil
}
