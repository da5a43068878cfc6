package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	iface "FaceMocap/interface"
	"FaceMocap/logger"
	"FaceMocap/monitor"
	"FaceMocap/recording"
)

// Playback re-sends a recording through sink, keeping the recorded timing.
// It returns the number of frames sent.
func Playback(ctx context.Context, player *recording.Player, sink iface.Sink) (int, error) {
	log := logger.Named("playback")
	start := time.Now()
	sent := 0
	for {
		sample, err := player.Next()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		if wait := time.Until(start.Add(sample.Offset)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sent, nil
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return sent, nil
		}
		if err := sink.Send(sample.Features); err != nil {
			monitor.SendErrors.Inc()
			log.Warn("send failed", zap.Duration("offset", sample.Offset), zap.Error(err))
			continue
		}
		monitor.DatagramsSent.Inc()
		sent++
	}
}
