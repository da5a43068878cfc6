// Package engine runs the per-frame capture pipeline: landmarks in, smoothed
// feature sets out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"FaceMocap/calibration"
	"FaceMocap/features"
	"FaceMocap/headpose"
	iface "FaceMocap/interface"
	"FaceMocap/logger"
	"FaceMocap/monitor"
	"FaceMocap/recording"
	"FaceMocap/smoother"
)

type Options struct {
	Source      iface.FrameSource
	Sink        iface.Sink
	Extractor   *features.Extractor
	Smoother    *smoother.Smoother
	Calibration *calibration.Store
	// SendFPS 为 0 时每帧都发送
	SendFPS  float64
	Recorder *recording.Recorder
	// OnFrame is called after every processed frame, on the loop goroutine.
	OnFrame func(frame iface.Frame, out iface.FeatureSet)
}

// Engine implements iface.Controller for the control surfaces.
type Engine struct {
	opts    Options
	limiter *rate.Limiter
	log     *zap.Logger

	mu        sync.RWMutex
	state     int
	frames    uint64
	latest    iface.FeatureSet
	raw       features.Raw
	haveRaw   bool
	lastFrame time.Time
}

func New(opts Options) *Engine {
	e := &Engine{
		opts:  opts,
		log:   logger.Named("engine"),
		state: READY,
	}
	if opts.SendFPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.SendFPS), 1)
	}
	return e
}

// Run processes frames until ctx is cancelled or the source is exhausted.
// Shutdown is only checked between frames. The source, sink and recorder are
// closed before Run returns.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.mu.Lock()
	if e.state == RUNNING {
		e.mu.Unlock()
		return ErrRunning
	}
	e.state = RUNNING
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = STOPPED
		e.mu.Unlock()
		err = multierr.Combine(err, e.release())
		e.log.Info("engine stopped", zap.Uint64("frames", e.Status().Frames))
	}()

	e.log.Info("engine running", zap.Float64("sendFPS", e.opts.SendFPS))
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := e.opts.Source.Next(ctx)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, iface.ErrNoFace):
			monitor.FramesSkipped.Inc()
			continue
		default:
			monitor.FramesSkipped.Inc()
			failures++
			e.log.Warn("frame source failed", zap.Int("consecutive", failures), zap.Error(err))
			if failures >= maxSourceErrors {
				return err
			}
			continue
		}
		e.process(frame)
	}
}

func (e *Engine) release() error {
	var errs error
	if e.opts.Source != nil {
		errs = multierr.Append(errs, e.opts.Source.Close())
	}
	if e.opts.Sink != nil {
		errs = multierr.Append(errs, e.opts.Sink.Close())
	}
	if e.opts.Recorder != nil {
		errs = multierr.Append(errs, e.opts.Recorder.Close())
	}
	return errs
}

// process runs extraction, smoothing, recording and sending for one frame.
func (e *Engine) process(frame iface.Frame) iface.FeatureSet {
	start := time.Now()
	defer func() { monitor.FrameSeconds.Observe(time.Since(start).Seconds()) }()

	rawSet, raw, err := e.opts.Extractor.Extract(frame.Landmarks, frame.Width, frame.Height)
	if err != nil {
		e.reportExtraction(err)
	}
	out := rawSet
	if e.opts.Smoother != nil {
		out = e.opts.Smoother.Apply(rawSet)
	}

	e.mu.Lock()
	e.frames++
	e.latest = out
	e.raw, e.haveRaw = raw, true
	e.lastFrame = frame.Timestamp
	if e.lastFrame.IsZero() {
		e.lastFrame = start
	}
	onFrame := e.opts.OnFrame
	e.mu.Unlock()
	monitor.FramesTotal.Inc()

	if e.opts.Recorder != nil {
		if _, err := e.opts.Recorder.Record(out); err != nil {
			e.log.Error("recording failed", zap.Error(err))
		}
	}
	if e.opts.Sink != nil && (e.limiter == nil || e.limiter.Allow()) {
		if err := e.opts.Sink.Send(out); err != nil {
			monitor.SendErrors.Inc()
			e.log.Warn("send failed", zap.Error(err))
		} else {
			monitor.DatagramsSent.Inc()
		}
	}
	if onFrame != nil {
		onFrame(frame, out)
	}
	return out
}

func (e *Engine) reportExtraction(err error) {
	errs := multierr.Errors(err)
	for _, one := range errs {
		var le *features.LandmarkError
		switch {
		case errors.As(one, &le):
			monitor.ChannelErrors.WithLabelValues(le.Channel).Inc()
		case errors.Is(one, headpose.ErrSolveFailed):
			monitor.PoseFailures.Inc()
		case errors.Is(one, headpose.ErrCalibrationWrite):
			e.log.Error("head calibration not persisted", zap.Error(one))
		}
	}
	e.log.Warn("feature extraction degraded", zap.Int("failed", len(errs)), zap.Errors("errors", errs))
}

func (e *Engine) CalibrateFacial() (map[string]float64, error) {
	e.mu.RLock()
	raw, ok := e.raw, e.haveRaw
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNoFrame
	}
	if !raw.FacialComplete() {
		return nil, fmt.Errorf("%w: %s", ErrChannelInvalid, strings.Join(raw.Missing, ", "))
	}
	rec, err := e.opts.Calibration.SaveFacialCalibration(raw.FacialValues())
	if err != nil {
		return nil, err
	}
	e.log.Info("facial calibration saved", zap.Any("calibration", rec))
	return rec, nil
}

func (e *Engine) CalibrateHead() (map[string]float64, error) {
	e.mu.RLock()
	raw, ok := e.raw, e.haveRaw
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNoFrame
	}
	if !raw.HeadValid {
		return nil, ErrNoPose
	}
	rec, err := e.opts.Calibration.SaveHeadCalibration(raw.HeadPitch, raw.HeadYaw, raw.HeadRoll)
	if err != nil {
		return nil, err
	}
	e.log.Info("head calibration saved", zap.Any("calibration", rec))
	return rec, nil
}

func (e *Engine) ResetCalibration() error {
	if err := e.opts.Calibration.Reset(); err != nil {
		return err
	}
	e.log.Info("calibration reset")
	return nil
}

// SetOnFrame replaces the per-frame callback. It is refused while Run is
// active.
func (e *Engine) SetOnFrame(fn func(frame iface.Frame, out iface.FeatureSet)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == RUNNING {
		return ErrRunning
	}
	e.opts.OnFrame = fn
	return nil
}

// Latest returns a copy of the most recent output, or nil before the first
// frame.
func (e *Engine) Latest() iface.FeatureSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return nil
	}
	return e.latest.Clone()
}

func (e *Engine) SetSmoothing(enabled bool) {
	if e.opts.Smoother == nil {
		return
	}
	e.opts.Smoother.SetEnabled(enabled)
	e.log.Info("smoothing toggled", zap.Bool("enabled", enabled))
}

func (e *Engine) Status() iface.Status {
	e.mu.RLock()
	st := iface.Status{
		State:     e.state,
		Frames:    e.frames,
		LastFrame: e.lastFrame,
	}
	if e.latest != nil {
		st.Features = e.latest.Clone()
	}
	e.mu.RUnlock()
	if e.opts.Smoother != nil {
		st.Smoothing = e.opts.Smoother.Enabled()
	}
	if e.opts.Calibration != nil {
		st.HeadCalibrated = e.opts.Calibration.HasHeadCalibration()
	}
	return st
}
