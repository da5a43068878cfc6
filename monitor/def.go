package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"FaceMocap/logger"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facemocap_frames_total",
		Help: "Frames that produced a feature set",
	})
	FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facemocap_frames_skipped_total",
		Help: "Frames skipped because no face was found or the source failed",
	})
	ChannelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facemocap_channel_errors_total",
		Help: "Per-channel feature extraction failures",
	}, []string{"channel"})
	PoseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facemocap_pose_failures_total",
		Help: "Head pose solves that failed and held the previous angles",
	})
	DatagramsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facemocap_datagrams_sent_total",
		Help: "Feature frames handed to the sinks",
	})
	SendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facemocap_send_errors_total",
		Help: "Feature frames that at least one sink failed to send",
	})
	DatagramsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facemocap_datagrams_received_total",
		Help: "Feature datagrams received and queued by the rig side",
	})
	QueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facemocap_queue_dropped_total",
		Help: "Queued frames evicted because the consumer fell behind",
	})
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	FrameSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "facemocap_frame_seconds",
		Help:    "Time spent extracting, smoothing and sending one frame",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)

func init() {
	Registry.MustRegister(
		memUsage, cpuUsage,
		FramesTotal, FramesSkipped, ChannelErrors, PoseFailures,
		DatagramsSent, SendErrors, DatagramsReceived, QueueDropped,
		GRPCTotal, FrameSeconds,
	)
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func checkProcessInfo(p *process.Process) {
	memInfo, err := p.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := p.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon samples process CPU and RSS every 500ms until ctx is done. With a
// non-zero port it also serves /metrics on its own listener, for modes that
// run without the HTTP API.
func StartMon(ctx context.Context, port int) {
	log := logger.Named("monitor")
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Error("process lookup failed", zap.Error(err))
		return
	}

	var srv *http.Server
	if port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", Handler())
		srv = &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			checkProcessInfo(p)
		}
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}
