package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	adhoc "FaceMocap/Adhoc"
	"FaceMocap/api"
	"FaceMocap/calibration"
	"FaceMocap/capture"
	"FaceMocap/config"
	"FaceMocap/detector"
	"FaceMocap/engine"
	"FaceMocap/features"
	backend "FaceMocap/gRPC"
	"FaceMocap/headpose"
	iface "FaceMocap/interface"
	"FaceMocap/logger"
	"FaceMocap/monitor"
	"FaceMocap/receiver"
	"FaceMocap/recording"
	"FaceMocap/smoother"
	"FaceMocap/source"
	"FaceMocap/transport"
)

func GetOutboundIP() (string, error) {
	// 8.8.8.8 是 Google DNS，这里只是为了建立路由路径得到本地出口 IP
	// 实际并没有真正的物理连接，所以不需要联网也可以（只要有路由表）
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

func main() {
	// highgui 预览窗口必须留在创建它的线程上
	runtime.LockOSThread()

	configPath := flag.String("config", "", "path to config.yaml (default $FACEMOCAP_CONFIG or ./config.yaml)")
	mode := flag.String("mode", adhoc.SenderMode, "sender or receiver")
	playback := flag.String("playback", "", "re-send a recorded CSV file over UDP and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(strings.Repeat("#", 64))
	log.Info("FaceMocap starting", zap.String("mode", *mode), zap.Int("cpus", runtime.NumCPU()))
	logger.S().Infof("UDP %s:%d, source %s, smoothing %v, API %v:%d, gRPC %v:%d",
		cfg.UDP.Host, cfg.UDP.Port, cfg.Source.Kind, cfg.Smoothing.Enable,
		cfg.API.Enable, cfg.API.Port, cfg.GRPC.Enable, cfg.GRPC.Port)
	log.Info(strings.Repeat("#", 64))

	switch {
	case *playback != "":
		err = runPlayback(ctx, cfg, *playback)
	case *mode == adhoc.SenderMode:
		err = runSender(ctx, stop, cfg)
	case *mode == adhoc.ReceiverMode:
		err = runReceiver(ctx, cfg)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Error("FaceMocap stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	log.Info("Safely exited")
}

func newSink(cfg config.Config) (iface.Sink, error) {
	udp, err := transport.NewUDPSink(cfg.UDP.Host, cfg.UDP.Port)
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enable {
		return udp, nil
	}
	redisSink := transport.NewRedisSink(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
	return transport.MultiSink{udp, redisSink}, nil
}

func newDetector(cfg config.Detector) detector.LandmarkDetector {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if cfg.Kind == "ws" {
		return detector.NewWSDetector(cfg.URL, timeout)
	}
	return detector.NewHTTPDetector(cfg.URL, timeout)
}

// sourceFor builds the configured frame source. push is non-nil only for the
// push kind; cam only for the camera kind.
func sourceFor(cfg config.Config) (src iface.FrameSource, push *source.Push, cam *capture.DetectingSource, err error) {
	switch cfg.Source.Kind {
	case "replay":
		src, err = source.OpenReplay(cfg.Source.ReplayFile, cfg.Source.ReplayFPS)
		return src, nil, nil, err
	case "push":
		push = source.NewPush(cfg.Source.PushBuffer)
		return push, push, nil, nil
	default:
		camera, err := capture.OpenCamera(capture.Config{
			Device:  cfg.Camera.Device,
			Backend: cfg.Camera.Backend,
			Width:   cfg.Camera.Width,
			Height:  cfg.Camera.Height,
			Mirror:  cfg.Camera.Mirror,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		cam = capture.NewDetectingSource(camera, newDetector(cfg.Detector))
		return cam, nil, cam, nil
	}
}

func runSender(ctx context.Context, stop context.CancelFunc, cfg config.Config) error {
	log := logger.Log()
	store := calibration.NewStore(cfg.Calibration.FacialFile, cfg.Calibration.HeadFile)
	estimator := headpose.NewEstimator(cfg.HeadPose, store)

	src, push, cam, err := sourceFor(cfg)
	if err != nil {
		return fmt.Errorf("open %s source: %w", cfg.Source.Kind, err)
	}
	sink, err := newSink(cfg)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("open sink: %w", err)
	}
	var rec *recording.Recorder
	if cfg.Recording.Enable {
		rec, err = recording.NewRecorder(cfg.Recording.Path, cfg.Recording.FPS)
		if err != nil {
			_ = src.Close()
			_ = sink.Close()
			return err
		}
		log.Info("recording", zap.String("file", rec.Path()))
	}

	eng := engine.New(engine.Options{
		Source:      src,
		Sink:        sink,
		Extractor:   features.NewExtractor(store, estimator, cfg.Calibration.RefPoints),
		Smoother:    smoother.New(cfg.Smoothing.Factors, cfg.Smoothing.Enable),
		Calibration: store,
		SendFPS:     cfg.Engine.SendFPS,
		Recorder:    rec,
	})
	if cam != nil && cfg.Camera.Preview {
		preview := capture.NewPreview(cam, eng, stop)
		defer preview.Close()
		if err := eng.SetOnFrame(preview.OnFrame); err != nil {
			log.Warn("preview disabled", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.StartMon(gctx, 0)
		return nil
	})
	if cfg.API.Enable {
		srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.API.Port), Handler: api.NewRouter(eng)}
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}
	if cfg.GRPC.Enable {
		s, err := backend.StartGRPCServer(cfg.GRPC.Port, &backend.Server{Ctrl: eng, Push: push, OnShutdown: stop})
		if err != nil {
			_ = src.Close()
			_ = sink.Close()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			s.GracefulStop()
			return nil
		})
	}
	if cfg.Registry.Enable {
		startHeartbeat(gctx, g, cfg, adhoc.SenderMode)
	}

	log.Info("sending features", zap.String("udp", fmt.Sprintf("%s:%d", cfg.UDP.Host, cfg.UDP.Port)),
		zap.String("source", cfg.Source.Kind), zap.Bool("smoothing", cfg.Smoothing.Enable))
	// 引擎在主线程运行，预览窗口的回调也在这里
	runErr := eng.Run(gctx)
	stop()
	return multierr.Combine(runErr, g.Wait())
}

func runReceiver(ctx context.Context, cfg config.Config) error {
	log := logger.Log()
	lis, err := receiver.Listen(cfg.Receiver.Host, cfg.Receiver.Port)
	if err != nil {
		return err
	}
	queue := receiver.NewQueue(cfg.Receiver.QueueSize)
	rig := receiver.NewRig(cfg.Receiver.Controls, cfg.Receiver.AutoKey)
	consumer := receiver.NewConsumer(queue, rig, time.Duration(cfg.Receiver.TickMs)*time.Millisecond)

	metricsPort := 0
	if cfg.API.Enable {
		metricsPort = cfg.API.Port
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.StartMon(gctx, metricsPort)
		return nil
	})
	g.Go(func() error { return lis.Run(gctx, queue) })
	g.Go(func() error {
		consumer.Run(gctx)
		return nil
	})
	if cfg.Registry.Enable {
		startHeartbeat(gctx, g, cfg, adhoc.ReceiverMode)
	}
	log.Info("receiving features", zap.String("addr", lis.Addr().String()), zap.Bool("autoKey", cfg.Receiver.AutoKey))

	err = g.Wait()
	log.Info("receiver stopped", zap.Int("frames", consumer.Frame()), zap.Uint64("dropped", queue.Dropped()))
	if cfg.Receiver.AutoKey && cfg.Receiver.BakeFile != "" {
		err = multierr.Append(err, bake(rig, cfg.Receiver.BakeFile))
	}
	return err
}

func bake(rig *receiver.Rig, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create bake file: %w", err)
	}
	if err := rig.Bake(f); err != nil {
		_ = f.Close()
		return err
	}
	logger.Log().Info("animation baked", zap.String("file", path), zap.Int("keyframes", len(rig.Keyframes())))
	return f.Close()
}

func runPlayback(ctx context.Context, cfg config.Config, path string) error {
	player, err := recording.OpenPlayer(path)
	if err != nil {
		return err
	}
	defer player.Close()
	sink, err := newSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()
	n, err := engine.Playback(ctx, player, sink)
	logger.Log().Info("playback finished", zap.String("file", path), zap.Int("frames", n))
	return err
}

func startHeartbeat(ctx context.Context, g *errgroup.Group, cfg config.Config, mode string) {
	ip, err := GetOutboundIP()
	if err != nil {
		logger.Log().Warn("Failed to get outbound IP", zap.Error(err))
	}
	var reg adhoc.RegServerConfig
	reg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
	node := adhoc.Node{IP: ip, Mode: mode}
	if mode == adhoc.SenderMode {
		node.UDPTarget = fmt.Sprintf("%s:%d", cfg.UDP.Host, cfg.UDP.Port)
		if cfg.GRPC.Enable {
			node.GRPCPort = cfg.GRPC.Port
		}
	} else {
		node.UDPTarget = fmt.Sprintf("%s:%d", cfg.Receiver.Host, cfg.Receiver.Port)
	}
	hb := adhoc.NewHeartbeat(reg, node)
	g.Go(func() error {
		hb.Run(ctx)
		return nil
	})
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("HTTP API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
