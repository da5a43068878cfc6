// Package config loads config.yaml, fills defaults and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"FaceMocap/headpose"
	"FaceMocap/logger"
	"FaceMocap/smoother"
)

const (
	DefaultPath = "config.yaml"

	EnvConfig   = "FACEMOCAP_CONFIG"
	EnvUDPHost  = "FACEMOCAP_UDP_HOST"
	EnvUDPPort  = "FACEMOCAP_UDP_PORT"
	EnvLogLevel = "FACEMOCAP_LOG_LEVEL"
)

type UDP struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

type Smoothing struct {
	Enable  bool             `yaml:"enable"`
	Factors smoother.Factors `yaml:"factors"`
}

type Calibration struct {
	FacialFile string `yaml:"facial_file" validate:"required"`
	HeadFile   string `yaml:"head_file" validate:"required"`
	RefPoints  [2]int `yaml:"ref_points"`
}

type Camera struct {
	// Device 为设备序号或视频文件路径，空则自动探测 0..3
	Device  string `yaml:"device"`
	Backend string `yaml:"backend" validate:"oneof=auto v4l2 dshow msmf avfoundation"`
	Width   int    `yaml:"width" validate:"gt=0"`
	Height  int    `yaml:"height" validate:"gt=0"`
	Mirror  bool   `yaml:"mirror"`
	Preview bool   `yaml:"preview"`
}

type Detector struct {
	Kind      string `yaml:"kind" validate:"oneof=http ws"`
	URL       string `yaml:"url" validate:"required"`
	TimeoutMs int    `yaml:"timeout_ms" validate:"gt=0"`
}

type Source struct {
	Kind       string  `yaml:"kind" validate:"oneof=camera replay push"`
	ReplayFile string  `yaml:"replay_file" validate:"required_if=Kind replay"`
	ReplayFPS  float64 `yaml:"replay_fps" validate:"gte=0"`
	PushBuffer int     `yaml:"push_buffer" validate:"gt=0"`
}

type Engine struct {
	// SendFPS 限制发送频率，0 表示不限
	SendFPS float64 `yaml:"send_fps" validate:"gte=0"`
}

type Recording struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	FPS    float64 `yaml:"fps" validate:"gt=0"`
}

type Redis struct {
	Enable   bool   `yaml:"enable"`
	Addr     string `yaml:"addr" validate:"required_if=Enable true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Channel  string `yaml:"channel" validate:"required_if=Enable true"`
}

type Receiver struct {
	Host      string `yaml:"host" validate:"required"`
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	QueueSize int    `yaml:"queue_size" validate:"gt=0"`
	TickMs    int    `yaml:"tick_ms" validate:"gt=0"`
	AutoKey   bool   `yaml:"auto_key"`
	BakeFile  string `yaml:"bake_file"`
	// Controls 按控件开关，缺省的控件视为启用
	Controls map[string]bool `yaml:"controls" validate:"dive,keys,oneof=mouth teeth head left_eyelid right_eyelid left_brow right_brow left_pupil right_pupil,endkeys"`
}

type Server struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port" validate:"min=1,max=65535"`
}

type Registry struct {
	Enable bool   `yaml:"enable"`
	Host   string `yaml:"host" validate:"required_if=Enable true"`
	Port   int    `yaml:"port" validate:"min=0,max=65535"`
}

type Config struct {
	Log         logger.Config   `yaml:"log"`
	UDP         UDP             `yaml:"udp"`
	Smoothing   Smoothing       `yaml:"smoothing"`
	Calibration Calibration     `yaml:"calibration"`
	HeadPose    headpose.Config `yaml:"head_pose"`
	Camera      Camera          `yaml:"camera"`
	Detector    Detector        `yaml:"detector"`
	Source      Source          `yaml:"source"`
	Engine      Engine          `yaml:"engine"`
	Recording   Recording       `yaml:"recording"`
	Redis       Redis           `yaml:"redis"`
	Receiver    Receiver        `yaml:"receiver"`
	API         Server          `yaml:"api"`
	GRPC        Server          `yaml:"grpc"`
	Registry    Registry        `yaml:"registry"`
}

func Default() Config {
	return Config{
		Log: logger.Config{Level: "info", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7},
		UDP: UDP{Host: "127.0.0.1", Port: 5005},
		Smoothing: Smoothing{
			Enable:  true,
			Factors: smoother.DefaultFactors(),
		},
		Calibration: Calibration{
			FacialFile: "calibration.json",
			HeadFile:   "head_calibration.json",
			RefPoints:  [2]int{133, 362},
		},
		HeadPose: headpose.DefaultConfig(),
		Camera: Camera{
			Backend: "auto",
			Width:   1280,
			Height:  720,
			Mirror:  true,
		},
		Detector: Detector{Kind: "http", URL: "http://127.0.0.1:8090/facemesh", TimeoutMs: 500},
		Source:   Source{Kind: "camera", PushBuffer: 4},
		Engine:   Engine{SendFPS: 30},
		Recording: Recording{
			Path: "recordings",
			FPS:  30,
		},
		Redis: Redis{Addr: "127.0.0.1:6379", Channel: "facemocap:features"},
		Receiver: Receiver{
			Host:      "0.0.0.0",
			Port:      5005,
			QueueSize: 64,
			TickMs:    20,
			Controls: map[string]bool{
				"mouth": true, "teeth": true, "head": true,
				"left_eyelid": true, "right_eyelid": true,
				"left_brow": true, "right_brow": true,
				"left_pupil": true, "right_pupil": true,
			},
		},
		API:      Server{Enable: true, Port: 8080},
		GRPC:     Server{Enable: true, Port: 50051},
		Registry: Registry{Port: 8000},
	}
}

var validate = validator.New()

// Load reads path (or $FACEMOCAP_CONFIG when path is empty). A missing file is
// created with the defaults. Values from .env and the environment win over the
// file.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvUDPHost); v != "" {
		cfg.UDP.Host = v
	}
	if v := os.Getenv(EnvUDPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUDPPort, err)
		}
		cfg.UDP.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	return nil
}
