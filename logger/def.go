package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Config 日志配置，File 为空时只输出到 stderr
type Config struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB" validate:"gte=0"`
	MaxBackups  int    `yaml:"maxBackups" validate:"gte=0"`
	MaxAgeDays  int    `yaml:"maxAgeDays" validate:"gte=0"`
	Compress    bool   `yaml:"compress"`
}

// InitProduction 初始化一个 production logger
func InitProduction() error {
	return Init(Config{Level: "info"})
}

// InitDevelopment 初始化一个 development logger（更友好地输出到控制台）
func InitDevelopment() error {
	return Init(Config{Level: "debug", Development: true})
}

// Init builds the process logger from cfg and installs it as the zap global.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	var encCfg zapcore.EncoderConfig
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encCfg = zap.NewProductionEncoderConfig()
	}
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Development {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)}
	if cfg.File != "" {
		// 文件输出始终使用 JSON，方便后续检索
		rotate := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotate), level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	setLogger(zap.New(zapcore.NewTee(cores...), opts...))
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(strings.ToLower(s))
}

// setLogger 内部设置并替换 zap 全局 logger
func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Log 返回 *zap.Logger（非 nil）
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	// 如果还没初始化，返回 zap 的全局（可能是 noop）
	return zap.L()
}

// S 返回 *zap.SugaredLogger（非 nil）
func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.Logger {
	return Log().Named(component)
}

// Sync flush logs
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
