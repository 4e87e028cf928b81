package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string // debug/info/warn/error，默认 info
	Format string // console/json，默认 console
}

var (
	current    atomic.Pointer[zap.Logger]
	traceID    atomic.Value
	generation atomic.Uint64
)

func init() {
	current.Store(zap.NewNop())
}

func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if l := strings.TrimSpace(cfg.Level); l != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(l))
		if err != nil {
			return fmt.Errorf("invalid log level: %s", cfg.Level)
		}
		level = parsed
	}

	var zapCfg zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "", "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		// 开发模式默认对 Warn 打印堆栈，播报失败是常态，关掉
		zapCfg.DisableStacktrace = true
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	setLogger(logger)
	return nil
}

func setLogger(l *zap.Logger) {
	current.Store(l)
}

func Sync() {
	_ = current.Load().Sync()
}

// SetTraceID 进程级 trace id，每条日志都会带上
func SetTraceID(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	traceID.Store(id)
}

func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// SetGeneration 记录当前打断代数，之后的日志按代数区分
func SetGeneration(gen uint64) {
	generation.Store(gen)
}

func Debugf(format string, args ...interface{}) {
	withFields().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	withFields().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	withFields().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	withFields().Errorf(format, args...)
}

// Logger 组件日志，自动带上组件名前缀和附加字段
type Logger struct {
	prefix string
	fields []interface{}
}

// Component 返回带 "Name: " 前缀的组件日志
func Component(name string) *Logger {
	return &Logger{prefix: name + ": "}
}

// With 返回附加了键值对字段的新 Logger，原 Logger 不变
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keysAndValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keysAndValues...)
	return &Logger{prefix: l.prefix, fields: fields}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugared().Debugf(l.prefix+format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugared().Infof(l.prefix+format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugared().Warnf(l.prefix+format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugared().Errorf(l.prefix+format, args...)
}

func (l *Logger) sugared() *zap.SugaredLogger {
	s := withFields()
	if len(l.fields) > 0 {
		s = s.With(l.fields...)
	}
	return s
}

func withFields() *zap.SugaredLogger {
	tid, _ := traceID.Load().(string)
	if tid == "" {
		tid = "trace-unknown"
	}
	gen := generation.Load()
	return current.Load().Sugar().With(
		"trace_id", tid,
		"generation", gen,
		"log_id", fmt.Sprintf("%s-%d", tid, gen),
	)
}
