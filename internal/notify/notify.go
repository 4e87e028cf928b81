package notify

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/config"
	"github.com/liuscraft/orion-speak/internal/logging"
)

// LogNotifier 把需要用户处理的失败写成 error 日志
type LogNotifier struct {
	log *logging.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Component("Notify")}
}

func (n *LogNotifier) NotifyFailure(f audio.Failure) {
	origin := f.Origin
	if origin == "" {
		origin = "-"
	}
	n.log.Errorf("speech request %s (origin %s) failed at %s: %v", f.RequestID, origin, f.Reason, f.Err)
}

// SentryNotifier 上报到 Sentry，请求信息放在 scope tag 中
type SentryNotifier struct {
	hub *sentry.Hub
}

// NewSentryNotifier hub 为空时使用全局 hub
func NewSentryNotifier(hub *sentry.Hub) *SentryNotifier {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryNotifier{hub: hub}
}

func (n *SentryNotifier) NotifyFailure(f audio.Failure) {
	if f.Err == nil {
		return
	}
	n.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("request_id", f.RequestID)
		scope.SetTag("reason", string(f.Reason))
		if f.Origin != "" {
			scope.SetTag("origin", f.Origin)
		}
		n.hub.CaptureException(f.Err)
	})
}

// Multi 依次通知所有 notifier
type Multi []audio.Notifier

func (m Multi) NotifyFailure(f audio.Failure) {
	for _, n := range m {
		if n != nil {
			n.NotifyFailure(f)
		}
	}
}

// InitSentry 在配置了 DSN 时初始化全局 Sentry，返回 flush 函数
func InitSentry(cfg config.SentryConfig) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	env := cfg.Environment
	if env == "" {
		env = "development"
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: env,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// FromConfig 日志通知总是启用，配置了 Sentry 时追加 Sentry 上报
func FromConfig(cfg config.SentryConfig) audio.Notifier {
	if cfg.DSN == "" {
		return NewLogNotifier()
	}
	return Multi{NewLogNotifier(), NewSentryNotifier(nil)}
}
