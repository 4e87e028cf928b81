package notify

import (
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/config"
)

type recordingNotifier struct {
	got []audio.Failure
}

func (r *recordingNotifier) NotifyFailure(f audio.Failure) {
	r.got = append(r.got, f)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := Multi{a, nil, b}
	f := audio.Failure{RequestID: "r1", Reason: audio.FailureMissingKey, Err: audio.ErrMissingAPIKey}

	m.NotifyFailure(f)

	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected one failure each, got %d and %d", len(a.got), len(b.got))
	}
	if a.got[0].RequestID != "r1" || b.got[0].Reason != audio.FailureMissingKey {
		t.Errorf("unexpected failures: %+v %+v", a.got[0], b.got[0])
	}
}

func TestLogNotifierDoesNotPanic(t *testing.T) {
	n := NewLogNotifier()
	n.NotifyFailure(audio.Failure{RequestID: "r1", Reason: audio.FailureConnect, Err: errors.New("refused")})
	n.NotifyFailure(audio.Failure{RequestID: "r2", Origin: "bus", Reason: audio.FailureSetup})
}

func TestSentryNotifierWithoutClient(t *testing.T) {
	hub := sentry.NewHub(nil, sentry.NewScope())
	n := NewSentryNotifier(hub)
	n.NotifyFailure(audio.Failure{RequestID: "r1", Reason: audio.FailureStream, Err: errors.New("boom")})
	n.NotifyFailure(audio.Failure{RequestID: "r2", Reason: audio.FailureStream})
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(config.SentryConfig{}).(*LogNotifier); !ok {
		t.Error("expected log notifier without DSN")
	}
	m, ok := FromConfig(config.SentryConfig{DSN: "https://key@example.com/1"}).(Multi)
	if !ok || len(m) != 2 {
		t.Fatalf("expected two notifiers with DSN, got %T", m)
	}
}

func TestInitSentryWithoutDSN(t *testing.T) {
	flush, err := InitSentry(config.SentryConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flush()
}
