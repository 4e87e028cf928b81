package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/liuscraft/orion-speak/internal/logging"
	"github.com/liuscraft/orion-speak/internal/tts"
)

var errStale = errors.New("request superseded")

// socketWorker 把一个请求变成一串 AudioEvent：
// 过期检查 → 建连 → setup 握手 → 发送文本 → 流式接收。
// 每个请求无论结果如何都恰好推送一个 End，连接在所有路径上关闭。
type socketWorker struct {
	id        int
	m         *Manager
	cfg       *TTSPipelineConfig
	transport tts.Transport
	creds     CredentialProvider
	setup     SetupResolver
	notifier  Notifier
	observer  PipelineObserver
	log       *logging.Logger
}

func (w *socketWorker) run() {
	w.log.Debugf("started")
	defer w.log.Debugf("exited")

	for {
		u, ok := w.m.next()
		if !ok {
			return
		}
		if backoff := w.process(u); backoff > 0 {
			w.log.Debugf("cooling down for %v", backoff)
			if !w.m.sleep(backoff) {
				return
			}
		}
	}
}

// process 处理一个请求，返回处理下一个请求前的冷却时间
func (w *socketWorker) process(u *Utterance) time.Duration {
	defer u.events.end()
	log := w.log.With("request_id", u.ID())

	if w.m.IsStale(u) {
		log.Debugf("skip stale request (gen=%d, current=%d)", u.Generation(), w.m.Generation())
		w.observer.RequestStale("queued")
		return 0
	}

	apiKey := w.creds.APIKey()
	if apiKey == "" {
		w.failed(u, FailureMissingKey, ErrMissingAPIKey, true)
		return w.cfg.MissingKeyBackoff
	}

	conn, err := w.transport.Dial(w.m.Context(), apiKey)
	if err != nil {
		if w.m.IsStale(u) {
			return 0
		}
		w.failed(u, FailureConnect, err, errors.Is(err, tts.ErrAuth))
		return w.cfg.ConnectBackoff
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debugf("close connection: %v", err)
		}
	}()

	if err := w.handshake(u, conn); err != nil {
		if errors.Is(err, errStale) {
			log.Debugf("abandoned during setup")
			w.observer.RequestStale("setup")
			return 0
		}
		w.failed(u, FailureSetup, err, errors.Is(err, tts.ErrAuth))
		return w.cfg.ConnectBackoff
	}

	text, err := tts.BuildText(u.req.Text)
	if err == nil {
		err = conn.Send(text)
	}
	if err != nil {
		w.failed(u, FailureSend, err, false)
		return 0
	}

	w.stream(u, conn, log)
	return 0
}

func (w *socketWorker) handshake(u *Utterance, conn tts.Conn) error {
	profile := w.setup.Resolve(u.req)
	speed := profile.Speed
	if u.req.Realtime {
		speed = tts.SpeedNormal
	}

	msg, err := tts.BuildSetup(tts.SetupParams{
		Model:       w.cfg.Model,
		Voice:       profile.Voice,
		Instruction: profile.Instruction,
		Speed:       speed,
	})
	if err != nil {
		return err
	}
	if err := conn.Send(msg); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}

	deadline := time.Now().Add(w.cfg.SetupTimeout)
	for {
		if w.m.IsStale(u) {
			return errStale
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrSetupTimeout
		}
		wait := w.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}

		msg, err := conn.Read(wait)
		if errors.Is(err, tts.ErrWouldBlock) {
			continue
		}
		if err != nil {
			return fmt.Errorf("await setup ack: %w", err)
		}

		ev, err := tts.ParseMessage(msg)
		if err != nil {
			return fmt.Errorf("malformed setup ack: %w", err)
		}
		if ev.Err != nil {
			return ev.Err
		}
		if ev.SetupComplete {
			return nil
		}
	}
}

func (w *socketWorker) stream(u *Utterance, conn tts.Conn, log *logging.Logger) {
	chunks := 0
	for {
		if w.m.IsStale(u) {
			log.Debugf("abandoned mid-stream after %d chunks", chunks)
			w.observer.RequestStale("stream")
			return
		}

		msg, err := conn.Read(w.cfg.PollInterval)
		if errors.Is(err, tts.ErrWouldBlock) {
			continue
		}
		if err != nil {
			// 干净关闭等同于结束；异常关闭保留已推送的音频
			if err != tts.ErrClosed {
				w.failed(u, FailureStream, err, false)
			}
			log.Debugf("connection closed after %d chunks", chunks)
			return
		}

		ev, err := tts.ParseMessage(msg)
		if err != nil {
			log.Warnf("skip frame: %v", err)
			continue
		}
		for _, chunk := range ev.Audio {
			if len(chunk) == 0 {
				continue
			}
			u.events.pushData(chunk)
			w.observer.AudioChunk(len(chunk))
			chunks++
		}
		if ev.Err != nil {
			w.failed(u, FailureStream, ev.Err, errors.Is(ev.Err, tts.ErrAuth))
			return
		}
		if ev.TurnComplete || ev.Interrupted {
			log.Debugf("turn complete, %d chunks", chunks)
			return
		}
	}
}

func (w *socketWorker) failed(u *Utterance, reason FailureReason, err error, notify bool) {
	u.fail(reason, err)
	w.observer.RequestFailed(reason)
	w.log.Warnf("request %s failed at %s: %v (retryable=%v)", u.ID(), reason, err, tts.IsRetryable(err))
	if notify && w.notifier != nil {
		w.notifier.NotifyFailure(Failure{
			RequestID: u.ID(),
			Origin:    u.req.Origin,
			Reason:    reason,
			Err:       err,
		})
	}
}
