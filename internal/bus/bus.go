// Package bus 通过 NATS 让远端进程提交朗读请求、打断、停止和调整倍速
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/config"
	"github.com/liuscraft/orion-speak/internal/logging"
	"github.com/liuscraft/orion-speak/internal/text"
	"github.com/liuscraft/orion-speak/internal/tts"
)

// Speaker 由 audio.TTSPipeline 实现
type Speaker interface {
	Speak(req audio.SynthesisRequest) (*audio.Utterance, error)
	Interrupt() uint64
	StopIfActive(id string) bool
	SetPlaybackRate(rate float64) error
}

// Publisher *nats.Conn 满足此接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Subjects struct {
	Request   string
	Interrupt string
	Stop      string
	Rate      string
	Status    string
}

func NewSubjects(prefix string) Subjects {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "orion.speak"
	}
	return Subjects{
		Request:   prefix + ".request",
		Interrupt: prefix + ".interrupt",
		Stop:      prefix + ".stop",
		Rate:      prefix + ".rate",
		Status:    prefix + ".status",
	}
}

type SpeakRequest struct {
	ID       string `json:"id,omitempty"`
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Speed    string `json:"speed,omitempty"`
	Realtime bool   `json:"realtime,omitempty"`
	Origin   string `json:"origin,omitempty"`
	// Segment 为 true 时先去除 Markdown 并按句切分，每句一个请求
	Segment bool `json:"segment,omitempty"`
}

// SpeakReply 分段请求要么全部入队，要么全部撤回；
// 失败时 FailedSegment 为出错分段的序号（从 1 开始），IDs 为空。
type SpeakReply struct {
	IDs           []string `json:"ids,omitempty"`
	Generation    uint64   `json:"generation"`
	Error         string   `json:"error,omitempty"`
	FailedSegment int      `json:"failed_segment,omitempty"`
}

type StopRequest struct {
	ID string `json:"id"`
}

type StopReply struct {
	Stopped bool `json:"stopped"`
}

type RateRequest struct {
	Rate float64 `json:"rate"`
}

type InterruptReply struct {
	Generation uint64 `json:"generation"`
}

type ErrorReply struct {
	Error string `json:"error"`
}

// Status 每个请求结束时发布一次
type Status struct {
	ID         string    `json:"id"`
	Origin     string    `json:"origin,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Samples    int       `json:"samples"`
	Generation uint64    `json:"generation"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Connect 按配置连接 NATS
func Connect(cfg config.BusConfig) (*nats.Conn, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	timeout := time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url,
		nats.Name("orion-speak"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warnf("bus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Infof("bus: reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logging.Infof("bus: connected to %s", url)
	return conn, nil
}

// Bridge 把 NATS 消息翻译为管道调用
type Bridge struct {
	speaker  Speaker
	pub      Publisher
	subjects Subjects
	filter   text.MarkdownFilter
	maxRunes int

	subs []*nats.Subscription
	log  *logging.Logger
}

func NewBridge(speaker Speaker, pub Publisher, subjects Subjects) *Bridge {
	return &Bridge{
		speaker:  speaker,
		pub:      pub,
		subjects: subjects,
		filter:   text.NewMarkdownFilter(nil),
		maxRunes: 200,
		log:      logging.Component("Bus"),
	}
}

// Start 订阅控制主题
func (b *Bridge) Start(conn *nats.Conn) error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{b.subjects.Request, b.handleRequest},
		{b.subjects.Interrupt, b.handleInterrupt},
		{b.subjects.Stop, b.handleStop},
		{b.subjects.Rate, b.handleRate},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(h.subject, h.handler)
		if err != nil {
			b.Close()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		b.subs = append(b.subs, sub)
	}
	b.log.Infof("listening on %s.*", strings.TrimSuffix(b.subjects.Request, ".request"))
	return nil
}

func (b *Bridge) Close() {
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.log.Debugf("drain %s: %v", sub.Subject, err)
		}
	}
	b.subs = nil
}

func (b *Bridge) handleRequest(msg *nats.Msg) {
	var req SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.log.Warnf("decode request: %v", err)
		b.respond(msg, ErrorReply{Error: "malformed request"})
		return
	}

	texts := []string{req.Text}
	if req.Segment {
		texts = text.Prepare(req.Text, b.filter, b.maxRunes)
	}

	var reply SpeakReply
	for i, t := range texts {
		id := req.ID
		if id != "" && len(texts) > 1 {
			id = fmt.Sprintf("%s-%d", req.ID, i+1)
		}
		u, err := b.speaker.Speak(audio.SynthesisRequest{
			ID:       id,
			Text:     t,
			Voice:    req.Voice,
			Speed:    tts.ParseSpeed(req.Speed),
			Realtime: req.Realtime,
			Origin:   req.Origin,
		})
		if err != nil {
			b.log.Warnf("speak rejected at segment %d/%d: %v", i+1, len(texts), err)
			for _, queued := range reply.IDs {
				b.speaker.StopIfActive(queued)
			}
			reply = SpeakReply{Error: err.Error(), FailedSegment: i + 1}
			break
		}
		reply.IDs = append(reply.IDs, u.ID())
		reply.Generation = u.Generation()
	}
	if len(texts) == 0 {
		reply.Error = audio.ErrEmptyText.Error()
	}
	b.respond(msg, reply)
}

func (b *Bridge) handleInterrupt(msg *nats.Msg) {
	gen := b.speaker.Interrupt()
	b.respond(msg, InterruptReply{Generation: gen})
}

func (b *Bridge) handleStop(msg *nats.Msg) {
	var req StopRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		b.respond(msg, ErrorReply{Error: "stop requires an id"})
		return
	}
	b.respond(msg, StopReply{Stopped: b.speaker.StopIfActive(req.ID)})
}

func (b *Bridge) handleRate(msg *nats.Msg) {
	var req RateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.respond(msg, ErrorReply{Error: "malformed rate"})
		return
	}
	if err := b.speaker.SetPlaybackRate(req.Rate); err != nil {
		b.respond(msg, ErrorReply{Error: err.Error()})
		return
	}
	b.respond(msg, req)
}

// PublishResult 可直接作为 TTSPipeline 的结束回调
func (b *Bridge) PublishResult(res audio.UtteranceResult) {
	status := Status{
		ID:         res.ID,
		Origin:     res.Origin,
		Outcome:    res.Outcome.String(),
		Samples:    res.Samples,
		Generation: res.Generation,
		DurationMs: res.FinishedAt.Sub(res.EnqueuedAt).Milliseconds(),
		Timestamp:  res.FinishedAt.UTC(),
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}
	data, err := json.Marshal(status)
	if err != nil {
		b.log.Warnf("marshal status: %v", err)
		return
	}
	if err := b.pub.Publish(b.subjects.Status, data); err != nil {
		b.log.Warnf("publish status: %v", err)
	}
}

func (b *Bridge) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Warnf("marshal reply: %v", err)
		return
	}
	if err := b.pub.Publish(msg.Reply, data); err != nil {
		b.log.Warnf("reply on %s: %v", msg.Reply, err)
	}
}
