package audio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liuscraft/orion-speak/internal/tts"
)

// fakeScript 描述远端对某段文本的响应
type fakeScript struct {
	Delay  time.Duration // 第一个音频块之前的延迟
	Chunks [][]byte
	Gate   chan struct{} // 非空时等待关闭后才开始发送
	Hang   bool          // 不发送 turnComplete
	Err    string        // 发送完音频后返回服务端错误
}

// mockTransport 模拟远端合成服务
type mockTransport struct {
	mu      sync.Mutex
	scripts map[string]fakeScript
	dials   int
	keys    []string
	dialErr error
	noAck   bool
	conns   []*mockConn
}

func newMockTransport() *mockTransport {
	return &mockTransport{scripts: make(map[string]fakeScript)}
}

func (t *mockTransport) setScript(text string, s fakeScript) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[text] = s
}

func (t *mockTransport) script(text string) fakeScript {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scripts[text]
}

func (t *mockTransport) Dial(ctx context.Context, apiKey string) (tts.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	t.keys = append(t.keys, apiKey)
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	c := &mockConn{
		t:        t,
		incoming: make(chan tts.Message, 256),
		closed:   make(chan struct{}),
	}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *mockTransport) getDials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *mockTransport) getConns() []*mockConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*mockConn(nil), t.conns...)
}

type mockConn struct {
	t        *mockTransport
	incoming chan tts.Message
	closed   chan struct{}

	mu        sync.Mutex
	sent      []tts.Message
	closeOnce sync.Once
	isClosed  atomic.Bool
}

func (c *mockConn) Send(msg tts.Message) error {
	if c.isClosed.Load() {
		return tts.ErrClosed
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()

	var envelope struct {
		Setup         json.RawMessage `json:"setup"`
		ClientContent *struct {
			Turns []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
		} `json:"clientContent"`
	}
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return nil
	}
	if envelope.Setup != nil && !c.t.noAck {
		c.incoming <- tts.Message{Type: tts.TextMessage, Data: []byte(`{"setupComplete":{}}`)}
	}
	if envelope.ClientContent != nil {
		text := envelope.ClientContent.Turns[0].Parts[0].Text
		go c.deliver(c.t.script(text))
	}
	return nil
}

func (c *mockConn) deliver(s fakeScript) {
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-c.closed:
			return
		}
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-c.closed:
			return
		}
	}
	for i, chunk := range s.Chunks {
		msg := tts.Message{Type: tts.BinaryMessage, Data: chunk}
		if i%2 == 1 {
			// 奇数块走 JSON + base64 的 inlineData 形式
			encoded := base64.StdEncoding.EncodeToString(chunk)
			msg = tts.Message{Type: tts.TextMessage, Data: []byte(fmt.Sprintf(
				`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":%q}}]}}}`, encoded))}
		}
		select {
		case c.incoming <- msg:
		case <-c.closed:
			return
		}
	}
	if s.Err != "" {
		c.incoming <- tts.Message{Type: tts.TextMessage, Data: []byte(fmt.Sprintf(`{"error":{"code":500,"message":%q,"status":"INTERNAL"}}`, s.Err))}
		return
	}
	if !s.Hang {
		c.incoming <- tts.Message{Type: tts.TextMessage, Data: []byte(`{"serverContent":{"turnComplete":true}}`)}
	}
}

func (c *mockConn) Read(wait time.Duration) (tts.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	default:
	}
	if c.isClosed.Load() {
		return tts.Message{}, tts.ErrClosed
	}
	if wait <= 0 {
		return tts.Message{}, tts.ErrWouldBlock
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.closed:
		return tts.Message{}, tts.ErrClosed
	case <-timer.C:
		return tts.Message{}, tts.ErrWouldBlock
	}
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() {
		c.isClosed.Store(true)
		close(c.closed)
	})
	return nil
}

func (c *mockConn) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, string(m.Data))
	}
	return out
}

// memorySink 记录写入的样本
type memorySink struct {
	mu      sync.Mutex
	samples []int16
	writes  int
	clears  int
	playing bool
}

func newMemorySink() *memorySink {
	return &memorySink{}
}

func (s *memorySink) Write(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	s.writes++
	s.playing = true
}

func (s *memorySink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *memorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.playing = false
}

func (s *memorySink) getSamples() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int16(nil), s.samples...)
}

func (s *memorySink) getClears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

type staticKey string

func (k staticKey) APIKey() string { return string(k) }

type mockNotifier struct {
	mu       sync.Mutex
	failures []Failure
}

func (n *mockNotifier) NotifyFailure(f Failure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
}

func (n *mockNotifier) getFailures() []Failure {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Failure(nil), n.failures...)
}

// mockResolver 固定返回一条语言指令
type mockResolver struct{}

func (mockResolver) Resolve(req SynthesisRequest) SetupProfile {
	return SetupProfile{Voice: req.Voice, Instruction: "Read aloud.", Speed: req.Speed}
}

func testPipelineConfig() *TTSPipelineConfig {
	return &TTSPipelineConfig{
		Workers:           2,
		SampleRate:        24000,
		Model:             "models/test",
		SetupTimeout:      500 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		ConnectBackoff:    10 * time.Millisecond,
		MissingKeyBackoff: 10 * time.Millisecond,
		PlaybackRate:      1.0,
	}
}

// constantChunks 生成 n 个块，每块 size 个取值为 value 的样本
func constantChunks(value int16, n, size int) [][]byte {
	chunks := make([][]byte, n)
	for i := range chunks {
		samples := make([]int16, size)
		for j := range samples {
			samples[j] = value
		}
		chunks[i] = SamplesToBytes(samples)
	}
	return chunks
}

func waitDone(u *Utterance, timeout time.Duration) bool {
	select {
	case <-u.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}

func drainEvents(u *Utterance) []AudioEvent {
	var out []AudioEvent
	for {
		ev, ok := u.events.next()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func countEnds(events []AudioEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == AudioEnd {
			n++
		}
	}
	return n
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
