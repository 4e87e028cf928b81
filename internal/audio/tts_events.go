package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// eventStream 单生产者单消费者的无界事件队列
// worker 推送不会阻塞；End 之后的推送被忽略，保证每个请求恰好一个 End
type eventStream struct {
	mu     sync.Mutex
	events []AudioEvent
	ended  bool
	notify chan struct{}
}

func newEventStream() *eventStream {
	return &eventStream{notify: make(chan struct{}, 1)}
}

func (s *eventStream) push(ev AudioEvent) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.events = append(s.events, ev)
	if ev.Kind == AudioEnd {
		s.ended = true
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *eventStream) pushData(data []byte) bool {
	return s.push(AudioEvent{Kind: AudioData, Data: data})
}

// end 推送 End，重复调用无效
func (s *eventStream) end() bool {
	return s.push(AudioEvent{Kind: AudioEnd})
}

func (s *eventStream) next() (AudioEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return AudioEvent{}, false
	}
	ev := s.events[0]
	s.events[0] = AudioEvent{}
	s.events = s.events[1:]
	return ev, true
}

func (s *eventStream) ready() <-chan struct{} {
	return s.notify
}

func (s *eventStream) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Utterance 调用方持有的请求句柄
type Utterance struct {
	req    SynthesisRequest
	events *eventStream
	done   chan struct{}

	cancelled atomic.Bool
	started   atomic.Bool // 已有样本写入 sink

	mu       sync.Mutex
	outcome  Outcome
	err      error
	reason   FailureReason
	samples  int
	finished time.Time

	finishOnce sync.Once
}

func newUtterance(req SynthesisRequest) *Utterance {
	return &Utterance{
		req:    req,
		events: newEventStream(),
		done:   make(chan struct{}),
	}
}

func (u *Utterance) ID() string                { return u.req.ID }
func (u *Utterance) Generation() uint64        { return u.req.Generation }
func (u *Utterance) Request() SynthesisRequest { return u.req }

// Done 在请求结束（播放完、打断、过期或失败）时关闭
func (u *Utterance) Done() <-chan struct{} { return u.done }

func (u *Utterance) Outcome() Outcome {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.outcome
}

func (u *Utterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *Utterance) Samples() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.samples
}

// fail 记录 worker 侧的失败，保留第一次的原因
func (u *Utterance) fail(reason FailureReason, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err == nil {
		u.err = err
		u.reason = reason
	}
}

func (u *Utterance) failure() (FailureReason, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reason, u.err
}

func (u *Utterance) addSamples(n int) {
	u.mu.Lock()
	u.samples += n
	u.mu.Unlock()
}

func (u *Utterance) cancel() {
	u.cancelled.Store(true)
}

// finish 只生效一次，返回是否由本次调用完成
func (u *Utterance) finish(outcome Outcome) (UtteranceResult, bool) {
	var (
		res UtteranceResult
		ok  bool
	)
	u.finishOnce.Do(func() {
		u.mu.Lock()
		u.outcome = outcome
		u.finished = time.Now()
		res = u.resultLocked()
		u.mu.Unlock()
		close(u.done)
		ok = true
	})
	return res, ok
}

func (u *Utterance) resultLocked() UtteranceResult {
	return UtteranceResult{
		ID:         u.req.ID,
		Text:       u.req.Text,
		Voice:      u.req.Voice,
		Speed:      u.req.Speed,
		Realtime:   u.req.Realtime,
		Origin:     u.req.Origin,
		Generation: u.req.Generation,
		Outcome:    u.outcome,
		Err:        u.err,
		Samples:    u.samples,
		EnqueuedAt: u.req.EnqueuedAt,
		FinishedAt: u.finished,
	}
}
