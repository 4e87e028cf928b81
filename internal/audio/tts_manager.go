package audio

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/liuscraft/orion-speak/internal/logging"
)

// Manager 请求队列与跨组件控制信号的唯一持有者
//
// worker 通过条件变量等待 pending 队列；播放循环按入队顺序从 playQueue
// 取请求。打断只递增代数，不清理队列，过期请求由 worker/播放循环在取出时过滤。
type Manager struct {
	mu        sync.Mutex
	workCond  *sync.Cond
	pending   []*Utterance // 等待 worker
	playQueue []*Utterance // 等待播放，严格按入队顺序
	active    map[string][]*Utterance // 允许重复 ID，按入队顺序

	generation atomic.Uint64
	shutdown   atomic.Bool
	rate       atomic.Uint64 // float64 bits

	// signal 在入队、打断、停止、关闭时被关闭并替换，唤醒播放循环
	signalMu sync.Mutex
	signal   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	observer PipelineObserver
	log      *logging.Logger

	totalEnqueued   atomic.Int64
	totalPlayed     atomic.Int64
	totalStale      atomic.Int64
	totalFailed     atomic.Int64
	totalInterrupts atomic.Int64
}

func NewManager(observer PipelineObserver) *Manager {
	if observer == nil {
		observer = noopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		active:   make(map[string][]*Utterance),
		signal:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		observer: observer,
		log:      logging.Component("TTSManager"),
	}
	m.workCond = sync.NewCond(&m.mu)
	m.rate.Store(math.Float64bits(1.0))
	return m
}

// Enqueue 打上当前代数后入队，唤醒一个 worker 和播放循环。
// 关闭后不再生效，返回 ErrPipelineClosed。
func (m *Manager) Enqueue(req SynthesisRequest) (*Utterance, error) {
	if m.shutdown.Load() {
		return nil, ErrPipelineClosed
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	req.EnqueuedAt = time.Now()

	m.mu.Lock()
	if m.shutdown.Load() {
		m.mu.Unlock()
		return nil, ErrPipelineClosed
	}
	req.Generation = m.generation.Load()
	u := newUtterance(req)
	m.pending = append(m.pending, u)
	m.playQueue = append(m.playQueue, u)
	m.active[req.ID] = append(m.active[req.ID], u)
	m.mu.Unlock()

	m.workCond.Signal()
	m.wake()

	m.totalEnqueued.Add(1)
	m.observer.RequestEnqueued(req)
	m.log.Debugf("enqueued %s (gen=%d, realtime=%v, chars=%d)", req.ID, req.Generation, req.Realtime, len([]rune(req.Text)))
	return u, nil
}

// Interrupt 递增打断代数，此前入队的请求全部过期
func (m *Manager) Interrupt() uint64 {
	gen := m.generation.Add(1)
	m.totalInterrupts.Add(1)
	m.observer.Interrupted()
	m.wake()
	m.log.Infof("interrupt, generation=%d", gen)
	return gen
}

// Shutdown 单向关闭，唤醒所有等待者
func (m *Manager) Shutdown() {
	if !m.shutdown.CompareAndSwap(false, true) {
		return
	}
	m.cancel()
	m.mu.Lock()
	m.workCond.Broadcast()
	m.mu.Unlock()
	m.wake()
	m.log.Infof("shutdown")
}

// StopIfActive 停止指定 ID 的所有排队中或播放中的请求
func (m *Manager) StopIfActive(id string) bool {
	m.mu.Lock()
	matched := append([]*Utterance(nil), m.active[id]...)
	m.mu.Unlock()
	if len(matched) == 0 {
		return false
	}
	for _, u := range matched {
		u.cancel()
	}
	m.wake()
	m.log.Infof("stop requested for %s (%d request(s))", id, len(matched))
	return true
}

func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

func (m *Manager) IsShutdown() bool {
	return m.shutdown.Load()
}

// IsStale 关闭、代数落后或被单独停止的请求都视为过期
func (m *Manager) IsStale(u *Utterance) bool {
	return m.shutdown.Load() || u.req.Generation < m.generation.Load() || u.cancelled.Load()
}

// Done 在 Shutdown 后关闭
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

func (m *Manager) Context() context.Context {
	return m.ctx
}

func (m *Manager) SetPlaybackRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return
	}
	rate = math.Max(minStretchRatio, math.Min(maxStretchRatio, rate))
	m.rate.Store(math.Float64bits(rate))
}

func (m *Manager) PlaybackRate() float64 {
	return math.Float64frombits(m.rate.Load())
}

// next 阻塞直到有请求或已关闭。每次唤醒都重新检查两个条件。
func (m *Manager) next() (*Utterance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) == 0 && !m.shutdown.Load() {
		m.workCond.Wait()
	}
	if m.shutdown.Load() {
		return nil, false
	}
	u := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	return u, true
}

func (m *Manager) nextPlay() *Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.playQueue) == 0 {
		return nil
	}
	u := m.playQueue[0]
	m.playQueue[0] = nil
	m.playQueue = m.playQueue[1:]
	return u
}

// wakeCh 返回当前的唤醒通道；必须在检查条件之前获取，避免丢失唤醒
func (m *Manager) wakeCh() <-chan struct{} {
	m.signalMu.Lock()
	defer m.signalMu.Unlock()
	return m.signal
}

func (m *Manager) wake() {
	m.signalMu.Lock()
	close(m.signal)
	m.signal = make(chan struct{})
	m.signalMu.Unlock()
}

// sleep 冷却等待，关闭时提前返回 false
func (m *Manager) sleep(d time.Duration) bool {
	if d <= 0 {
		return !m.shutdown.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) release(u *Utterance) {
	m.mu.Lock()
	list := m.active[u.req.ID]
	for i, cur := range list {
		if cur == u {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.active, u.req.ID)
	} else {
		m.active[u.req.ID] = list
	}
	m.mu.Unlock()
}

// record 统计终态并通知观察者
func (m *Manager) record(res UtteranceResult) {
	switch res.Outcome {
	case OutcomePlayed:
		m.totalPlayed.Add(1)
	case OutcomeStale, OutcomeInterrupted:
		m.totalStale.Add(1)
	case OutcomeFailed:
		m.totalFailed.Add(1)
	}
	m.observer.UtteranceFinished(res)
}

// abandonAll 关闭后结束所有未完成的请求，调用方不会永久等待
func (m *Manager) abandonAll() []UtteranceResult {
	m.mu.Lock()
	remaining := make([]*Utterance, 0, len(m.active))
	for _, list := range m.active {
		remaining = append(remaining, list...)
	}
	m.active = make(map[string][]*Utterance)
	m.pending = nil
	m.playQueue = nil
	m.mu.Unlock()

	var results []UtteranceResult
	for _, u := range remaining {
		u.events.end()
		outcome := OutcomeStale
		if u.started.Load() {
			outcome = OutcomeInterrupted
		}
		if res, ok := u.finish(outcome); ok {
			m.record(res)
			results = append(results, res)
		}
	}
	return results
}

func (m *Manager) queueLengths() (pending, play int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.playQueue)
}
