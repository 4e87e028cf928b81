package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/liuscraft/orion-speak/internal/logging"
	"github.com/liuscraft/orion-speak/internal/tts"
)

// Dependencies 外部协作者
type Dependencies struct {
	Transport   tts.Transport
	Credentials CredentialProvider
	Sink        Sink

	Setup    SetupResolver    // 可选，默认 StaticSetup
	Notifier Notifier         // 可选
	Observer PipelineObserver // 可选
}

// TTSPipeline 流式 TTS 管道：Manager + N 个 socket worker + 单个播放循环
type TTSPipeline struct {
	cfg  *TTSPipelineConfig
	deps Dependencies

	manager *Manager
	player  *player
	workers []*socketWorker

	mu         sync.Mutex
	started    bool
	stopped    bool
	onFinished FinishedCallback
	wg         sync.WaitGroup
}

func NewTTSPipeline(cfg *TTSPipelineConfig, deps Dependencies) (*TTSPipeline, error) {
	cfg = cfg.withDefaults()
	if deps.Transport == nil {
		return nil, errors.New("TTSPipeline: transport is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("TTSPipeline: credential provider is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("TTSPipeline: sink is required")
	}
	if deps.Setup == nil {
		deps.Setup = StaticSetup{}
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}

	stretcher, err := NewStretcher(cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("TTSPipeline: %w (sample rate %d)", err, cfg.SampleRate)
	}

	p := &TTSPipeline{
		cfg:     cfg,
		deps:    deps,
		manager: NewManager(deps.Observer),
	}
	p.manager.SetPlaybackRate(cfg.PlaybackRate)

	p.player = &player{
		m:         p.manager,
		sink:      deps.Sink,
		stretcher: stretcher,
		observer:  deps.Observer,
		finished:  p.finishedCallback,
		log:       logging.Component("TTSPlayer"),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workers = append(p.workers, &socketWorker{
			id:        i + 1,
			m:         p.manager,
			cfg:       cfg,
			transport: deps.Transport,
			creds:     deps.Credentials,
			setup:     deps.Setup,
			notifier:  deps.Notifier,
			observer:  deps.Observer,
			log:       logging.Component(fmt.Sprintf("TTSWorker[%d]", i+1)),
		})
	}
	return p, nil
}

func (p *TTSPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("TTSPipeline: already started")
	}
	if p.stopped {
		return ErrPipelineClosed
	}
	p.started = true

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *socketWorker) {
			defer p.wg.Done()
			w.run()
		}(w)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.player.run()
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.manager.Shutdown()
		case <-p.manager.Done():
		}
	}()

	logging.Infof("TTSPipeline: started (workers=%d, sampleRate=%d, poll=%v)",
		len(p.workers), p.cfg.SampleRate, p.cfg.PollInterval)
	return nil
}

// Stop 关闭管道并等待所有 goroutine 退出，未完成的请求以打断/过期结束
func (p *TTSPipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	logging.Infof("TTSPipeline: stopping...")
	p.manager.Shutdown()
	p.wg.Wait()

	for _, res := range p.manager.abandonAll() {
		if cb := p.finishedCallback(); cb != nil {
			cb(res)
		}
	}
	logging.Infof("TTSPipeline: stopped")
	return nil
}

// Speak 入队（非阻塞，立即返回）
func (p *TTSPipeline) Speak(req SynthesisRequest) (*Utterance, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()
	if stopped {
		return nil, ErrPipelineClosed
	}
	if !started {
		return nil, ErrPipelineNotStarted
	}
	return p.manager.Enqueue(req)
}

// Interrupt 打断当前及所有已入队的请求，返回新的代数
func (p *TTSPipeline) Interrupt() uint64 {
	gen := p.manager.Interrupt()
	logging.SetGeneration(gen)
	return gen
}

func (p *TTSPipeline) StopIfActive(id string) bool {
	return p.manager.StopIfActive(id)
}

// SetPlaybackRate 设置实时请求的播放倍速，下一个音频块生效
func (p *TTSPipeline) SetPlaybackRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("TTSPipeline: invalid playback rate %v", rate)
	}
	p.manager.SetPlaybackRate(rate)
	return nil
}

func (p *TTSPipeline) PlaybackRate() float64 {
	return p.manager.PlaybackRate()
}

// SetOnFinished 设置请求结束回调，在播放循环中调用，不应阻塞
func (p *TTSPipeline) SetOnFinished(cb FinishedCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFinished = cb
}

func (p *TTSPipeline) finishedCallback() FinishedCallback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onFinished
}

func (p *TTSPipeline) Generation() uint64 {
	return p.manager.Generation()
}

func (p *TTSPipeline) Stats() PipelineStats {
	pending, play := p.manager.queueLengths()
	return PipelineStats{
		PendingRequests: pending,
		PlayQueueSize:   play,
		Generation:      p.manager.Generation(),
		PlayerState:     p.player.State(),
		CurrentID:       p.player.currentID(),
		IsPlaying:       p.deps.Sink.IsPlaying(),
		PlaybackRate:    p.manager.PlaybackRate(),
		TotalEnqueued:   int(p.manager.totalEnqueued.Load()),
		TotalPlayed:     int(p.manager.totalPlayed.Load()),
		TotalStale:      int(p.manager.totalStale.Load()),
		TotalFailed:     int(p.manager.totalFailed.Load()),
		TotalInterrupts: int(p.manager.totalInterrupts.Load()),
	}
}
