package audio

import (
	"sync/atomic"
	"time"

	"github.com/liuscraft/orion-speak/internal/logging"
)

// player 唯一的播放循环，独占 Stretcher 与 Sink
type player struct {
	m         *Manager
	sink      Sink
	stretcher *Stretcher
	observer  PipelineObserver
	finished  func() FinishedCallback
	log       *logging.Logger

	state   atomic.Int32
	current atomic.Pointer[Utterance]
	// lastGen 最近一次写入 sink 的音频所属代数
	lastGen atomic.Uint64
	wrote   atomic.Bool
}

func (p *player) run() {
	p.log.Debugf("started")
	defer p.log.Debugf("exited")

	for {
		// 先取唤醒通道再检查队列，避免丢失入队通知
		sig := p.m.wakeCh()
		if p.m.IsShutdown() {
			p.clearSuperseded()
			return
		}
		p.clearSuperseded()

		u := p.m.nextPlay()
		if u == nil {
			p.setState(PlayerIdle)
			select {
			case <-sig:
			case <-p.m.Done():
			}
			continue
		}
		p.play(u)
	}
}

// play 阻塞在当前请求的事件流上，即使后面的请求已经先取完音频
func (p *player) play(u *Utterance) {
	p.current.Store(u)
	defer p.current.Store(nil)
	p.setState(PlayerWaiting)

	var dec pcmDecoder
	for {
		sig := p.m.wakeCh()
		if p.m.IsStale(u) {
			p.abandon(u)
			return
		}

		ev, ok := u.events.next()
		if !ok {
			select {
			case <-u.events.ready():
			case <-sig:
			case <-p.m.Done():
			}
			continue
		}

		switch ev.Kind {
		case AudioData:
			samples := dec.Decode(ev.Data)
			if len(samples) == 0 {
				continue
			}
			p.write(u, p.stretcher.Stretch(samples, p.ratioFor(u)))
		case AudioEnd:
			if p.m.IsStale(u) {
				p.abandon(u)
				return
			}
			p.write(u, p.stretcher.Flush())
			p.setState(PlayerIdle)
			p.complete(u)
			return
		}
	}
}

// ratioFor 实时请求跟随当前倍速；其余请求的语速已在合成时确定
func (p *player) ratioFor(u *Utterance) float64 {
	if u.req.Realtime {
		return p.m.PlaybackRate()
	}
	return 1.0
}

func (p *player) write(u *Utterance, samples []int16) {
	if len(samples) == 0 {
		return
	}
	if u.started.CompareAndSwap(false, true) {
		p.setState(PlayerPlaying)
		p.observer.FirstAudio(time.Since(u.req.EnqueuedAt))
		p.log.Debugf("playing %s", u.ID())
	}
	p.sink.Write(samples)
	p.lastGen.Store(u.req.Generation)
	p.wrote.Store(true)
	u.addSamples(len(samples))
	p.observer.SamplesPlayed(len(samples))
}

// abandon 丢弃过期请求：不冲刷残留，清空已写入 sink 的音频
func (p *player) abandon(u *Utterance) {
	started := u.started.Load()
	p.stretcher.Reset()
	if started {
		p.sink.Clear()
	}
	p.clearSuperseded()
	p.setState(PlayerIdle)

	outcome := OutcomeStale
	if started {
		outcome = OutcomeInterrupted
	}
	p.finish(u, outcome)
}

// clearSuperseded 打断发生时 sink 中可能还有上一代的音频
func (p *player) clearSuperseded() {
	if !p.wrote.Load() {
		return
	}
	if p.m.IsShutdown() || p.lastGen.Load() < p.m.Generation() {
		if p.sink.IsPlaying() {
			p.sink.Clear()
			p.log.Debugf("cleared superseded audio")
		}
		p.wrote.Store(false)
	}
}

func (p *player) complete(u *Utterance) {
	outcome := OutcomePlayed
	if _, err := u.failure(); err != nil {
		outcome = OutcomeFailed
	}
	p.finish(u, outcome)
}

func (p *player) finish(u *Utterance, outcome Outcome) {
	res, ok := u.finish(outcome)
	if !ok {
		return
	}
	p.m.release(u)
	p.m.record(res)
	if outcome == OutcomePlayed || outcome == OutcomeFailed {
		p.log.Infof("%s %s (%d samples)", res.ID, outcome, res.Samples)
	} else {
		p.log.Debugf("%s %s", res.ID, outcome)
	}
	if p.finished != nil {
		if cb := p.finished(); cb != nil {
			cb(res)
		}
	}
}

func (p *player) setState(s PlayerState) {
	p.state.Store(int32(s))
}

func (p *player) State() PlayerState {
	return PlayerState(p.state.Load())
}

func (p *player) currentID() string {
	if u := p.current.Load(); u != nil {
		return u.ID()
	}
	return ""
}
