package audio

import (
	"errors"
	"time"

	"github.com/liuscraft/orion-speak/internal/tts"
)

var (
	ErrPipelineClosed     = errors.New("TTSPipeline: closed")
	ErrPipelineNotStarted = errors.New("TTSPipeline: not started")
	ErrEmptyText          = errors.New("TTSPipeline: empty text")
	ErrMissingAPIKey      = errors.New("TTSPipeline: api key is not configured")
	ErrSetupTimeout       = errors.New("TTSPipeline: setup acknowledgement timed out")
)

// SynthesisRequest 一次合成请求，入队后不可变
type SynthesisRequest struct {
	ID    string
	Text  string
	Voice string
	Speed tts.Speed
	// Realtime 请求总是以 Normal 速度合成，播放时跟随实时倍速
	Realtime bool
	// Origin 仅用于路由（例如发起请求的窗口或总线客户端）
	Origin string

	Generation uint64    // 入队时打上的打断代数
	EnqueuedAt time.Time // 入队时间
}

type AudioEventKind int

const (
	AudioData AudioEventKind = iota + 1
	AudioEnd
)

// AudioEvent Data 携带 PCM16 字节块；End 表示该请求不会再有数据
type AudioEvent struct {
	Kind AudioEventKind
	Data []byte
}

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomePlayed
	OutcomeInterrupted // 播放中途被打断或停止
	OutcomeStale       // 开始播放前已过期
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomePlayed:
		return "played"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type FailureReason string

const (
	FailureMissingKey FailureReason = "missing_key"
	FailureConnect    FailureReason = "connect"
	FailureSetup      FailureReason = "setup"
	FailureSend       FailureReason = "send"
	FailureStream     FailureReason = "stream"
)

// Failure 需要提示用户的失败
type Failure struct {
	RequestID string
	Origin    string
	Reason    FailureReason
	Err       error
}

// UtteranceResult 请求结束时的汇总
type UtteranceResult struct {
	ID         string
	Text       string
	Voice      string
	Speed      tts.Speed
	Realtime   bool
	Origin     string
	Generation uint64
	Outcome    Outcome
	Err        error
	Samples    int
	EnqueuedAt time.Time
	FinishedAt time.Time
}

type FinishedCallback func(UtteranceResult)

// CredentialProvider 每次建连前读取，空字符串视为未配置
type CredentialProvider interface {
	APIKey() string
}

// SetupProfile 合成会话的音色、语速与语言指令
type SetupProfile struct {
	Voice       string
	Instruction string
	Speed       tts.Speed
}

// SetupResolver 根据请求内容生成 SetupProfile
type SetupResolver interface {
	Resolve(req SynthesisRequest) SetupProfile
}

// StaticSetup 原样使用请求中的音色和语速
type StaticSetup struct {
	DefaultVoice string
}

func (s StaticSetup) Resolve(req SynthesisRequest) SetupProfile {
	voice := req.Voice
	if voice == "" {
		voice = s.DefaultVoice
	}
	return SetupProfile{Voice: voice, Speed: req.Speed}
}

type Notifier interface {
	NotifyFailure(f Failure)
}

// PipelineObserver 指标钩子，所有方法必须非阻塞
type PipelineObserver interface {
	RequestEnqueued(req SynthesisRequest)
	RequestStale(stage string)
	RequestFailed(reason FailureReason)
	AudioChunk(bytes int)
	FirstAudio(latency time.Duration)
	SamplesPlayed(n int)
	Interrupted()
	UtteranceFinished(res UtteranceResult)
}

type noopObserver struct{}

func (noopObserver) RequestEnqueued(SynthesisRequest)  {}
func (noopObserver) RequestStale(string)               {}
func (noopObserver) RequestFailed(FailureReason)       {}
func (noopObserver) AudioChunk(int)                    {}
func (noopObserver) FirstAudio(time.Duration)          {}
func (noopObserver) SamplesPlayed(int)                 {}
func (noopObserver) Interrupted()                      {}
func (noopObserver) UtteranceFinished(UtteranceResult) {}

type PlayerState int32

const (
	PlayerIdle PlayerState = iota
	PlayerWaiting
	PlayerPlaying
)

func (s PlayerState) String() string {
	switch s {
	case PlayerIdle:
		return "idle"
	case PlayerWaiting:
		return "waiting"
	case PlayerPlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// PipelineStats Pipeline 统计信息
type PipelineStats struct {
	PendingRequests int         // 等待 worker 的请求数
	PlayQueueSize   int         // 等待播放的请求数
	Generation      uint64      // 当前打断代数
	PlayerState     PlayerState // 播放循环状态
	CurrentID       string      // 正在播放的请求
	IsPlaying       bool        // sink 是否仍在出声
	PlaybackRate    float64
	TotalEnqueued   int
	TotalPlayed     int
	TotalStale      int
	TotalFailed     int
	TotalInterrupts int
}

// TTSPipelineConfig TTS Pipeline 配置
type TTSPipelineConfig struct {
	// Workers 并行的 socket worker 数量
	// 2 个即可在播放当前句时预取下一句，又不会无限制地占用远端连接
	// 默认: 2
	Workers int

	// SampleRate 合成音频采样率，也是 Stretcher 的处理采样率
	// 默认: 24000
	SampleRate int

	// Model 远端合成模型
	Model string

	// SetupTimeout 等待 setupComplete 的上限，默认 10s
	SetupTimeout time.Duration
	// PollInterval 非阻塞读取的轮询间隔，也是打断/关闭的最大响应延迟，默认 20ms
	PollInterval time.Duration
	// ConnectBackoff 建连或握手失败后的冷却时间，默认 2s
	ConnectBackoff time.Duration
	// MissingKeyBackoff 未配置 API Key 时的冷却时间，默认 5s
	MissingKeyBackoff time.Duration

	// PlaybackRate 实时请求的初始播放倍速，默认 1.0
	PlaybackRate float64
}

func DefaultTTSPipelineConfig() *TTSPipelineConfig {
	return &TTSPipelineConfig{
		Workers:           2,
		SampleRate:        24000,
		Model:             "models/gemini-2.5-flash-native-audio-preview-09-2025",
		SetupTimeout:      10 * time.Second,
		PollInterval:      20 * time.Millisecond,
		ConnectBackoff:    2 * time.Second,
		MissingKeyBackoff: 5 * time.Second,
		PlaybackRate:      1.0,
	}
}

func (c *TTSPipelineConfig) withDefaults() *TTSPipelineConfig {
	d := DefaultTTSPipelineConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Workers <= 0 {
		out.Workers = d.Workers
	}
	if out.SampleRate == 0 {
		out.SampleRate = d.SampleRate
	}
	if out.Model == "" {
		out.Model = d.Model
	}
	if out.SetupTimeout <= 0 {
		out.SetupTimeout = d.SetupTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = d.PollInterval
	}
	if out.ConnectBackoff <= 0 {
		out.ConnectBackoff = d.ConnectBackoff
	}
	if out.MissingKeyBackoff <= 0 {
		out.MissingKeyBackoff = d.MissingKeyBackoff
	}
	if out.PlaybackRate <= 0 {
		out.PlaybackRate = d.PlaybackRate
	}
	return &out
}
