package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/liuscraft/orion-speak/internal/logging"
)

// PortAudioSinkConfig 设备输出配置
type PortAudioSinkConfig struct {
	StreamRate      int     // 合成音频采样率
	DeviceRate      int     // 设备采样率，不同时自动重采样
	FramesPerBuffer int     // 回调帧数
	Channels        int     // 输出声道，单声道样本复制到每个声道
	Volume          float64 // 默认 1.0
}

func DefaultPortAudioSinkConfig() PortAudioSinkConfig {
	return PortAudioSinkConfig{
		StreamRate:      24000,
		DeviceRate:      24000,
		FramesPerBuffer: 1024,
		Channels:        2,
		Volume:          1.0,
	}
}

// PortAudioSink 通过 portaudio 回调播放的 Sink
type PortAudioSink struct {
	cfg       PortAudioSinkConfig
	resampler *LinearResampler

	mu      sync.Mutex
	pending []float32
	volume  float64
	stream  *portaudio.Stream
	started bool
}

func NewPortAudioSink(cfg PortAudioSinkConfig) (*PortAudioSink, error) {
	defaults := DefaultPortAudioSinkConfig()
	if cfg.StreamRate <= 0 {
		cfg.StreamRate = defaults.StreamRate
	}
	if cfg.DeviceRate <= 0 {
		cfg.DeviceRate = cfg.StreamRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = defaults.FramesPerBuffer
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaults.Channels
	}
	if cfg.Volume < 0 {
		cfg.Volume = defaults.Volume
	}

	resampler, err := NewLinearResampler(cfg.StreamRate, cfg.DeviceRate)
	if err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	s := &PortAudioSink{
		cfg:       cfg,
		resampler: resampler,
		volume:    cfg.Volume,
	}
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.DeviceRate), cfg.FramesPerBuffer, s.audioCallback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	s.stream = stream
	logging.Infof("PortAudioSink: opened (stream=%dHz, device=%dHz, channels=%d, frames=%d)",
		cfg.StreamRate, cfg.DeviceRate, cfg.Channels, cfg.FramesPerBuffer)
	return s, nil
}

func (s *PortAudioSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.started {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	s.started = true
	return nil
}

func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	started := s.started
	s.started = false
	s.pending = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	if started {
		if err := stream.Stop(); err != nil {
			logging.Errorf("PortAudioSink: failed to stop stream: %v", err)
		}
	}
	if err := stream.Close(); err != nil {
		logging.Errorf("PortAudioSink: failed to close stream: %v", err)
	}
	return portaudio.Terminate()
}

func (s *PortAudioSink) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resampled := s.resampler.Resample(samples)
	s.pending = appendScaled(s.pending, resampled, s.volume)
}

func (s *PortAudioSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *PortAudioSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	s.resampler.Reset()
}

func (s *PortAudioSink) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = volume
}

func (s *PortAudioSink) audioCallback(out [][]float32) {
	s.mu.Lock()
	n := fillChannels(out, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
}

// appendScaled 归一化到 [-1, 1] 并乘以音量
func appendScaled(dst []float32, samples []int16, volume float64) []float32 {
	gain := float32(volume) / 32768.0
	for _, v := range samples {
		f := float32(v) * gain
		if f > 1.0 {
			f = 1.0
		} else if f < -1.0 {
			f = -1.0
		}
		dst = append(dst, f)
	}
	return dst
}

// fillChannels 把单声道样本复制到每个输出声道，不足部分补零，返回消耗的样本数
func fillChannels(out [][]float32, src []float32) int {
	if len(out) == 0 {
		return 0
	}
	frames := len(out[0])
	n := frames
	if len(src) < n {
		n = len(src)
	}
	for _, ch := range out {
		copy(ch[:n], src[:n])
		for i := n; i < len(ch); i++ {
			ch[i] = 0
		}
	}
	return n
}
