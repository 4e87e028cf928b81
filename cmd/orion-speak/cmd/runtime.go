package cmd

import (
	"fmt"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/config"
	"github.com/liuscraft/orion-speak/internal/locale"
	"github.com/liuscraft/orion-speak/internal/tts"
)

// closableSink 命令行使用的 sink 都需要在退出时关闭
type closableSink interface {
	audio.Sink
	Close() error
}

func pipelineConfig(cfg *config.AppConfig) *audio.TTSPipelineConfig {
	return &audio.TTSPipelineConfig{
		Workers:           cfg.Pipeline.Workers,
		SampleRate:        cfg.TTS.SampleRate,
		Model:             cfg.TTS.Model,
		SetupTimeout:      cfg.Pipeline.SetupTimeout(),
		PollInterval:      cfg.Pipeline.PollInterval(),
		ConnectBackoff:    cfg.Pipeline.ConnectBackoff(),
		MissingKeyBackoff: cfg.Pipeline.MissingKeyBackoff(),
		PlaybackRate:      cfg.Playback.Rate,
	}
}

// newPipeline 组装 websocket transport、环境变量凭据与语言解析
func newPipeline(cfg *config.AppConfig, sink audio.Sink, notifier audio.Notifier, observer audio.PipelineObserver) (*audio.TTSPipeline, error) {
	resolver, err := locale.NewResolver(cfg.TTS.Voice, cfg.TTS.Speed, cfg.TTS.Language)
	if err != nil {
		return nil, err
	}
	transport := tts.NewWebsocketTransport(tts.Config{
		Endpoint:    cfg.TTS.Endpoint,
		DialTimeout: cfg.TTS.DialTimeoutDuration(),
	})
	return audio.NewTTSPipeline(pipelineConfig(cfg), audio.Dependencies{
		Transport:   transport,
		Credentials: config.EnvCredentials{Fallback: cfg.TTS.APIKey},
		Sink:        sink,
		Setup:       resolver,
		Notifier:    notifier,
		Observer:    observer,
	})
}

// openSink out 非空时写 WAV 文件，否则打开默认输出设备
func openSink(cfg *config.AppConfig, out string) (closableSink, error) {
	if out != "" {
		return audio.NewWAVSink(out, cfg.TTS.SampleRate)
	}
	sink, err := audio.NewPortAudioSink(audio.PortAudioSinkConfig{
		StreamRate:      cfg.TTS.SampleRate,
		DeviceRate:      cfg.Playback.DeviceSampleRate,
		FramesPerBuffer: cfg.Playback.FramesPerBuffer,
		Volume:          cfg.Playback.Volume,
	})
	if err != nil {
		return nil, fmt.Errorf("open playback device: %w", err)
	}
	if err := sink.Start(); err != nil {
		sink.Close()
		return nil, err
	}
	return sink, nil
}

// chainFinished 依次调用多个结束回调，nil 会被跳过
func chainFinished(cbs ...audio.FinishedCallback) audio.FinishedCallback {
	var active []audio.FinishedCallback
	for _, cb := range cbs {
		if cb != nil {
			active = append(active, cb)
		}
	}
	return func(res audio.UtteranceResult) {
		for _, cb := range active {
			cb(res)
		}
	}
}
