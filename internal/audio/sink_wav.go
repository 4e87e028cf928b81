package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/liuscraft/orion-speak/internal/logging"
)

// WAVSink 将播放输出写入 16-bit 单声道 WAV 文件
type WAVSink struct {
	mu         sync.Mutex
	file       *os.File
	enc        *wav.Encoder
	sampleRate int
	samples    int
	closed     bool
}

func NewWAVSink(path string, sampleRate int) (*WAVSink, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav %s: %w", path, err)
	}
	return &WAVSink{
		file:       file,
		enc:        wav.NewEncoder(file, sampleRate, 16, 1, 1),
		sampleRate: sampleRate,
	}, nil
}

func (s *WAVSink) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.enc.Write(intBuffer(samples, s.sampleRate)); err != nil {
		logging.Errorf("WAVSink: write failed: %v", err)
		return
	}
	s.samples += len(samples)
}

// IsPlaying 文件输出没有播放进度
func (s *WAVSink) IsPlaying() bool { return false }

// Clear 已写入文件的样本无法撤回
func (s *WAVSink) Clear() {}

func (s *WAVSink) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	return errors.Join(encErr, fileErr)
}

// WriteWAVFile 一次性写出完整的单声道 PCM16 WAV
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	sink, err := NewWAVSink(path, sampleRate)
	if err != nil {
		return err
	}
	sink.Write(samples)
	return sink.Close()
}

// ReadWAVFile 读取 WAV 并混为单声道 16-bit 样本
func ReadWAVFile(path string) ([]int16, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	depth := int(dec.BitDepth)
	frames := len(buf.Data) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += buf.Data[i*channels+ch]
		}
		out[i] = to16Bit(sum/channels, depth)
	}
	return out, buf.Format.SampleRate, nil
}

func to16Bit(v, depth int) int16 {
	switch {
	case depth == 8:
		// 8-bit WAV 为无符号
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		return int16(v)
	}
}

func intBuffer(samples []int16, sampleRate int) *goaudio.IntBuffer {
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
}
