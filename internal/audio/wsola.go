package audio

import (
	"errors"
	"math"
)

const (
	frameDurationMs = 20

	bypassThreshold = 0.05
	resetThreshold  = 0.15

	minStretchRatio = 0.25
	maxStretchRatio = 4.0
)

var ErrInvalidSampleRate = errors.New("audio: invalid sample rate")

// Stretcher 基于 WSOLA 的变速不变调处理器
//
// 合成步长固定为半帧，变速通过调整分析步长实现；每帧在目标步长附近
// 搜索与上一帧自然延续最相似的位置再做 Hann 窗叠加。
// 非并发安全，只由播放循环持有。
type Stretcher struct {
	sampleRate  int
	frameSize   int
	hopSize     int
	searchRange int
	window      []float64

	// in[0] 是最近一次放置的帧在输入中的起点
	in []float64
	// tail 是最近一帧后半段的加窗结果，等待下一帧叠加
	tail      []float64
	primed    bool
	lastRatio float64
}

func NewStretcher(sampleRate int) (*Stretcher, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	hop := sampleRate * frameDurationMs / 1000 / 2
	if hop < 2 {
		return nil, ErrInvalidSampleRate
	}
	frame := hop * 2
	search := hop / 2

	// 周期 Hann 窗：w[n] + w[n+hop] == 1
	window := make([]float64, frame)
	for n := range window {
		window[n] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(n)/float64(frame))
	}

	return &Stretcher{
		sampleRate:  sampleRate,
		frameSize:   frame,
		hopSize:     hop,
		searchRange: search,
		window:      window,
		lastRatio:   1.0,
	}, nil
}

func (s *Stretcher) SampleRate() int  { return s.sampleRate }
func (s *Stretcher) FrameSize() int   { return s.frameSize }
func (s *Stretcher) HopSize() int     { return s.hopSize }
func (s *Stretcher) SearchRange() int { return s.searchRange }
func (s *Stretcher) Ratio() float64   { return s.lastRatio }

// Stretch 以 ratio 倍速处理 input，返回已经完整叠加的输出。
// ratio > 1 加速（输出变短），ratio < 1 减速。
func (s *Stretcher) Stretch(input []int16, ratio float64) []int16 {
	// NaN 与 Inf 会让 Max/Min 失效，按直通处理
	if len(input) == 0 || !validRatio(ratio) || math.Abs(ratio-1.0) < bypassThreshold {
		out := s.Flush()
		if validRatio(ratio) {
			s.lastRatio = ratio
		}
		return append(out, input...)
	}

	ratio = math.Max(minStretchRatio, math.Min(maxStretchRatio, ratio))
	if math.Abs(ratio-s.lastRatio) > resetThreshold {
		s.Reset()
	}
	s.lastRatio = ratio

	for _, v := range input {
		s.in = append(s.in, float64(v))
	}
	if len(s.in) < s.frameSize+s.searchRange {
		return nil
	}

	frame, hop, search := s.frameSize, s.hopSize, s.searchRange

	var acc []float64
	next := 0 // acc 中下一帧的起点
	if s.primed {
		acc = make([]float64, hop, hop+frame*2)
		copy(acc, s.tail)
	} else {
		// 首帧前半段视为与一个理想的前帧完整叠加，直接取原始样本
		acc = make([]float64, frame, frame*2)
		copy(acc[:hop], s.in[:hop])
		for i := hop; i < frame; i++ {
			acc[i] = s.in[i] * s.window[i]
		}
		next = hop
		s.primed = true
	}

	target := int(math.Round(float64(hop) * ratio))
	lo := target - search/2
	if lo < 1 {
		lo = 1
	}
	hi := target + search/2

	base := 0
	for base+hi+frame <= len(s.in) {
		cur := s.in[base:]
		best := s.bestOffset(cur, lo, hi, target)

		if need := next + frame; need > len(acc) {
			acc = append(acc, make([]float64, need-len(acc))...)
		}
		for i := 0; i < frame; i++ {
			acc[next+i] += cur[best+i] * s.window[i]
		}
		next += hop
		base += best
	}

	if base > 0 {
		s.in = append(s.in[:0], s.in[base:]...)
	}
	s.tail = append(s.tail[:0], acc[next:next+hop]...)
	return floatsToInt16(acc[:next])
}

// bestOffset 在 [lo, hi] 内寻找与上一帧自然延续 cur[hop:] 最相似的位置。
// 只比较 searchRange 个样本；得分相同时取离 target 最近的位置。
func (s *Stretcher) bestOffset(cur []float64, lo, hi, target int) int {
	ref := cur[s.hopSize : s.hopSize+s.searchRange]
	best := lo
	bestScore := math.Inf(-1)
	for p := lo; p <= hi; p++ {
		seg := cur[p : p+s.searchRange]
		score := 0.0
		for i, v := range ref {
			score += seg[i] * v
		}
		if score > bestScore || (score == bestScore && absInt(p-target) < absInt(best-target)) {
			best = p
			bestScore = score
		}
	}
	return best
}

// Flush 输出所有残留音频并重置状态。
// 重叠尾部与其对应输入的上升半窗相加恰好还原原始样本。
func (s *Stretcher) Flush() []int16 {
	var out []int16
	switch {
	case s.primed:
		hop := s.hopSize
		out = make([]int16, 0, len(s.in))
		for i := 0; i < hop && hop+i < len(s.in); i++ {
			out = append(out, clampToInt16(s.tail[i]+s.in[hop+i]*s.window[i]))
		}
		if len(s.in) > s.frameSize {
			out = append(out, floatsToInt16(s.in[s.frameSize:])...)
		}
	case len(s.in) > 0:
		out = floatsToInt16(s.in)
	}
	s.Reset()
	return out
}

// Reset 清空输入与重叠缓冲，保留最近一次的速率
func (s *Stretcher) Reset() {
	s.in = s.in[:0]
	s.tail = s.tail[:0]
	s.primed = false
}

func validRatio(r float64) bool {
	return r > 0 && !math.IsInf(r, 0)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
