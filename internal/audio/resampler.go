package audio

import (
	"fmt"
	"math"
)

// Resampler 流式重采样器，跨调用保持插值相位
type Resampler interface {
	Resample(input []int16) []int16
	Reset()
}

// LinearResampler 线性插值重采样器（单声道）
// 优点：简单、快速、无依赖
// 缺点：音质一般，高频可能失真
//
//	position = outputIndex * inputRate / outputRate
//	output = input[i] * (1 - frac) + input[i+1] * frac
//
// 块边界处用上一块最后一个样本作为 input[-1]，避免拼接断点。
type LinearResampler struct {
	inputRate  int
	outputRate int
	step       float64

	pos     float64 // 下一个输出点相对当前块起点的位置，可为 [-1, 0)
	prev    float64
	hasPrev bool
}

func NewLinearResampler(inputRate, outputRate int) (*LinearResampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: input=%d, output=%d", inputRate, outputRate)
	}
	return &LinearResampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		step:       float64(inputRate) / float64(outputRate),
	}, nil
}

func (r *LinearResampler) Resample(input []int16) []int16 {
	if len(input) == 0 {
		return nil
	}
	if r.inputRate == r.outputRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out
	}

	if !r.hasPrev {
		r.prev = float64(input[0])
		r.hasPrev = true
	}
	at := func(i int) float64 {
		if i < 0 {
			return r.prev
		}
		return float64(input[i])
	}

	out := make([]int16, 0, int(math.Ceil(float64(len(input))/r.step))+1)
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= len(input) {
			break
		}
		frac := r.pos - float64(i)
		out = append(out, clampToInt16(at(i)*(1-frac)+at(i+1)*frac))
		r.pos += r.step
	}

	r.prev = float64(input[len(input)-1])
	r.pos -= float64(len(input))
	return out
}

func (r *LinearResampler) Reset() {
	r.pos = 0
	r.prev = 0
	r.hasPrev = false
}
