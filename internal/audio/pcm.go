package audio

import "math"

// pcmDecoder 将 PCM16 小端字节块解码为样本。
// 网络分块可能在样本中间截断，奇数字节留到下一块拼接。
type pcmDecoder struct {
	carry    byte
	hasCarry bool
}

func (d *pcmDecoder) Decode(chunk []byte) []int16 {
	if len(chunk) == 0 {
		return nil
	}
	if d.hasCarry {
		joined := make([]byte, 0, len(chunk)+1)
		joined = append(joined, d.carry)
		joined = append(joined, chunk...)
		chunk = joined
		d.hasCarry = false
	}
	if len(chunk)%2 == 1 {
		d.carry = chunk[len(chunk)-1]
		d.hasCarry = true
		chunk = chunk[:len(chunk)-1]
	}
	return bytesToInt16(chunk)
}

func (d *pcmDecoder) Reset() {
	d.hasCarry = false
}

// bytesToInt16 将 byte 数组转换为 int16 数组 (Little Endian)
func bytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// int16ToBytes 将 int16 数组写入 byte 数组 (Little Endian)，返回写入字节数
func int16ToBytes(samples []int16, data []byte) int {
	n := 0
	for i := 0; i < len(samples) && n+1 < len(data); i++ {
		data[n] = byte(samples[i])
		data[n+1] = byte(samples[i] >> 8)
		n += 2
	}
	return n
}

func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	int16ToBytes(samples, data)
	return data
}

func BytesToSamples(data []byte) []int16 {
	return bytesToInt16(data)
}

func clampToInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func floatsToInt16(in []float64) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in))
	for i, v := range in {
		out[i] = clampToInt16(v)
	}
	return out
}
