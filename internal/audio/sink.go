package audio

import (
	"context"
	"time"
)

// Sink 播放输出设备。写入即返回，不提供背压。
// 只由播放循环写入。
type Sink interface {
	Write(samples []int16)
	IsPlaying() bool
	// Clear 丢弃尚未播放的样本（打断时调用）
	Clear()
}

// WaitIdle 等待 sink 播放完已写入的样本
func WaitIdle(ctx context.Context, sink Sink, poll time.Duration) error {
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for sink.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
