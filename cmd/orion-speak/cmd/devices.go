package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"

	"github.com/liuscraft/orion-speak/internal/audio"
)

var devicesTone time.Duration

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio output devices",
	Long: `列出 PortAudio 输出设备与默认设备，给出 playback 配置建议。
--tone 会通过与 speak 相同的 sink 播放一段 440Hz 测试音。`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().DurationVar(&devicesTone, "tone", 0, "Play a 440Hz test tone for this long (e.g. 2s)")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := portaudio.Initialize(); err != nil {
		printError("initialize portaudio", err)
		return err
	}
	defer portaudio.Terminate()

	w := cmd.OutOrStdout()
	hostAPIs, err := portaudio.HostApis()
	if err != nil {
		return fmt.Errorf("host APIs: %w", err)
	}
	fmt.Fprintf(w, "Found %d host API(s):\n", len(hostAPIs))
	for i, api := range hostAPIs {
		fmt.Fprintf(w, "  [%d] %s (devices: %d)\n", i, api.Name, len(api.Devices))
	}
	fmt.Fprintln(w)

	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		fmt.Fprintf(w, "Default output device: (error: %v)\n", err)
	} else {
		fmt.Fprintf(w, "Default output device: %s\n", defaultOutput.Name)
	}
	fmt.Fprintln(w)

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	outputs := 0
	for i, dev := range devices {
		if dev.MaxOutputChannels == 0 {
			continue
		}
		outputs++
		marker := ""
		if defaultOutput != nil && dev.Name == defaultOutput.Name {
			marker = " [DEFAULT]"
		}
		if likelyBluetooth(dev.Name) {
			marker += " (Bluetooth?)"
		}
		fmt.Fprintf(w, "[%d] %s%s\n", i, dev.Name, marker)
		fmt.Fprintf(w, "    Output channels:     %d\n", dev.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", dev.DefaultSampleRate)
		fmt.Fprintf(w, "    Output latency:      low=%.1fms high=%.1fms\n",
			dev.DefaultLowOutputLatency.Seconds()*1000,
			dev.DefaultHighOutputLatency.Seconds()*1000)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d output device(s)\n\n", outputs)

	if defaultOutput != nil {
		printPlaybackAdvice(w, int(defaultOutput.DefaultSampleRate), defaultOutput.DefaultHighOutputLatency)
	}

	if devicesTone > 0 {
		return playTone(w, devicesTone)
	}
	return nil
}

// printPlaybackAdvice 设备采样率与合成采样率不同时 sink 会重采样
func printPlaybackAdvice(w io.Writer, deviceRate int, highLatency time.Duration) {
	if deviceRate <= 0 {
		deviceRate = 24000
	}
	frames := recommendedFrames(deviceRate, highLatency)
	fmt.Fprintln(w, "Suggested playback config:")
	fmt.Fprintln(w, `"playback": {`)
	fmt.Fprintf(w, "    \"device_sample_rate\": %d,\n", deviceRate)
	fmt.Fprintf(w, "    \"frames_per_buffer\": %d\n", frames)
	fmt.Fprintln(w, "}")
	if deviceRate != 24000 {
		fmt.Fprintf(w, "Note: synthesized audio is 24000 Hz and will be resampled to %d Hz.\n", deviceRate)
	}
}

// recommendedFrames 约为高延迟的一半，取 2 的幂，范围 256-4096
func recommendedFrames(deviceRate int, highLatency time.Duration) int {
	target := int(float64(deviceRate) * highLatency.Seconds() / 2)
	frames := 256
	for frames < target && frames < 4096 {
		frames *= 2
	}
	return frames
}

func likelyBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"bluetooth", "airpods", "buds", "wireless", "headset"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// playTone 走 PortAudioSink，验证设备输出与重采样路径
func playTone(w io.Writer, d time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sink, err := openSink(cfg, "")
	if err != nil {
		return err
	}
	defer sink.Close()

	rate := cfg.TTS.SampleRate
	n := int(float64(rate) * d.Seconds())
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	fmt.Fprintf(w, "Playing 440Hz tone for %v...\n", d)
	sink.Write(samples)

	ctx, cancel := context.WithTimeout(context.Background(), d+2*time.Second)
	defer cancel()
	return audio.WaitIdle(ctx, sink, 20*time.Millisecond)
}
