package cmd

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/liuscraft/orion-speak/internal/audio"
)

var (
	stretchRate  float64
	stretchChunk int
)

var stretchCmd = &cobra.Command{
	Use:   "stretch <in.wav> <out.wav>",
	Short: "Time-stretch a WAV file without changing pitch",
	Long: `用与实时播放相同的 WSOLA 算法离线处理 WAV 文件。
rate > 1 加速，rate < 1 减速，取值会被限制在 0.25-4 之间。
多声道输入只处理第一个声道。`,
	Args: cobra.ExactArgs(2),
	RunE: runStretch,
}

func init() {
	stretchCmd.Flags().Float64Var(&stretchRate, "rate", 1.5, "Playback rate")
	stretchCmd.Flags().IntVar(&stretchChunk, "chunk", 480, "Samples fed to the stretcher per call")
	rootCmd.AddCommand(stretchCmd)
}

func runStretch(cmd *cobra.Command, args []string) error {
	samples, sampleRate, err := audio.ReadWAVFile(args[0])
	if err != nil {
		printError("read wav", err)
		return err
	}
	out, err := stretchSamples(samples, sampleRate, stretchRate, stretchChunk)
	if err != nil {
		return err
	}
	if err := audio.WriteWAVFile(args[1], out, sampleRate); err != nil {
		printError("write wav", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d samples @ %d Hz -> %s: %d samples (rate %.2f)\n",
		args[0], len(samples), sampleRate, args[1], len(out), stretchRate)
	return nil
}

// stretchSamples 分块送入 Stretcher，模拟流式输入
func stretchSamples(samples []int16, sampleRate int, rate float64, chunk int) ([]int16, error) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("invalid rate %v", rate)
	}
	if chunk <= 0 {
		chunk = 480
	}
	stretcher, err := audio.NewStretcher(sampleRate)
	if err != nil {
		return nil, err
	}
	out := make([]int16, 0, int(float64(len(samples))/rate)+stretcher.FrameSize())
	for start := 0; start < len(samples); start += chunk {
		end := min(start+chunk, len(samples))
		out = append(out, stretcher.Stretch(samples[start:end], rate)...)
	}
	return append(out, stretcher.Flush()...), nil
}
