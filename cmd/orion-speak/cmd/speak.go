package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/logging"
	"github.com/liuscraft/orion-speak/internal/notify"
	"github.com/liuscraft/orion-speak/internal/text"
	"github.com/liuscraft/orion-speak/internal/tts"
)

var (
	speakFile     string
	speakOut      string
	speakVoice    string
	speakSpeed    string
	speakRate     float64
	speakRealtime bool
	speakMaxRunes int
	speakRaw      bool
)

var speakCmd = &cobra.Command{
	Use:   "speak [text...]",
	Short: "Read text aloud",
	Long: `朗读参数中的文本、--file 指定的文件或标准输入。

Markdown 会被清理，长文本按句切分为多个请求，
两个 worker 在播放当前句时预取下一句。`,
	Example: `  orion-speak speak "Hello there"
  orion-speak speak --file notes.md --rate 1.5 --realtime
  cat README.md | orion-speak speak --out readme.wav`,
	RunE: runSpeak,
}

func init() {
	speakCmd.Flags().StringVarP(&speakFile, "file", "f", "", "Read text from file (- for stdin)")
	speakCmd.Flags().StringVarP(&speakOut, "out", "o", "", "Write audio to a WAV file instead of the default device")
	speakCmd.Flags().StringVar(&speakVoice, "voice", "", "Voice name (default from config)")
	speakCmd.Flags().StringVar(&speakSpeed, "speed", "", "Synthesis speed: Slow, Normal or Fast")
	speakCmd.Flags().Float64Var(&speakRate, "rate", 0, "Playback rate for realtime requests (0.25-4)")
	speakCmd.Flags().BoolVar(&speakRealtime, "realtime", false, "Synthesize at Normal speed and follow the live playback rate")
	speakCmd.Flags().IntVar(&speakMaxRunes, "max-runes", 200, "Max runes per sentence segment")
	speakCmd.Flags().BoolVar(&speakRaw, "raw", false, "Do not strip markdown")
	rootCmd.AddCommand(speakCmd)
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("load config", err)
		return err
	}

	input, err := readInput(args, speakFile, cmd.InOrStdin())
	if err != nil {
		printError("read input", err)
		return err
	}
	var filter text.MarkdownFilter
	if !speakRaw {
		filter = text.NewMarkdownFilter(nil)
	}
	segments := text.Prepare(input, filter, speakMaxRunes)
	if len(segments) == 0 {
		return audio.ErrEmptyText
	}

	sink, err := openSink(cfg, speakOut)
	if err != nil {
		printError("open sink", err)
		return err
	}
	defer sink.Close()

	pipeline, err := newPipeline(cfg, sink, notify.NewLogNotifier(), nil)
	if err != nil {
		printError("create pipeline", err)
		return err
	}
	if speakRate > 0 {
		if err := pipeline.SetPlaybackRate(speakRate); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer pipeline.Stop()

	utterances := make([]*audio.Utterance, 0, len(segments))
	for _, segment := range segments {
		u, err := pipeline.Speak(audio.SynthesisRequest{
			Text:     segment,
			Voice:    speakVoice,
			Speed:    tts.Speed(normalizeSpeed(speakSpeed)),
			Realtime: speakRealtime,
			Origin:   "cli",
		})
		if err != nil {
			return err
		}
		utterances = append(utterances, u)
	}
	logging.Infof("speak: queued %d segment(s)", len(utterances))

	if err := waitUtterances(ctx, utterances); err != nil {
		pipeline.Interrupt()
		return err
	}
	if speakOut == "" {
		if err := audio.WaitIdle(ctx, sink, 20*time.Millisecond); err != nil {
			return err
		}
	}
	return summarize(cmd.OutOrStdout(), utterances)
}

// readInput 优先级：--file > 参数 > 标准输入
func readInput(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case file == "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file)
		return string(data), err
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
}

// normalizeSpeed 空字符串保留给 resolver 使用配置中的默认语速
func normalizeSpeed(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return string(tts.ParseSpeed(s))
}

func waitUtterances(ctx context.Context, utterances []*audio.Utterance) error {
	for _, u := range utterances {
		select {
		case <-u.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func summarize(w io.Writer, utterances []*audio.Utterance) error {
	var failed []error
	total := 0
	for _, u := range utterances {
		total += u.Samples()
		if u.Outcome() == audio.OutcomeFailed {
			failed = append(failed, fmt.Errorf("%s: %w", u.ID(), u.Err()))
		}
	}
	fmt.Fprintf(w, "%d segment(s), %d sample(s) played, %d failed\n", len(utterances), total, len(failed))
	return errors.Join(failed...)
}
