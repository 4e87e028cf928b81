package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liuscraft/orion-speak/internal/config"
	"github.com/liuscraft/orion-speak/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "orion-speak",
	Short: "Streaming text-to-speech with live playback speed",
	Long: `orion-speak 把文本送到远端流式合成服务，按入队顺序播放返回的 PCM 音频，
并通过 WSOLA 实时调整播放倍速。

Commands:
  speak    - 朗读一段文本或文件
  serve    - 常驻服务，通过 NATS 接收请求
  stretch  - 离线对 WAV 文件做变速不变调
  devices  - 列出音频输出设备
  history  - 查看播报日志`,
	SilenceUsage: true,
}

func Execute() error {
	err := rootCmd.Execute()
	logging.Sync()
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file, JSON or YAML (default: "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug/info/warn/error)")
}

// loadConfig 读取配置并初始化日志
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return nil, err
	}
	logging.SetTraceID(logging.NewTraceID())
	return cfg, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
