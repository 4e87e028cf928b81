package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/bus"
	"github.com/liuscraft/orion-speak/internal/journal"
	"github.com/liuscraft/orion-speak/internal/logging"
	"github.com/liuscraft/orion-speak/internal/metrics"
	"github.com/liuscraft/orion-speak/internal/notify"
)

const journalPruneInterval = time.Hour

var serveOut string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the speech pipeline as a long-lived service",
	Long: `启动 TTS 管道并保持运行，直到收到 SIGINT/SIGTERM。

启用 bus 时订阅 <prefix>.request/.interrupt/.stop/.rate 并在 <prefix>.status 上发布结果；
启用 metrics 时在 metrics.addr 上提供 /metrics、/stats 与 /healthz；
启用 journal 时把每个结束的请求写入 SQLite。`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveOut, "out", "o", "", "Write audio to a WAV file instead of the default device")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("load config", err)
		return err
	}

	flushSentry, err := notify.InitSentry(cfg.Sentry)
	if err != nil {
		logging.Warnf("serve: sentry init failed: %v", err)
	}
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		observer      audio.PipelineObserver
		meter         metric.Meter
		metricsServer *http.Server
		mux           = http.NewServeMux()
	)
	if cfg.Metrics.Enabled {
		provider, handler, err := metrics.NewPrometheusProvider(ctx, "orion-speak")
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logging.Warnf("serve: meter provider shutdown: %v", err)
			}
		}()
		meter = provider.Meter(metrics.ScopeName)
		obs, err := metrics.NewObserver(meter)
		if err != nil {
			return err
		}
		observer = obs
		if handler != nil {
			mux.Handle("/metrics", handler)
		}
	}

	sink, err := openSink(cfg, serveOut)
	if err != nil {
		printError("open sink", err)
		return err
	}
	defer sink.Close()

	pipeline, err := newPipeline(cfg, sink, notify.FromConfig(cfg.Sentry), observer)
	if err != nil {
		printError("create pipeline", err)
		return err
	}

	var callbacks []audio.FinishedCallback

	if cfg.Journal.Enabled {
		store, err := journal.Open(ctx, cfg.Journal)
		if err != nil {
			printError("open journal", err)
			return err
		}
		defer store.Close()
		callbacks = append(callbacks, store.RecordResult)
		go pruneLoop(ctx, store)
	}

	if cfg.Bus.Enabled {
		conn, err := bus.Connect(cfg.Bus)
		if err != nil {
			printError("connect bus", err)
			return err
		}
		defer conn.Close()
		bridge := bus.NewBridge(pipeline, conn, bus.NewSubjects(cfg.Bus.SubjectPrefix))
		if err := bridge.Start(conn); err != nil {
			return err
		}
		defer bridge.Close()
		callbacks = append(callbacks, bridge.PublishResult)
	}
	pipeline.SetOnFinished(chainFinished(callbacks...))

	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer pipeline.Stop()

	if cfg.Metrics.Enabled {
		// gauge 回调需要管道实例，在创建后注册
		if _, err := metrics.RegisterStats(meter, pipeline.Stats); err != nil {
			logging.Warnf("serve: register stats gauges: %v", err)
		}
		mux.HandleFunc("/stats", statsHandler(pipeline.Stats))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Infof("serve: metrics listening on %s", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Errorf("serve: metrics server failed: %v", err)
			}
		}()
	}

	logging.Infof("serve: ready (bus=%v, metrics=%v, journal=%v)", cfg.Bus.Enabled, cfg.Metrics.Enabled, cfg.Journal.Enabled)
	<-ctx.Done()
	logging.Infof("serve: shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logging.Warnf("serve: metrics shutdown: %v", err)
		}
	}
	return nil
}

func statsHandler(stats func() audio.PipelineStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pending_requests": s.PendingRequests,
			"play_queue_size":  s.PlayQueueSize,
			"generation":       s.Generation,
			"player_state":     s.PlayerState.String(),
			"current_id":       s.CurrentID,
			"is_playing":       s.IsPlaying,
			"playback_rate":    s.PlaybackRate,
			"total_enqueued":   s.TotalEnqueued,
			"total_played":     s.TotalPlayed,
			"total_stale":      s.TotalStale,
			"total_failed":     s.TotalFailed,
			"total_interrupts": s.TotalInterrupts,
		})
	}
}

func pruneLoop(ctx context.Context, store *journal.Store) {
	ticker := time.NewTicker(journalPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil {
				logging.Warnf("serve: journal prune: %v", err)
			}
		}
	}
}
