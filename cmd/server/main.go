// Command server runs the voice agent gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/agent"
	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/config"
	"github.com/ansh-stack00/svaraAI/internal/httpserver"
	"github.com/ansh-stack00/svaraAI/internal/llm"
	"github.com/ansh-stack00/svaraAI/internal/logging"
	"github.com/ansh-stack00/svaraAI/internal/rtc"
	"github.com/ansh-stack00/svaraAI/internal/store"
	"github.com/ansh-stack00/svaraAI/internal/telemetry"
	"github.com/ansh-stack00/svaraAI/internal/transcript"
	"github.com/ansh-stack00/svaraAI/internal/tts"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var addr, configFile, logLevel string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Real-time voice agent: recognizer, LLM and synthesizer bridged into a LiveKit room",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if configFile != "" {
				if err := cfg.MergeFile(configFile); err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			if addr != "" {
				cfg.HTTPAddress = addr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDRESS)")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config overlay")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func run(cfg config.Config) error {
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if missing := cfg.Validate(); len(missing) > 0 {
		log.Warn("missing configuration; calls will fail until set", zap.Strings("keys", missing))
	}

	prom, err := telemetry.NewPrometheusObserver("svara", prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	recorder := telemetry.NewRecorder(log, prom)

	db, err := store.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
	if err != nil {
		return fmt.Errorf("supabase: %w", err)
	}

	srv := httpserver.New(httpserver.Deps{
		Store: db,
		NewRecognizer: func() transcript.Recognizer {
			return transcript.New(transcript.Options{
				Kind:           cfg.Recognizer,
				DeepgramKey:    cfg.DeepgramKey,
				DeepgramModel:  cfg.DeepgramModel,
				AssemblyAIKey:  cfg.AssemblyAIKey,
				Interim:        cfg.InterimTranscripts,
				ConnectTimeout: cfg.ConnectTimeout,
				Logger:         log,
			})
		},
		JoinRoom: func(ctx context.Context, room string, onAudio func([]int16)) (agent.FrameSink, error) {
			r, err := rtc.Join(ctx, rtc.JoinOptions{
				URL:       cfg.LiveKitURL,
				APIKey:    cfg.LiveKitAPIKey,
				APISecret: cfg.LiveKitAPISecret,
				Room:      room,
				Identity:  cfg.AgentIdentity,
				Timeout:   cfg.ConnectTimeout,
				OnAudio:   onAudio,
			}, log.With(zap.String("component", "rtc")))
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		Generator: llm.NewClient(llm.Options{
			APIKey:    cfg.LLMKey,
			BaseURL:   cfg.LLMBaseURL,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.LLMMaxTokens,
		}),
		Synthesizer: tts.New(cfg.Synthesizer,
			cfg.ElevenLabsKey, cfg.ElevenLabsModel, cfg.ElevenLabsLatency,
			cfg.DeepgramKey, cfg.DeepgramTTSModel),
		Decoder:      audio.NewDecoder(cfg.Decoder, cfg.FFmpegPath),
		Recorder:     recorder,
		Logger:       log,
		Token:        cfg.GatewayToken,
		WarmUp:       cfg.WarmUp,
		RelayInterim: cfg.InterimTranscripts,
	}, prometheus.DefaultGatherer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go recorder.Run(ctx, cfg.SummaryInterval)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddress))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("calls still active at shutdown", zap.Int("calls", srv.Sessions()), zap.Error(err))
	}
	recorder.Flush()
	return nil
}
