// Command medcall-server runs the call signaling and speech-to-text gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/medcall/internal/config"
	"github.com/BioHazard786/medcall/internal/logging"
	"github.com/BioHazard786/medcall/internal/server"
	"github.com/BioHazard786/medcall/internal/stt"
	"github.com/BioHazard786/medcall/internal/upstream"
	"github.com/BioHazard786/medcall/internal/version"
)

var (
	flagConfig         string
	flagEnvFile        string
	flagAddr           string
	flagLogLevel       string
	flagAllowedOrigins []string
	flagDeepgramURL    string
	flagDeepgramKey    string
	flagDeepgramModel  string
)

var rootCmd = &cobra.Command{
	Use:   "medcall-server",
	Short: "Real-time gateway for consultation calls and live transcription",
	Long: `medcall-server relays WebRTC signaling between call participants and
streams their microphone audio to a speech-to-text provider, sending live
transcripts back to the browser.

Examples:
  medcall-server
  medcall-server --addr :9000 --log-level debug
  medcall-server --config gateway.yaml --allowed-origins https://app.example.com`,
	Version: version.Version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Options{
		ConfigFile:     flagConfig,
		EnvFile:        flagEnvFile,
		Addr:           flagAddr,
		LogLevel:       flagLogLevel,
		AllowedOrigins: flagAllowedOrigins,
		DeepgramURL:    flagDeepgramURL,
		DeepgramAPIKey: flagDeepgramKey,
		DeepgramModel:  flagDeepgramModel,
	})
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel, slog.LevelInfo)

	dialer, err := upstream.NewDialer(upstream.Options{
		URL:            cfg.Deepgram.URL,
		APIKey:         cfg.Deepgram.APIKey,
		Model:          cfg.Deepgram.Model,
		EndpointingMS:  cfg.Deepgram.EndpointingMS,
		AttemptTimeout: cfg.STT.AttemptTimeout,
	})
	if err != nil {
		return err
	}

	logger := logging.Component("gateway")
	logger.Info("starting", "version", version.Version, "provider", cfg.Deepgram.URL, "model", cfg.Deepgram.Model)

	srv := server.New(cfg, stt.DialerOpener(dialer), logger)
	return srv.Run(ctx)
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	rootCmd.Flags().StringVar(&flagEnvFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "listen address (default :8000)")
	rootCmd.Flags().StringVarP(&flagLogLevel, "log-level", "l", "", "debug, info, warn or error")
	rootCmd.Flags().StringSliceVar(&flagAllowedOrigins, "allowed-origins", nil, "origins allowed to open websockets")
	rootCmd.Flags().StringVar(&flagDeepgramURL, "deepgram-url", "", "transcription endpoint")
	rootCmd.Flags().StringVar(&flagDeepgramKey, "deepgram-api-key", "", "transcription API key")
	rootCmd.Flags().StringVar(&flagDeepgramModel, "deepgram-model", "", "transcription model")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
