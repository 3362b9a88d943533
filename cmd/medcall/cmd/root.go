package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/medcall/internal/clientconfig"
	"github.com/BioHazard786/medcall/internal/logging"
	"github.com/BioHazard786/medcall/internal/ui"
	"github.com/BioHazard786/medcall/internal/version"
)

var (
	flagServer   string
	flagLogLevel string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "medcall",
	Short: "Terminal client for medcall consultation rooms and live transcription",
	Long: `medcall talks to a medcall gateway from the terminal. It can join a call
room and chat with the participants, stream a recording to the live
transcription service, and check that WebRTC media can reach a room.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel, slog.LevelError)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// LoadConfig applies the persistent flags over the environment.
func LoadConfig() (*clientconfig.Config, error) {
	return clientconfig.Load(clientconfig.Options{
		Server:     flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "gateway URL (default ws://localhost:8000, env MEDCALL_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&flagLogLevel, "log-level", "l", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&flagSTUN, "stun", "", "STUN server URL")
	rootCmd.PersistentFlags().StringVar(&flagTURN, "turn", "", "TURN server URL")
	rootCmd.PersistentFlags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	rootCmd.PersistentFlags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")

	rootCmd.AddCommand(joinCmd, transcribeCmd, probeCmd)
}
