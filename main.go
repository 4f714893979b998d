// Command voicelink is a terminal client for the robot voice assistant.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"go.aimuz.me/voicelink/config"
	"go.aimuz.me/voicelink/internal/app"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "voicelink",
	Short: "Voice assistant client for the robot backend",
	Long: `voicelink connects to the voice assistant backend over WebSocket,
records what you say, sends the transcript and plays the spoken reply.

Configuration is read from the user config directory (voicelink/config.yaml)
and can be overridden with REACT_APP_WS_HOST, REACT_APP_API_BASE,
OPENAI_API_KEY and VOICELINK_MQTT_BROKER.

Examples:
  # Chat and talk from the terminal
  voicelink run

  # Send one message and print the reply
  voicelink say "wave to the judges"

  # Route commands to another robot
  voicelink robot set lab1
`,
	Version:       fmt.Sprintf("%s (%s, %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/voicelink/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(robotCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(prefsCmd)
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(os.Stderr),
	})))
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// waitConnected polls until the service is connected or timeout passes.
func waitConnected(ctx context.Context, svc *app.Service, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !svc.Status().Connected {
		select {
		case <-ctx.Done():
			return fmt.Errorf("not connected after %s", timeout)
		case <-tick.C:
		}
	}
	return nil
}

func main() {
	slog.Debug("starting voicelink", "version", version, "commit", commit, "date", date)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
