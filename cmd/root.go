// Package cmd defines the CLI commands for pluginator.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/NindroidA/pluginator/internal/config"
	pluginsync "github.com/NindroidA/pluginator/internal/sync"
	"github.com/NindroidA/pluginator/internal/ui"
)

var (
	verbose     bool
	noColor     bool
	cfgFile     string
	pluginsFile string
)

// rootCmd is the base command for the pluginator CLI.
var rootCmd = &cobra.Command{
	Use:   "pluginator",
	Short: "Keep Minecraft server plugins up to date",
	Long: `Pluginator checks every configured plugin against its release source
(Spigot, Modrinth, GitHub, CurseForge, Jenkins or a web manifest), installs
newer builds into the production plugins directory with a backup of the
previous file, and then mirrors production into the test server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		initLogger(verbose)
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var failed *pluginsync.FailedError
		if !errors.As(err, &failed) {
			ui.NewWriter(noColor, "").Error(err.Error())
		}
	}

	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultEnvPath, "environment config file")
	rootCmd.PersistentFlags().StringVar(&pluginsFile, "plugins", config.DefaultPluginsPath, "plugin list (path or URL)")
}

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
