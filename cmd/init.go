package cmd

import (
	"github.com/spf13/cobra"

	"github.com/NindroidA/pluginator/internal/initcmd"
	"github.com/NindroidA/pluginator/internal/ui"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter config and plugin list",
	Long: `Create config/pluginator.config and data/plugins.json in the given
directory (or the current directory), along with the backup and log
directories. Existing files are left alone unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, args []string) error {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}

	created, err := initcmd.Run(&initcmd.Opts{Dir: dir, Force: initForce})
	if err != nil {
		return err
	}

	out := ui.NewWriter(noColor, "")
	for _, p := range created {
		out.Successf("created %s", p)
	}

	return nil
}
