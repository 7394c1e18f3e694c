package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NindroidA/pluginator/internal/getter"
	"github.com/NindroidA/pluginator/internal/purpur"
)

var (
	purpurDownload bool
	purpurDir      string
)

var purpurCmd = &cobra.Command{
	Use:   "purpur",
	Short: "Check for (and optionally download) the latest Purpur server jar",
	Long: `Look up the latest Purpur build for the current Minecraft version and
compare it with the purpur-{version}-{build}.jar in the test server directory
(the parent of TEST_SERVER_PATH unless --dir is given).`,
	RunE: runPurpur,
}

func init() {
	purpurCmd.Flags().BoolVar(&purpurDownload, "download", false, "download the build when it is newer")
	purpurCmd.Flags().StringVar(&purpurDir, "dir", "", "server directory to check and download into")
	rootCmd.AddCommand(purpurCmd)
}

func runPurpur(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	dir := purpurDir
	if dir == "" {
		dir = filepath.Dir(filepath.Clean(a.cfg.TestDir))
	}

	checker := purpur.New(purpur.Opts{
		Client:  a.client,
		Getter:  getter.New(a.logger),
		Timeout: a.cfg.APITimeout,
		Logger:  a.logger,
	})

	info, err := checker.Latest(ctx)
	if err != nil {
		return err
	}

	if purpur.UpToDate(dir, info) {
		a.out.Successf("Purpur %s build %s is up to date", info.Version, info.Build)

		return nil
	}

	if version, build, ok := purpur.Installed(dir); ok {
		a.out.Infof("Purpur %s build %s available (installed: %s build %s)", info.Version, info.Build, version, build)
	} else {
		a.out.Infof("Purpur %s build %s available (none installed in %s)", info.Version, info.Build, dir)
	}

	if !purpurDownload {
		return nil
	}

	path, err := checker.Download(ctx, info, dir)
	if err != nil {
		return err
	}

	a.out.Successf("downloaded %s", path)

	return nil
}
