package cmd

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NindroidA/pluginator/internal/ui"
)

var (
	statusOutput  string
	statusRefresh bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured plugins next to what is installed in production",
	Long: `Show configured plugins next to what is installed in production. With
--refresh, the version file is rewritten from the installed files: stale
records are replaced and records of removed plugins are dropped.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", ui.FormatTable, "output format: table or json")
	statusCmd.Flags().BoolVar(&statusRefresh, "refresh", false, "rewrite the version file from the installed files")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := ui.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	if err := a.store.Scan(a.cfg.Plugins); err != nil {
		return err
	}

	if statusRefresh {
		changed := a.store.Refresh(a.cfg.Plugins)

		if err := a.store.Save(); err != nil {
			return err
		}

		a.logger.Info("refreshed version file", "changed", len(changed), "plugins", strings.Join(changed, ","))
	}

	rows := make([]ui.StatusRow, 0, len(a.cfg.Plugins))

	for i := range a.cfg.Plugins {
		spec := &a.cfg.Plugins[i]

		row := ui.StatusRow{Plugin: spec.Name, Source: spec.Source, Enabled: spec.Enabled}

		inst, err := a.store.Get(spec.Name)

		switch {
		case err != nil:
			row.Problem = err.Error()
		case inst != nil:
			row.File = filepath.Base(inst.FilePath)
			row.Version = inst.Label

			if rec, ok := a.store.Record(spec.Name); ok && rec.Hash == inst.FileHash && !rec.UpdatedAt.IsZero() {
				updated := rec.UpdatedAt
				row.UpdatedAt = &updated
			}
		}

		rows = append(rows, row)
	}

	return ui.RenderStatus(cmd.OutOrStdout(), rows, format)
}
