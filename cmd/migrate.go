package cmd

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	pluginsync "github.com/NindroidA/pluginator/internal/sync"
)

var (
	migrateForce bool
	migrateOnly  []string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Promote the test server's plugins to production",
	Long: `Copy each configured plugin's file from the test server into production,
replacing the production copy. Plugins disabled on the test server are
promoted enabled. Purpur server jars in the test server directory are copied
too. The production plugins directory is archived first.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVarP(&migrateForce, "force", "f", false, "skip the confirmation prompt")
	migrateCmd.Flags().StringSliceVar(&migrateOnly, "only", nil, "limit the migration to the named plugins")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	if !migrateForce {
		a.out.Warningf("this replaces production plugins in %s with the test server's", a.cfg.ProdDir)

		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Continue? [y/N]: ")
		if err != nil {
			return err
		}

		if !ok {
			a.out.Info("migration cancelled")

			return nil
		}
	}

	mig, err := a.engine(engineOpts{only: migrateOnly}).Migrate(cmd.Context(), a.cfg)
	if mig == nil {
		return err
	}

	if mig.Backup != nil {
		a.out.Infof("production plugins archived to %s", mig.Backup.ArchivePath)
	}

	for i := range mig.Results {
		r := &mig.Results[i]

		switch {
		case r.Err != nil:
			a.out.Errorf("%s: %v", r.Plugin, r.Err)
		case r.Action == pluginsync.ActionMissing:
			a.out.Warningf("%s: not on the test server", r.Plugin)
		case r.Changed():
			a.out.Successf("%s: migrated %s", r.Plugin, filepath.Base(r.Path))
		}
	}

	for _, jar := range mig.ServerJars {
		a.out.Successf("server jar: migrated %s", filepath.Base(jar))
	}

	if scanErr := a.store.Scan(a.cfg.Plugins); scanErr != nil {
		a.out.Warningf("rescanning production: %v", scanErr)
	} else {
		a.store.Refresh(a.cfg.Plugins)

		if saveErr := a.store.Save(); saveErr != nil {
			a.out.Warningf("saving version file: %v", saveErr)
		}
	}

	if err != nil {
		return err
	}

	if failed := mig.Failed(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for i := range failed {
			names = append(names, failed[i].Plugin)
		}

		return errors.Newf("migration failed for %s", strings.Join(names, ", "))
	}

	return nil
}

// confirm asks a yes/no question. Anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprint(out, question); err != nil {
		return false, err
	}

	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		return false, sc.Err()
	}

	switch strings.ToLower(strings.TrimSpace(sc.Text())) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
