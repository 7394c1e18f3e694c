package cmd

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/NindroidA/pluginator/internal/backup"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/ui"
)

var (
	backupsOutput  string
	backupsServers bool
	restoreFile    string
	createPlugins  bool
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Create, list, restore and prune backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list [plugin]",
	Short: "List backups, newest first",
	Long: `List plugin backups, newest first. With --servers, list the directory
archives made by 'backups create', 'sync' and 'migrate' instead; the optional
argument then filters by label.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupsList,
}

var backupsCreateCmd = &cobra.Command{
	Use:       "create prod|test",
	Short:     "Archive a whole server directory",
	Long:      `Archive the production or test server directory (the parent of its plugins directory) into the backup directory, then apply the retention policy to those archives.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"prod", "test"},
	RunE:      runBackupsCreate,
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <plugin>",
	Short: "Restore a plugin's production file from a backup",
	Long: `Restore the newest backup of a plugin (or the one named with --file) over
the plugin's production file. The file being replaced is backed up first.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupsRestore,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune [plugin]",
	Short: "Apply the MAX_BACKUPS and MAX_BACKUP_DAYS retention policy",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackupsPrune,
}

func init() {
	backupsListCmd.Flags().StringVarP(&backupsOutput, "output", "o", ui.FormatTable, "output format: table or json")
	backupsListCmd.Flags().BoolVar(&backupsServers, "servers", false, "list directory archives instead of plugin backups")
	backupsRestoreCmd.Flags().StringVar(&restoreFile, "file", "", "archive file name to restore (default newest)")
	backupsCreateCmd.Flags().BoolVar(&createPlugins, "plugins-only", false, "archive only the plugins directory")

	backupsCmd.AddCommand(backupsCreateCmd, backupsListCmd, backupsRestoreCmd, backupsPruneCmd)
	rootCmd.AddCommand(backupsCmd)
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	format, err := ui.ParseFormat(backupsOutput)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	list := a.backups.List
	if backupsServers {
		list = a.backups.ListTrees
	}

	records, err := list(name)
	if err != nil {
		return err
	}

	return ui.RenderBackups(cmd.OutOrStdout(), records, format)
}

func runBackupsCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	var label, dir string

	switch args[0] {
	case "prod":
		label, dir = backup.LabelProdServer, a.cfg.ProdDir
	case "test":
		label, dir = backup.LabelTestServer, a.cfg.TestDir
	default:
		return errors.Newf("unknown server %q (want prod or test)", args[0])
	}

	if createPlugins {
		label += "_plugins"
	} else {
		dir = filepath.Dir(filepath.Clean(dir))
	}

	rec, err := a.backups.SnapshotTree(label, dir)
	if err != nil {
		return err
	}

	if rec == nil {
		return errors.Newf("%s does not exist", dir)
	}

	a.out.Successf("archived %s to %s (%s)", dir, rec.ArchivePath, ui.HumanBytes(rec.SizeBytes))

	removed, err := a.backups.PruneTrees(label, backup.Policy{MaxCount: a.cfg.MaxBackups, MaxAge: a.cfg.MaxBackupAge})
	if err != nil {
		a.out.Warningf("pruning old archives: %v", err)
	}

	if len(removed) > 0 {
		a.out.Infof("removed %d old archive(s)", len(removed))
	}

	return nil
}

func runBackupsRestore(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	spec, ok := a.cfg.Plugin(args[0])
	if !ok {
		return errors.Newf("plugin %q is not configured", args[0])
	}

	rec, err := pickBackup(a.backups, spec.Name, restoreFile)
	if err != nil {
		return err
	}

	if err := a.store.Scan([]plugin.Spec{*spec}); err != nil {
		return err
	}

	inst, err := a.store.Get(spec.Name)
	if err != nil {
		return err
	}

	dest := filepath.Join(a.cfg.ProdDir, spec.FileBase())
	if inst != nil {
		dest = inst.FilePath
	}

	if _, err := a.backups.Snapshot(spec.Name, dest); err != nil {
		return err
	}

	if err := a.backups.Restore(*rec, dest); err != nil {
		return err
	}

	if err := a.store.Scan([]plugin.Spec{*spec}); err != nil {
		return err
	}

	if inst, err := a.store.Get(spec.Name); err == nil && inst != nil {
		a.store.Put(*inst)

		if err := a.store.Save(); err != nil {
			a.out.Warningf("saving version file: %v", err)
		}
	}

	a.out.Successf("restored %s from %s", dest, filepath.Base(rec.ArchivePath))

	return nil
}

func pickBackup(m *backup.Manager, name, file string) (*plugin.BackupRecord, error) {
	records, err := m.List(name)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, errors.Newf("no backups of %s", name)
	}

	if file == "" {
		return &records[0], nil
	}

	for i := range records {
		if filepath.Base(records[i].ArchivePath) == file {
			return &records[i], nil
		}
	}

	return nil, errors.Newf("no backup of %s named %s", name, file)
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	var names []string

	if len(args) > 0 {
		names = []string{args[0]}
	} else {
		records, err := a.backups.List("")
		if err != nil {
			return err
		}

		seen := make(map[string]bool)

		for i := range records {
			if !seen[records[i].PluginName] {
				seen[records[i].PluginName] = true
				names = append(names, records[i].PluginName)
			}
		}

		sort.Strings(names)
	}

	policy := backup.Policy{MaxCount: a.cfg.MaxBackups, MaxAge: a.cfg.MaxBackupAge}

	var failed []string

	for _, name := range names {
		removed, err := a.backups.Prune(name, policy)
		if err != nil {
			a.out.Error(err.Error())
			failed = append(failed, name)
		}

		if len(removed) > 0 {
			a.out.Successf("%s: removed %d backup(s)", name, len(removed))
		}
	}

	if len(args) == 0 {
		failed = append(failed, pruneTrees(a, policy)...)
	}

	if len(failed) > 0 {
		return errors.Newf("pruning failed for %s", strings.Join(failed, ", "))
	}

	return nil
}

// pruneTrees applies the retention policy to every directory archive label.
func pruneTrees(a *app, policy backup.Policy) []string {
	records, err := a.backups.ListTrees("")
	if err != nil {
		a.out.Error(err.Error())

		return []string{"directory archives"}
	}

	seen := make(map[string]bool)

	var failed []string

	for i := range records {
		label := records[i].PluginName
		if seen[label] {
			continue
		}

		seen[label] = true

		removed, err := a.backups.PruneTrees(label, policy)
		if err != nil {
			a.out.Error(err.Error())
			failed = append(failed, label)
		}

		if len(removed) > 0 {
			a.out.Successf("%s: removed %d archive(s)", label, len(removed))
		}
	}

	return failed
}
