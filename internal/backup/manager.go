// Package backup snapshots plugin files before they are replaced and prunes
// old snapshots per plugin.
package backup

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// timestampLayout sorts lexically in time order.
const timestampLayout = "20060102_150405.000000000"

// Archive kinds, before the compression extension.
const (
	kindPlugin = ".jar"
	kindTree   = ".tar"
)

// Policy bounds how many snapshots are kept per plugin. Zero disables a limit.
type Policy struct {
	MaxCount int
	MaxAge   time.Duration
}

// Opts configures a Manager.
type Opts struct {
	Fs          afero.Fs
	Dir         string
	Compression string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Manager owns the backup directory. Plugin snapshots live in one
// subdirectory per plugin, named {plugin}_{timestamp}.jar plus the
// compression extension. Directory tree snapshots sit in the backup root as
// {label}_{timestamp}.tar plus the compression extension.
type Manager struct {
	fs     afero.Fs
	dir    string
	codec  codec
	now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

// New returns a Manager.
func New(opts Opts) (*Manager, error) {
	c, err := codecByName(strings.ToLower(opts.Compression))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		fs:     opts.Fs,
		dir:    opts.Dir,
		codec:  c,
		now:    opts.Now,
		logger: opts.Logger,
	}

	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}

	if m.now == nil {
		m.now = time.Now
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}

	return m, nil
}

// Dir returns the backup root.
func (m *Manager) Dir() string { return m.dir }

// Snapshot copies the file at path into the backup directory. It returns
// nil, nil when there is no file to back up.
func (m *Manager) Snapshot(pluginName, path string) (*plugin.BackupRecord, error) {
	info, err := m.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, &plugin.BackupError{Path: path, Err: err}
	}

	if info.IsDir() {
		return nil, &plugin.BackupError{Path: path, Err: errors.New("is a directory")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pluginDir := m.pluginDir(pluginName)
	if err := m.fs.MkdirAll(pluginDir, 0o750); err != nil {
		return nil, &plugin.BackupError{Path: path, Err: err}
	}

	ts, dest := m.nextArchive(pluginDir, pluginName, kindPlugin)

	size, err := m.writeArchive(dest, func(w io.Writer) error {
		in, err := m.fs.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		_, err = io.Copy(w, in)

		return err
	})
	if err != nil {
		return nil, &plugin.BackupError{Path: path, Err: err}
	}

	rec := &plugin.BackupRecord{
		Timestamp:   ts,
		PluginName:  pluginName,
		ArchivePath: dest,
		SizeBytes:   size,
	}

	m.logger.Debug("created backup", "plugin", pluginName, "archive", dest, "bytes", size)

	return rec, nil
}

// nextArchive returns a free archive path in dir stamped with the current
// time.
func (m *Manager) nextArchive(dir, name, kind string) (time.Time, string) {
	ts := m.now().UTC()

	dest := archivePath(dir, name, kind, m.codec.ext, ts)
	for exists(m.fs, dest) {
		ts = ts.Add(time.Nanosecond)
		dest = archivePath(dir, name, kind, m.codec.ext, ts)
	}

	return ts, dest
}

// writeArchive compresses what fill writes into a temporary file next to dest
// and renames it into place, so a failed snapshot never leaves a truncated
// archive behind.
func (m *Manager) writeArchive(dest string, fill func(io.Writer) error) (int64, error) {
	tmp, err := afero.TempFile(m.fs, filepath.Dir(dest), ".backup-*.tmp")
	if err != nil {
		return 0, err
	}

	tmpName := tmp.Name()

	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = m.fs.Remove(tmpName)

		return 0, err
	}

	w, err := m.codec.writer(tmp)
	if err != nil {
		return fail(err)
	}

	if err := fill(w); err != nil {
		_ = w.Close()

		return fail(errors.Wrap(err, "copying"))
	}

	if err := w.Close(); err != nil {
		return fail(errors.Wrap(err, "finishing archive"))
	}

	if err := tmp.Sync(); err != nil {
		return fail(errors.Wrap(err, "syncing archive"))
	}

	if err := tmp.Close(); err != nil {
		_ = m.fs.Remove(tmpName)

		return 0, err
	}

	if err := m.fs.Rename(tmpName, dest); err != nil {
		_ = m.fs.Remove(tmpName)

		return 0, errors.Wrapf(err, "renaming archive to %s", dest)
	}

	info, err := m.fs.Stat(dest)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// List returns snapshots newest first. An empty pluginName lists all plugins.
func (m *Manager) List(pluginName string) ([]plugin.BackupRecord, error) {
	var dirs []string

	if pluginName != "" {
		dirs = []string{m.pluginDir(pluginName)}
	} else {
		entries, err := afero.ReadDir(m.fs, m.dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}

			return nil, errors.Wrapf(err, "reading backup directory %s", m.dir)
		}

		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(m.dir, e.Name()))
			}
		}
	}

	var records []plugin.BackupRecord

	for _, dir := range dirs {
		recs, err := m.listDir(dir)
		if err != nil {
			return nil, err
		}

		records = append(records, recs...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	return records, nil
}

func (m *Manager) listDir(dir string) ([]plugin.BackupRecord, error) {
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.Wrapf(err, "reading backup directory %s", dir)
	}

	var records []plugin.BackupRecord

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name, ts, ok := parseArchiveName(e.Name(), kindPlugin)
		if !ok {
			continue
		}

		records = append(records, plugin.BackupRecord{
			Timestamp:   ts,
			PluginName:  name,
			ArchivePath: filepath.Join(dir, e.Name()),
			SizeBytes:   e.Size(),
		})
	}

	return records, nil
}

// Latest returns the newest snapshot of a plugin, or nil when there is none.
func (m *Manager) Latest(pluginName string) (*plugin.BackupRecord, error) {
	records, err := m.List(pluginName)
	if err != nil || len(records) == 0 {
		return nil, err
	}

	return &records[0], nil
}

// Prune deletes a plugin's snapshots beyond the newest p.MaxCount and those
// older than p.MaxAge, returning what was removed. Call it only after a new
// snapshot has been applied.
func (m *Manager) Prune(pluginName string, p Policy) ([]plugin.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.List(pluginName)
	if err != nil {
		return nil, err
	}

	return m.prune(pluginName, records, p)
}

// prune removes the records p does not keep. records must be newest first.
func (m *Manager) prune(name string, records []plugin.BackupRecord, p Policy) ([]plugin.BackupRecord, error) {
	cutoff := time.Time{}
	if p.MaxAge > 0 {
		cutoff = m.now().UTC().Add(-p.MaxAge)
	}

	var (
		removed []plugin.BackupRecord
		errs    []string
	)

	for i, rec := range records {
		overCount := p.MaxCount > 0 && i >= p.MaxCount
		tooOld := !cutoff.IsZero() && rec.Timestamp.Before(cutoff)

		if !overCount && !tooOld {
			continue
		}

		if err := m.fs.Remove(rec.ArchivePath); err != nil {
			errs = append(errs, err.Error())

			continue
		}

		m.logger.Debug("pruned backup", "name", name, "archive", rec.ArchivePath)
		removed = append(removed, rec)
	}

	if len(errs) > 0 {
		return removed, errors.Newf("pruning backups of %s: %s", name, strings.Join(errs, "; "))
	}

	return removed, nil
}

// Restore decompresses rec to dest through a temporary file and rename.
func (m *Manager) Restore(rec plugin.BackupRecord, dest string) error {
	in, err := m.fs.Open(rec.ArchivePath)
	if err != nil {
		return errors.Wrapf(err, "opening backup %s", rec.ArchivePath)
	}
	defer in.Close()

	r, err := codecForFile(rec.ArchivePath).reader(in)
	if err != nil {
		return errors.Wrapf(err, "reading backup %s", rec.ArchivePath)
	}
	defer r.Close()

	if err := m.fs.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(dest))
	}

	tmp, err := afero.TempFile(m.fs, filepath.Dir(dest), "."+filepath.Base(dest)+"-*.restore")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}

	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = m.fs.Remove(tmpName)

		return errors.Wrapf(err, "decompressing %s", rec.ArchivePath)
	}

	if err := tmp.Close(); err != nil {
		_ = m.fs.Remove(tmpName)

		return errors.Wrap(err, "closing temporary file")
	}

	if err := m.fs.Rename(tmpName, dest); err != nil {
		_ = m.fs.Remove(tmpName)

		return errors.Wrapf(err, "restoring %s", dest)
	}

	return nil
}

func (m *Manager) pluginDir(pluginName string) string {
	return filepath.Join(m.dir, plugin.SanitizeName(pluginName))
}

func archivePath(dir, name, kind, ext string, ts time.Time) string {
	file := plugin.SanitizeName(name) + "_" + ts.Format(timestampLayout) + kind + ext

	return filepath.Join(dir, file)
}

// parseArchiveName splits "{name}_{timestamp}{kind}[.ext]".
func parseArchiveName(file, kind string) (string, time.Time, bool) {
	c := codecForFile(file)
	base := strings.TrimSuffix(file, c.ext)

	base, ok := strings.CutSuffix(base, kind)
	if !ok || len(base) < len(timestampLayout)+2 {
		return "", time.Time{}, false
	}

	split := len(base) - len(timestampLayout)
	if base[split-1] != '_' {
		return "", time.Time{}, false
	}

	ts, err := time.ParseInLocation(timestampLayout, base[split:], time.UTC)
	if err != nil {
		return "", time.Time{}, false
	}

	return base[:split-1], ts, true
}

func exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)

	return err == nil
}
