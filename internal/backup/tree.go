package backup

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// Tree snapshot labels.
const (
	LabelProdServer         = "prod_server"
	LabelTestServer         = "test_server"
	LabelTestPluginsSync    = "test_plugins_before_sync"
	LabelProdPluginsMigrate = "prod_plugins_before_migration"
)

// SnapshotTree archives the directory at root as a tar stream, compressed
// with the manager's codec. Entry names start with root's base name. The
// backup directory itself is skipped when it lies inside root. It returns
// nil, nil when root does not exist.
func (m *Manager) SnapshotTree(label, root string) (*plugin.BackupRecord, error) {
	root = filepath.Clean(root)

	info, err := m.fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, &plugin.BackupError{Path: root, Err: err}
	}

	if !info.IsDir() {
		return nil, &plugin.BackupError{Path: root, Err: errors.New("not a directory")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(m.dir, 0o750); err != nil {
		return nil, &plugin.BackupError{Path: root, Err: err}
	}

	ts, dest := m.nextArchive(m.dir, label, kindTree)

	var files int

	size, err := m.writeArchive(dest, func(w io.Writer) error {
		n, err := m.writeTar(w, root)
		files = n

		return err
	})
	if err != nil {
		return nil, &plugin.BackupError{Path: root, Err: err}
	}

	m.logger.Info("created directory backup", "label", label, "root", root, "archive", dest, "files", files, "bytes", size)

	return &plugin.BackupRecord{
		Timestamp:   ts,
		PluginName:  label,
		ArchivePath: dest,
		SizeBytes:   size,
	}, nil
}

// writeTar streams the tree under root into w and returns the number of
// regular files written. Symlinks and special files are skipped.
func (m *Manager) writeTar(w io.Writer, root string) (int, error) {
	tw := tar.NewWriter(w)
	parent := filepath.Dir(root)
	skip := filepath.Clean(m.dir)

	var files int

	err := afero.Walk(m.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() && filepath.Clean(path) == skip {
			return filepath.SkipDir
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			m.logger.Debug("skipping non-regular file", "path", path)

			return nil
		}

		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return errors.Wrapf(err, "describing %s", path)
		}

		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return errors.Wrapf(err, "writing header for %s", path)
		}

		if info.IsDir() {
			return nil
		}

		if err := m.copyInto(tw, path); err != nil {
			return err
		}

		files++

		return nil
	})
	if err != nil {
		return files, err
	}

	return files, tw.Close()
}

func (m *Manager) copyInto(w io.Writer, path string) error {
	f, err := m.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return errors.Wrapf(err, "archiving %s", path)
	}

	return nil
}

// ListTrees returns directory tree snapshots newest first. An empty label
// lists every label.
func (m *Manager) ListTrees(label string) ([]plugin.BackupRecord, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.Wrapf(err, "reading backup directory %s", m.dir)
	}

	want := ""
	if label != "" {
		want = plugin.SanitizeName(label)
	}

	var records []plugin.BackupRecord

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name, ts, ok := parseArchiveName(e.Name(), kindTree)
		if !ok || (want != "" && name != want) {
			continue
		}

		records = append(records, plugin.BackupRecord{
			Timestamp:   ts,
			PluginName:  name,
			ArchivePath: filepath.Join(m.dir, e.Name()),
			SizeBytes:   e.Size(),
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	return records, nil
}

// PruneTrees applies p to the directory tree snapshots of one label.
func (m *Manager) PruneTrees(label string, p Policy) ([]plugin.BackupRecord, error) {
	if strings.TrimSpace(label) == "" {
		return nil, errors.New("pruning directory backups needs a label")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.ListTrees(label)
	if err != nil {
		return nil, err
	}

	return m.prune(label, records, p)
}
