// Package state tracks which version of each managed plugin is installed in
// the production plugins directory.
package state

import (
	"archive/zip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/version"
)

// maxDescriptorBytes caps how much of plugin.yml is read from a JAR.
const maxDescriptorBytes = 1 << 20

// descriptorNames are the plugin descriptors looked up inside a JAR, in order.
var descriptorNames = []string{"plugin.yml", "paper-plugin.yml"}

// Record is the persisted knowledge about one installed plugin.
type Record struct {
	Version   string    `yaml:"version"`
	File      string    `yaml:"file"`
	Hash      string    `yaml:"hash"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// File is the on-disk layout of the version store.
type File struct {
	Plugins map[string]Record `yaml:"plugins"`
}

// Opts configures a Store.
type Opts struct {
	Fs afero.Fs
	// Dir is the production plugins directory.
	Dir string
	// Path is the persisted version file. Empty disables persistence.
	Path   string
	Logger *slog.Logger
	Now    func() time.Time
}

// Store maps plugin names to their installed state. It is safe for concurrent
// use.
type Store struct {
	fs     afero.Fs
	dir    string
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	installed map[string]*plugin.Installed
	problems  map[string]error
	records   map[string]Record
}

// New returns an empty Store.
func New(opts Opts) *Store {
	s := &Store{
		fs:        opts.Fs,
		dir:       opts.Dir,
		path:      opts.Path,
		logger:    opts.Logger,
		now:       opts.Now,
		installed: make(map[string]*plugin.Installed),
		problems:  make(map[string]error),
		records:   make(map[string]Record),
	}

	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Dir returns the production plugins directory.
func (s *Store) Dir() string { return s.dir }

// Load reads the persisted version file. A missing file is not an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.Wrapf(err, "reading version store %s", s.path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return errors.Wrapf(err, "parsing version store %s", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]Record, len(f.Plugins))
	for name, rec := range f.Plugins {
		s.records[name] = rec
	}

	return nil
}

// Save writes the version file through a temporary file and rename.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	f := File{Plugins: make(map[string]Record, len(s.records))}

	for name, rec := range s.records {
		f.Plugins[name] = rec
	}
	s.mu.RUnlock()

	data, err := yaml.Marshal(&f)
	if err != nil {
		return errors.Wrap(err, "encoding version store")
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary version store")
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)

		return errors.Wrap(err, "writing version store")
	}

	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)

		return errors.Wrap(err, "writing version store")
	}

	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)

		return errors.Wrapf(err, "replacing version store %s", s.path)
	}

	return nil
}

// Scan rebuilds the installed map from the production directory. A missing
// directory means nothing is installed. Plugins with more than one matching
// file are recorded as ambiguous and reported by Get.
func (s *Store) Scan(specs []plugin.Spec) error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "listing plugins directory %s", s.dir)
	}

	var files []string

	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}

	installed := make(map[string]*plugin.Installed, len(specs))
	problems := make(map[string]error)

	for i := range specs {
		spec := specs[i]

		m, err := NewMatcher(spec)
		if err != nil {
			problems[spec.Name] = errors.Wrapf(err, "compiling filename pattern for %s", spec.Name)

			continue
		}

		var matches []string

		for _, name := range files {
			if m.Match(name) {
				matches = append(matches, name)
			}
		}

		switch len(matches) {
		case 0:
			continue
		case 1:
		default:
			sort.Strings(matches)
			problems[spec.Name] = &plugin.AmbiguousInstallError{Plugin: spec.Name, Candidates: matches}

			continue
		}

		inst, err := s.inspect(spec.Name, filepath.Join(s.dir, matches[0]))
		if err != nil {
			problems[spec.Name] = err

			continue
		}

		installed[spec.Name] = inst
	}

	s.mu.Lock()
	s.installed = installed
	s.problems = problems
	s.mu.Unlock()

	s.logger.Debug("scanned plugins directory", "dir", s.dir, "files", len(files), "installed", len(installed))

	return nil
}

func (s *Store) inspect(name, path string) (*plugin.Installed, error) {
	hash, err := digest.Fingerprint(s.fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "fingerprinting %s", path)
	}

	inst := &plugin.Installed{PluginName: name, FilePath: path, FileHash: hash}

	s.mu.RLock()
	rec, ok := s.records[name]
	s.mu.RUnlock()

	switch {
	case ok && rec.Hash == hash && rec.Version != "":
		inst.Label = rec.Version
	default:
		if label, ok := version.ParseInstalledVersion(filepath.Base(path)); ok {
			inst.Label = label
		} else {
			inst.Label = s.descriptorVersion(path)
		}
	}

	return inst, nil
}

// descriptorVersion reads the version declared in the JAR's plugin
// descriptor. Unreadable JARs yield an empty label.
func (s *Store) descriptorVersion(path string) string {
	label, err := ReadDescriptorVersion(s.fs, path)
	if err != nil {
		s.logger.Debug("no descriptor version", "path", path, "error", err)

		return ""
	}

	return label
}

// ReadDescriptorVersion returns the version field of plugin.yml, or of
// paper-plugin.yml, inside the JAR at path.
func ReadDescriptorVersion(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return "", errors.Wrapf(err, "opening %s as a JAR", path)
	}

	for _, want := range descriptorNames {
		for _, zf := range zr.File {
			if zf.Name != want {
				continue
			}

			return readDescriptor(zf)
		}
	}

	return "", errors.Newf("%s has no plugin descriptor", path)
}

func readDescriptor(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxDescriptorBytes))
	if err != nil {
		return "", err
	}

	var desc struct {
		Version string `yaml:"version"`
	}

	if err := yaml.Unmarshal(data, &desc); err != nil {
		return "", errors.Wrapf(err, "parsing %s", zf.Name)
	}

	if desc.Version == "" {
		return "", errors.Newf("%s has no version", zf.Name)
	}

	return desc.Version, nil
}

// Get returns the installed state of a plugin, nil when it is not installed,
// or the problem Scan recorded for it.
func (s *Store) Get(name string) (*plugin.Installed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.problems[name]; ok {
		return nil, err
	}

	inst, ok := s.installed[name]
	if !ok {
		return nil, nil
	}

	cp := *inst
	if inst.Digests != nil {
		cp.Digests = make(map[string]string, len(inst.Digests))
		for k, v := range inst.Digests {
			cp.Digests[k] = v
		}
	}

	return &cp, nil
}

// Put records a freshly applied plugin file.
func (s *Store) Put(inst plugin.Installed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.problems, inst.PluginName)
	s.installed[inst.PluginName] = &inst
	s.records[inst.PluginName] = Record{
		Version:   inst.Label,
		File:      filepath.Base(inst.FilePath),
		Hash:      inst.FileHash,
		UpdatedAt: s.now().UTC(),
	}
}

// Remove forgets a plugin.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.installed, name)
	delete(s.problems, name)
	delete(s.records, name)
}

// Record returns the persisted record of a plugin.
func (s *Store) Record(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]

	return rec, ok
}

// Refresh rewrites the records of the given plugins from the last Scan. A
// record is replaced when it is missing or its hash no longer matches the
// installed file, and dropped when the plugin is no longer installed.
// Ambiguous plugins keep their record. It returns the names whose record
// changed, sorted.
func (s *Store) Refresh(specs []plugin.Spec) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string

	for i := range specs {
		name := specs[i].Name

		if _, ok := s.problems[name]; ok {
			continue
		}

		rec, hasRec := s.records[name]

		inst, ok := s.installed[name]
		if !ok {
			if hasRec {
				delete(s.records, name)
				changed = append(changed, name)
			}

			continue
		}

		if hasRec && rec.Hash == inst.FileHash && rec.Version == inst.Label {
			continue
		}

		s.records[name] = Record{
			Version:   inst.Label,
			File:      filepath.Base(inst.FilePath),
			Hash:      inst.FileHash,
			UpdatedAt: s.now().UTC(),
		}
		changed = append(changed, name)
	}

	sort.Strings(changed)

	return changed
}
