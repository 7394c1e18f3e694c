package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPluginsPath is where the plugin list lives relative to the working directory.
const DefaultPluginsPath = "./data/plugins.json"

// PluginsFile is the plugins.json document.
type PluginsFile struct {
	Plugins []PluginEntry `yaml:"plugins"`
}

// PluginEntry is one plugin as written in plugins.json. Fields not used by the
// entry's type are ignored.
type PluginEntry struct {
	Name            string      `yaml:"name"`
	Type            string      `yaml:"type"`
	Version         string      `yaml:"version,omitempty"`
	Enabled         *bool       `yaml:"enabled,omitempty"`
	DisableOnTest   bool        `yaml:"disableOnTest,omitempty"`
	MCVersion       string      `yaml:"mcVersion,omitempty"`
	FilenamePattern string      `yaml:"filenamePattern,omitempty"`
	ResourceID      looseString `yaml:"resourceId,omitempty"`
	ProjectSlug     string      `yaml:"projectSlug,omitempty"`
	RepoSlug        string      `yaml:"repoSlug,omitempty"`
	AssetPattern    string      `yaml:"assetPattern,omitempty"`
	ProjectID       looseString `yaml:"projectId,omitempty"`
	JenkinsURL      string      `yaml:"jenkinsUrl,omitempty"`
	JobName         string      `yaml:"jobName,omitempty"`
	ArtifactPattern string      `yaml:"artifactPattern,omitempty"`
	Auth            *EntryAuth  `yaml:"auth,omitempty"`
	ManifestURL     string      `yaml:"manifestUrl,omitempty"`
}

// EntryAuth holds Jenkins credentials.
type EntryAuth struct {
	Username string `yaml:"username"`
	APIToken string `yaml:"apiToken"`
}

// looseString accepts both quoted and numeric scalars, since numeric IDs are
// often written without quotes.
type looseString string

func (s *looseString) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: expected a scalar value", node.Line)
	}

	*s = looseString(node.Value)

	return nil
}

// LoadPluginsFile reads a plugin list from disk.
func LoadPluginsFile(path string) ([]PluginEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, errors.Wrapf(err, "reading plugins file %s", path)
	}

	entries, err := ParsePlugins(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing plugins file %s", path)
	}

	return entries, nil
}

// ParsePlugins decodes a plugin list. Both {"plugins": [...]} and a bare array
// are accepted, in JSON or YAML.
func ParsePlugins(data []byte) ([]PluginEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding plugin list")
	}

	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		var entries []PluginEntry
		if err := root.Decode(&entries); err != nil {
			return nil, errors.Wrap(err, "decoding plugin list")
		}

		return entries, nil
	case yaml.MappingNode:
		var f PluginsFile
		if err := root.Decode(&f); err != nil {
			return nil, errors.Wrap(err, "decoding plugin list")
		}

		return f.Plugins, nil
	default:
		return nil, errors.Newf("line %d: plugin list must be an object or an array", root.Line)
	}
}
