package state

import (
	"regexp"
	"strings"

	"github.com/NindroidA/pluginator/internal/fetcher"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/version"
)

// nameSuffixes are dropped from a plugin name when its file is published
// under the shorter name ("LuckPerms-Reloaded" ships as "LuckPerms-5.4.jar").
var nameSuffixes = []string{"-reloaded", "v3", "v2", "-spigot", "-bukkit", "-paper"}

// Matcher decides which files in a plugins directory belong to a plugin.
type Matcher struct {
	spec    plugin.Spec
	pattern *regexp.Regexp
}

// NewMatcher compiles the plugin's filename pattern, if any.
func NewMatcher(spec plugin.Spec) (*Matcher, error) {
	m := &Matcher{spec: spec}

	if spec.FilenamePattern != "" {
		re, err := regexp.Compile("(?i)" + spec.FilenamePattern)
		if err != nil {
			return nil, err
		}

		m.pattern = re
	}

	return m, nil
}

// Match reports whether an enabled plugin file belongs to the plugin.
// Disabled (.DIS), partial and non-jar files never match.
func (m *Matcher) Match(filename string) bool {
	lower := strings.ToLower(filename)

	if !strings.HasSuffix(lower, ".jar") || fetcher.IsPartial(filename) {
		return false
	}

	if strings.EqualFold(filename, m.spec.FileBase()) {
		return true
	}

	if m.pattern != nil {
		return m.pattern.MatchString(filename)
	}

	return matchName(strings.ToLower(m.spec.Name), lower)
}

// MatchDisabled is Match for a file carrying the disabled suffix.
func (m *Matcher) MatchDisabled(filename string) bool {
	base, ok := cutSuffixFold(filename, version.DisabledSuffix)
	if !ok {
		return false
	}

	return m.Match(base)
}

func matchName(name, file string) bool {
	if file == name+".jar" {
		return true
	}

	if strings.HasPrefix(file, name+"-") {
		return true
	}

	for _, suffix := range nameSuffixes {
		short, ok := strings.CutSuffix(name, suffix)
		if !ok || short == "" {
			continue
		}

		if file == short+".jar" || strings.HasPrefix(file, short+"-") {
			return !longerName(name, file)
		}
	}

	return false
}

// longerName rejects files that merely start with the plugin name, so
// "vault" does not claim "vaultunlocked.jar".
func longerName(name, file string) bool {
	base := strings.TrimSuffix(file, ".jar")
	if len(base) <= len(name) || !strings.HasPrefix(base, name) {
		return false
	}

	switch base[len(name)] {
	case '-', '_', '.':
		return false
	default:
		return true
	}
}

func cutSuffixFold(s, suffix string) (string, bool) {
	if len(s) < len(suffix) || !strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s, false
	}

	return s[:len(s)-len(suffix)], true
}
