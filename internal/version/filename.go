package version

import (
	"path/filepath"
	"regexp"
	"strings"
)

// DisabledSuffix marks a plugin JAR the server will not load.
const DisabledSuffix = ".DIS"

// filenamePatterns are tried in order; the first capture group is the label.
var filenamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`-(\d+\.\d+\.\d+\.\d+)$`),
	regexp.MustCompile(`-(\d+\.\d+\.\d+)(?:-[A-Za-z].*)?$`),
	regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)$`),
	regexp.MustCompile(`(\d+\.\d+\.\d+)$`),
	regexp.MustCompile(`-(\d+\.\d+)(?:-[A-Za-z].*)?$`),
	regexp.MustCompile(`[vV](\d+\.\d+(?:\.\d+)?)$`),
}

// ParseInstalledVersion extracts a version label from a JAR file name such as
// "WorldEdit-7.3.0.jar" or "Vault-1.7.3-SNAPSHOT.jar". ok is false when the
// name carries no recognizable version.
func ParseInstalledVersion(filename string) (label string, ok bool) {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, DisabledSuffix)

	if ext := filepath.Ext(base); strings.EqualFold(ext, ".jar") {
		base = strings.TrimSuffix(base, ext)
	}

	for _, re := range filenamePatterns {
		if m := re.FindStringSubmatch(base); m != nil {
			return m[1], true
		}
	}

	return "", false
}
