// Package version decides whether a resolved release should replace the
// installed plugin and extracts version labels from JAR file names.
package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/plugin"
)

// NeedsUpdate reports whether resolved should replace installed.
//
// A missing install always needs an update. Matching digests skip the update
// whatever the labels say. A differing digest never forces one: labels are
// compared as semantic versions, falling back to plain inequality when either
// side does not parse, so a newer manual install is not downgraded.
func NeedsUpdate(installed *plugin.Installed, resolved *plugin.ResolvedVersion) bool {
	if installed == nil {
		return true
	}

	if resolved == nil {
		return false
	}

	if same, ok := checksumsMatch(installed, resolved.Checksum); ok && same {
		return false
	}

	if strings.TrimSpace(installed.Label) == "" {
		return true
	}

	cmp, err := Compare(resolved.Label, installed.Label)
	if err == nil {
		return cmp > 0
	}

	return normalize(resolved.Label) != normalize(installed.Label)
}

// checksumsMatch compares the resolved checksum with the installed digest. ok
// is false when either side is missing.
func checksumsMatch(installed *plugin.Installed, checksum string) (same, ok bool) {
	if checksum == "" {
		return false, false
	}

	algo, want, err := digest.Parse(checksum)
	if err != nil {
		return false, false
	}

	if have, found := installed.Digest(algo); found {
		return have == want, true
	}

	if installed.FileHash != "" {
		if fa, fsum, err := digest.Parse(installed.FileHash); err == nil && fa == algo {
			return fsum == want, true
		}
	}

	return false, false
}

// Compare orders two labels as semantic versions: -1, 0 or 1. An error means
// at least one label is not a semantic version.
func Compare(a, b string) (int, error) {
	va, err := semver.NewVersion(strings.TrimSpace(a))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid version: %s", a)
	}

	vb, err := semver.NewVersion(strings.TrimSpace(b))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid version: %s", b)
	}

	return va.Compare(vb), nil
}

func normalize(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))

	return strings.TrimPrefix(label, "v")
}
