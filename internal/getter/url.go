package getter

import (
	"net/url"
	"path"
	"strings"
)

// remotePrefixes are the go-getter forced-getter and URL prefixes treated as
// remote locations.
var remotePrefixes = []string{
	"http://",
	"https://",
	"git::",
	"s3::",
	"gcs::",
	"github.com/",
}

// IsRemote reports whether src names a remote location rather than a local
// path.
func IsRemote(src string) bool {
	lower := strings.ToLower(strings.TrimSpace(src))

	for _, p := range remotePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}

	return false
}

// fileName returns the last path element of src without its query string,
// falling back to "download".
func fileName(src string) string {
	if i := strings.Index(src, "::"); i >= 0 {
		src = src[i+2:]
	}

	if u, err := url.Parse(src); err == nil && u.Path != "" {
		src = u.Path
	} else if i := strings.IndexByte(src, '?'); i >= 0 {
		src = src[:i]
	}

	name := path.Base(src)
	if name == "." || name == "/" || name == "" {
		return "download"
	}

	return name
}
