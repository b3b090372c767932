package remote

import (
	"path"
	"strings"
)

// IsPathSafe reports whether requestPath, after resolving "." and ".."
// segments, lies inside base. The comparison is segment-wise: base
// "/data/foo" admits "/data/foo" and "/data/foo/x" but not
// "/data/foobar". Remote paths are always slash-separated.
func IsPathSafe(base, requestPath string) bool {
	if base == "" || requestPath == "" {
		return false
	}
	b := path.Clean(base)
	p := path.Clean(requestPath)
	if !path.IsAbs(p) || !path.IsAbs(b) {
		return false
	}
	if b == "/" {
		return true
	}
	return p == b || strings.HasPrefix(p, b+"/")
}
