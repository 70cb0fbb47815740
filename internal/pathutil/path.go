// Package pathutil normalizes entry names into safe slash-separated paths
// relative to an output root.
package pathutil

import (
	"fmt"
	"path"
	"strings"

	"github.com/meigma/unfreeze/internal/archtype"
)

// Clean converts a stored entry name into a relative slash-separated path.
//
// It performs the following transformations:
//   - Backslashes become slashes: `lib\site.py` → "lib/site.py"
//   - Leading slashes are stripped: "/etc/x" → "etc/x"
//   - Empty and "." segments are dropped: "a//./b" → "a/b"
//
// Names containing a ".." segment, a drive letter, or no segments at all
// are rejected with ErrUnsafePath.
func Clean(name string) (string, error) {
	p := strings.ReplaceAll(name, `\`, "/")
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		return "", fmt.Errorf("%w: %q has a drive prefix", archtype.ErrUnsafePath, name)
	}

	parts := strings.Split(p, "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q has a parent segment", archtype.ErrUnsafePath, name)
		}
		if strings.IndexByte(part, 0) >= 0 {
			return "", fmt.Errorf("%w: %q contains NUL", archtype.ErrUnsafePath, name)
		}
		result = append(result, part)
	}
	if len(result) == 0 {
		return "", fmt.Errorf("%w: %q is empty", archtype.ErrUnsafePath, name)
	}
	return strings.Join(result, "/"), nil
}

// ModulePath converts a dotted module name into the path of its compiled
// file. Packages map to "<a>/<b>/__init__.pyc", plain modules to "<a>/<b>.pyc".
//
// Every dotted component must be non-empty and free of path separators.
func ModulePath(module string, isPackage bool) (string, error) {
	parts := strings.Split(module, ".")
	for _, part := range parts {
		if part == "" || strings.ContainsAny(part, `/\`) || strings.IndexByte(part, 0) >= 0 {
			return "", fmt.Errorf("%w: module name %q", archtype.ErrUnsafePath, module)
		}
	}
	p := path.Join(parts...)
	if isPackage {
		return p + "/__init__.pyc", nil
	}
	return p + ".pyc", nil
}

// HasExt reports whether the final element of a slash-separated path has an
// extension.
func HasExt(p string) bool {
	return path.Ext(p) != ""
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
