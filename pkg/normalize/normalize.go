// Package normalize computes the common base directory of a set of
// filesystem paths. Entries store file paths relative to this base, so
// it is recomputed, never assumed, whenever files are added.
package normalize

import (
	"path/filepath"
	"strings"

	"github.com/tetherhq/tether/pkg/errors"
)

// Canonicalize resolves a path to an absolute path with symlinks and
// dot components eliminated. Fails with INVALID_PATH if the path does
// not exist or a symlink in it is broken.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrInvalidPath,
			"could not resolve %s to an absolute path", path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrInvalidPath,
			"could not canonicalize %s", path)
	}
	return resolved, nil
}

// CanonicalizeAll canonicalizes every path, failing on the first error.
func CanonicalizeAll(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		resolved, err := Canonicalize(p)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// CommonBase returns the lowest common ancestor directory of a set of
// absolute, canonicalized paths. Pure string computation: callers are
// responsible for passing directory anchors (a regular file candidate
// contributes its parent directory).
func CommonBase(paths []string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New(errors.ErrInvalidPath, "no paths given to compute a common base")
	}

	common := splitComponents(paths[0])
	for _, p := range paths[1:] {
		parts := splitComponents(p)
		if len(parts) < len(common) {
			common = common[:len(parts)]
		}
		for i := range common {
			if common[i] != parts[i] {
				common = common[:i]
				break
			}
		}
	}

	if len(common) == 0 {
		return "", errors.Newf(errors.ErrInvalidPath,
			"paths %v share no common base directory", paths)
	}
	return string(filepath.Separator) + filepath.Join(common...), nil
}

// RelativeTo expresses path relative to base, failing with INVALID_PATH
// when path does not live under base.
func RelativeTo(base, path string) (string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ErrInvalidPath,
			"%s is not located under %s", path, base)
	}
	return rel, nil
}

func splitComponents(path string) []string {
	trimmed := strings.Trim(filepath.Clean(path), string(filepath.Separator))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, string(filepath.Separator))
}
