package domain

import (
	"path"
	"strings"
)

// CleanPath normalizes a provider path to the absolute slash form used by
// every provider: "/", "/dir", "/dir/file".
func CleanPath(entryPath string) string {
	return path.Clean("/" + strings.TrimPrefix(entryPath, "/"))
}

func JoinPath(dir string, elems ...string) string {
	return CleanPath(path.Join(append([]string{dir}, elems...)...))
}

func ParentPath(entryPath string) string {
	return path.Dir(CleanPath(entryPath))
}

func BaseName(entryPath string) string {
	cleaned := CleanPath(entryPath)
	if cleaned == "/" {
		return "/"
	}
	return path.Base(cleaned)
}

// IsWithin reports whether candidate is root or lies below it.
func IsWithin(root, candidate string) bool {
	root = CleanPath(root)
	candidate = CleanPath(candidate)
	if root == candidate || root == "/" {
		return true
	}
	return strings.HasPrefix(candidate, root+"/")
}
