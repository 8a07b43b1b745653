// Package projectroot locates the project root: the first ancestor of the
// working directory containing one of a fixed set of boundary-marker
// filenames (spec.md §3, GLOSSARY). If none is found, the working directory
// itself is used.
package projectroot

import (
	"os"
	"path/filepath"
)

// Markers is the fixed set of boundary-marker filenames, checked in order.
// MODULE.aspect is the manifest script itself; .aspect-root lets a project
// mark its root without having any dependencies; .git is a conventional
// fallback so axl works inside an ordinary repository with no manifest yet.
var Markers = []string{"MODULE.aspect", ".aspect-root", ".git"}

// Find walks up from dir looking for a directory containing any of Markers,
// returning its canonical absolute path. If no ancestor has a marker, dir
// itself (made canonical) is returned.
func Find(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	cur := abs
	for {
		for _, marker := range Markers {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur, nil
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return abs, nil
}

// ManifestPath returns the path of the dependency-manifest script at root,
// if one exists.
func ManifestPath(root string) (string, bool) {
	p := filepath.Join(root, "MODULE.aspect")
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	return "", false
}
