// Package media owns the directory layout under which the native engine saves
// received media, and reports files appearing there.
package media

import (
	"fmt"
	"os"
	"path/filepath"
)

// Kind names one media subdirectory.
type Kind string

const (
	Images    Kind = "images"
	Audios    Kind = "audios"
	Videos    Kind = "videos"
	Documents Kind = "documents"
	Stickers  Kind = "stickers"
)

// Kinds lists every subdirectory in creation order.
var Kinds = []Kind{Images, Audios, Videos, Documents, Stickers}

const dirPerm = 0o755

// Layout is the fixed set of media subdirectories below Root.
type Layout struct {
	Root string
}

// Ensure creates Root and every subdirectory that does not exist yet. It is
// safe to call repeatedly.
func (l Layout) Ensure() error {
	if l.Root == "" {
		return fmt.Errorf("media: empty root")
	}
	if fi, err := os.Stat(l.Root); err == nil && !fi.IsDir() {
		return fmt.Errorf("media: root %s is not a directory", l.Root)
	}
	for _, k := range Kinds {
		if err := os.MkdirAll(l.Dir(k), dirPerm); err != nil {
			return fmt.Errorf("media: create %s: %w", k, err)
		}
	}
	return nil
}

// Dir returns the path of the subdirectory for k.
func (l Layout) Dir(k Kind) string {
	return filepath.Join(l.Root, string(k))
}

// Dirs returns the paths of all subdirectories.
func (l Layout) Dirs() []string {
	dirs := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		dirs = append(dirs, l.Dir(k))
	}
	return dirs
}

// KindOf returns the kind whose subdirectory directly contains path.
func (l Layout) KindOf(path string) (Kind, bool) {
	parent := filepath.Dir(filepath.Clean(path))
	for _, k := range Kinds {
		if parent == filepath.Clean(l.Dir(k)) {
			return k, true
		}
	}
	return "", false
}
