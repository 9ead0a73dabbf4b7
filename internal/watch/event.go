package watch

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a normalized filesystem notification.
type Kind int

const (
	KindCreated Kind = iota + 1
	KindDeleted
	KindModified
	KindMoved
	KindRootRemoved
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindDeleted:
		return "deleted"
	case KindModified:
		return "modified"
	case KindMoved:
		return "moved"
	case KindRootRemoved:
		return "root_removed"
	default:
		return "unknown"
	}
}

// Event is a filesystem notification relevant to the watched tree.
type Event struct {
	Kind Kind
	Path string
}

// normalize maps a raw fsnotify event to an Event. The second return value is
// false for notifications that never concern the tree: chmod-only changes and
// siblings of the root reported by the parent watch.
func normalize(root string, raw fsnotify.Event) (Event, bool) {
	name := filepath.Clean(raw.Name)
	if name == root {
		if raw.Has(fsnotify.Remove) || raw.Has(fsnotify.Rename) {
			return Event{Kind: KindRootRemoved, Path: name}, true
		}
		return Event{}, false
	}
	if !within(root, name) {
		return Event{}, false
	}
	switch {
	case raw.Has(fsnotify.Create):
		return Event{Kind: KindCreated, Path: name}, true
	case raw.Has(fsnotify.Remove):
		return Event{Kind: KindDeleted, Path: name}, true
	case raw.Has(fsnotify.Rename):
		return Event{Kind: KindMoved, Path: name}, true
	case raw.Has(fsnotify.Write):
		return Event{Kind: KindModified, Path: name}, true
	default:
		return Event{}, false
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
