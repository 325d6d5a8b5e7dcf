// Package shares defines the share database boundary. The client maps
// virtual (wire-format, backslash separated) filenames to local paths
// through it and never scans the filesystem itself.
package shares

import (
	"errors"

	"github.com/gosoulseek/gosoulseek/lib/protocol"
)

// ErrNotShared is returned when a virtual filename is not in the database.
var ErrNotShared = errors.New("file not shared")

// Shares is the share database.
type Shares interface {
	// Resolve maps a virtual filename to its local real path. Returns
	// ErrNotShared when the file is not shared at the given access level.
	Resolve(virtual string, buddy bool) (string, error)

	// IsShared reports whether virtual is available at the given access
	// level.
	IsShared(virtual string, buddy bool) bool

	// Size returns the local byte size of a shared virtual filename.
	Size(virtual string, buddy bool) (int64, error)

	// List returns the full folder listing for browse replies.
	List(buddy bool) map[string][]protocol.FileEntry

	// FolderContents returns the files of one virtual folder.
	FolderContents(folder string, buddy bool) map[string][]protocol.FileEntry

	// AddFinished registers a completed download so it becomes shared.
	AddFinished(realPath string) error
}
