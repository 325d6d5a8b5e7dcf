package shares

import (
	"path"
	"strings"

	"github.com/gosoulseek/gosoulseek/lib/protocol"
)

// Fake is an in-memory Shares for testing.
type Fake struct {
	// Virtual filename -> real path.
	Files map[string]string

	// Virtual filename -> byte size.
	Sizes map[string]int64

	// Virtual filenames only visible to buddies.
	BuddyOnly map[string]bool

	// Real paths registered via AddFinished.
	Finished []string
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Files:     make(map[string]string),
		Sizes:     make(map[string]int64),
		BuddyOnly: make(map[string]bool),
	}
}

// Share registers a virtual filename.
func (f *Fake) Share(virtual, real string, size int64) {
	f.Files[virtual] = real
	f.Sizes[virtual] = size
}

// Resolve implements Shares.
func (f *Fake) Resolve(virtual string, buddy bool) (string, error) {
	if !f.IsShared(virtual, buddy) {
		return "", ErrNotShared
	}
	return f.Files[virtual], nil
}

// IsShared implements Shares.
func (f *Fake) IsShared(virtual string, buddy bool) bool {
	if _, ok := f.Files[virtual]; !ok {
		return false
	}
	if f.BuddyOnly[virtual] && !buddy {
		return false
	}
	return true
}

// Size implements Shares.
func (f *Fake) Size(virtual string, buddy bool) (int64, error) {
	if !f.IsShared(virtual, buddy) {
		return 0, ErrNotShared
	}
	return f.Sizes[virtual], nil
}

// List implements Shares.
func (f *Fake) List(buddy bool) map[string][]protocol.FileEntry {
	out := make(map[string][]protocol.FileEntry)
	for virtual := range f.Files {
		if !f.IsShared(virtual, buddy) {
			continue
		}
		folder, base := splitVirtual(virtual)
		out[folder] = append(out[folder], protocol.FileEntry{
			Filename: base,
			Size:     f.Sizes[virtual],
			Ext:      strings.TrimPrefix(path.Ext(base), "."),
		})
	}
	return out
}

// FolderContents implements Shares.
func (f *Fake) FolderContents(folder string, buddy bool) map[string][]protocol.FileEntry {
	out := make(map[string][]protocol.FileEntry)
	for virtual := range f.Files {
		if !f.IsShared(virtual, buddy) {
			continue
		}
		dir, base := splitVirtual(virtual)
		if dir != folder {
			continue
		}
		out[dir] = append(out[dir], protocol.FileEntry{
			Filename: base,
			Size:     f.Sizes[virtual],
		})
	}
	return out
}

// AddFinished implements Shares.
func (f *Fake) AddFinished(realPath string) error {
	f.Finished = append(f.Finished, realPath)
	return nil
}

func splitVirtual(virtual string) (folder, base string) {
	i := strings.LastIndex(virtual, "\\")
	if i < 0 {
		return "", virtual
	}
	return virtual[:i], virtual[i+1:]
}
