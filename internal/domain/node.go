package domain

import "time"

type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDir
)

func (kind EntryKind) String() string {
	if kind == EntryDir {
		return "dir"
	}
	return "file"
}

// Entry is one object in a provider's namespace as of the listing that
// produced it.
type Entry struct {
	Path       string
	Name       string
	Kind       EntryKind
	Size       int64
	HasSize    bool
	ModTime    time.Time
	ProviderID string
}

func (entry Entry) IsDir() bool {
	return entry.Kind == EntryDir
}

// Key identifies the entry within its listing. Object stores can hold a key
// "a" next to keys under "a/", so a file and a directory may share a path;
// directory keys carry a trailing slash to keep the two apart.
func (entry Entry) Key() string {
	if entry.Kind == EntryDir && entry.Path != "/" {
		return entry.Path + "/"
	}
	return entry.Path
}

func NewFileEntry(providerID, entryPath string, size int64, modTime time.Time) Entry {
	entryPath = CleanPath(entryPath)
	return Entry{
		Path:       entryPath,
		Name:       BaseName(entryPath),
		Kind:       EntryFile,
		Size:       size,
		HasSize:    true,
		ModTime:    modTime,
		ProviderID: providerID,
	}
}

func NewDirEntry(providerID, entryPath string, modTime time.Time) Entry {
	entryPath = CleanPath(entryPath)
	return Entry{
		Path:       entryPath,
		Name:       BaseName(entryPath),
		Kind:       EntryDir,
		ModTime:    modTime,
		ProviderID: providerID,
	}
}
