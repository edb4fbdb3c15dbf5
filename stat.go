package govfat

import (
	"os"
	"time"
)

// FileInfo returns the entry as os.FileInfo.
func (e *Entry) FileInfo() os.FileInfo {
	return entryFileInfo{entry: e, size: e.Size}
}

type entryFileInfo struct {
	entry *Entry
	// size may differ from the entry while the file is open for writing.
	size int64
}

func (e entryFileInfo) Name() string {
	return e.entry.Name
}

func (e entryFileInfo) Size() int64 {
	if e.IsDir() {
		return 0
	}
	return e.size
}

func (e entryFileInfo) Mode() os.FileMode {
	var mode os.FileMode = 0666
	if e.IsDir() {
		mode = os.ModeDir | 0777
	}
	if e.entry.Attr&AttrReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func (e entryFileInfo) ModTime() time.Time {
	return e.entry.Modified
}

func (e entryFileInfo) IsDir() bool {
	return e.entry.IsDir()
}

// Sys returns the raw EntryHeader.
func (e entryFileInfo) Sys() interface{} {
	return e.entry.Header()
}

// rootFileInfo describes the root directory which has no entry of its own.
type rootFileInfo struct {
	name string
}

func (r rootFileInfo) Name() string       { return r.name }
func (r rootFileInfo) Size() int64        { return 0 }
func (r rootFileInfo) Mode() os.FileMode  { return os.ModeDir | 0777 }
func (r rootFileInfo) ModTime() time.Time { return time.Time{} }
func (r rootFileInfo) IsDir() bool        { return true }
func (r rootFileInfo) Sys() interface{}   { return nil }
