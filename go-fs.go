package govfat

import (
	"github.com/spf13/afero"
)

// GoFs just wraps the afero FAT implementation to be compatible with io/fs.
type GoFs struct {
	afero.IOFS
	fat *Fs
}

// NewGoFS opens a FAT file system on m as io/fs compatible file system.
func NewGoFS(m Medium, size int64, opts ...Option) (*GoFs, error) {
	fat, err := New(m, size, opts...)
	if err != nil {
		return nil, err
	}
	return NewGoFSFrom(fat), nil
}

// NewGoFSSkipChecks opens a FAT file system just like NewGoFS but it skips some file system
// validations which may allow you to open not perfectly standard FAT file systems.
// Use with caution!
func NewGoFSSkipChecks(m Medium, size int64, opts ...Option) (*GoFs, error) {
	return NewGoFS(m, size, append(opts, SkipChecks())...)
}

// NewGoFSFrom wraps an existing Fs.
func NewGoFSFrom(fat *Fs) *GoFs {
	return &GoFs{IOFS: afero.NewIOFS(fat), fat: fat}
}

// Close closes the underlying volume.
func (g *GoFs) Close() error {
	return g.fat.Close()
}
