package govfat

import (
	"errors"

	"github.com/spf13/afero"
)

// These errors may occur while working with a volume. They are always returned wrapped by a
// checkpoint, so use errors.Is to test for them.
var (
	// ErrFormat means the volume geometry is unreadable or invalid. There is no recovery.
	ErrFormat = errors.New("invalid FAT volume")

	// ErrCorruptChain is returned for a cycle or an out-of-range link in a cluster chain.
	// The operation is aborted but the volume can still be inspected.
	ErrCorruptChain = errors.New("corrupt cluster chain")

	// ErrDiskFull is returned when not enough free clusters (or root directory slots) exist.
	// Nothing was consumed by the failed request.
	ErrDiskFull = errors.New("not enough free space")

	ErrInvalidName        = errors.New("invalid file name")
	ErrNameCollision      = errors.New("name already exists in directory")
	ErrNameSpaceExhausted = errors.New("no unique short name alias left")
	ErrDirectoryNotEmpty  = errors.New("directory not empty")

	// ErrOutOfRange is returned by streams for negative offsets.
	ErrOutOfRange = afero.ErrOutOfRange

	// ErrFATSync means at least one FAT copy could not be written or does not match the others.
	ErrFATSync = errors.New("FAT copies are not in sync")

	ErrReadOnly     = errors.New("volume is opened read-only")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
)
