package govfat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/aligator/govfat/checkpoint"
)

// These errors may occur while processing a file.
var (
	ErrReadFile  = errors.New("could not read file completely")
	ErrWriteFile = errors.New("could not write the file")
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrReadDir   = errors.New("could not read the directory")
)

// fileStream provides all methods needed from the content of a regular file for File.
// It mainly exists to be able to mock the stream in tests.
// Generated mock using mockgen:
//  mockgen -source=file.go -destination=file_mock.go -package govfat
type fileStream interface {
	Read(off int64, n int) ([]byte, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Size() (int64, error)
	Close() error
}

// dirLister provides the entries of a directory for File.
type dirLister interface {
	List() ([]*Entry, error)
}

// File is an opened file or directory of an Fs. It implements afero.File.
type File struct {
	lock sync.Locker
	sync func() error
	path string
	info os.FileInfo

	// Exactly one of stream and dir is set.
	stream fileStream
	dir    dirLister

	flag   int
	offset int64
	closed bool
}

func (f *File) writable() bool {
	return f.flag&(os.O_WRONLY|os.O_RDWR) != 0
}

func (f *File) check(op string) error {
	if f.closed {
		return &os.PathError{Op: op, Path: f.path, Err: os.ErrClosed}
	}
	return nil
}

func (f *File) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("close"); err != nil {
		return err
	}
	f.closed = true
	var err error
	if f.stream != nil {
		err = f.stream.Close()
	}
	f.stream = nil
	f.dir = nil
	f.offset = 0
	return err
}

func (f *File) Read(p []byte) (n int, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("read"); err != nil {
		return 0, err
	}
	if f.stream == nil {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	// Reading a file if the size has been already reached, makes no sense.
	size, err := f.stream.Size()
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrReadFile)
	}
	if size <= f.offset {
		return 0, io.EOF
	}

	data, err := f.stream.Read(f.offset, len(p))
	n = copy(p, data)
	f.offset += int64(n)

	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	return n, nil
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("read"); err != nil {
		return 0, err
	}
	if f.stream == nil {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if off < 0 {
		return 0, checkpoint.Wrap(ErrOutOfRange, ErrReadFile)
	}

	// Reading over the end makes no sense.
	size, err := f.stream.Size()
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrReadFile)
	}
	if size <= off {
		return 0, io.EOF
	}

	data, err := f.stream.Read(off, len(p))
	n = copy(p, data)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek jumps to a specific offset in the file. This affects all Read and Write operations except
// ReadAt and WriteAt. Seeking beyond the end is allowed, a following Write fills the gap with zeros.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the resulting offset is negative.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("seek"); err != nil {
		return 0, err
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		size, err := f.size()
		if err != nil {
			return 0, checkpoint.Wrap(err, ErrSeekFile)
		}
		offset = size + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 {
		return 0, checkpoint.Wrap(ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) size() (int64, error) {
	if f.stream == nil {
		return 0, nil
	}
	return f.stream.Size()
}

func (f *File) Write(p []byte) (n int, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.flag&os.O_APPEND != 0 && f.stream != nil {
		size, err := f.stream.Size()
		if err != nil {
			return 0, checkpoint.Wrap(err, ErrWriteFile)
		}
		f.offset = size
	}
	n, err = f.writeAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.flag&os.O_APPEND != 0 {
		return 0, &os.PathError{Op: "writeat", Path: f.path, Err: errors.New("invalid use of WriteAt on file opened with O_APPEND")}
	}
	return f.writeAt(p, off)
}

func (f *File) writeAt(p []byte, off int64) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	if f.stream == nil {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrWriteFile)
	}
	if !f.writable() {
		return 0, &os.PathError{Op: "write", Path: f.path, Err: os.ErrPermission}
	}

	n, err := f.stream.WriteAt(p, off)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrWriteFile)
	}
	return n, nil
}

func (f *File) Name() string {
	return f.path
}

// Readdir reads the contents of a directory.
// With count > 0 at most count entries are returned and io.EOF at the end of the directory.
// Otherwise all remaining entries are returned at once.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("readdir"); err != nil {
		return nil, err
	}
	if f.dir == nil {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	entries, err := f.dir.List()
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	content := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsVolumeLabel() {
			content = append(content, e.FileInfo())
		}
	}

	if f.offset > int64(len(content)) {
		f.offset = int64(len(content))
	}
	content = content[f.offset:]

	if count <= 0 {
		f.offset += int64(len(content))
		return content, nil
	}

	if len(content) == 0 {
		return content, io.EOF
	}
	if count > len(content) {
		count = len(content)
	}
	f.offset += int64(count)
	return content[:count], nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil && err != io.EOF {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, err
}

func (f *File) Stat() (os.FileInfo, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("stat"); err != nil {
		return nil, err
	}
	if info, ok := f.info.(entryFileInfo); ok && f.stream != nil {
		size, err := f.stream.Size()
		if err != nil {
			return nil, &os.PathError{Op: "stat", Path: f.path, Err: err}
		}
		info.size = size
		return info, nil
	}
	return f.info, nil
}

func (f *File) Sync() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("sync"); err != nil {
		return err
	}
	if f.sync == nil {
		return nil
	}
	return f.sync()
}

func (f *File) Truncate(size int64) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.check("truncate"); err != nil {
		return err
	}
	if f.stream == nil {
		return checkpoint.Wrap(syscall.EISDIR, ErrWriteFile)
	}
	if !f.writable() {
		return &os.PathError{Op: "truncate", Path: f.path, Err: os.ErrPermission}
	}
	if err := f.stream.Truncate(size); err != nil {
		return checkpoint.Wrap(err, ErrWriteFile)
	}
	return nil
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}
