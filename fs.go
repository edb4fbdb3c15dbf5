package govfat

import (
	"errors"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aligator/govfat/checkpoint"
	"github.com/spf13/afero"
)

// Fs implements afero.Fs on top of a Volume. Paths are resolved one component at a time through
// directory lookups, both '/' and '\' separate components. All calls are serialized by one mutex,
// including the calls on opened files.
type Fs struct {
	vol  *Volume
	lock sync.Mutex
}

var _ afero.Fs = (*Fs)(nil)

// New mounts the volume on m and returns it as afero.Fs.
func New(m Medium, size int64, opts ...Option) (*Fs, error) {
	vol, err := Open(m, size, opts...)
	if err != nil {
		return nil, err
	}
	return NewFs(vol), nil
}

// NewSkipChecks mounts the volume like New but skips some boot sector validations which may allow
// opening not perfectly standard FAT file systems. Use with caution!
func NewSkipChecks(m Medium, size int64, opts ...Option) (*Fs, error) {
	return New(m, size, append(opts, SkipChecks())...)
}

// NewFs wraps an already opened volume.
func NewFs(vol *Volume) *Fs {
	return &Fs{vol: vol}
}

// Volume returns the underlying volume. It must not be used concurrently with the Fs.
func (fs *Fs) Volume() *Volume {
	return fs.vol
}

// Label returns the volume label.
func (fs *Fs) Label() string {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	label, err := fs.vol.Label()
	if err != nil {
		return fs.vol.geo.VolumeLabel
	}
	return label
}

// FSType returns the FAT variant.
func (fs *Fs) FSType() FATType {
	return fs.vol.Type()
}

// Close closes the volume.
func (fs *Fs) Close() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.vol.Close()
}

// splitPath cleans name and splits it into its components. The root has none.
func splitPath(name string) []string {
	name = path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	if name == "/" {
		return nil
	}
	return strings.Split(name[1:], "/")
}

// walk returns the directory reached by following parts from the root.
func (fs *Fs) walk(parts []string) (*Directory, error) {
	dir := fs.vol.Root()
	for _, part := range parts {
		next, err := dir.OpenDir(part)
		if err != nil {
			return nil, err
		}
		dir = next
	}
	return dir, nil
}

// resolve returns the parent directory of name and the name inside of it.
// base is empty for the root.
func (fs *Fs) resolve(name string) (parent *Directory, base string, err error) {
	parts := splitPath(name)
	if len(parts) == 0 {
		return fs.vol.Root(), "", nil
	}
	parent, err = fs.walk(parts[:len(parts)-1])
	return parent, parts[len(parts)-1], err
}

// rootInfo names the root "." when it was addressed relatively, as io/fs does.
func rootInfo(name string) rootFileInfo {
	if name == "" || name == "." {
		return rootFileInfo{name: "."}
	}
	return rootFileInfo{name: "/"}
}

func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	parent, base, err := fs.resolve(name)
	if err != nil {
		return pathError("mkdir", name, err)
	}
	if base == "" {
		return pathError("mkdir", name, os.ErrExist)
	}
	_, err = parent.Mkdir(base)
	return pathError("mkdir", name, err)
}

func (fs *Fs) MkdirAll(name string, perm os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	dir := fs.vol.Root()
	for _, part := range splitPath(name) {
		e, err := dir.Lookup(part)
		if errors.Is(err, os.ErrNotExist) {
			e, err = dir.Mkdir(part)
		}
		if err != nil {
			return pathError("mkdir", name, err)
		}
		if dir, err = dir.Dir(e); err != nil {
			return pathError("mkdir", name, err)
		}
	}
	return nil
}

func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	file, err := fs.openFile(name, flag)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return file, nil
}

func (fs *Fs) openFile(name string, flag int) (*File, error) {
	writable := flag&(os.O_WRONLY|os.O_RDWR) != 0
	if writable && fs.vol.ReadOnly() {
		return nil, checkpoint.From(ErrReadOnly)
	}

	parent, base, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}

	file := &File{
		lock: &fs.lock,
		sync: fs.vol.Sync,
		path: name,
		flag: flag,
	}

	if base == "" {
		if writable {
			return nil, checkpoint.From(ErrIsDirectory)
		}
		file.info = rootInfo(name)
		file.dir = parent
		return file, nil
	}

	e, err := parent.Lookup(base)
	switch {
	case errors.Is(err, os.ErrNotExist) && flag&os.O_CREATE != 0:
		if e, err = parent.Create(base); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL:
		return nil, checkpoint.From(os.ErrExist)
	}
	file.info = e.FileInfo()

	if e.IsDir() {
		if writable {
			return nil, checkpoint.From(ErrIsDirectory)
		}
		if file.dir, err = parent.Dir(e); err != nil {
			return nil, err
		}
		return file, nil
	}

	if writable && e.Attr&AttrReadOnly != 0 {
		return nil, checkpoint.From(os.ErrPermission)
	}

	stream, err := parent.Stream(e)
	if err != nil {
		return nil, err
	}
	if writable && flag&os.O_TRUNC != 0 {
		if err := stream.Truncate(0); err != nil {
			_ = stream.Close()
			return nil, err
		}
	}
	file.stream = stream
	return file, nil
}

func (fs *Fs) Remove(name string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	parent, base, err := fs.resolve(name)
	if err != nil {
		return pathError("remove", name, err)
	}
	if base == "" {
		return pathError("remove", name, os.ErrInvalid)
	}
	return pathError("remove", name, parent.Remove(base, false))
}

func (fs *Fs) RemoveAll(name string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	parent, base, err := fs.resolve(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return pathError("removeall", name, err)
	}

	if base == "" {
		entries, err := parent.List()
		if err != nil {
			return pathError("removeall", name, err)
		}
		for _, e := range entries {
			if e.IsVolumeLabel() {
				continue
			}
			if err := parent.Remove(e.Name, true); err != nil {
				return pathError("removeall", name, err)
			}
		}
		return nil
	}

	err = parent.Remove(base, true)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return pathError("removeall", name, err)
}

func (fs *Fs) Rename(oldname, newname string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	err := fs.rename(oldname, newname)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	return nil
}

func (fs *Fs) rename(oldname, newname string) error {
	from, oldBase, err := fs.resolve(oldname)
	if err != nil {
		return err
	}
	to, newBase, err := fs.resolve(newname)
	if err != nil {
		return err
	}
	if oldBase == "" || newBase == "" {
		return checkpoint.From(os.ErrInvalid)
	}

	// Like os.Rename an existing file at the destination is replaced.
	if existing, err := to.Lookup(newBase); err == nil && !existing.IsDir() {
		src, err := from.Lookup(oldBase)
		if err != nil {
			return err
		}
		if src.IsDir() {
			return checkpoint.From(ErrNotDirectory)
		}
		if to.Cluster() != from.Cluster() || !existing.matches(oldBase) {
			if err := to.Remove(newBase, false); err != nil {
				return err
			}
		}
	}

	return from.Move(oldBase, to, newBase)
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	parent, base, err := fs.resolve(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	if base == "" {
		return rootInfo(name), nil
	}

	e, err := parent.Lookup(base)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return e.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "govfat"
}

// Chmod maps the write permission onto the read-only attribute. Other bits are ignored.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	parent, base, err := fs.resolve(name)
	if err != nil {
		return pathError("chmod", name, err)
	}
	if base == "" {
		return nil
	}

	e, err := parent.Lookup(base)
	if err != nil {
		return pathError("chmod", name, err)
	}
	attr := e.Attr &^ AttrReadOnly
	if mode&0200 == 0 {
		attr |= AttrReadOnly
	}
	return pathError("chmod", name, parent.SetAttributes(base, attr))
}

// Chown is not supported as FAT has no owners.
func (fs *Fs) Chown(name string, uid, gid int) error {
	return pathError("chown", name, errors.ErrUnsupported)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	parent, base, err := fs.resolve(name)
	if err != nil {
		return pathError("chtimes", name, err)
	}
	if base == "" {
		return nil
	}
	return pathError("chtimes", name, parent.Touch(base, atime, mtime))
}
