package govfat

import (
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestFs formats an image of the given size and mounts it as afero.Fs.
func newTestFs(t *testing.T, size int64, opts FormatOptions, volOpts ...Option) *Fs {
	t.Helper()
	m := newFormatted(t, size, opts)
	fs, err := New(m, size, testOptions(volOpts...)...)
	require.NoError(t, err)
	return fs
}

func readDirNames(t *testing.T, fs afero.Fs, name string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, name)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func TestNew(t *testing.T) {
	m := newFormatted(t, fat12Size, FormatOptions{})
	fs, err := New(m, fat12Size, testOptions()...)
	require.NoError(t, err)
	assert.Equal(t, FAT12, fs.FSType())
	assert.Equal(t, "govfat", fs.Name())
	assert.NoError(t, fs.Close())

	_, err = New(newMedium(t, fat12Size), fat12Size, testOptions()...)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestNewSkipChecks(t *testing.T) {
	m := newFormatted(t, fat12Size, FormatOptions{})
	// Break the jump instruction which only the strict checks look at.
	_, err := m.WriteAt([]byte{0x00}, 0)
	require.NoError(t, err)

	_, err = New(m, fat12Size, testOptions()...)
	assert.ErrorIs(t, err, ErrFormat)

	fs, err := NewSkipChecks(m, fat12Size, testOptions()...)
	require.NoError(t, err)
	assert.Equal(t, FAT12, fs.FSType())
}

func TestFs_Label(t *testing.T) {
	tests := []struct {
		name string
		opts FormatOptions
		want string
	}{
		{name: "no label", want: ""},
		{name: "FAT12", opts: FormatOptions{Label: "disk"}, want: "DISK"},
		{name: "FAT32", opts: FormatOptions{Label: "DATA", ForceType: true, Type: FAT32}, want: "DATA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := int64(fat12Size)
			if tt.opts.Type == FAT32 {
				size = fat32Size
			}
			fs := newTestFs(t, size, tt.opts)
			assert.Equal(t, tt.want, fs.Label())
		})
	}
}

func TestFs_Create(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})

	f, err := fs.Create("/Hello World.txt")
	require.NoError(t, err)
	_, err = f.WriteString("Hello World")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(fs, "hello world.TXT")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(data))

	// Create truncates an existing file.
	f, err = fs.Create("Hello World.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	info, err := fs.Stat("Hello World.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	_, err = fs.Create("/missing/file.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = fs.Create("/bad|name")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestFs_OpenFile(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})
	require.NoError(t, afero.WriteFile(fs, "/file.txt", []byte("0123456789"), 0666))
	require.NoError(t, fs.Mkdir("/dir", 0777))

	tests := []struct {
		name    string
		path    string
		flag    int
		wantErr error
	}{
		{name: "read only", path: "/file.txt", flag: os.O_RDONLY},
		{name: "read write", path: "/file.txt", flag: os.O_RDWR},
		{name: "missing", path: "/nothing.txt", flag: os.O_RDONLY, wantErr: os.ErrNotExist},
		{name: "missing without create", path: "/nothing.txt", flag: os.O_RDWR, wantErr: os.ErrNotExist},
		{name: "exclusive on existing", path: "/file.txt", flag: os.O_RDWR | os.O_CREATE | os.O_EXCL, wantErr: os.ErrExist},
		{name: "exclusive on new", path: "/new.txt", flag: os.O_RDWR | os.O_CREATE | os.O_EXCL},
		{name: "directory", path: "/dir", flag: os.O_RDONLY},
		{name: "directory for writing", path: "/dir", flag: os.O_RDWR, wantErr: ErrIsDirectory},
		{name: "root", path: "/", flag: os.O_RDONLY},
		{name: "root for writing", path: "/", flag: os.O_WRONLY, wantErr: ErrIsDirectory},
		{name: "file as directory", path: "/file.txt/x", flag: os.O_RDONLY, wantErr: ErrNotDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := fs.OpenFile(tt.path, tt.flag, 0666)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				var pathErr *os.PathError
				assert.True(t, errors.As(err, &pathErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path, f.Name())
			assert.NoError(t, f.Close())
		})
	}

	t.Run("append", func(t *testing.T) {
		f, err := fs.OpenFile("/file.txt", os.O_WRONLY|os.O_APPEND, 0)
		require.NoError(t, err)
		_, err = f.Write([]byte("abc"))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		data, err := afero.ReadFile(fs, "/file.txt")
		require.NoError(t, err)
		assert.Equal(t, "0123456789abc", string(data))
	})

	t.Run("read only file is not writable", func(t *testing.T) {
		f, err := fs.Open("/file.txt")
		require.NoError(t, err)
		_, err = f.Write([]byte("x"))
		assert.ErrorIs(t, err, os.ErrPermission)
		require.NoError(t, f.Close())
	})
}

func TestFs_readOnlyVolume(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{}, ReadOnly())

	_, err := fs.OpenFile("/file.txt", os.O_RDWR|os.O_CREATE, 0666)
	assert.ErrorIs(t, err, ErrReadOnly)

	f, err := fs.Open("/")
	require.NoError(t, err)
	assert.NoError(t, f.Close())
}

func TestFs_Mkdir(t *testing.T) {
	fs := newTestFs(t, fat16Size, FormatOptions{ForceType: true, Type: FAT16})

	require.NoError(t, fs.Mkdir("/Documents", 0777))
	require.NoError(t, fs.Mkdir("/Documents/Letters", 0777))

	assert.ErrorIs(t, fs.Mkdir("/documents", 0777), ErrNameCollision)
	assert.ErrorIs(t, fs.Mkdir("/", 0777), os.ErrExist)
	assert.ErrorIs(t, fs.Mkdir("/a/b", 0777), os.ErrNotExist)

	info, err := fs.Stat("/Documents/Letters")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "Letters", info.Name())

	require.NoError(t, fs.MkdirAll("/Documents/Letters/2021/June", 0777))
	require.NoError(t, fs.MkdirAll("/Documents/Letters/2021/June", 0777))
	assert.Equal(t, []string{"June"}, readDirNames(t, fs, "/documents/letters/2021"))

	require.NoError(t, afero.WriteFile(fs, "/file", nil, 0666))
	assert.ErrorIs(t, fs.MkdirAll("/file/sub", 0777), ErrNotDirectory)
}

func TestFs_Readdir(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{Label: "LABEL"})
	require.NoError(t, fs.Mkdir("/b", 0777))
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("a"), 0666))
	require.NoError(t, afero.WriteFile(fs, "/b/c.txt", []byte("cc"), 0666))

	// The volume label is not listed.
	assert.Equal(t, []string{"a.txt", "b"}, readDirNames(t, fs, "/"))
	assert.Equal(t, []string{"c.txt"}, readDirNames(t, fs, "b"))

	var walked []string
	require.NoError(t, afero.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		walked = append(walked, path)
		return nil
	}))
	assert.Equal(t, []string{"/", "/a.txt", "/b", "/b/c.txt"}, walked)

	f, err := fs.Open("/a.txt")
	require.NoError(t, err)
	_, err = f.Readdir(0)
	assert.Error(t, err)
	require.NoError(t, f.Close())
}

func TestFs_Remove(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})
	vol := fs.Volume()
	free := vol.FreeClusters()

	require.NoError(t, fs.MkdirAll("/a/b", 0777))
	require.NoError(t, afero.WriteFile(fs, "/a/b/file.bin", make([]byte, 3000), 0666))
	require.NoError(t, afero.WriteFile(fs, "/top.txt", []byte("top"), 0666))

	assert.ErrorIs(t, fs.Remove("/a"), ErrDirectoryNotEmpty)
	assert.ErrorIs(t, fs.Remove("/nothing"), os.ErrNotExist)
	assert.ErrorIs(t, fs.Remove("/"), os.ErrInvalid)

	require.NoError(t, fs.Remove("/top.txt"))
	_, err := fs.Stat("/top.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, fs.RemoveAll("/a"))
	require.NoError(t, fs.RemoveAll("/a"))
	require.NoError(t, fs.RemoveAll("/not/there"))
	assert.Equal(t, free, vol.FreeClusters())
	assert.Empty(t, readDirNames(t, fs, "/"))

	require.NoError(t, afero.WriteFile(fs, "/x", []byte("x"), 0666))
	require.NoError(t, fs.Mkdir("/y", 0777))
	require.NoError(t, fs.RemoveAll("/"))
	assert.Empty(t, readDirNames(t, fs, "/"))
	assert.Equal(t, free, vol.FreeClusters())
}

func TestFs_Rename(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		to        string
		wantErr   error
		wantFiles []string
	}{
		{name: "rename in place", from: "/a.txt", to: "/Renamed File.txt", wantFiles: []string{"/Renamed File.txt", "/b.txt", "/dir/c.txt"}},
		{name: "change case only", from: "/a.txt", to: "/A.TXT", wantFiles: []string{"/A.TXT", "/b.txt", "/dir/c.txt"}},
		{name: "move into directory", from: "/a.txt", to: "/dir/a.txt", wantFiles: []string{"/b.txt", "/dir/a.txt", "/dir/c.txt"}},
		{name: "replace existing file", from: "/a.txt", to: "/b.txt", wantFiles: []string{"/b.txt", "/dir/c.txt"}},
		{name: "replace existing file in other directory", from: "/a.txt", to: "/dir/c.txt", wantFiles: []string{"/b.txt", "/dir/c.txt"}},
		{name: "directory", from: "/dir", to: "/folder", wantFiles: []string{"/a.txt", "/b.txt", "/folder/c.txt"}},
		{name: "directory onto file", from: "/dir", to: "/b.txt", wantErr: ErrNotDirectory},
		{name: "directory into itself", from: "/dir", to: "/dir/sub", wantErr: os.ErrInvalid},
		{name: "missing source", from: "/nothing", to: "/b", wantErr: os.ErrNotExist},
		{name: "root", from: "/", to: "/x", wantErr: os.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestFs(t, fat32Size, FormatOptions{ForceType: true, Type: FAT32})
			require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("aaa"), 0666))
			require.NoError(t, afero.WriteFile(fs, "/b.txt", []byte("bbb"), 0666))
			require.NoError(t, fs.Mkdir("/dir", 0777))
			require.NoError(t, afero.WriteFile(fs, "/dir/c.txt", []byte("ccc"), 0666))
			free := fs.Volume().FreeClusters()

			err := fs.Rename(tt.from, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				var linkErr *os.LinkError
				assert.True(t, errors.As(err, &linkErr))
				assert.Equal(t, free, fs.Volume().FreeClusters())
				return
			}
			require.NoError(t, err)

			var files []string
			require.NoError(t, afero.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
				if err == nil && !info.IsDir() {
					files = append(files, path)
				}
				return err
			}))
			sort.Strings(files)
			assert.Equal(t, tt.wantFiles, files)

			if tt.from == "/a.txt" {
				data, err := afero.ReadFile(fs, tt.to)
				require.NoError(t, err)
				assert.Equal(t, "aaa", string(data))
			}
			assert.True(t, fs.Volume().Table().Verify().OK())
		})
	}
}

func TestFs_sharedFile(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})

	a, err := fs.Create("/shared.txt")
	require.NoError(t, err)
	b, err := fs.OpenFile("/shared.txt", os.O_RDWR, 0666)
	require.NoError(t, err)

	_, err = a.Write([]byte(strings.Repeat("A", 1000)))
	require.NoError(t, err)
	_, err = b.Write([]byte("xy"))
	require.NoError(t, err)

	info, err := b.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Size())
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	data, err := afero.ReadFile(fs, "/shared.txt")
	require.NoError(t, err)
	assert.Equal(t, "xy"+strings.Repeat("A", 998), string(data))
	orphans, err := fs.Volume().ScanOrphans()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestFs_renameOpenFile(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})

	f, err := fs.Create("/a.txt")
	require.NoError(t, err)
	require.NoError(t, fs.Rename("/a.txt", "/b.txt"))

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := fs.Stat("/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	data, err := afero.ReadFile(fs, "/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	orphans, err := fs.Volume().ScanOrphans()
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// Writing to a removed file fails instead of reviving its entry.
	f, err = fs.OpenFile("/b.txt", os.O_RDWR, 0666)
	require.NoError(t, err)
	require.NoError(t, fs.Remove("/b.txt"))
	_, err = f.Write([]byte("again"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, f.Close())
	orphans, err = fs.Volume().ScanOrphans()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestFs_Stat(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})
	require.NoError(t, afero.WriteFile(fs, "/some file.txt", []byte("content"), 0666))

	info, err := fs.Stat("/some file.txt")
	require.NoError(t, err)
	assert.Equal(t, "some file.txt", info.Name())
	assert.Equal(t, int64(7), info.Size())
	assert.False(t, info.IsDir())
	assert.True(t, testTime.Equal(info.ModTime()), info.ModTime())

	info, err = fs.Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Backslashes separate components as well.
	_, err = fs.Stat("\\some file.txt")
	assert.NoError(t, err)

	_, err = fs.Stat("/nothing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	f, err := fs.OpenFile("/some file.txt", os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	_, err = f.Write([]byte(" and more"))
	require.NoError(t, err)
	info, err = f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(16), info.Size())
	require.NoError(t, f.Close())
}

func TestFs_Chmod(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})
	require.NoError(t, afero.WriteFile(fs, "/file.txt", []byte("x"), 0666))

	require.NoError(t, fs.Chmod("/file.txt", 0444))
	info, err := fs.Stat("/file.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode())

	_, err = fs.OpenFile("/file.txt", os.O_RDWR, 0)
	assert.ErrorIs(t, err, os.ErrPermission)

	require.NoError(t, fs.Chmod("/file.txt", 0644))
	info, err = fs.Stat("/file.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0666), info.Mode())

	assert.NoError(t, fs.Chmod("/", 0777))
	assert.ErrorIs(t, fs.Chmod("/nothing", 0777), os.ErrNotExist)
}

func TestFs_Chown(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})
	assert.ErrorIs(t, fs.Chown("/", 1000, 1000), errors.ErrUnsupported)
}

func TestFs_Chtimes(t *testing.T) {
	fs := newTestFs(t, fat12Size, FormatOptions{})
	require.NoError(t, afero.WriteFile(fs, "/file.txt", []byte("x"), 0666))

	mtime := time.Date(1999, 12, 31, 23, 59, 58, 0, time.UTC)
	atime := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/file.txt", atime, mtime))

	info, err := fs.Stat("/file.txt")
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime()), info.ModTime())

	e, err := fs.Volume().Root().Lookup("file.txt")
	require.NoError(t, err)
	assert.True(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Equal(e.Accessed), e.Accessed)

	assert.ErrorIs(t, fs.Chtimes("/nothing", atime, mtime), os.ErrNotExist)
}
