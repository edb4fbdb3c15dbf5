package govfat

import (
	"io"
	"os"

	"github.com/aligator/govfat/checkpoint"
	"github.com/spf13/afero"
)

// Medium is the random access byte store a volume lives on. The size is fixed for the lifetime of
// an opened volume and passed to Open separately. Any afero.File or *os.File satisfies it.
// Generated mock using mockgen:
//  mockgen -source=medium.go -destination=medium_mock.go -package govfat
type Medium interface {
	io.ReaderAt
	io.WriterAt
}

// readFull reads exactly len(p) bytes at off. An io.EOF together with a full buffer is no error.
func readFull(m Medium, p []byte, off int64) error {
	n, err := m.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return checkpoint.From(err)
}

// writeFull writes all of p at off.
func writeFull(m Medium, p []byte, off int64) error {
	n, err := m.WriteAt(p, off)
	if err != nil {
		return checkpoint.From(err)
	}
	if n != len(p) {
		return checkpoint.From(io.ErrShortWrite)
	}
	return nil
}

// zeroFill writes length zero bytes starting at off in chunks of at most chunk bytes.
func zeroFill(m Medium, off, length int64, chunk int) error {
	if chunk <= 0 {
		chunk = 4096
	}
	buf := make([]byte, chunk)
	for length > 0 {
		n := int64(len(buf))
		if length < n {
			n = length
		}
		if err := writeFull(m, buf[:n], off); err != nil {
			return err
		}
		off += n
		length -= n
	}
	return nil
}

// OpenFile opens the image at path inside of afs and mounts it. The returned volume owns the file
// and closes it on Close.
func OpenFile(afs afero.Fs, path string, opts ...Option) (*Volume, error) {
	cfg := newConfig(opts)

	flag := os.O_RDWR
	if cfg.readOnly {
		flag = os.O_RDONLY
	}

	file, err := afs.OpenFile(path, flag, 0)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, checkpoint.From(err)
	}

	vol, err := Open(file, stat.Size(), opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	vol.closer = file
	return vol, nil
}
