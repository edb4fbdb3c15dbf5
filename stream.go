package govfat

import (
	"io"
	"math"
	"os"

	"github.com/aligator/govfat/checkpoint"
	"github.com/sirupsen/logrus"
)

// maxFileSize is the largest size a directory entry can record.
const maxFileSize = math.MaxUint32

// byteStore is the storage below a directory: a cluster chain or the fixed FAT12/16 root region.
type byteStore interface {
	Read(off int64, n int) ([]byte, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() (int64, error)
}

// chainPosition remembers the last cluster visited by index.
type chainPosition struct {
	valid   bool
	gen     uint64
	start   uint32
	index   int64
	cluster uint32
}

// chainTail remembers the length and last cluster of the chain.
type chainTail struct {
	valid bool
	gen   uint64
	start uint32
	count int64
	last  uint32
}

// ClusterStream presents a cluster chain as a contiguous byte range.
// For a file the range ends at the recorded size, for a directory at the end of the chain.
type ClusterStream struct {
	vol   *Volume
	start uint32
	size  int64
	dir   bool

	// node is the directory entry of a file. Every operation reloads start and size from it, so all
	// streams of the same file see each other's changes.
	node   *fileNode
	closed bool

	pos  chainPosition
	tail chainTail
}

func newClusterStream(vol *Volume, start uint32, dir bool) *ClusterStream {
	return &ClusterStream{
		vol:   vol,
		start: start,
		dir:   dir,
	}
}

// Size returns the length of the byte range. A broken directory chain results in ErrCorruptChain.
func (s *ClusterStream) Size() (int64, error) {
	if err := s.load(); err != nil {
		return 0, err
	}
	return s.length()
}

// load refreshes start and size from the directory entry of a file.
func (s *ClusterStream) load() error {
	if s.closed {
		return checkpoint.From(os.ErrClosed)
	}
	if s.node == nil {
		return nil
	}
	if s.node.removed {
		return checkpoint.Wrapf(os.ErrNotExist, "file was removed")
	}
	h, err := s.node.dir.readHeader(s.node.off)
	if err != nil {
		return err
	}
	s.start = h.FirstCluster(s.vol.geo.Type)
	s.size = int64(h.FileSize)
	return nil
}

// length is the size for the currently loaded start and size.
func (s *ClusterStream) length() (int64, error) {
	if !s.dir {
		return s.size, nil
	}
	count, _, err := s.chainLength()
	if err != nil {
		return 0, err
	}
	return count * s.vol.geo.ClusterSize(), nil
}

// Close detaches the stream from its file. Further operations fail with os.ErrClosed.
func (s *ClusterStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.node != nil {
		s.vol.releaseNode(s.node)
	}
	return nil
}

// chainLength returns the amount of clusters in the chain and its last cluster.
func (s *ClusterStream) chainLength() (int64, uint32, error) {
	t := s.vol.table
	if s.tail.valid && s.tail.gen == t.Generation() && s.tail.start == s.start {
		return s.tail.count, s.tail.last, nil
	}

	var count int64
	var last uint32
	it := t.Chain(s.start)
	for it.Next() {
		count++
		last = it.Cluster()
	}
	if err := it.Err(); err != nil {
		return count, last, err
	}

	s.tail = chainTail{valid: true, gen: t.Generation(), start: s.start, count: count, last: last}
	return count, last, nil
}

// seek returns the cluster at the given chain index. Sequential access continues from the cached
// position instead of walking the chain from the start.
func (s *ClusterStream) seek(index int64) (uint32, error) {
	t := s.vol.table
	from, cluster := int64(0), s.start
	if s.pos.valid && s.pos.gen == t.Generation() && s.pos.start == s.start && s.pos.index <= index {
		from, cluster = s.pos.index, s.pos.cluster
	}

	if cluster == 0 {
		return 0, checkpoint.Wrapf(ErrCorruptChain, "no cluster at index %d of an empty chain", index)
	}
	if index >= int64(s.vol.geo.ClusterCount) {
		return 0, checkpoint.Wrapf(ErrCorruptChain, "cluster index %d exceeds the volume", index)
	}
	if err := t.checkCluster(cluster); err != nil {
		return 0, checkpoint.Wrap(err, ErrCorruptChain)
	}

	for i := from; i < index; i++ {
		next, end, err := t.next(cluster)
		if err != nil {
			return 0, err
		}
		if end {
			return 0, checkpoint.Wrapf(ErrCorruptChain, "chain starting at %d ends before index %d", s.start, index)
		}
		cluster = next
	}

	s.pos = chainPosition{valid: true, gen: t.Generation(), start: s.start, index: index, cluster: cluster}
	return cluster, nil
}

// span visits the clusters covering [off, off+length) and calls fn with the medium offset and the
// part of the range inside of each cluster.
func (s *ClusterStream) span(off, length int64, fn func(mediumOff int64, from, to int64) error) error {
	cs := s.vol.geo.ClusterSize()
	done := int64(0)
	for done < length {
		pos := off + done
		cluster, err := s.seek(pos / cs)
		if err != nil {
			return err
		}

		within := pos % cs
		n := cs - within
		if n > length-done {
			n = length - done
		}
		if err := fn(s.vol.geo.ClusterOffset(cluster)+within, done, done+n); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// Read returns up to n bytes starting at off. Past the end of data the result is truncated,
// which is no error.
func (s *ClusterStream) Read(off int64, n int) ([]byte, error) {
	if off < 0 {
		return nil, checkpoint.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	if off >= size || n <= 0 {
		return []byte{}, nil
	}
	if int64(n) > size-off {
		n = int(size - off)
	}

	buf := make([]byte, n)
	read := 0
	err = s.span(off, int64(n), func(mediumOff, from, to int64) error {
		if err := readFull(s.vol.medium, buf[from:to], mediumOff); err != nil {
			return err
		}
		read = int(to)
		return nil
	})
	return buf[:read], err
}

// ReadAt implements io.ReaderAt.
func (s *ClusterStream) ReadAt(p []byte, off int64) (int, error) {
	data, err := s.Read(off, len(p))
	n := copy(p, data)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at off and grows the chain as needed. Newly allocated clusters and the gap
// between the previous end of data and off read as zeros afterwards.
func (s *ClusterStream) WriteAt(p []byte, off int64) (int, error) {
	if s.vol.cfg.readOnly {
		return 0, checkpoint.From(ErrReadOnly)
	}
	if off < 0 {
		return 0, checkpoint.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := off + int64(len(p))
	if !s.dir && end > maxFileSize {
		return 0, checkpoint.Wrapf(ErrOutOfRange, "file size %d exceeds the FAT limit", end)
	}

	oldSize, err := s.Size()
	if err != nil {
		return 0, err
	}
	oldStart := s.start
	if err := s.ensure(end, oldSize); err != nil {
		return 0, err
	}

	err = s.span(off, int64(len(p)), func(mediumOff, from, to int64) error {
		return writeFull(s.vol.medium, p[from:to], mediumOff)
	})
	if err != nil {
		return 0, err
	}

	if !s.dir && end > s.size {
		s.size = end
	}
	if err := s.notify(oldStart, oldSize); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// ensure makes the chain long enough to hold size bytes. New clusters are linked and flushed to all
// FAT copies before they are zeroed and used. The bytes between the old end of data and the end of
// the old chain are zeroed as well.
func (s *ClusterStream) ensure(size, oldSize int64) error {
	cs := s.vol.geo.ClusterSize()
	need := (size + cs - 1) / cs

	have, last, err := s.chainLength()
	if err != nil {
		return err
	}

	if need > have {
		t := s.vol.table
		before := t.Generation()

		var added []uint32
		if s.start == 0 {
			added, err = s.vol.alloc.Allocate(int(need - have))
		} else {
			added, err = s.vol.alloc.extendAfter(last, int(need-have))
		}
		if err != nil {
			return err
		}

		if res := t.Flush(); !res.OK() {
			s.rollback(last, added)
			return res.Err()
		}

		for _, c := range added {
			if err := zeroFill(s.vol.medium, s.vol.geo.ClusterOffset(c), cs, int(cs)); err != nil {
				return err
			}
		}
		if s.start == 0 {
			s.start = added[0]
		}

		// Only the old last cluster changed, so the cached position is still correct and the tail
		// is known without walking the chain again.
		gen := t.Generation()
		s.tail = chainTail{valid: true, gen: gen, start: s.start, count: need, last: added[len(added)-1]}
		if s.pos.valid && s.pos.gen == before && s.pos.start == s.start {
			s.pos.gen = gen
		}

		s.vol.log.WithFields(logrus.Fields{"start": s.start, "added": len(added)}).Debug("extended chain")
	}

	// Zero the slack of the last old cluster so stale data never shows up inside of the file.
	slackEnd := have * cs
	if size < slackEnd {
		slackEnd = size
	}
	if !s.dir && oldSize < slackEnd {
		zeros := make([]byte, slackEnd-oldSize)
		return s.span(oldSize, int64(len(zeros)), func(mediumOff, from, to int64) error {
			return writeFull(s.vol.medium, zeros[from:to], mediumOff)
		})
	}
	return nil
}

// rollback frees clusters added by a failed extension and restores the previous chain end.
func (s *ClusterStream) rollback(last uint32, added []uint32) {
	if last != 0 {
		_ = s.vol.table.Write(last, s.vol.table.Type().EndOfChain())
	}
	s.vol.alloc.release(added)
	s.vol.table.Flush()
}

// notify persists a changed start cluster or size into the directory entry of a file.
func (s *ClusterStream) notify(oldStart uint32, oldSize int64) error {
	if s.node == nil {
		return nil
	}
	if s.start == oldStart && s.size == oldSize {
		return nil
	}
	return s.node.store(s.start, s.size)
}

// Truncate changes the size. Shrinking first updates the owning entry and frees the clusters
// afterwards, growing zero-fills the new range.
func (s *ClusterStream) Truncate(size int64) error {
	if s.vol.cfg.readOnly {
		return checkpoint.From(ErrReadOnly)
	}
	if size < 0 || (!s.dir && size > maxFileSize) {
		return checkpoint.Wrapf(ErrOutOfRange, "invalid size %d", size)
	}

	oldSize, err := s.Size()
	if err != nil {
		return err
	}
	oldStart := s.start
	if size >= oldSize {
		if err := s.ensure(size, oldSize); err != nil {
			return err
		}
		if !s.dir {
			s.size = size
		}
		return s.notify(oldStart, oldSize)
	}

	cs := s.vol.geo.ClusterSize()
	keep := int((size + cs - 1) / cs)

	if !s.dir {
		s.size = size
	}
	if keep == 0 {
		s.start = 0
	}
	if err := s.notify(oldStart, oldSize); err != nil {
		return err
	}

	if _, err := s.vol.alloc.Truncate(oldStart, keep); err != nil {
		return err
	}
	return s.vol.table.Flush().Err()
}

// rootRegion is the fixed size root directory of FAT12 and FAT16 volumes. It cannot grow.
type rootRegion struct {
	vol *Volume
}

func (r rootRegion) Size() (int64, error) {
	return r.vol.geo.RootDirSize(), nil
}

func (r rootRegion) Read(off int64, n int) ([]byte, error) {
	if off < 0 {
		return nil, checkpoint.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	size := r.vol.geo.RootDirSize()
	if off >= size || n <= 0 {
		return []byte{}, nil
	}
	if int64(n) > size-off {
		n = int(size - off)
	}

	buf := make([]byte, n)
	if err := readFull(r.vol.medium, buf, r.vol.geo.RootDirOffset()+off); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r rootRegion) WriteAt(p []byte, off int64) (int, error) {
	if r.vol.cfg.readOnly {
		return 0, checkpoint.From(ErrReadOnly)
	}
	if off < 0 {
		return 0, checkpoint.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	if off+int64(len(p)) > r.vol.geo.RootDirSize() {
		return 0, checkpoint.Wrapf(ErrDiskFull, "root directory is limited to %d entries", r.vol.geo.RootEntryCount)
	}
	if err := writeFull(r.vol.medium, p, r.vol.geo.RootDirOffset()+off); err != nil {
		return 0, err
	}
	return len(p), nil
}
