package govfat

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aligator/govfat/checkpoint"
	"github.com/sirupsen/logrus"
)

// maxDirSize is the largest directory the 16 bit entry index allows.
const maxDirSize = 65536 * entrySize

// Entry is one decoded directory entry. Name is the long name if a valid one exists and the short
// name otherwise.
type Entry struct {
	Name      string
	ShortName string
	LongName  LongName
	Attr      Attr
	Created   time.Time
	Modified  time.Time
	Accessed  time.Time
	Size      int64
	Cluster   uint32

	header EntryHeader
	// offset is the position of the short entry, first the position of the first slot (long name
	// entries included) inside of the directory.
	offset int64
	first  int64
}

func (e *Entry) IsDir() bool {
	return e.Attr&AttrDirectory != 0
}

// IsVolumeLabel reports whether the entry is the volume label of the root directory.
func (e *Entry) IsVolumeLabel() bool {
	return e.Attr&AttrVolumeID != 0 && e.Attr&AttrDirectory == 0
}

// Header returns the raw short entry.
func (e *Entry) Header() EntryHeader {
	return e.header
}

// slots is the amount of 32 byte slots the entry occupies.
func (e *Entry) slots() int {
	return int((e.offset-e.first)/entrySize) + 1
}

// matches compares name case-insensitively with the long and the short name.
func (e *Entry) matches(name string) bool {
	return strings.EqualFold(e.Name, name) || strings.EqualFold(e.ShortName, name)
}

// Directory is the view of one directory: the root or a directory cluster chain.
type Directory struct {
	vol   *Volume
	store byteStore
	// cluster is the first cluster, 0 for the fixed FAT12/16 root.
	cluster uint32
	root    bool
}

func (d *Directory) log() logrus.FieldLogger {
	return d.vol.log.WithField("dir", d.cluster)
}

// IsRoot reports whether this is the root directory.
func (d *Directory) IsRoot() bool {
	return d.root
}

// Cluster returns the first cluster of the directory, 0 for a FAT12/16 root.
func (d *Directory) Cluster() uint32 {
	return d.cluster
}

// chunkSize is the amount of bytes the iterator reads at once.
func (d *Directory) chunkSize() int {
	if _, ok := d.store.(rootRegion); ok {
		return int(d.vol.geo.BytesPerSector)
	}
	return int(d.vol.geo.ClusterSize())
}

// Entries returns a lazy iterator over the entries. Dot entries are skipped, the volume label is not.
func (d *Directory) Entries() *EntryIterator {
	return &EntryIterator{dir: d}
}

// List collects all entries.
func (d *Directory) List() ([]*Entry, error) {
	var entries []*Entry
	it := d.Entries()
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Err()
}

// Lookup finds an entry by its long or short name, ignoring case.
// The volume label is never found. A missing entry results in os.ErrNotExist.
func (d *Directory) Lookup(name string) (*Entry, error) {
	it := d.Entries()
	for it.Next() {
		e := it.Entry()
		if !e.IsVolumeLabel() && e.matches(name) {
			return e, nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return nil, checkpoint.Wrapf(os.ErrNotExist, "%q not found", name)
}

// newEntry decodes a short entry together with its long name.
func (d *Directory) newEntry(h EntryHeader, name LongName, off, first int64) *Entry {
	loc := d.vol.cfg.location
	e := &Entry{
		LongName: name,
		Attr:     Attr(h.Attribute),
		Created:  decodeTimestamp(h.CreateDate, h.CreateTime, h.CreateTimeTenth, loc),
		Modified: decodeTimestamp(h.WriteDate, h.WriteTime, 0, loc),
		Accessed: decodeTimestamp(h.LastAccessDate, 0, 0, loc),
		Size:     int64(h.FileSize),
		Cluster:  h.FirstCluster(d.vol.geo.Type),
		header:   h,
		offset:   off,
		first:    first,
	}

	if e.IsVolumeLabel() {
		// Labels use all 11 bytes without a dot.
		e.ShortName = labelString(h.Name)
	} else {
		e.ShortName = ShortNameString(h.Name, h.NTReserved)
	}

	e.Name = e.ShortName
	if long, ok := name.Get(); ok {
		e.Name = long
	}
	return e
}

func (d *Directory) readHeader(off int64) (EntryHeader, error) {
	raw, err := d.store.Read(off, entrySize)
	if err != nil {
		return EntryHeader{}, err
	}
	return decodeHeader(raw)
}

func (d *Directory) writeHeader(off int64, h EntryHeader) error {
	raw, err := h.encode()
	if err != nil {
		return err
	}
	_, err = d.store.WriteAt(raw, off)
	return err
}

// updateEntry applies fn to the short entry at off and writes it back.
func (d *Directory) updateEntry(off int64, fn func(h *EntryHeader)) error {
	if d.vol.cfg.readOnly {
		return checkpoint.From(ErrReadOnly)
	}
	h, err := d.readHeader(off)
	if err != nil {
		return err
	}
	fn(&h)
	return d.writeHeader(off, h)
}

// Stream opens the content of a file entry of this directory.
func (d *Directory) Stream(e *Entry) (*ClusterStream, error) {
	if e.IsDir() {
		return nil, checkpoint.Wrapf(ErrIsDirectory, "%q", e.Name)
	}
	s := newClusterStream(d.vol, e.Cluster, false)
	s.size = e.Size
	s.node = d.vol.acquireNode(d, e.offset)
	return s, nil
}

// Dir opens a directory entry of this directory. A cluster of 0 refers to the root.
func (d *Directory) Dir(e *Entry) (*Directory, error) {
	if !e.IsDir() {
		return nil, checkpoint.Wrapf(ErrNotDirectory, "%q", e.Name)
	}
	if e.Cluster == 0 {
		return d.vol.Root(), nil
	}
	return d.vol.directoryAt(e.Cluster), nil
}

// Open returns the content stream of the named file.
func (d *Directory) Open(name string) (*ClusterStream, error) {
	e, err := d.Lookup(name)
	if err != nil {
		return nil, err
	}
	return d.Stream(e)
}

// OpenDir returns the named sub directory.
func (d *Directory) OpenDir(name string) (*Directory, error) {
	e, err := d.Lookup(name)
	if err != nil {
		return nil, err
	}
	return d.Dir(e)
}

// IsEmpty reports whether the directory has no entries apart from the dot entries.
func (d *Directory) IsEmpty() (bool, error) {
	it := d.Entries()
	for it.Next() {
		if !it.Entry().IsVolumeLabel() {
			return false, nil
		}
	}
	return true, it.Err()
}

// Create adds an empty file.
func (d *Directory) Create(name string) (*Entry, error) {
	h := newHeader([11]byte{}, 0, AttrArchive, d.vol.now())
	return d.insert(name, h, nil)
}

// Mkdir adds an empty directory which already contains its dot entries.
func (d *Directory) Mkdir(name string) (*Entry, error) {
	if d.vol.cfg.readOnly {
		return nil, checkpoint.From(ErrReadOnly)
	}
	if err := d.checkFree(name, nil); err != nil {
		return nil, err
	}

	clusters, err := d.vol.alloc.Allocate(1)
	if err != nil {
		return nil, err
	}
	cluster := clusters[0]
	if res := d.vol.table.Flush(); !res.OK() {
		d.vol.alloc.release(clusters)
		d.vol.table.Flush()
		return nil, res.Err()
	}

	now := d.vol.now()
	if err := d.initDir(cluster, now); err != nil {
		d.vol.freeChain(cluster)
		return nil, err
	}

	h := newHeader([11]byte{}, 0, AttrDirectory, now)
	h.SetFirstCluster(d.vol.geo.Type, cluster)
	e, err := d.insert(name, h, nil)
	if err != nil {
		d.vol.freeChain(cluster)
		return nil, err
	}
	return e, nil
}

// initDir zeroes the new directory cluster and writes the dot entries.
func (d *Directory) initDir(cluster uint32, now time.Time) error {
	cs := d.vol.geo.ClusterSize()
	buf := make([]byte, cs)

	dot := newHeader(dotName, 0, AttrDirectory, now)
	dot.SetFirstCluster(d.vol.geo.Type, cluster)
	dotDot := newHeader(dotDotName, 0, AttrDirectory, now)
	dotDot.SetFirstCluster(d.vol.geo.Type, d.linkCluster())

	for i, h := range []EntryHeader{dot, dotDot} {
		raw, err := h.encode()
		if err != nil {
			return err
		}
		copy(buf[i*entrySize:], raw)
	}
	return writeFull(d.vol.medium, buf, d.vol.geo.ClusterOffset(cluster))
}

// linkCluster is the cluster a ".." entry pointing at this directory records. The root is always 0.
func (d *Directory) linkCluster() uint32 {
	if d.root {
		return 0
	}
	return d.cluster
}

// checkFree validates name and fails if it collides with an entry other than skip.
func (d *Directory) checkFree(name string, skip *Entry) error {
	if err := validateLongName(name); err != nil {
		return err
	}
	it := d.Entries()
	for it.Next() {
		e := it.Entry()
		if e.IsVolumeLabel() || (skip != nil && e.offset == skip.offset) {
			continue
		}
		if e.matches(name) {
			return checkpoint.Wrap(fmt.Errorf("%q: %w", name, os.ErrExist), ErrNameCollision)
		}
	}
	return it.Err()
}

// shortNames collects the raw short names in use.
func (d *Directory) shortNames() (map[[11]byte]bool, error) {
	used := make(map[[11]byte]bool)
	it := d.Entries()
	for it.Next() {
		used[it.Entry().header.Name] = true
	}
	return used, it.Err()
}

// insert writes a new entry for name based on h. The short name of h is replaced by the encoded
// name or a generated alias, in which case long name entries are written in front of it.
// skip is an existing entry which does not count as collision, used for renaming.
func (d *Directory) insert(name string, h EntryHeader, skip *Entry) (*Entry, error) {
	if d.vol.cfg.readOnly {
		return nil, checkpoint.From(ErrReadOnly)
	}
	if err := d.checkFree(name, skip); err != nil {
		return nil, err
	}

	var long []LongFilenameEntry
	raw, ncase, err := EncodeShortName(name)
	if err != nil {
		used, err := d.shortNames()
		if err != nil {
			return nil, err
		}
		raw, err = GenerateAlias(name, d.vol.cfg.aliasCeiling, func(r [11]byte) bool { return used[r] })
		if err != nil {
			return nil, err
		}
		ncase = 0
		if long, err = AssembleLongName(name, raw); err != nil {
			return nil, err
		}
	}
	h.Name = raw
	h.NTReserved = ncase

	buf := make([]byte, 0, (len(long)+1)*entrySize)
	for i := range long {
		b, err := pack(&long[i])
		if err != nil {
			return nil, checkpoint.From(err)
		}
		buf = append(buf, b...)
	}
	b, err := h.encode()
	if err != nil {
		return nil, err
	}
	buf = append(buf, b...)

	slots := len(long) + 1
	first, atEnd, err := d.findSlots(slots)
	if err != nil {
		return nil, err
	}
	end := first + int64(len(buf))
	if end > maxDirSize {
		return nil, checkpoint.Wrapf(ErrDiskFull, "directory cannot hold more than %d entries", maxDirSize/entrySize)
	}

	// Past the old end marker there may be stale data, so a new end marker follows the entry.
	size, err := d.store.Size()
	if err != nil {
		return nil, err
	}
	if atEnd && end < size {
		buf = append(buf, make([]byte, entrySize)...)
	}
	if _, err := d.store.WriteAt(buf, first); err != nil {
		return nil, err
	}

	d.log().WithFields(logrus.Fields{"name": name, "slots": slots}).Debug("created entry")

	longName := LongName{}
	if len(long) > 0 {
		longName = LongName{name: name, present: true}
	}
	return d.newEntry(h, longName, end-entrySize, first), nil
}

// findSlots returns the offset of the first run of count free slots. atEnd reports whether the run
// reaches the end marker, in which case it may extend beyond the current size of the directory.
func (d *Directory) findSlots(count int) (int64, bool, error) {
	size, err := d.store.Size()
	if err != nil {
		return 0, false, err
	}
	chunk := d.chunkSize()

	runStart, runLen := int64(-1), 0
	for off := int64(0); off < size; off += int64(chunk) {
		data, err := d.store.Read(off, chunk)
		if err != nil {
			return 0, false, err
		}
		for i := 0; i+entrySize <= len(data); i += entrySize {
			slot := off + int64(i)
			raw := data[i : i+entrySize]
			switch {
			case isEndSlot(raw):
				if runStart < 0 {
					runStart = slot
				}
				return runStart, true, nil
			case isDeletedSlot(raw):
				if runStart < 0 {
					runStart = slot
				}
				runLen++
				if runLen == count {
					return runStart, false, nil
				}
			default:
				runStart, runLen = -1, 0
			}
		}
	}

	// No end marker: the run continues into the space the directory grows by.
	if runStart < 0 {
		runStart = size
	}
	return runStart, true, nil
}

// markDeleted flags every slot of the entry as deleted.
func (d *Directory) markDeleted(e *Entry) error {
	for off := e.first; off <= e.offset; off += entrySize {
		if _, err := d.store.WriteAt([]byte{markerDeleted}, off); err != nil {
			return err
		}
	}
	d.vol.detachNode(d, e.offset)
	return nil
}

// Remove deletes the named entry and frees its clusters afterwards. A directory which is not empty
// is only removed if recursive is set, otherwise ErrDirectoryNotEmpty is returned.
func (d *Directory) Remove(name string, recursive bool) error {
	if d.vol.cfg.readOnly {
		return checkpoint.From(ErrReadOnly)
	}
	e, err := d.Lookup(name)
	if err != nil {
		return err
	}
	return d.remove(e, recursive)
}

func (d *Directory) remove(e *Entry, recursive bool) error {
	if e.IsDir() {
		child, err := d.Dir(e)
		if err != nil {
			return err
		}
		children, err := child.List()
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.IsVolumeLabel() {
				continue
			}
			if !recursive {
				return checkpoint.Wrapf(ErrDirectoryNotEmpty, "%q", e.Name)
			}
			if err := child.remove(c, true); err != nil {
				return err
			}
		}
	}

	if err := d.markDeleted(e); err != nil {
		return err
	}
	d.log().WithField("name", e.Name).Debug("removed entry")

	if e.Cluster == 0 {
		return nil
	}
	if err := d.vol.alloc.FreeAll(e.Cluster); err != nil {
		return checkpoint.Wrapf(err, "entry %q removed but its clusters could not be freed", e.Name)
	}
	return d.vol.table.Flush().Err()
}

// Rename changes the name of an entry inside of this directory.
func (d *Directory) Rename(oldName, newName string) error {
	return d.Move(oldName, d, newName)
}

// Move moves the named entry into target under newName. The new entry is written before the old
// one is deleted. A moved directory gets its ".." entry pointed at target.
func (d *Directory) Move(oldName string, target *Directory, newName string) error {
	if d.vol.cfg.readOnly {
		return checkpoint.From(ErrReadOnly)
	}
	e, err := d.Lookup(oldName)
	if err != nil {
		return err
	}

	sameDir := target.cluster == d.cluster
	if e.IsDir() && !sameDir {
		inside, err := target.isInside(e.Cluster)
		if err != nil {
			return err
		}
		if inside {
			return checkpoint.Wrapf(os.ErrInvalid, "cannot move %q into itself", e.Name)
		}
	}

	var skip *Entry
	if sameDir {
		skip = e
	}
	moved, err := target.insert(newName, e.header, skip)
	if err != nil {
		return err
	}
	d.vol.moveNode(d, e.offset, target, moved.offset)
	if err := d.markDeleted(e); err != nil {
		return err
	}

	if e.IsDir() && !sameDir {
		// The ".." entry is always the second slot.
		child := d.vol.directoryAt(e.Cluster)
		err := child.updateEntry(entrySize, func(h *EntryHeader) {
			h.SetFirstCluster(d.vol.geo.Type, target.linkCluster())
		})
		if err != nil {
			return err
		}
	}

	d.log().WithFields(logrus.Fields{"from": oldName, "to": newName, "target": target.cluster}).Debug("moved entry")
	return nil
}

// isInside reports whether this directory is cluster itself or one of its descendants.
func (d *Directory) isInside(cluster uint32) (bool, error) {
	current := d
	for i := uint32(0); i <= d.vol.geo.ClusterCount; i++ {
		if current.root {
			return false, nil
		}
		if current.cluster == cluster {
			return true, nil
		}
		h, err := current.readHeader(entrySize)
		if err != nil {
			return false, err
		}
		if h.Name != dotDotName {
			return false, checkpoint.Wrapf(ErrCorruptChain, "directory %d has no parent entry", current.cluster)
		}
		parent := h.FirstCluster(d.vol.geo.Type)
		if parent == 0 {
			return false, nil
		}
		current = d.vol.directoryAt(parent)
	}
	return false, checkpoint.Wrapf(ErrCorruptChain, "directory parents form a cycle")
}

// SetAttributes replaces the read-only, hidden, system and archive flags of an entry.
// The directory and volume flags cannot be changed.
func (d *Directory) SetAttributes(name string, attr Attr) error {
	e, err := d.Lookup(name)
	if err != nil {
		return err
	}
	return d.updateEntry(e.offset, func(h *EntryHeader) {
		h.Attribute = byte(Attr(h.Attribute)&^attrMutable | attr&attrMutable)
	})
}

// Touch sets the access and modification time of an entry.
func (d *Directory) Touch(name string, atime, mtime time.Time) error {
	e, err := d.Lookup(name)
	if err != nil {
		return err
	}
	return d.updateEntry(e.offset, func(h *EntryHeader) {
		h.setAccessed(atime.In(d.vol.cfg.location))
		h.setModified(mtime.In(d.vol.cfg.location))
	})
}

// EntryIterator walks a directory lazily, one chunk at a time. It can be restarted with Reset.
type EntryIterator struct {
	dir *Directory

	off    int64
	buf    []byte
	bufOff int64

	run  lfnRun
	cur  *Entry
	err  error
	done bool
}

// slot returns the 32 bytes at off or nil at the end of the directory.
func (it *EntryIterator) slot(off int64) ([]byte, error) {
	if it.buf == nil || off < it.bufOff || off+entrySize > it.bufOff+int64(len(it.buf)) {
		chunk := it.dir.chunkSize()
		start := off / int64(chunk) * int64(chunk)
		data, err := it.dir.store.Read(start, chunk)
		if err != nil {
			return nil, err
		}
		it.buf, it.bufOff = data, start
	}

	i := off - it.bufOff
	if i+entrySize > int64(len(it.buf)) {
		return nil, nil
	}
	return it.buf[i : i+entrySize], nil
}

// Next advances to the next entry.
func (it *EntryIterator) Next() bool {
	for !it.done {
		raw, err := it.slot(it.off)
		if err != nil {
			return it.fail(err)
		}
		if raw == nil || isEndSlot(raw) {
			it.done = true
			break
		}
		off := it.off
		it.off += entrySize

		if isDeletedSlot(raw) {
			it.run.reset()
			continue
		}

		if isLongNameSlot(raw) {
			lfn, err := decodeLongEntry(raw)
			if err != nil {
				return it.fail(err)
			}
			it.run.add(lfn, off)
			continue
		}

		h, err := decodeHeader(raw)
		if err != nil {
			return it.fail(err)
		}
		if h.isDot() {
			it.run.reset()
			continue
		}

		hadRun := len(it.run.entries) > 0
		name, first := it.run.finish(h.Name, off)
		if hadRun && !name.Present() {
			it.dir.log().WithField("short", ShortNameString(h.Name, h.NTReserved)).Debug("ignoring invalid long name")
		}
		it.cur = it.dir.newEntry(h, name, off, first)
		return true
	}
	it.cur = nil
	return false
}

func (it *EntryIterator) fail(err error) bool {
	it.err = err
	it.done = true
	it.cur = nil
	return false
}

// Entry returns the current entry.
func (it *EntryIterator) Entry() *Entry {
	return it.cur
}

// Err returns the error which stopped the iteration.
func (it *EntryIterator) Err() error {
	return it.err
}

// Reset restarts the iteration at the first entry.
func (it *EntryIterator) Reset() {
	it.off = 0
	it.buf = nil
	it.run.reset()
	it.cur = nil
	it.err = nil
	it.done = false
}
