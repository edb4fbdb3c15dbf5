package govfat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aligator/govfat/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/willf/bitset"
)

// Clean shutdown bits in FAT[1]. A cleared bit means the volume was not unmounted cleanly.
const (
	fat16CleanBit = 0x8000
	fat32CleanBit = 0x08000000
)

// entryOffset translates a cluster index into the byte offset of its allocation table entry.
// For FAT12 two entries share three bytes: the entry of an even cluster occupies the low 12 bits
// of the little endian 16 bit word at the offset, the entry of an odd cluster the high 12 bits.
// odd reports which of the two cases applies.
func entryOffset(kind FATType, cluster uint32) (offset int64, odd bool) {
	switch kind {
	case FAT12:
		return int64(cluster) + int64(cluster/2), cluster&1 == 1
	case FAT16:
		return int64(cluster) * 2, false
	default:
		return int64(cluster) * 4, false
	}
}

// getEntry decodes the entry of cluster from a raw table image.
func getEntry(kind FATType, data []byte, cluster uint32) uint32 {
	off, odd := entryOffset(kind, cluster)
	switch kind {
	case FAT12:
		v := uint32(binary.LittleEndian.Uint16(data[off:]))
		if odd {
			return v >> 4
		}
		return v & 0x0FFF
	case FAT16:
		return uint32(binary.LittleEndian.Uint16(data[off:]))
	default:
		return binary.LittleEndian.Uint32(data[off:]) & 0x0FFFFFFF
	}
}

// putEntry encodes value as the entry of cluster into a raw table image and returns the amount of
// bytes touched. Neighbouring FAT12 nibbles and the reserved FAT32 high bits are preserved.
func putEntry(kind FATType, data []byte, cluster uint32, value uint32) int {
	off, odd := entryOffset(kind, cluster)
	switch kind {
	case FAT12:
		value &= 0x0FFF
		if odd {
			data[off] = data[off]&0x0F | byte(value<<4)
			data[off+1] = byte(value >> 4)
		} else {
			data[off] = byte(value)
			data[off+1] = data[off+1]&0xF0 | byte(value>>8)
		}
		return 2
	case FAT16:
		binary.LittleEndian.PutUint16(data[off:], uint16(value))
		return 2
	default:
		old := binary.LittleEndian.Uint32(data[off:])
		binary.LittleEndian.PutUint32(data[off:], old&0xF0000000|value&0x0FFFFFFF)
		return 4
	}
}

// CopyResult is the outcome of writing or verifying one FAT copy.
type CopyResult struct {
	Index int
	Err   error
}

// FlushResult describes which FAT copies are in sync after a Flush or Verify.
// Partial success is a valid state: the failed copies stay out of sync until a later Flush succeeds.
type FlushResult struct {
	Copies []CopyResult
}

// OK reports whether every copy succeeded.
func (r FlushResult) OK() bool {
	return len(r.Failed()) == 0
}

// Succeeded returns the indices of the copies which are in sync.
func (r FlushResult) Succeeded() []int {
	var res []int
	for _, c := range r.Copies {
		if c.Err == nil {
			res = append(res, c.Index)
		}
	}
	return res
}

// Failed returns the indices of the copies which are not in sync.
func (r FlushResult) Failed() []int {
	var res []int
	for _, c := range r.Copies {
		if c.Err != nil {
			res = append(res, c.Index)
		}
	}
	return res
}

// Err converts the result into an error wrapping ErrFATSync and the first copy error.
// It is nil if all copies succeeded.
func (r FlushResult) Err() error {
	for _, c := range r.Copies {
		if c.Err != nil {
			return checkpoint.Wrap(fmt.Errorf("FAT copies %v failed: %w", r.Failed(), c.Err), ErrFATSync)
		}
	}
	return nil
}

// Table is the allocation table manager. It holds an image of the table in memory; every Write
// applies to all redundant copies once Flush succeeds.
type Table struct {
	medium Medium
	geo    Geometry
	kind   FATType
	data   []byte
	log    logrus.FieldLogger

	dirty              bool
	dirtyFrom, dirtyTo int64

	// gen is incremented on every mutation so that caches can notice changes they did not perform.
	gen uint64
}

// loadTable reads the first FAT copy from the medium.
func loadTable(m Medium, g Geometry, log logrus.FieldLogger) (*Table, error) {
	t := &Table{
		medium: m,
		geo:    g,
		kind:   g.Type,
		data:   make([]byte, g.FATBytes()),
		log:    log,
	}

	if err := readFull(m, t.data, g.FATOffset(0)); err != nil {
		return nil, checkpoint.Wrap(err, fmt.Errorf("could not read the FAT"))
	}
	return t, nil
}

// Type returns the FAT variant of the table.
func (t *Table) Type() FATType {
	return t.kind
}

// Generation changes whenever the table is modified.
func (t *Table) Generation() uint64 {
	return t.gen
}

func (t *Table) checkCluster(cluster uint32) error {
	if cluster < 2 || cluster > t.geo.MaxCluster() {
		return checkpoint.Wrapf(ErrOutOfRange, "cluster %d outside of [2, %d]", cluster, t.geo.MaxCluster())
	}
	return nil
}

// Read returns the raw entry of a data cluster.
func (t *Table) Read(cluster uint32) (uint32, error) {
	if err := t.checkCluster(cluster); err != nil {
		return 0, err
	}
	return getEntry(t.kind, t.data, cluster), nil
}

// Write sets the entry of a data cluster. The change reaches the medium with the next Flush.
func (t *Table) Write(cluster, value uint32) error {
	if err := t.checkCluster(cluster); err != nil {
		return err
	}
	if value > t.kind.mask() {
		return checkpoint.Wrapf(ErrOutOfRange, "value 0x%X too wide for %v", value, t.kind)
	}
	t.writeRaw(cluster, value)
	return nil
}

// writeRaw writes any entry, including the reserved ones, without validation.
func (t *Table) writeRaw(index, value uint32) {
	off, _ := entryOffset(t.kind, index)
	n := putEntry(t.kind, t.data, index, value)
	t.markDirty(off, off+int64(n))
	t.gen++
}

func (t *Table) markDirty(from, to int64) {
	if !t.dirty {
		t.dirty = true
		t.dirtyFrom, t.dirtyTo = from, to
		return
	}
	if from < t.dirtyFrom {
		t.dirtyFrom = from
	}
	if to > t.dirtyTo {
		t.dirtyTo = to
	}
}

// Dirty reports whether there are changes which are not yet on every copy.
func (t *Table) Dirty() bool {
	return t.dirty
}

// next follows the link of cluster. end is true if cluster terminates its chain.
func (t *Table) next(cluster uint32) (next uint32, end bool, err error) {
	v, err := t.Read(cluster)
	if err != nil {
		return 0, false, checkpoint.Wrap(err, ErrCorruptChain)
	}

	switch {
	case t.kind.IsEndOfChain(v):
		return 0, true, nil
	case v == 0:
		return 0, false, checkpoint.Wrapf(ErrCorruptChain, "cluster %d links to a free cluster", cluster)
	case v == t.kind.BadCluster():
		return 0, false, checkpoint.Wrapf(ErrCorruptChain, "cluster %d links to a bad cluster", cluster)
	case v < 2 || v > t.geo.MaxCluster():
		return 0, false, checkpoint.Wrapf(ErrCorruptChain, "cluster %d links to out of range value 0x%X", cluster, v)
	}
	return v, false, nil
}

// isFree reports whether the cluster is unallocated.
func (t *Table) isFree(cluster uint32) bool {
	return getEntry(t.kind, t.data, cluster) == 0
}

// FreeCount counts the unallocated data clusters.
func (t *Table) FreeCount() int {
	free := 0
	for c := uint32(2); c <= t.geo.MaxCluster(); c++ {
		if t.isFree(c) {
			free++
		}
	}
	return free
}

// Chain returns a lazy iterator over the chain beginning at start. A start of 0 is an empty chain.
func (t *Table) Chain(start uint32) *ChainIterator {
	return &ChainIterator{table: t, start: start}
}

// ChainClusters collects the complete chain beginning at start.
func (t *Table) ChainClusters(start uint32) ([]uint32, error) {
	var clusters []uint32
	it := t.Chain(start)
	for it.Next() {
		clusters = append(clusters, it.Cluster())
	}
	return clusters, it.Err()
}

// Flush writes all pending changes to every FAT copy and reads them back to verify them.
func (t *Table) Flush() FlushResult {
	res := FlushResult{Copies: make([]CopyResult, t.geo.NumFATs)}
	for i := range res.Copies {
		res.Copies[i].Index = i
	}
	if !t.dirty {
		return res
	}

	// Always write whole sectors.
	bps := int64(t.geo.BytesPerSector)
	from := t.dirtyFrom / bps * bps
	to := (t.dirtyTo + bps - 1) / bps * bps
	if to > int64(len(t.data)) {
		to = int64(len(t.data))
	}
	chunk := t.data[from:to]
	readBack := make([]byte, len(chunk))

	for i := range res.Copies {
		off := t.geo.FATOffset(i) + from
		if err := writeFull(t.medium, chunk, off); err != nil {
			res.Copies[i].Err = err
			continue
		}
		if err := readFull(t.medium, readBack, off); err != nil {
			res.Copies[i].Err = err
			continue
		}
		if !bytes.Equal(chunk, readBack) {
			res.Copies[i].Err = checkpoint.Wrapf(ErrFATSync, "FAT copy %d differs after write", i)
		}
	}

	if res.OK() {
		t.dirty = false
		t.log.WithFields(logrus.Fields{"from": from, "to": to, "copies": len(res.Copies)}).Debug("flushed FAT")
	} else {
		t.log.WithField("failed", res.Failed()).Warn("could not flush all FAT copies")
	}
	return res
}

// Verify compares every FAT copy on the medium with the table. Pending changes are excluded.
// A mismatch is only reported, the table does not pick a winner.
func (t *Table) Verify() FlushResult {
	res := FlushResult{Copies: make([]CopyResult, t.geo.NumFATs)}
	onDisk := make([]byte, len(t.data))

	for i := range res.Copies {
		res.Copies[i].Index = i
		if err := readFull(t.medium, onDisk, t.geo.FATOffset(i)); err != nil {
			res.Copies[i].Err = err
			continue
		}

		equal := true
		if t.dirty {
			equal = bytes.Equal(onDisk[:t.dirtyFrom], t.data[:t.dirtyFrom]) &&
				bytes.Equal(onDisk[t.dirtyTo:], t.data[t.dirtyTo:])
		} else {
			equal = bytes.Equal(onDisk, t.data)
		}
		if !equal {
			res.Copies[i].Err = checkpoint.Wrapf(ErrFATSync, "FAT copy %d differs", i)
		}
	}
	return res
}

// cleanBit returns the clean shutdown bit of the variant, 0 for FAT12 which has none.
func (t *Table) cleanBit() uint32 {
	switch t.kind {
	case FAT16:
		return fat16CleanBit
	case FAT32:
		return fat32CleanBit
	default:
		return 0
	}
}

// clean reports the clean shutdown flag stored in FAT[1].
func (t *Table) clean() bool {
	bit := t.cleanBit()
	return bit == 0 || getEntry(t.kind, t.data, 1)&bit != 0
}

// setClean sets or clears the clean shutdown flag in FAT[1].
func (t *Table) setClean(clean bool) {
	bit := t.cleanBit()
	if bit == 0 {
		return
	}
	v := getEntry(t.kind, t.data, 1)
	if clean {
		v |= bit
	} else {
		v &^= bit
	}
	// The flag does not change any chain, so the generation stays.
	off, _ := entryOffset(t.kind, 1)
	n := putEntry(t.kind, t.data, 1, v)
	t.markDirty(off, off+int64(n))
}

// ChainIterator walks a cluster chain lazily. It is finite: a cycle or a broken link stops it with
// ErrCorruptChain. Reset restarts it from the first cluster.
type ChainIterator struct {
	table   *Table
	start   uint32
	current uint32
	visited *bitset.BitSet
	started bool
	done    bool
	err     error
}

// Next advances to the next cluster and reports whether there is one.
func (it *ChainIterator) Next() bool {
	if it.done {
		return false
	}

	var cluster uint32
	if !it.started {
		it.started = true
		if it.start == 0 {
			it.done = true
			return false
		}
		if err := it.table.checkCluster(it.start); err != nil {
			return it.fail(checkpoint.Wrap(err, ErrCorruptChain))
		}
		cluster = it.start
	} else {
		next, end, err := it.table.next(it.current)
		if err != nil {
			return it.fail(err)
		}
		if end {
			it.done = true
			return false
		}
		cluster = next
	}

	if it.visited == nil {
		it.visited = bitset.New(uint(it.table.geo.MaxCluster()) + 1)
	}
	if it.visited.Test(uint(cluster)) {
		return it.fail(checkpoint.Wrapf(ErrCorruptChain, "cycle at cluster %d in chain starting at %d", cluster, it.start))
	}
	it.visited.Set(uint(cluster))
	it.current = cluster
	return true
}

func (it *ChainIterator) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

// Cluster returns the current cluster.
func (it *ChainIterator) Cluster() uint32 {
	return it.current
}

// Err returns the error which stopped the iteration, if any.
func (it *ChainIterator) Err() error {
	return it.err
}

// Reset restarts the iteration at the first cluster.
func (it *ChainIterator) Reset() {
	it.current = 0
	it.started = false
	it.done = false
	it.err = nil
	if it.visited != nil {
		it.visited.ClearAll()
	}
}
