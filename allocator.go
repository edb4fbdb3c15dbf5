package govfat

import (
	"github.com/aligator/govfat/checkpoint"
	"github.com/sirupsen/logrus"
)

// Allocator hands out free clusters first-fit, starting the search at a rotating cursor instead of
// always rescanning from cluster 2. The cursor belongs to one opened volume.
type Allocator struct {
	table  *Table
	log    logrus.FieldLogger
	cursor uint32

	// gen is the table generation the cursor was last synchronized with.
	gen uint64
}

func newAllocator(t *Table, hint uint32, log logrus.FieldLogger) *Allocator {
	a := &Allocator{
		table:  t,
		log:    log,
		cursor: hint,
		gen:    t.Generation(),
	}
	if hint < 2 || hint > t.geo.MaxCluster() {
		a.cursor = 2
	}
	return a
}

// Cursor returns the cluster the next search starts at.
func (a *Allocator) Cursor() uint32 {
	a.syncCursor()
	return a.cursor
}

// syncCursor drops the cursor if somebody else changed the table in the meantime.
func (a *Allocator) syncCursor() {
	if a.gen != a.table.Generation() || a.cursor < 2 || a.cursor > a.table.geo.MaxCluster() {
		a.cursor = 2
		a.gen = a.table.Generation()
	}
}

// FreeCount returns the amount of free clusters.
func (a *Allocator) FreeCount() int {
	return a.table.FreeCount()
}

// findFree collects up to count free clusters in search order without changing anything.
func (a *Allocator) findFree(count int) []uint32 {
	max := a.table.geo.MaxCluster()
	found := make([]uint32, 0, count)

	for c := a.cursor; c <= max && len(found) < count; c++ {
		if a.table.isFree(c) {
			found = append(found, c)
		}
	}
	for c := uint32(2); c < a.cursor && len(found) < count; c++ {
		if a.table.isFree(c) {
			found = append(found, c)
		}
	}
	return found
}

// Allocate reserves count clusters, links them into a new chain and returns them in chain order.
// It is all-or-nothing: if not enough clusters are free, ErrDiskFull is returned and nothing changes.
func (a *Allocator) Allocate(count int) ([]uint32, error) {
	if count <= 0 {
		return nil, nil
	}
	a.syncCursor()

	clusters := a.findFree(count)
	if len(clusters) < count {
		return nil, checkpoint.Wrapf(ErrDiskFull, "requested %d clusters but only %d are free", count, len(clusters))
	}

	eoc := a.table.Type().EndOfChain()
	for i, c := range clusters {
		next := eoc
		if i+1 < len(clusters) {
			next = clusters[i+1]
		}
		if err := a.table.Write(c, next); err != nil {
			a.release(clusters[:i+1])
			return nil, err
		}
	}

	a.cursor = clusters[len(clusters)-1] + 1
	a.gen = a.table.Generation()

	a.log.WithFields(logrus.Fields{"count": count, "first": clusters[0]}).Debug("allocated clusters")
	return clusters, nil
}

// Extend appends count new clusters to the chain beginning at start and returns them.
// A start of 0 creates a new chain.
func (a *Allocator) Extend(start uint32, count int) ([]uint32, error) {
	if start == 0 {
		return a.Allocate(count)
	}

	clusters, err := a.table.ChainClusters(start)
	if err != nil {
		return nil, err
	}
	return a.extendAfter(clusters[len(clusters)-1], count)
}

// extendAfter appends count new clusters behind last, which has to terminate its chain.
func (a *Allocator) extendAfter(last uint32, count int) ([]uint32, error) {
	if count <= 0 {
		return nil, nil
	}

	v, err := a.table.Read(last)
	if err != nil {
		return nil, err
	}
	if !a.table.Type().IsEndOfChain(v) {
		return nil, checkpoint.Wrapf(ErrCorruptChain, "cluster %d is not the end of its chain", last)
	}

	clusters, err := a.Allocate(count)
	if err != nil {
		return nil, err
	}

	if err := a.table.Write(last, clusters[0]); err != nil {
		a.release(clusters)
		return nil, err
	}
	a.gen = a.table.Generation()
	return clusters, nil
}

// Truncate shortens the chain beginning at start to length clusters and frees the rest.
// It returns the new start cluster which is 0 (no cluster) if length is 0.
// A chain which is already short enough is left alone.
func (a *Allocator) Truncate(start uint32, length int) (uint32, error) {
	clusters, err := a.table.ChainClusters(start)
	if err != nil {
		return start, err
	}
	if length >= len(clusters) {
		return start, nil
	}
	if length <= 0 {
		a.release(clusters)
		return 0, nil
	}

	if err := a.table.Write(clusters[length-1], a.table.Type().EndOfChain()); err != nil {
		return start, err
	}
	a.release(clusters[length:])
	return start, nil
}

// FreeAll returns every cluster of the chain beginning at start to the free pool.
// A corrupt chain is not touched at all.
func (a *Allocator) FreeAll(start uint32) error {
	clusters, err := a.table.ChainClusters(start)
	if err != nil {
		return err
	}
	a.release(clusters)
	return nil
}

// release marks the given clusters free.
func (a *Allocator) release(clusters []uint32) {
	for _, c := range clusters {
		// The clusters are known to be in range, so Write cannot fail.
		_ = a.table.Write(c, 0)
	}
	a.gen = a.table.Generation()

	if len(clusters) > 0 {
		a.log.WithFields(logrus.Fields{"count": len(clusters), "first": clusters[0]}).Debug("freed clusters")
	}
}
