package govfat

import (
	"io"
	"time"

	"github.com/aligator/govfat/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/willf/bitset"
)

// Option configures how a volume is opened.
type Option func(*config)

type config struct {
	log          logrus.FieldLogger
	clock        func() time.Time
	location     *time.Location
	aliasCeiling int
	readOnly     bool
	skipChecks   bool
}

func newConfig(opts []Option) config {
	cfg := config{
		log:          logrus.StandardLogger(),
		clock:        time.Now,
		location:     time.Local,
		aliasCeiling: DefaultAliasCeiling,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger. By default the logrus standard logger is used.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock sets the source of the timestamps written into entries.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLocation sets the time zone FAT timestamps are interpreted in. FAT stores local time.
func WithLocation(loc *time.Location) Option {
	return func(c *config) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithAliasCeiling limits the numeric tail of generated short names.
func WithAliasCeiling(ceiling int) Option {
	return func(c *config) {
		if ceiling > 0 {
			c.aliasCeiling = ceiling
		}
	}
}

// ReadOnly opens the volume without ever writing to the medium.
func ReadOnly() Option {
	return func(c *config) {
		c.readOnly = true
	}
}

// SkipChecks skips some boot sector validations which may allow opening not perfectly standard
// volumes. Use with caution!
func SkipChecks() Option {
	return func(c *config) {
		c.skipChecks = true
	}
}

// Volume is an opened FAT file system. It is not safe for concurrent use; a single owner has to
// serialize all calls (the afero adapter does that with a mutex).
type Volume struct {
	medium Medium
	size   int64
	geo    Geometry
	table  *Table
	alloc  *Allocator
	fsInfo *FSInfo
	cfg    config
	log    logrus.FieldLogger

	// nodes holds the entries of files with open streams.
	nodes map[nodeKey]*fileNode

	closer   io.Closer
	wasClean bool
	closed   bool
}

// Open mounts the volume on m which has the given size in bytes.
// All FAT copies are compared with the first one. A mismatch or a volume which was not unmounted
// cleanly is only logged. Unless opened read-only, the clean shutdown flag is cleared until Close.
func Open(m Medium, size int64, opts ...Option) (*Volume, error) {
	cfg := newConfig(opts)

	raw := make([]byte, bootSectorSize)
	if err := readFull(m, raw, 0); err != nil {
		return nil, checkpoint.Wrap(err, ErrFormat)
	}
	geo, err := ParseBootSector(raw, size, cfg.skipChecks)
	if err != nil {
		return nil, err
	}

	log := cfg.log.WithField("fat", geo.Type.String())
	table, err := loadTable(m, geo, log)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		medium:   m,
		size:     size,
		geo:      geo,
		table:    table,
		cfg:      cfg,
		log:      log,
		nodes:    make(map[nodeKey]*fileNode),
		wasClean: table.clean(),
	}

	if !v.wasClean {
		log.Warn("volume was not unmounted cleanly")
	}
	if res := table.Verify(); !res.OK() {
		log.WithField("copies", res.Failed()).Warn("FAT copies differ from the first copy")
	}

	info, err := readFSInfo(m, geo)
	if err != nil {
		log.WithError(err).Debug("ignoring FSInfo sector")
	}
	if info == nil && fsInfoOffset(geo) >= 0 {
		info = newFSInfo()
	}
	v.fsInfo = info
	v.alloc = newAllocator(table, info.nextFreeHint(), log)

	if !cfg.readOnly {
		table.setClean(false)
		if err := table.Flush().Err(); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"clusters":  geo.ClusterCount,
		"cluster":   geo.ClusterSize(),
		"read_only": cfg.readOnly,
	}).Debug("mounted volume")
	return v, nil
}

func (v *Volume) now() time.Time {
	return v.cfg.clock().In(v.cfg.location)
}

// Geometry returns the layout of the volume.
func (v *Volume) Geometry() Geometry {
	return v.geo
}

// Type returns the FAT variant.
func (v *Volume) Type() FATType {
	return v.geo.Type
}

// Table returns the allocation table.
func (v *Volume) Table() *Table {
	return v.table
}

// Allocator returns the cluster allocator of this volume.
func (v *Volume) Allocator() *Allocator {
	return v.alloc
}

// ReadOnly reports whether the volume was opened read-only.
func (v *Volume) ReadOnly() bool {
	return v.cfg.readOnly
}

// WasClean reports whether the volume was unmounted cleanly before this mount.
// FAT12 has no such flag and is always reported clean.
func (v *Volume) WasClean() bool {
	return v.wasClean
}

// FreeClusters returns the amount of unallocated clusters.
func (v *Volume) FreeClusters() int {
	return v.table.FreeCount()
}

// FreeBytes returns the unallocated space in bytes.
func (v *Volume) FreeBytes() int64 {
	return int64(v.FreeClusters()) * v.geo.ClusterSize()
}

// Root returns the root directory.
func (v *Volume) Root() *Directory {
	if v.geo.Type == FAT32 {
		return v.directoryAt(v.geo.RootCluster)
	}
	return &Directory{vol: v, store: rootRegion{vol: v}, root: true}
}

// directoryAt returns the directory starting at cluster.
func (v *Volume) directoryAt(cluster uint32) *Directory {
	return &Directory{
		vol:     v,
		store:   newClusterStream(v, cluster, true),
		cluster: cluster,
		root:    v.geo.Type == FAT32 && cluster == v.geo.RootCluster,
	}
}

// Label returns the volume label. The label entry in the root directory takes precedence over the
// copy in the boot sector.
func (v *Volume) Label() (string, error) {
	it := v.Root().Entries()
	for it.Next() {
		if e := it.Entry(); e.IsVolumeLabel() {
			return e.Name, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", err
	}
	return v.geo.VolumeLabel, nil
}

// freeChain releases the chain at cluster after a failed operation. Errors are only logged as the
// original failure is what the caller reports.
func (v *Volume) freeChain(cluster uint32) {
	if err := v.alloc.FreeAll(cluster); err != nil {
		v.log.WithError(err).Warn("could not free clusters")
		return
	}
	if err := v.table.Flush().Err(); err != nil {
		v.log.WithError(err).Warn("could not flush freed clusters")
	}
}

// Sync writes all pending allocation table changes to every FAT copy and updates FSInfo.
func (v *Volume) Sync() error {
	if v.cfg.readOnly {
		return nil
	}
	if err := v.table.Flush().Err(); err != nil {
		return err
	}

	if v.fsInfo != nil {
		v.fsInfo.FreeCount = uint32(v.table.FreeCount())
		v.fsInfo.NextFree = v.alloc.Cursor()
		if err := writeFSInfo(v.medium, v.geo, v.fsInfo); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs the volume, marks it as cleanly unmounted and closes the medium if the volume owns it.
func (v *Volume) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true

	var err error
	if !v.cfg.readOnly {
		v.table.setClean(true)
		err = v.Sync()
	}

	if v.closer != nil {
		if closeErr := v.closer.Close(); err == nil {
			err = checkpoint.From(closeErr)
		}
	}
	v.log.Debug("closed volume")
	return err
}

// ScanOrphans returns the allocated clusters which no directory entry references, for example
// the chains of entries deleted by a driver which did not free them.
// Bad clusters are not reported. Corrupt chains are logged and skipped.
func (v *Volume) ScanOrphans() ([]uint32, error) {
	reachable := bitset.New(uint(v.geo.MaxCluster()) + 1)

	mark := func(start uint32) bool {
		if start < 2 || start > v.geo.MaxCluster() || reachable.Test(uint(start)) {
			return false
		}
		it := v.table.Chain(start)
		for it.Next() {
			reachable.Set(uint(it.Cluster()))
		}
		if err := it.Err(); err != nil {
			v.log.WithError(err).WithField("start", start).Warn("corrupt chain while scanning for orphans")
		}
		return true
	}

	root := v.Root()
	if root.cluster != 0 {
		mark(root.cluster)
	}

	pending := []*Directory{root}
	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := dir.List()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsVolumeLabel() || e.Cluster == 0 {
				continue
			}
			if !mark(e.Cluster) {
				continue
			}
			if e.IsDir() {
				pending = append(pending, v.directoryAt(e.Cluster))
			}
		}
	}

	var orphans []uint32
	bad := v.geo.Type.BadCluster()
	for c := uint32(2); c <= v.geo.MaxCluster(); c++ {
		if reachable.Test(uint(c)) || v.table.isFree(c) {
			continue
		}
		if value, _ := v.table.Read(c); value == bad {
			continue
		}
		orphans = append(orphans, c)
	}

	if len(orphans) > 0 {
		v.log.WithField("count", len(orphans)).Warn("found orphaned clusters")
	}
	return orphans, nil
}

// ReclaimOrphans frees every orphaned cluster and returns how many were freed.
func (v *Volume) ReclaimOrphans() (int, error) {
	if v.cfg.readOnly {
		return 0, checkpoint.From(ErrReadOnly)
	}
	orphans, err := v.ScanOrphans()
	if err != nil {
		return 0, err
	}
	v.alloc.release(orphans)
	if err := v.table.Flush().Err(); err != nil {
		return 0, err
	}
	return len(orphans), nil
}
