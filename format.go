package govfat

import (
	"time"

	"github.com/aligator/govfat/checkpoint"
	"github.com/sirupsen/logrus"
)

// FormatOptions control the layout Format creates. Zero values select sensible defaults.
type FormatOptions struct {
	// BytesPerSector defaults to 512.
	BytesPerSector uint32
	// SectorsPerCluster is chosen as small as the FAT variant allows if 0.
	SectorsPerCluster uint32
	// NumFATs defaults to 2.
	NumFATs uint32
	// RootEntries is the size of the FAT12/16 root directory, default 512.
	RootEntries uint32

	// ForceType selects Type instead of deriving the variant from the size.
	ForceType bool
	Type      FATType

	Label    string
	VolumeID uint32
	OEMName  string
	// Media defaults to 0xF8 (fixed disk).
	Media byte

	// Time is used for the volume id and the label entry, default time.Now().
	Time time.Time
	Log  logrus.FieldLogger
}

const (
	defaultRootEntries = 512
	fat32Reserved      = 32
	fat32FSInfoSector  = 1
	fat32BackupSector  = 6
	fat32RootCluster   = 2
)

// layout is one candidate geometry.
type layout struct {
	kind          FATType
	spc           uint32
	reserved      uint32
	rootEntries   uint32
	rootSectors   uint32
	sectorsPerFAT uint32
	clusters      uint32
}

// planLayout computes the FAT size for kind and spc. ok is false if the resulting cluster count
// does not belong to kind.
func planLayout(kind FATType, total, bps, spc, fats, rootEntries uint32) (layout, bool) {
	l := layout{kind: kind, spc: spc, reserved: 1, rootEntries: rootEntries}
	if kind == FAT32 {
		l.reserved = fat32Reserved
		l.rootEntries = 0
	}
	l.rootSectors = (l.rootEntries*entrySize + bps - 1) / bps

	// The FAT size depends on the cluster count which depends on the FAT size. This converges
	// after a few rounds as the FAT only ever grows.
	l.sectorsPerFAT = 1
	for i := 0; i < 64; i++ {
		meta := uint64(l.reserved) + uint64(fats)*uint64(l.sectorsPerFAT) + uint64(l.rootSectors)
		if meta >= uint64(total) {
			return l, false
		}
		l.clusters = (total - uint32(meta)) / spc
		bytes := ((uint64(l.clusters)+2)*uint64(kind.Bits()) + 7) / 8
		need := uint32((bytes + uint64(bps) - 1) / uint64(bps))
		if need <= l.sectorsPerFAT {
			break
		}
		l.sectorsPerFAT = need
	}

	return l, l.clusters > 0 && typeForClusters(l.clusters) == kind
}

// Format writes an empty FAT file system of size bytes onto m.
func Format(m Medium, size int64, opts FormatOptions) error {
	if opts.BytesPerSector == 0 {
		opts.BytesPerSector = 512
	}
	if opts.NumFATs == 0 {
		opts.NumFATs = 2
	}
	if opts.RootEntries == 0 {
		opts.RootEntries = defaultRootEntries
	}
	if opts.Media == 0 {
		opts.Media = 0xF8
	}
	if opts.OEMName == "" {
		opts.OEMName = "GOVFAT"
	}
	if opts.Time.IsZero() {
		opts.Time = time.Now()
	}
	if opts.VolumeID == 0 {
		opts.VolumeID = uint32(opts.Time.Unix())
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	bps := opts.BytesPerSector
	switch bps {
	case 512, 1024, 2048, 4096:
	default:
		return checkpoint.Wrapf(ErrFormat, "invalid sector size %d", bps)
	}
	if opts.SectorsPerCluster != 0 && (!isPowerOfTwo(opts.SectorsPerCluster) || bps*opts.SectorsPerCluster > maxClusterSize) {
		return checkpoint.Wrapf(ErrFormat, "invalid sectors per cluster %d", opts.SectorsPerCluster)
	}
	if size/int64(bps) > int64(^uint32(0)) {
		return checkpoint.Wrapf(ErrFormat, "medium of %d bytes too large", size)
	}
	total := uint32(size / int64(bps))

	label, err := encodeLabel(opts.Label)
	if err != nil {
		return err
	}

	l, err := chooseLayout(opts, total)
	if err != nil {
		return err
	}

	g := Geometry{
		Type:              l.kind,
		BytesPerSector:    bps,
		SectorsPerCluster: l.spc,
		ReservedSectors:   l.reserved,
		NumFATs:           opts.NumFATs,
		SectorsPerFAT:     l.sectorsPerFAT,
		RootEntryCount:    l.rootEntries,
		RootDirSectors:    l.rootSectors,
		TotalSectors:      total,
		FirstDataSector:   l.reserved + opts.NumFATs*l.sectorsPerFAT + l.rootSectors,
		ClusterCount:      l.clusters,
		Media:             opts.Media,
	}
	if l.kind == FAT32 {
		g.RootCluster = fat32RootCluster
		g.FSInfoSector = fat32FSInfoSector
		g.BackupBootSector = fat32BackupSector
	}

	// Clear everything up to the data region.
	if err := zeroFill(m, 0, int64(g.FirstDataSector)*int64(bps), int(bps)*8); err != nil {
		return err
	}

	boot, err := bootSector(g, opts, label)
	if err != nil {
		return err
	}
	if err := writeFull(m, boot, 0); err != nil {
		return err
	}

	fat := make([]byte, g.FATBytes())
	putEntry(l.kind, fat, 0, l.kind.mask()&^0xFF|uint32(opts.Media))
	putEntry(l.kind, fat, 1, l.kind.EndOfChain())
	if l.kind == FAT32 {
		putEntry(l.kind, fat, fat32RootCluster, l.kind.EndOfChain())
	}
	for i := 0; i < int(g.NumFATs); i++ {
		if err := writeFull(m, fat, g.FATOffset(i)); err != nil {
			return err
		}
	}

	rootOffset := g.RootDirOffset()
	if l.kind == FAT32 {
		rootOffset = g.ClusterOffset(fat32RootCluster)
		if err := zeroFill(m, rootOffset, g.ClusterSize(), int(g.ClusterSize())); err != nil {
			return err
		}

		info := newFSInfo()
		info.FreeCount = l.clusters - 1
		info.NextFree = fat32RootCluster + 1
		if err := writeFSInfo(m, g, info); err != nil {
			return err
		}
		if err := writeFull(m, boot, int64(fat32BackupSector)*int64(bps)); err != nil {
			return err
		}
		infoRaw, err := pack(info)
		if err != nil {
			return checkpoint.From(err)
		}
		if err := writeFull(m, infoRaw, int64(fat32BackupSector+1)*int64(bps)); err != nil {
			return err
		}
	}

	if opts.Label != "" {
		h := newHeader(label, 0, AttrVolumeID, opts.Time)
		raw, err := h.encode()
		if err != nil {
			return err
		}
		if err := writeFull(m, raw, rootOffset); err != nil {
			return err
		}
	}

	opts.Log.WithFields(logrus.Fields{
		"type":     l.kind.String(),
		"clusters": l.clusters,
		"cluster":  g.ClusterSize(),
	}).Debug("formatted volume")
	return nil
}

// chooseLayout picks the FAT variant and cluster size. Without a forced variant small volumes get
// FAT12, medium ones FAT16 and large ones FAT32, falling back to the others if the size does not fit.
func chooseLayout(opts FormatOptions, total uint32) (layout, error) {
	bps := opts.BytesPerSector
	size := int64(total) * int64(bps)

	var kinds []FATType
	switch {
	case opts.ForceType:
		kinds = []FATType{opts.Type}
	case size < 16<<20:
		kinds = []FATType{FAT12, FAT16, FAT32}
	case size < 512<<20:
		kinds = []FATType{FAT16, FAT32, FAT12}
	default:
		kinds = []FATType{FAT32, FAT16, FAT12}
	}

	var spcs []uint32
	if opts.SectorsPerCluster != 0 {
		spcs = []uint32{opts.SectorsPerCluster}
	} else {
		for spc := uint32(1); spc*bps <= maxClusterSize; spc *= 2 {
			spcs = append(spcs, spc)
		}
	}

	for _, kind := range kinds {
		for _, spc := range spcs {
			if l, ok := planLayout(kind, total, bps, spc, opts.NumFATs, opts.RootEntries); ok {
				return l, nil
			}
		}
	}
	return layout{}, checkpoint.Wrapf(ErrFormat, "no FAT layout fits %d sectors", total)
}

// bootSector builds the boot sector including the extended BPB of the variant.
func bootSector(g Geometry, opts FormatOptions, label [11]byte) ([]byte, error) {
	bpb := BPB{
		BytesPerSector:      uint16(g.BytesPerSector),
		SectorsPerCluster:   byte(g.SectorsPerCluster),
		ReservedSectorCount: uint16(g.ReservedSectors),
		NumFATs:             byte(g.NumFATs),
		RootEntryCount:      uint16(g.RootEntryCount),
		Media:               g.Media,
		SectorsPerTrack:     32,
		NumberOfHeads:       64,
	}
	copy(bpb.BSOEMName[:], "        ")
	copy(bpb.BSOEMName[:], opts.OEMName)

	if g.Type != FAT32 && g.TotalSectors < 0x10000 {
		bpb.TotalSectors16 = uint16(g.TotalSectors)
	} else {
		bpb.TotalSectors32 = g.TotalSectors
	}

	bootLabel := label
	if opts.Label == "" {
		copy(bootLabel[:], "NO NAME    ")
	}

	var ext []byte
	var err error
	if g.Type == FAT32 {
		bpb.BSJumpBoot = [3]byte{0xEB, 0x58, 0x90}
		data := FAT32SpecificData{
			FATSize:         g.SectorsPerFAT,
			RootCluster:     g.RootCluster,
			FSInfo:          uint16(g.FSInfoSector),
			BkBootSector:    uint16(g.BackupBootSector),
			BSDriveNumber:   0x80,
			BSBootSignature: 0x29,
			BSVolumeID:      opts.VolumeID,
			BSVolumeLabel:   bootLabel,
		}
		copy(data.BSFileSystemType[:], "FAT32   ")
		ext, err = pack(&data)
	} else {
		bpb.BSJumpBoot = [3]byte{0xEB, 0x3C, 0x90}
		bpb.FATSize16 = uint16(g.SectorsPerFAT)
		data := FAT16SpecificData{
			BSDriveNumber:   0x80,
			BSBootSignature: 0x29,
			BSVolumeID:      opts.VolumeID,
			BSVolumeLabel:   bootLabel,
		}
		copy(data.BSFileSystemType[:], g.Type.String()+"   ")
		ext, err = pack(&data)
	}
	if err != nil {
		return nil, checkpoint.From(err)
	}
	copy(bpb.FATSpecificData[:], ext)

	raw, err := pack(&bpb)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	sector := make([]byte, g.BytesPerSector)
	copy(sector, raw)
	sector[bootSignatureOff] = 0x55
	sector[bootSignatureOff+1] = 0xAA
	return sector, nil
}
