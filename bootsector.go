package govfat

import (
	"math/bits"
	"strings"

	"github.com/aligator/govfat/checkpoint"
)

// FATType is the FAT variant of a volume. It is derived from the cluster count only.
type FATType uint8

const (
	FAT12 FATType = iota
	FAT16
	FAT32
)

// Cluster count thresholds which decide the FAT variant.
const (
	fat12MaxClusters = 4085
	fat16MaxClusters = 65525
)

const (
	bootSectorSize   = 512
	maxClusterSize   = 32 * 1024
	bootSignatureOff = 510
)

func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// Bits returns the width of one allocation table entry.
func (t FATType) Bits() int {
	switch t {
	case FAT12:
		return 12
	case FAT16:
		return 16
	default:
		return 32
	}
}

// mask is the part of an entry which carries the value. FAT32 reserves the top 4 bits.
func (t FATType) mask() uint32 {
	switch t {
	case FAT12:
		return 0x0FFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// EndOfChain is the value written to terminate a chain.
func (t FATType) EndOfChain() uint32 {
	return t.mask()
}

// BadCluster is the value marking a defective cluster.
func (t FATType) BadCluster() uint32 {
	return t.mask() - 8
}

// IsEndOfChain reports whether v is any of the end-of-chain sentinels (0x?F8 to 0x?FF).
func (t FATType) IsEndOfChain(v uint32) bool {
	return v&t.mask() >= t.mask()-7
}

// typeForClusters derives the FAT variant solely from the amount of data clusters.
func typeForClusters(clusters uint32) FATType {
	switch {
	case clusters < fat12MaxClusters:
		return FAT12
	case clusters < fat16MaxClusters:
		return FAT16
	default:
		return FAT32
	}
}

// Geometry contains all layout information of a volume. It is immutable after mount.
type Geometry struct {
	Type              FATType
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	SectorsPerFAT     uint32
	RootEntryCount    uint32
	RootDirSectors    uint32
	TotalSectors      uint32
	FirstDataSector   uint32
	ClusterCount      uint32

	// RootCluster is the first cluster of the root directory on FAT32 and 0 otherwise.
	RootCluster      uint32
	FSInfoSector     uint32
	BackupBootSector uint32

	Media       byte
	VolumeID    uint32
	VolumeLabel string
	OEMName     string
}

// ClusterSize returns the size of one cluster in bytes.
func (g Geometry) ClusterSize() int64 {
	return int64(g.BytesPerSector) * int64(g.SectorsPerCluster)
}

// MaxCluster is the highest valid data cluster number.
func (g Geometry) MaxCluster() uint32 {
	return g.ClusterCount + 1
}

// FATBytes is the size of one copy of the allocation table.
func (g Geometry) FATBytes() int64 {
	return int64(g.SectorsPerFAT) * int64(g.BytesPerSector)
}

// FATOffset returns the byte offset of the FAT copy with the given index.
func (g Geometry) FATOffset(copyIndex int) int64 {
	return (int64(g.ReservedSectors) + int64(copyIndex)*int64(g.SectorsPerFAT)) * int64(g.BytesPerSector)
}

// RootDirOffset is the byte offset of the fixed FAT12/16 root directory region.
func (g Geometry) RootDirOffset() int64 {
	return g.FATOffset(int(g.NumFATs))
}

// RootDirSize is the size of the fixed FAT12/16 root directory region.
func (g Geometry) RootDirSize() int64 {
	return int64(g.RootEntryCount) * entrySize
}

// ClusterOffset returns the byte offset of a data cluster.
func (g Geometry) ClusterOffset(cluster uint32) int64 {
	return (int64(g.FirstDataSector) + int64(cluster-2)*int64(g.SectorsPerCluster)) * int64(g.BytesPerSector)
}

// Size is the size in bytes the volume claims.
func (g Geometry) Size() int64 {
	return int64(g.TotalSectors) * int64(g.BytesPerSector)
}

func isPowerOfTwo(v uint32) bool {
	return v != 0 && bits.OnesCount32(v) == 1
}

func validMedia(media byte) bool {
	return media == 0xF0 || media >= 0xF8
}

// ParseBootSector reads the boot sector in raw, validates it and derives the volume geometry.
// mediumSize is the size of the underlying medium which must be able to hold the declared regions.
// If skipChecks is true, the jump instruction, signature and media byte are not verified which
// may allow opening not perfectly standard volumes.
func ParseBootSector(raw []byte, mediumSize int64, skipChecks bool) (Geometry, error) {
	if len(raw) < bootSectorSize {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "boot sector too short: %d bytes", len(raw))
	}

	bpb := BPB{}
	if err := unpack(raw[:bpbSize], &bpb); err != nil {
		return Geometry{}, checkpoint.Wrap(err, ErrFormat)
	}

	if !skipChecks {
		// Check for valid jump instructions.
		if !(bpb.BSJumpBoot[0] == 0xEB && bpb.BSJumpBoot[2] == 0x90) && bpb.BSJumpBoot[0] != 0xE9 {
			return Geometry{}, checkpoint.Wrapf(ErrFormat, "no valid jump instructions at the beginning")
		}
		if raw[bootSignatureOff] != 0x55 || raw[bootSignatureOff+1] != 0xAA {
			return Geometry{}, checkpoint.Wrapf(ErrFormat, "missing boot sector signature")
		}
		if !validMedia(bpb.Media) {
			return Geometry{}, checkpoint.Wrapf(ErrFormat, "invalid media value 0x%02X", bpb.Media)
		}
	}

	// FAT only supports 512, 1024, 2048 and 4096.
	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "invalid sector size %d", bpb.BytesPerSector)
	}

	// Sectors per cluster has to be a power of two and greater than 0.
	// Also the whole cluster size should not be more than 32K.
	if !isPowerOfTwo(uint32(bpb.SectorsPerCluster)) ||
		uint32(bpb.BytesPerSector)*uint32(bpb.SectorsPerCluster) > maxClusterSize {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "invalid sectors per cluster %d", bpb.SectorsPerCluster)
	}

	if bpb.ReservedSectorCount == 0 {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "invalid reserved sector count")
	}
	if bpb.NumFATs == 0 {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "no FAT copy declared")
	}

	fat32 := FAT32SpecificData{}
	if err := unpack(bpb.FATSpecificData[:], &fat32); err != nil {
		return Geometry{}, checkpoint.Wrap(err, ErrFormat)
	}
	fat16 := FAT16SpecificData{}
	if err := unpack(bpb.FATSpecificData[:fat16DataSize], &fat16); err != nil {
		return Geometry{}, checkpoint.Wrap(err, ErrFormat)
	}

	g := Geometry{
		BytesPerSector:    uint32(bpb.BytesPerSector),
		SectorsPerCluster: uint32(bpb.SectorsPerCluster),
		ReservedSectors:   uint32(bpb.ReservedSectorCount),
		NumFATs:           uint32(bpb.NumFATs),
		RootEntryCount:    uint32(bpb.RootEntryCount),
		Media:             bpb.Media,
		OEMName:           strings.TrimRight(string(bpb.BSOEMName[:]), " \x00"),
	}

	g.TotalSectors = uint32(bpb.TotalSectors16)
	if g.TotalSectors == 0 {
		g.TotalSectors = bpb.TotalSectors32
	}
	if g.TotalSectors == 0 {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "total sector count is 0")
	}

	g.SectorsPerFAT = uint32(bpb.FATSize16)
	if g.SectorsPerFAT == 0 {
		g.SectorsPerFAT = fat32.FATSize
	}
	if g.SectorsPerFAT == 0 {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "sectors per FAT is 0")
	}

	g.RootDirSectors = (g.RootEntryCount*entrySize + g.BytesPerSector - 1) / g.BytesPerSector
	metaSectors := uint64(g.ReservedSectors) + uint64(g.NumFATs)*uint64(g.SectorsPerFAT) + uint64(g.RootDirSectors)
	if metaSectors >= uint64(g.TotalSectors) {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "no room for data region: %d of %d sectors used by metadata", metaSectors, g.TotalSectors)
	}
	g.FirstDataSector = uint32(metaSectors)
	g.ClusterCount = (g.TotalSectors - g.FirstDataSector) / g.SectorsPerCluster
	if g.ClusterCount == 0 {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "volume has no data clusters")
	}
	g.Type = typeForClusters(g.ClusterCount)

	// The FAT has to be able to address every data cluster.
	entries := uint64(g.SectorsPerFAT) * uint64(g.BytesPerSector) * 8 / uint64(g.Type.Bits())
	if entries < uint64(g.ClusterCount)+2 {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "FAT with %d entries cannot address %d clusters", entries, g.ClusterCount)
	}

	if g.Type == FAT32 {
		if fat32.RootCluster < 2 || fat32.RootCluster > g.MaxCluster() {
			return Geometry{}, checkpoint.Wrapf(ErrFormat, "root cluster %d out of range", fat32.RootCluster)
		}
		g.RootCluster = fat32.RootCluster
		g.FSInfoSector = uint32(fat32.FSInfo)
		g.BackupBootSector = uint32(fat32.BkBootSector)
		if fat32.BSBootSignature == 0x29 {
			g.VolumeID = fat32.BSVolumeID
			g.VolumeLabel = trimLabel(fat32.BSVolumeLabel)
		}
	} else {
		if g.RootEntryCount == 0 {
			return Geometry{}, checkpoint.Wrapf(ErrFormat, "%v volume without root directory entries", g.Type)
		}
		if fat16.BSBootSignature == 0x29 {
			g.VolumeID = fat16.BSVolumeID
			g.VolumeLabel = trimLabel(fat16.BSVolumeLabel)
		}
	}

	if g.Size() > mediumSize {
		return Geometry{}, checkpoint.Wrapf(ErrFormat, "medium of %d bytes too small for volume of %d bytes", mediumSize, g.Size())
	}

	return g, nil
}

func trimLabel(label [11]byte) string {
	l := strings.TrimRight(string(label[:]), " \x00")
	if l == "NO NAME" {
		return ""
	}
	return l
}
