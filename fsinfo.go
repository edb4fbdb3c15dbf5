package govfat

import (
	"github.com/aligator/govfat/checkpoint"
)

const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000

	// fsInfoUnknown marks a free count or next free hint which has to be computed.
	fsInfoUnknown = 0xFFFFFFFF
)

func newFSInfo() *FSInfo {
	return &FSInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       fsInfoUnknown,
		NextFree:        fsInfoUnknown,
		TrailSignature:  fsInfoTrailSignature,
	}
}

// fsInfoOffset returns the position of the FSInfo sector or -1 if the volume has none.
func fsInfoOffset(g Geometry) int64 {
	if g.Type != FAT32 || g.FSInfoSector == 0 || g.FSInfoSector >= g.ReservedSectors {
		return -1
	}
	return int64(g.FSInfoSector) * int64(g.BytesPerSector)
}

// readFSInfo loads the FAT32 FSInfo sector. It returns nil without error if the volume has none.
func readFSInfo(m Medium, g Geometry) (*FSInfo, error) {
	off := fsInfoOffset(g)
	if off < 0 {
		return nil, nil
	}

	raw := make([]byte, fsInfoSize)
	if err := readFull(m, raw, off); err != nil {
		return nil, err
	}

	info := &FSInfo{}
	if err := unpack(raw, info); err != nil {
		return nil, checkpoint.Wrap(err, ErrFormat)
	}
	if info.LeadSignature != fsInfoLeadSignature ||
		info.StructSignature != fsInfoStructSignature ||
		info.TrailSignature != fsInfoTrailSignature {
		return nil, checkpoint.Wrapf(ErrFormat, "invalid FSInfo signature")
	}
	return info, nil
}

// writeFSInfo stores the FSInfo sector.
func writeFSInfo(m Medium, g Geometry, info *FSInfo) error {
	off := fsInfoOffset(g)
	if off < 0 {
		return nil
	}

	raw, err := pack(info)
	if err != nil {
		return checkpoint.From(err)
	}
	return writeFull(m, raw, off)
}

// nextFreeHint returns the allocation hint or 0 if it is unknown.
func (info *FSInfo) nextFreeHint() uint32 {
	if info == nil || info.NextFree == fsInfoUnknown {
		return 0
	}
	return info.NextFree
}
