package govfat

import (
	"strings"
	"time"

	"github.com/aligator/govfat/checkpoint"
)

// Attr is the attribute bitset of a directory entry.
type Attr byte

const (
	AttrReadOnly  Attr = 0x01
	AttrHidden    Attr = 0x02
	AttrSystem    Attr = 0x04
	AttrVolumeID  Attr = 0x08
	AttrDirectory Attr = 0x10
	AttrArchive   Attr = 0x20
	AttrLongName       = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID

	// attrMutable are the attributes SetAttributes may change.
	attrMutable = AttrReadOnly | AttrHidden | AttrSystem | AttrArchive
)

func (a Attr) String() string {
	flags := []struct {
		attr Attr
		char byte
	}{
		{AttrReadOnly, 'R'},
		{AttrHidden, 'H'},
		{AttrSystem, 'S'},
		{AttrVolumeID, 'V'},
		{AttrDirectory, 'D'},
		{AttrArchive, 'A'},
	}

	var b strings.Builder
	for _, f := range flags {
		if a&f.attr != 0 {
			b.WriteByte(f.char)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Markers in the first name byte.
const (
	markerEnd     = 0x00
	markerDeleted = 0xE5
	// markerKanji stands for a real 0xE5 as first character.
	markerKanji = 0x05
)

// NT case information flags for names which are entirely lower case.
const (
	caseLowerBase = 0x08
	caseLowerExt  = 0x10
)

var (
	dotName    = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dotDotName = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

// decodeHeader unpacks one 32 byte short entry.
func decodeHeader(b []byte) (EntryHeader, error) {
	h := EntryHeader{}
	if len(b) < entrySize {
		return h, checkpoint.Wrapf(ErrFormat, "directory entry too short: %d bytes", len(b))
	}
	if err := unpack(b[:entrySize], &h); err != nil {
		return h, checkpoint.From(err)
	}
	return h, nil
}

// encode packs the entry into its 32 byte on-disk form.
func (h EntryHeader) encode() ([]byte, error) {
	b, err := pack(&h)
	if err != nil {
		return nil, checkpoint.From(err)
	}
	return b, nil
}

// FirstCluster returns the start cluster. The high word only exists on FAT32.
func (h EntryHeader) FirstCluster(kind FATType) uint32 {
	if kind == FAT32 {
		return uint32(h.FirstClusterHI)<<16 | uint32(h.FirstClusterLO)
	}
	return uint32(h.FirstClusterLO)
}

// SetFirstCluster stores the start cluster, 0 meaning no cluster.
func (h *EntryHeader) SetFirstCluster(kind FATType, cluster uint32) {
	h.FirstClusterLO = uint16(cluster)
	if kind == FAT32 {
		h.FirstClusterHI = uint16(cluster >> 16)
	}
}

// isEndSlot reports whether the raw slot marks the end of the directory.
func isEndSlot(raw []byte) bool {
	return raw[0] == markerEnd
}

func isDeletedSlot(raw []byte) bool {
	return raw[0] == markerDeleted
}

// isLongNameSlot reports whether the raw slot holds a part of a long name.
func isLongNameSlot(raw []byte) bool {
	return Attr(raw[11])&0x3F == AttrLongName
}

func (h EntryHeader) isDot() bool {
	return h.Name == dotName || h.Name == dotDotName
}

// setCreated stores the creation timestamp including the 10 ms refinement.
func (h *EntryHeader) setCreated(t time.Time) {
	h.CreateDate = EncodeDate(t)
	h.CreateTime, h.CreateTimeTenth = EncodeTime(t)
}

func (h *EntryHeader) setModified(t time.Time) {
	h.WriteDate = EncodeDate(t)
	h.WriteTime, _ = EncodeTime(t)
}

func (h *EntryHeader) setAccessed(t time.Time) {
	h.LastAccessDate = EncodeDate(t)
}

// newHeader creates a short entry stamped with t for all timestamps.
func newHeader(name [11]byte, ncase byte, attr Attr, t time.Time) EntryHeader {
	h := EntryHeader{
		Name:       name,
		Attribute:  byte(attr),
		NTReserved: ncase,
	}
	h.setCreated(t)
	h.setModified(t)
	h.setAccessed(t)
	return h
}
