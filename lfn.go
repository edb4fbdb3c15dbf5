package govfat

import (
	"encoding/binary"

	"github.com/aligator/govfat/checkpoint"
	"golang.org/x/text/encoding/unicode"
)

const (
	lfnCharsPerEntry = 13
	lfnMaxUnits      = 255
	lfnLastFlag      = 0x40
	lfnOrdinalMask   = 0x1F
	lfnPadding       = 0xFFFF
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// LongName is the result of reading a long name: either a confirmed name or absent.
// A damaged long name never becomes an error, the short name is always usable instead.
type LongName struct {
	name    string
	present bool
}

// Get returns the long name and whether it is present.
func (l LongName) Get() (string, bool) {
	return l.name, l.present
}

// Present reports whether a valid long name exists.
func (l LongName) Present() bool {
	return l.present
}

func (l LongName) String() string {
	return l.name
}

func toUTF16(name string) ([]uint16, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrInvalidName)
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return units, nil
}

func fromUTF16(units []uint16) (string, error) {
	b := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", checkpoint.From(err)
	}
	return string(s), nil
}

// AssembleLongName builds the long name entries for name which belong to the short name shortRaw.
// The entries are returned in on-disk order: descending sequence numbers, the first one carrying
// the last-entry flag, directly followed by the short entry.
func AssembleLongName(name string, shortRaw [11]byte) ([]LongFilenameEntry, error) {
	units, err := toUTF16(name)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 || len(units) > lfnMaxUnits {
		return nil, checkpoint.Wrapf(ErrInvalidName, "long name must have 1 to %d UTF-16 units, got %d", lfnMaxUnits, len(units))
	}

	count := (len(units) + lfnCharsPerEntry - 1) / lfnCharsPerEntry
	padded := make([]uint16, count*lfnCharsPerEntry)
	copy(padded, units)
	// A name which does not fill the last entry is terminated by 0x0000 and padded with 0xFFFF.
	for i := len(units); i < len(padded); i++ {
		if i == len(units) {
			padded[i] = 0
		} else {
			padded[i] = lfnPadding
		}
	}

	sum := Checksum(shortRaw)
	entries := make([]LongFilenameEntry, count)
	for i := range entries {
		ordinal := count - i
		chunk := padded[(ordinal-1)*lfnCharsPerEntry : ordinal*lfnCharsPerEntry]

		e := LongFilenameEntry{
			Sequence:  byte(ordinal),
			Attribute: byte(AttrLongName),
			Checksum:  sum,
		}
		if i == 0 {
			e.Sequence |= lfnLastFlag
		}
		copy(e.First[:], chunk[0:5])
		copy(e.Second[:], chunk[5:11])
		copy(e.Third[:], chunk[11:13])
		entries[i] = e
	}
	return entries, nil
}

// DisassembleLongName reconstructs the long name from entries in on-disk order which directly
// precede the short entry shortRaw. The run has to start with the last-entry flag, count down to 1
// without gaps and carry the checksum of shortRaw in every entry. Otherwise the result is absent.
func DisassembleLongName(entries []LongFilenameEntry, shortRaw [11]byte) LongName {
	if len(entries) == 0 || entries[0].Sequence&lfnLastFlag == 0 {
		return LongName{}
	}
	if int(entries[0].Sequence&lfnOrdinalMask) != len(entries) {
		return LongName{}
	}

	sum := Checksum(shortRaw)
	units := make([]uint16, 0, len(entries)*lfnCharsPerEntry)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		ordinal := len(entries) - i
		if int(e.Sequence&lfnOrdinalMask) != ordinal ||
			e.Checksum != sum ||
			Attr(e.Attribute)&0x3F != AttrLongName ||
			e.EntryType != 0 {
			return LongName{}
		}
		units = append(units, e.First[:]...)
		units = append(units, e.Second[:]...)
		units = append(units, e.Third[:]...)
	}

	end := len(units)
	for i, u := range units {
		if u == 0 {
			end = i
			break
		}
	}
	for end > 0 && units[end-1] == lfnPadding {
		end--
	}
	if end == 0 {
		return LongName{}
	}

	name, err := fromUTF16(units[:end])
	if err != nil {
		return LongName{}
	}
	return LongName{name: name, present: true}
}

// decodeLongEntry unpacks one 32 byte long name entry.
func decodeLongEntry(b []byte) (LongFilenameEntry, error) {
	e := LongFilenameEntry{}
	if err := unpack(b[:entrySize], &e); err != nil {
		return e, checkpoint.From(err)
	}
	return e, nil
}

// lfnRun accumulates the long name entries seen while scanning a directory until the short entry
// they belong to is reached.
type lfnRun struct {
	entries []LongFilenameEntry
	start   int64
}

// add appends a long name entry found at offset off. A last-entry flag starts a new run.
// An entry which does not continue the run breaks it; the broken run is kept so that the checksum
// and ordinal validation discards it.
func (r *lfnRun) add(e LongFilenameEntry, off int64) {
	if e.Sequence&lfnLastFlag != 0 {
		r.entries = append(r.entries[:0], e)
		r.start = off
		return
	}
	if len(r.entries) == 0 {
		// A continuation without a beginning is just ignored.
		return
	}
	r.entries = append(r.entries, e)
}

// reset forgets the current run, e.g. when a deleted entry interrupts it.
func (r *lfnRun) reset() {
	r.entries = r.entries[:0]
}

// finish validates the run against the short entry at offset off and returns the long name and
// the offset of the first slot belonging to the entry.
func (r *lfnRun) finish(shortRaw [11]byte, off int64) (LongName, int64) {
	defer r.reset()

	// The run has to end directly in front of the short entry.
	if len(r.entries) == 0 || r.start+int64(len(r.entries))*entrySize != off {
		return LongName{}, off
	}

	name := DisassembleLongName(r.entries, shortRaw)
	if !name.Present() {
		return name, off
	}
	return name, r.start
}
