package govfat

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/aligator/govfat/checkpoint"
	"github.com/elliotwutingfeng/asciiset"
	"golang.org/x/text/encoding/charmap"
)

// DefaultAliasCeiling is the highest numeric tail tried for a generated short name alias.
const DefaultAliasCeiling = 999999

// validShortNameCharacters are the ASCII characters allowed in 8.3 names.
// Bytes from 0x80 upwards are allowed as well and interpreted as code page 437.
var validShortNameCharacters, _ = asciiset.MakeASCIISet("!#$%&'()-0123456789@ABCDEFGHIJKLMNOPQRSTUVWXYZ^_`{}~")

// invalidLongNameCharacters may not appear in long names either.
var invalidLongNameCharacters, _ = asciiset.MakeASCIISet("\"*/:<>?\\|\x7F")

// replacedCharacters are legal in long names but have to be replaced by '_' in an alias.
var replacedCharacters, _ = asciiset.MakeASCIISet("+,;=[]")

var oemCharmap = charmap.CodePage437

// oemByte converts an upper case rune into its short name byte.
func oemByte(r rune) (byte, bool) {
	if r < 0x80 {
		return byte(r), validShortNameCharacters.Contains(byte(r))
	}
	b, ok := oemCharmap.EncodeRune(r)
	return b, ok && b >= 0x80
}

// oemRune converts a short name byte back into a rune.
func oemRune(b byte) rune {
	if b < 0x80 {
		return rune(b)
	}
	return oemCharmap.DecodeByte(b)
}

// encodeShortPart converts one part of an 8.3 name. lower reports if all letters were lower case.
func encodeShortPart(part string, max int) (encoded []byte, lower bool, ok bool) {
	hasLower, hasUpper := false, false
	for _, r := range part {
		if unicode.IsLower(r) {
			hasLower = true
		} else if unicode.IsUpper(r) {
			hasUpper = true
		}

		b, valid := oemByte(unicode.ToUpper(r))
		if !valid {
			return nil, false, false
		}
		encoded = append(encoded, b)
	}

	if len(encoded) > max || (hasLower && hasUpper) {
		return nil, false, false
	}
	return encoded, hasLower, true
}

// EncodeShortName converts a name which is directly representable as 8.3 name into its padded
// 11 byte form. All lower case base names or extensions are recorded in the returned case byte.
// Mixed case names, names too long or names with characters outside of the legal set fail with
// ErrInvalidName and need a long name entry.
func EncodeShortName(name string) (raw [11]byte, ncase byte, err error) {
	switch name {
	case ".":
		return dotName, 0, nil
	case "..":
		return dotDotName, 0, nil
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
		if ext == "" {
			return raw, 0, checkpoint.Wrapf(ErrInvalidName, "%q ends with a dot", name)
		}
	}
	if base == "" {
		return raw, 0, checkpoint.Wrapf(ErrInvalidName, "%q has no base name", name)
	}

	encBase, lowerBase, ok := encodeShortPart(base, 8)
	if !ok {
		return raw, 0, checkpoint.Wrapf(ErrInvalidName, "%q is no valid 8.3 base name", base)
	}
	encExt, lowerExt, ok := encodeShortPart(ext, 3)
	if !ok {
		return raw, 0, checkpoint.Wrapf(ErrInvalidName, "%q is no valid 8.3 extension", ext)
	}

	raw = packShortName(encBase, encExt)
	if lowerBase {
		ncase |= caseLowerBase
	}
	if lowerExt {
		ncase |= caseLowerExt
	}
	return raw, ncase, nil
}

// packShortName pads base and extension with spaces.
func packShortName(base, ext []byte) [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[:8], base)
	copy(raw[8:], ext)
	if raw[0] == markerDeleted {
		raw[0] = markerKanji
	}
	return raw
}

// ShortNameString formats a raw 8.3 name as "NAME.EXT", applying the NT case flags.
func ShortNameString(raw [11]byte, ncase byte) string {
	if raw[0] == markerKanji {
		raw[0] = markerDeleted
	}

	decode := func(b []byte, lower bool) string {
		var s strings.Builder
		for _, c := range b {
			r := oemRune(c)
			if lower {
				r = unicode.ToLower(r)
			}
			s.WriteRune(r)
		}
		return strings.TrimRight(s.String(), " ")
	}

	name := decode(raw[:8], ncase&caseLowerBase != 0)
	ext := decode(raw[8:], ncase&caseLowerExt != 0)
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// labelString decodes an 11 byte volume label.
func labelString(raw [11]byte) string {
	var s strings.Builder
	for _, c := range raw {
		s.WriteRune(oemRune(c))
	}
	return strings.TrimRight(s.String(), " ")
}

// encodeLabel converts a volume label into its padded 11 byte form.
func encodeLabel(label string) ([11]byte, error) {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	i := 0
	for _, r := range label {
		if i >= len(raw) {
			return raw, checkpoint.Wrapf(ErrInvalidName, "label %q longer than 11 characters", label)
		}
		b, ok := oemByte(unicode.ToUpper(r))
		if !ok && r != ' ' {
			return raw, checkpoint.Wrapf(ErrInvalidName, "label %q contains the invalid character %q", label, r)
		}
		if r == ' ' {
			b = ' '
		}
		raw[i] = b
		i++
	}
	return raw, nil
}

// Checksum computes the 8 bit checksum of a raw short name which links long name entries to it.
func Checksum(raw [11]byte) byte {
	var sum byte
	for _, c := range raw {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}

// validateLongName checks name against the characters allowed in VFAT long names.
func validateLongName(name string) error {
	if name == "" || name == "." || name == ".." {
		return checkpoint.Wrapf(ErrInvalidName, "%q is reserved", name)
	}
	if strings.HasSuffix(name, " ") || strings.HasSuffix(name, ".") {
		return checkpoint.Wrapf(ErrInvalidName, "%q ends with a space or dot", name)
	}
	for _, r := range name {
		if r < 0x20 || (r < 0x80 && invalidLongNameCharacters.Contains(byte(r))) {
			return checkpoint.Wrapf(ErrInvalidName, "%q contains the invalid character %q", name, r)
		}
	}
	return nil
}

// aliasChars converts part of a long name into legal short name bytes. Spaces and dots are
// dropped, characters without 8.3 representation become '_'.
func aliasChars(s string, max int) []byte {
	var out []byte
	for _, r := range s {
		if len(out) >= max {
			break
		}
		if r == ' ' || r == '.' {
			continue
		}

		if r < 0x80 && replacedCharacters.Contains(byte(r)) {
			out = append(out, '_')
			continue
		}
		b, ok := oemByte(unicode.ToUpper(r))
		if !ok {
			b = '_'
		}
		out = append(out, b)
	}
	return out
}

// GenerateAlias builds a unique short name for a long name: the first 6 legal characters of the
// name, a '~' with a numeric tail and the first 3 legal characters after the last dot.
// The tail counts up from 1 until exists reports no collision. Past ceiling it fails with
// ErrNameSpaceExhausted.
func GenerateAlias(longName string, ceiling int, exists func(raw [11]byte) bool) ([11]byte, error) {
	trimmed := strings.TrimLeft(longName, ". ")
	stem, ext := trimmed, ""
	if i := strings.LastIndexByte(trimmed, '.'); i >= 0 {
		stem, ext = trimmed[:i], trimmed[i+1:]
	}

	base := aliasChars(stem, 6)
	if len(base) == 0 {
		base = []byte{'_'}
	}
	extension := aliasChars(ext, 3)

	for n := 1; n <= ceiling; n++ {
		tail := "~" + strconv.Itoa(n)
		keep := 8 - len(tail)
		if keep < 1 {
			break
		}
		if keep > len(base) {
			keep = len(base)
		}

		raw := packShortName(append(append([]byte{}, base[:keep]...), tail...), extension)
		if !exists(raw) {
			return raw, nil
		}
	}

	return [11]byte{}, checkpoint.Wrapf(ErrNameSpaceExhausted, "no alias for %q below ~%d", longName, ceiling)
}
