package codec

// DolEntry is one (tag, length) pair from a parsed Data Object List.
type DolEntry struct {
	Tag    uint32
	Length int
}

// ParseDol decodes a DOL (PDOL/CDOL/DDOL) byte string into its ordered list
// of (tag, length) entries. DOLs reuse BER-TLV tag encoding but carry only a
// length byte/bytes after each tag, no value — the length here is a BER
// length, short form (0-127) or long form, per EMV book 3 annex B.
func ParseDol(data []byte) ([]DolEntry, error) {
	var entries []DolEntry
	offset := 0
	for offset < len(data) {
		tag, next, ok := readTag(data, offset)
		if !ok {
			return nil, newCodecErr(ErrInvalidDol, "ParseDol", "truncated tag in DOL")
		}
		offset = next
		if offset >= len(data) {
			return nil, newCodecErr(ErrInvalidDol, "ParseDol", "missing length byte in DOL")
		}
		length, ok, next := parseLength(data, offset)
		if !ok {
			return nil, newCodecErr(ErrInvalidDol, "ParseDol", "invalid length in DOL")
		}
		offset = next
		entries = append(entries, DolEntry{Tag: tag, Length: length})
	}
	return entries, nil
}

// readTag reads a single BER tag starting at offset, returning the tag value
// and the offset immediately following it.
func readTag(data []byte, offset int) (tag uint32, next int, ok bool) {
	if offset >= len(data) {
		return 0, offset, false
	}
	first := data[offset]
	tag = uint32(first)
	offset++
	if first&0x1F == 0x1F {
		for offset < len(data) {
			b := data[offset]
			tag = tag<<8 | uint32(b)
			offset++
			if b&0x80 == 0 {
				break
			}
		}
	}
	return tag, offset, true
}

// BuildDol concatenates, per entry, the provided value for that tag (looked
// up via values) right-truncated or left-zero-padded to the entry's declared
// length, per EMV book 3's DOL value-fitting rule. Missing tags are filled
// with zero bytes, matching terminals that supply defaults for unrequested
// PDOL/CDOL data. The result's total length always equals the sum of the DOL
// entries' declared lengths.
func BuildDol(entries []DolEntry, values map[uint32][]byte) []byte {
	var out []byte
	for _, e := range entries {
		v := values[e.Tag]
		out = append(out, fitLength(v, e.Length)...)
	}
	return out
}

// fitLength returns v right-truncated (excess trailing bytes dropped) or
// left-zero-padded (value kept flush against the end of the field) to
// exactly length bytes.
func fitLength(v []byte, length int) []byte {
	out := make([]byte, length)
	n := len(v)
	if n > length {
		n = length
		v = v[:n]
	}
	copy(out[length-n:], v)
	return out
}
