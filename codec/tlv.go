package codec

import "github.com/tomkp/card-spy-core/model"

// ParseTlv parses a byte sequence into an ordered list of TlvNodes following
// BER-TLV tag/length rules (ISO 7816-4 / EMV book 3 annex B):
//
//   - Tag: if the low five bits of the first byte are all set (0x1F), one or
//     more continuation bytes follow until a byte with bit 7 clear.
//     Otherwise the tag is exactly one byte.
//   - Constructed iff bit 6 of the first tag byte is set.
//   - Length: short form (bit 7 clear, 0-127) or long form (bit 7 set, low
//     bits give the count of following length octets, big-endian).
//   - A length that overruns the remaining buffer is truncated to the
//     buffer end and the node is still returned (tolerant parse) rather than
//     failing, matching real cards returning slightly malformed data.
//   - Constructed nodes' children are parsed recursively from the value.
//
// Empty input returns an empty, non-nil slice.
func ParseTlv(data []byte) []model.TlvNode {
	nodes := make([]model.TlvNode, 0)
	offset := 0
	for offset < len(data) {
		node, next, ok := parseOneTlv(data, offset)
		if !ok {
			break
		}
		nodes = append(nodes, node)
		offset = next
	}
	return nodes
}

func parseOneTlv(data []byte, offset int) (model.TlvNode, int, bool) {
	start := offset
	if offset >= len(data) {
		return model.TlvNode{}, offset, false
	}

	first := data[offset]
	constructed := first&0x20 != 0
	tag := uint32(first)
	offset++

	if first&0x1F == 0x1F {
		// Multi-byte tag: continue while bit 7 is set.
		for offset < len(data) {
			b := data[offset]
			tag = tag<<8 | uint32(b)
			offset++
			if b&0x80 == 0 {
				break
			}
		}
	}

	if offset >= len(data) {
		// Truncated before length byte; nothing usable to return.
		return model.TlvNode{}, offset, false
	}

	length, lenOk, next := parseLength(data, offset)
	if !lenOk {
		return model.TlvNode{}, offset, false
	}
	offset = next

	valueEnd := offset + length
	truncated := valueEnd > len(data)
	if truncated {
		valueEnd = len(data)
	}
	value := append([]byte(nil), data[offset:valueEnd]...)

	node := model.TlvNode{
		Tag:           tag,
		TagHex:        BytesToHex(tagBytes(tag)),
		Length:        length,
		IsConstructed: constructed,
		Description:   LookupTag(tag),
	}

	if constructed {
		node.Children = ParseTlv(value)
		node.Value = nil
	} else {
		node.Value = value
	}

	_ = start
	return node, valueEnd, true
}

// parseLength decodes a BER length field starting at offset, returning the
// decoded length, whether it was well-formed, and the offset of the value
// that follows.
func parseLength(data []byte, offset int) (length int, ok bool, next int) {
	first := data[offset]
	offset++
	if first&0x80 == 0 {
		return int(first), true, offset
	}
	numBytes := int(first & 0x7F)
	if numBytes == 0 {
		// Indefinite length (BER, not typically seen on cards); decoded as
		// length 0 (an empty value), so the rest of the buffer is parsed as
		// the following nodes.
		return 0, true, offset
	}
	if offset+numBytes > len(data) {
		// Not enough bytes to hold the declared length field itself; tolerant
		// parse returns what we can: clamp to the remaining buffer.
		numBytes = len(data) - offset
		if numBytes < 0 {
			return 0, false, offset
		}
	}
	length = 0
	for i := 0; i < numBytes; i++ {
		length = length<<8 | int(data[offset+i])
	}
	offset += numBytes
	return length, true, offset
}

func tagBytes(tag uint32) []byte {
	switch {
	case tag <= 0xFF:
		return []byte{byte(tag)}
	case tag <= 0xFFFF:
		return []byte{byte(tag >> 8), byte(tag)}
	case tag <= 0xFFFFFF:
		return []byte{byte(tag >> 16), byte(tag >> 8), byte(tag)}
	default:
		return []byte{byte(tag >> 24), byte(tag >> 16), byte(tag >> 8), byte(tag)}
	}
}

// EmitTlv serializes a node tree back to BER-TLV bytes. For valid BER-TLV
// input B with minimally encoded lengths, EmitTlv(ParseTlv(B)) == B
// (round-trip invariant). Lengths are always written in minimal form, so an
// input that uses a longer-than-necessary length encoding does not round-trip
// byte for byte.
func EmitTlv(nodes []model.TlvNode) []byte {
	var out []byte
	for _, n := range nodes {
		out = append(out, emitOneTlv(n)...)
	}
	return out
}

func emitOneTlv(n model.TlvNode) []byte {
	var value []byte
	if n.IsConstructed {
		value = EmitTlv(n.Children)
	} else {
		value = n.Value
	}

	out := append([]byte{}, tagBytes(n.Tag)...)
	out = append(out, emitLength(len(value))...)
	out = append(out, value...)
	return out
}

func emitLength(length int) []byte {
	if length < 0x80 {
		return []byte{byte(length)}
	}
	var lb []byte
	n := length
	for n > 0 {
		lb = append([]byte{byte(n & 0xFF)}, lb...)
		n >>= 8
	}
	return append([]byte{0x80 | byte(len(lb))}, lb...)
}

// Find returns the first node (depth-first, document order) matching tag.
func Find(nodes []model.TlvNode, tag uint32) (model.TlvNode, bool) {
	for _, n := range nodes {
		if n.Tag == tag {
			return n, true
		}
		if n.IsConstructed {
			if found, ok := Find(n.Children, tag); ok {
				return found, true
			}
		}
	}
	return model.TlvNode{}, false
}

// FindAll returns every node (depth-first, document order) matching tag.
func FindAll(nodes []model.TlvNode, tag uint32) []model.TlvNode {
	var out []model.TlvNode
	for _, n := range nodes {
		if n.Tag == tag {
			out = append(out, n)
		}
		if n.IsConstructed {
			out = append(out, FindAll(n.Children, tag)...)
		}
	}
	return out
}
