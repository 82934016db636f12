package codec

// AflEntry is one four-byte record group from the Application File Locator
// (tag 94): which SFI to READ RECORD against, the record range, and how
// many of those records participate in offline data authentication.
type AflEntry struct {
	SFI              byte
	FirstRecord      byte
	LastRecord       byte
	RecordsForOfflineAuth byte
}

// ParseAfl decodes the AFL value (a flat sequence of 4-byte groups) into its
// entries. A length that isn't a multiple of four is malformed AFL data, not
// a tolerable trailing fragment, so it yields an empty list rather than
// silently dropping the remainder.
func ParseAfl(data []byte) []AflEntry {
	if len(data)%4 != 0 {
		return nil
	}
	var entries []AflEntry
	for offset := 0; offset+4 <= len(data); offset += 4 {
		entries = append(entries, AflEntry{
			SFI:                   ExtractSfiFromAflByte(data[offset]),
			FirstRecord:           data[offset+1],
			LastRecord:            data[offset+2],
			RecordsForOfflineAuth: data[offset+3],
		})
	}
	return entries
}

// ExtractSfiFromAflByte extracts the SFI (1-30) from an AFL group's first
// byte, whose top 5 bits hold the SFI and bottom 3 bits are reserved (zero).
func ExtractSfiFromAflByte(b byte) byte {
	return b >> 3
}

// CalculateReadRecordP2 builds the P2 parameter for a READ RECORD command
// targeting the given SFI, per ISO 7816-4: (SFI << 3) | 0x04, where the
// 0x04 selects "record number in P1, this SFI".
func CalculateReadRecordP2(sfi byte) byte {
	return sfi<<3 | 0x04
}

// Records expands an AflEntry into the sequence of record numbers to read.
func (e AflEntry) Records() []byte {
	if e.LastRecord < e.FirstRecord {
		return nil
	}
	out := make([]byte, 0, int(e.LastRecord-e.FirstRecord)+1)
	for r := e.FirstRecord; r <= e.LastRecord; r++ {
		out = append(out, r)
		if r == 0xFF {
			break
		}
	}
	return out
}
