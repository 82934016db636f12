package codec

// NDEF TLV types, per NFC Forum Type 2/4 Tag Operation, used by the Health
// handler's NDEF-formatted data file fallback.
const (
	NdefTlvNull        = 0x00
	NdefTlvLockCtrl     = 0x01
	NdefTlvMemCtrl      = 0x02
	NdefTlvMessage      = 0x03
	NdefTlvProprietary  = 0xFD
	NdefTlvTerminator   = 0xFE
)

// EncodeNdefTlv wraps data in a single TLV record of the given type,
// followed by a terminator TLV. Length 0-254 uses the one-byte short form;
// 255 or more uses the 0xFF-prefixed two-byte long form.
func EncodeNdefTlv(data []byte, tlvType byte) []byte {
	var out []byte
	out = append(out, tlvType)
	if len(data) < 0xFF {
		out = append(out, byte(len(data)))
	} else {
		out = append(out, 0xFF, byte(len(data)>>8), byte(len(data)))
	}
	out = append(out, data...)
	out = append(out, NdefTlvTerminator)
	return out
}

// DecodeNdefTlv scans data for the first non-null TLV, skipping any
// leading null TLVs, and returns its value and type. It returns ok=false on
// a terminator with nothing found, or on a malformed/truncated record.
func DecodeNdefTlv(data []byte) (value []byte, tlvType byte, ok bool) {
	offset := 0
	for offset < len(data) {
		t := data[offset]
		if t == NdefTlvNull {
			offset++
			continue
		}
		if t == NdefTlvTerminator {
			return nil, NdefTlvTerminator, false
		}
		offset++
		if offset >= len(data) {
			return nil, 0, false
		}
		length := int(data[offset])
		valueStart := offset + 1
		if length == 0xFF {
			if offset+2 >= len(data) {
				return nil, 0, false
			}
			length = int(data[offset+1])<<8 | int(data[offset+2])
			valueStart = offset + 3
		}
		if valueStart+length > len(data) {
			return nil, 0, false
		}
		return data[valueStart : valueStart+length], t, true
	}
	return nil, 0, false
}

// FindNdefMessage locates the NDEF message TLV (type 0x03) in data, the
// common case used when reading an NDEF-formatted tag file straight through.
func FindNdefMessage(data []byte) ([]byte, bool) {
	offset := 0
	for offset < len(data) {
		value, t, ok := DecodeNdefTlv(data[offset:])
		if !ok {
			return nil, false
		}
		if t == NdefTlvMessage {
			return value, true
		}
		// advance past this record; recompute its total length to skip it
		_, recLen := ndefTlvRecordSpan(data[offset:])
		if recLen <= 0 {
			return nil, false
		}
		offset += recLen
	}
	return nil, false
}

// ndefTlvRecordSpan returns the header length (1 for null/terminator, else
// 2 or 4) and the total byte span of the TLV record starting at data[0].
func ndefTlvRecordSpan(data []byte) (headerLen, totalLen int) {
	if len(data) == 0 {
		return 0, 0
	}
	t := data[0]
	if t == NdefTlvNull || t == NdefTlvTerminator {
		return 1, 1
	}
	if len(data) < 2 {
		return 0, 0
	}
	if data[1] == 0xFF {
		if len(data) < 4 {
			return 0, 0
		}
		length := int(data[2])<<8 | int(data[3])
		return 4, 4 + length
	}
	length := int(data[1])
	return 2, 2 + length
}
