package codec

import (
	"fmt"

	"github.com/tomkp/card-spy-core/model"
)

// Atr is the decoded form of a card's Answer To Reset.
type Atr struct {
	Raw             []byte
	TS              byte // 0x3B direct convention, 0x3F inverse convention
	T0              byte
	HistoricalBytes []byte
	ProtocolsFound  []string // e.g. "T=0", "T=1", as found in the TD chain
	TCK             byte
	HasTCK          bool
}

// ParseAtr decodes an ATR byte sequence. It is tolerant: if the interface
// byte chain runs past the end of the buffer, parsing stops there and the
// fields decoded so far are returned; HistoricalBytes stays empty, since the
// historical bytes follow the interface bytes.
func ParseAtr(data []byte) Atr {
	atr := Atr{Raw: append([]byte(nil), data...)}
	if len(data) == 0 {
		return atr
	}
	atr.TS = data[0]
	if len(data) < 2 {
		return atr
	}
	atr.T0 = data[1]
	numHistorical := int(atr.T0 & 0x0F)

	offset := 2
	y := atr.T0 & 0xF0
	protoSeen := make(map[string]bool)
	td1Present := false

	for y != 0 {
		var ta, tb, tc, td byte
		haveTA := y&0x10 != 0
		haveTB := y&0x20 != 0
		haveTC := y&0x40 != 0
		haveTD := y&0x80 != 0

		if haveTA {
			if offset >= len(data) {
				return atr
			}
			ta = data[offset]
			offset++
		}
		if haveTB {
			if offset >= len(data) {
				return atr
			}
			tb = data[offset]
			offset++
		}
		if haveTC {
			if offset >= len(data) {
				return atr
			}
			tc = data[offset]
			offset++
		}
		_ = ta
		_ = tb
		_ = tc

		if haveTD {
			if offset >= len(data) {
				return atr
			}
			td = data[offset]
			offset++
			y = td & 0xF0
			protocol := protocolName(td & 0x0F)
			if !protoSeen[protocol] {
				protoSeen[protocol] = true
				atr.ProtocolsFound = append(atr.ProtocolsFound, protocol)
			}
			td1Present = true
		} else {
			y = 0
		}
	}

	if !td1Present {
		// No TD1 at all: card is implicitly T=0 only.
		atr.ProtocolsFound = []string{"T=0"}
	}

	remaining := len(data) - offset
	if remaining < numHistorical {
		numHistorical = remaining
	}
	if numHistorical > 0 {
		atr.HistoricalBytes = append([]byte(nil), data[offset:offset+numHistorical]...)
		offset += numHistorical
	}

	// TCK (checksum) is present whenever any protocol other than plain T=0
	// was negotiated, and is the final byte if present.
	needsTCK := len(atr.ProtocolsFound) > 1 || (len(atr.ProtocolsFound) == 1 && atr.ProtocolsFound[0] != "T=0")
	if needsTCK && offset < len(data) {
		atr.TCK = data[offset]
		atr.HasTCK = true
	}

	return atr
}

// Summary returns a short human-readable description of the ATR: its
// convention, protocol set, and historical byte count, for display
// alongside the raw hex.
func (a Atr) Summary() string {
	convention := "unknown convention"
	switch a.TS {
	case 0x3B:
		convention = "direct convention"
	case 0x3F:
		convention = "inverse convention"
	}
	protocols := "no protocol negotiated"
	if len(a.ProtocolsFound) > 0 {
		protocols = a.ProtocolsFound[0]
		for _, p := range a.ProtocolsFound[1:] {
			protocols += "/" + p
		}
	}
	return fmt.Sprintf("%s, %s, %d historical byte(s)", convention, protocols, len(a.HistoricalBytes))
}

// Protocol returns the ATR's primary negotiated protocol as a model.Protocol
// value, for population onto model.Card.
func (a Atr) Protocol() model.Protocol {
	if len(a.ProtocolsFound) == 0 {
		return model.ProtocolUnknown
	}
	switch a.ProtocolsFound[0] {
	case "T=0":
		return model.ProtocolT0
	case "T=1":
		return model.ProtocolT1
	default:
		return model.ProtocolUnknown
	}
}

func protocolName(t byte) string {
	switch t {
	case 0:
		return "T=0"
	case 1:
		return "T=1"
	default:
		return "T=" + string(rune('0'+t))
	}
}
