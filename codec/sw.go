package codec

import "fmt"

// swExact holds status words whose full two-byte value has a single fixed
// meaning.
var swExact = map[uint16]string{
	0x9000: "Success",
	0x6283: "Selected file invalidated",
	0x6300: "Authentication failed",
	0x6400: "Execution error",
	0x6581: "Memory failure",
	0x6700: "Wrong length",
	0x6882: "Secure messaging not supported",
	0x6982: "Security status not satisfied",
	0x6983: "Authentication method blocked",
	0x6984: "Referenced data invalidated",
	0x6985: "Conditions of use not satisfied",
	0x6986: "Command not allowed (no current EF)",
	0x6987: "Expected secure messaging data objects missing",
	0x6988: "Incorrect secure messaging data objects",
	0x6A80: "Incorrect parameters in data field",
	0x6A81: "Function not supported",
	0x6A82: "File not found",
	0x6A83: "Record not found",
	0x6A84: "Not enough memory space in the file",
	0x6A86: "Incorrect parameters P1-P2",
	0x6A87: "Lc inconsistent with P1-P2",
	0x6A88: "Referenced data not found",
	0x6B00: "Wrong parameters P1-P2",
	0x6D00: "Instruction code not supported or invalid",
	0x6E00: "Class not supported",
	0x6F00: "No precise diagnosis",
}

// IsSwSuccess reports whether sw1 is 0x90 (success) or 0x61 (more data
// available via GET RESPONSE).
func IsSwSuccess(sw1 byte) bool {
	return sw1 == 0x90 || sw1 == 0x61
}

// DescribeSw returns a human-readable description of a status word. It
// checks the exact two-byte table first, then the families with a
// meaningful SW2 (61xx, 63Cx, 6Cxx, 9Fxx), falling back to "Unknown status
// word" for anything unrecognized.
func DescribeSw(sw1, sw2 byte) string {
	sw := uint16(sw1)<<8 | uint16(sw2)
	if desc, ok := swExact[sw]; ok {
		return desc
	}
	switch sw1 {
	case 0x61:
		return fmt.Sprintf("Success, %d bytes of response data remain available", sw2)
	case 0x63:
		if sw2&0xF0 == 0xC0 {
			return fmt.Sprintf("Authentication failed, %d tries remaining", sw2&0x0F)
		}
	case 0x6C:
		return fmt.Sprintf("Wrong length, exact length is %d", sw2)
	case 0x9F:
		return fmt.Sprintf("Success, %d bytes of response data available", sw2)
	}
	return "Unknown status word"
}
