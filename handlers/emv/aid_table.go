package emv

// knownAid is one entry in the well-known EMV application identifier
// table used to decorate discovered applications with a human-readable
// scheme name, independent of whatever label the card itself supplies.
type knownAid struct {
	prefix string
	name   string
}

// knownAids covers the major international payment schemes' registered
// application identifiers. AID matching is by prefix since card-specific
// suffixes (product variant, region) follow the scheme root.
var knownAids = []knownAid{
	{"A0000000031010", "Visa Credit/Debit"},
	{"A0000000032010", "Visa Electron"},
	{"A0000000033010", "Visa Interlink"},
	{"A0000000038010", "Visa Plus"},
	{"A0000000041010", "Mastercard Credit/Debit"},
	{"A0000000042010", "Mastercard Specific"},
	{"A0000000043060", "Maestro"},
	{"A0000000046000", "Cirrus"},
	{"A00000002501", "American Express"},
	{"A0000000651010", "JCB"},
	{"A0000001523010", "Discover"},
	{"A0000001524010", "Discover Zip"},
	{"A0000002771010", "Interac"},
	{"A0000003241010", "China UnionPay Debit/Credit"},
	{"A0000003330101", "UnionPay Quasi-credit"},
	{"A00000033301", "China UnionPay"},
	{"A0000005241010", "RuPay"},
	{"A0000006723010", "Bankaxept"},
	{"A0000000651010", "JCB Credit/Debit"},
	{"A0000003591010028001", "Verve"},
	{"A0000004540010", "GIM-UEMOA"},
	{"A0000004540011", "GIM-UEMOA Prepaid"},
	{"A0000001410001", "PayPak"},
	{"A0000003156020", "Girocard"},
	{"A0000000249990", "ZKA Electronic Cash"},
}

// LookupAid returns the human-readable scheme name for aid (hex, no
// separators), matching the longest registered prefix, or "" if none
// matches.
func LookupAid(aid string) string {
	best := ""
	bestLen := 0
	for _, k := range knownAids {
		if len(k.prefix) > len(aid) {
			continue
		}
		if aid[:len(k.prefix)] == k.prefix && len(k.prefix) > bestLen {
			best = k.name
			bestLen = len(k.prefix)
		}
	}
	return best
}
