package codec

// CvmMethod is the cardholder verification method code, the low 6 bits of a
// CVM rule's first byte.
type CvmMethod byte

const (
	CvmFailCvm           CvmMethod = 0x00
	CvmPlaintextPin      CvmMethod = 0x01
	CvmEncipheredPinOnline CvmMethod = 0x02
	CvmPlaintextPinAndSig CvmMethod = 0x03
	CvmEncipheredPinOffline CvmMethod = 0x04
	CvmEncipheredPinOfflineAndSig CvmMethod = 0x05
	CvmSignature         CvmMethod = 0x1E
	CvmNoCvmRequired     CvmMethod = 0x1F
)

// CvmCondition is the condition code, the second byte of a CVM rule.
type CvmCondition byte

const (
	CondAlways                     CvmCondition = 0x00
	CondUnattendedCash             CvmCondition = 0x01
	CondNotUnattendedCashNotManualNotPurchaseWithCashback CvmCondition = 0x02
	CondTerminalSupported          CvmCondition = 0x03
	CondManualCash                 CvmCondition = 0x04
	CondPurchaseWithCashback       CvmCondition = 0x05
	CondUnderXValueCurrency        CvmCondition = 0x06
	CondOverXValueCurrency         CvmCondition = 0x07
	CondUnderYValueCurrency        CvmCondition = 0x08
	CondOverYValueCurrency         CvmCondition = 0x09
)

// CvmRule is one two-byte rule from the CVM list (tag 8E), after the
// leading 8-byte amount fields (X and Y) that apply to the whole list.
type CvmRule struct {
	Method            CvmMethod
	ApplyIfUnsuccessful bool // bit 6 of the first byte
	Condition         CvmCondition
}

// CvmList is the fully decoded tag-8E value: the two 4-byte amount fields
// (X = first amount, Y = second amount) and the ordered rule list, tried in
// order until one is found whose condition holds.
type CvmList struct {
	AmountX []byte
	AmountY []byte
	Rules   []CvmRule
}

// ParseCvmList decodes a CVM list value. Input shorter than 8 bytes (the
// two amount fields) yields an empty CvmList rather than an error, and any
// trailing odd single byte after full rule pairs is dropped.
func ParseCvmList(data []byte) CvmList {
	if len(data) < 8 {
		return CvmList{}
	}
	list := CvmList{
		AmountX: append([]byte(nil), data[0:4]...),
		AmountY: append([]byte(nil), data[4:8]...),
	}
	for offset := 8; offset+2 <= len(data); offset += 2 {
		first := data[offset]
		list.Rules = append(list.Rules, CvmRule{
			Method:              CvmMethod(first & 0x3F),
			ApplyIfUnsuccessful: first&0x40 != 0,
			Condition:           CvmCondition(data[offset+1]),
		})
	}
	return list
}

// EvaluateCvm walks the rule list in order and returns the first rule whose
// condition matches the given transaction condition, and whether one was
// found. "Fail CVM processing" rules (method 0x00) still match normally;
// the caller decides how to react to that method. condition is expected to
// already be resolved against terminal capability (unattended_cash,
// terminal_supports_cvm, manual_cash, cashback) for conditions this package
// has no way to derive on its own; for the four amount-threshold conditions
// (under/over X or Y), use EvaluateCvmForAmount instead so the comparison is
// made against the list's own AmountX/AmountY fields rather than a
// pre-guessed enum value.
func EvaluateCvm(list CvmList, condition CvmCondition) (CvmRule, bool) {
	for _, rule := range list.Rules {
		if rule.Condition == condition || rule.Condition == CondAlways {
			return rule, true
		}
	}
	return CvmRule{}, false
}

// amountBE decodes a big-endian unsigned value, as AmountX/AmountY are
// stored (plain binary, not BCD, unlike most other EMV amount fields).
func amountBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// EvaluateCvmForAmount walks the rule list in order, resolving each rule's
// amount-threshold condition (amount_under_x, amount_over_x, amount_under_y,
// amount_over_y) against amountMinor compared to the list's own AmountX/
// AmountY, and returns the first rule whose condition holds. Conditions this
// package cannot resolve without terminal context (unattended_cash,
// terminal_supports_cvm, manual_cash, cashback) never match here; use
// EvaluateCvm with a caller-resolved condition for those.
func EvaluateCvmForAmount(list CvmList, amountMinor uint64) (CvmRule, bool) {
	x := amountBE(list.AmountX)
	y := amountBE(list.AmountY)
	for _, rule := range list.Rules {
		switch rule.Condition {
		case CondAlways:
			return rule, true
		case CondUnderXValueCurrency:
			if amountMinor < x {
				return rule, true
			}
		case CondOverXValueCurrency:
			if amountMinor > x {
				return rule, true
			}
		case CondUnderYValueCurrency:
			if amountMinor < y {
				return rule, true
			}
		case CondOverYValueCurrency:
			if amountMinor > y {
				return rule, true
			}
		}
	}
	return CvmRule{}, false
}
