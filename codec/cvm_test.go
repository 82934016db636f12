package codec

import "testing"

func TestParseCvmListShortInputIsEmpty(t *testing.T) {
	list := ParseCvmList([]byte{0x00, 0x00, 0x00})
	if len(list.Rules) != 0 {
		t.Fatalf("expected no rules for short input, got %+v", list.Rules)
	}
}

func TestParseCvmListAndEvaluate(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x00, // amount X
		0x00, 0x00, 0x00, 0x00, // amount Y
		0x02, 0x03, // enciphered PIN online, if terminal supports it
		0x1E, 0x00, // signature, always
	}
	list := ParseCvmList(data)
	if len(list.Rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(list.Rules))
	}
	if list.Rules[0].Method != CvmEncipheredPinOnline {
		t.Errorf("rule 0 method = %#x", list.Rules[0].Method)
	}
	if list.Rules[0].Condition != CondTerminalSupported {
		t.Errorf("rule 0 condition = %#x", list.Rules[0].Condition)
	}

	rule, ok := EvaluateCvm(list, CondTerminalSupported)
	if !ok || rule.Method != CvmEncipheredPinOnline {
		t.Fatalf("EvaluateCvm returned %+v, ok=%v", rule, ok)
	}

	rule, ok = EvaluateCvm(list, CondManualCash)
	if !ok || rule.Method != CvmSignature {
		t.Fatalf("expected fallback to always-matching signature rule, got %+v ok=%v", rule, ok)
	}
}

func TestEvaluateCvmForAmount(t *testing.T) {
	// spec scenario: amount X = 100, amount Y = 0; rule 1 = no_cvm under X,
	// rule 2 = plaintext PIN ICC always.
	data := []byte{
		0x00, 0x00, 0x00, 0x64, // amount X = 100
		0x00, 0x00, 0x00, 0x00, // amount Y = 0
		0x1F, 0x06, // no_cvm, amount_under_x
		0x01, 0x00, // plaintext_pin_icc, always
	}
	list := ParseCvmList(data)

	rule, ok := EvaluateCvmForAmount(list, 50)
	if !ok || rule.Method != CvmNoCvmRequired {
		t.Fatalf("amount=50: got %+v ok=%v, want no_cvm", rule, ok)
	}

	rule, ok = EvaluateCvmForAmount(list, 150)
	if !ok || rule.Method != CvmPlaintextPin {
		t.Fatalf("amount=150: got %+v ok=%v, want plaintext_pin_icc", rule, ok)
	}
}

func TestCvmRuleApplyIfUnsuccessfulBit(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x42, 0x00, // bit 6 set (0x40) | method 0x02
	}
	list := ParseCvmList(data)
	if len(list.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(list.Rules))
	}
	if !list.Rules[0].ApplyIfUnsuccessful {
		t.Errorf("expected ApplyIfUnsuccessful set")
	}
	if list.Rules[0].Method != CvmEncipheredPinOnline {
		t.Errorf("method = %#x, want %#x", list.Rules[0].Method, CvmEncipheredPinOnline)
	}
}
