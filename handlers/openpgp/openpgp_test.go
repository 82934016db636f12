package openpgp

import (
	"bytes"
	"context"
	"testing"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

type scriptedSender struct {
	script map[string][]byte
}

func (s *scriptedSender) Exchange(ctx context.Context, apdu []byte) (model.Command, model.Response, error) {
	raw, ok := s.script[codec.BytesToHex(apdu)]
	if !ok {
		return model.Command{}, model.Response{SW1: 0x6A, SW2: 0x82}, nil
	}
	return model.Command{}, model.Response{Data: raw[:len(raw)-2], SW1: raw[len(raw)-2], SW2: raw[len(raw)-1]}, nil
}

func TestGetDataTagSplit(t *testing.T) {
	apdu1 := getDataApdu(0x4F)
	want1 := []byte{0x00, 0xCA, 0x00, 0x4F, 0x00}
	if !bytes.Equal(apdu1, want1) {
		t.Fatalf("1-byte tag apdu = % X, want % X", apdu1, want1)
	}
	apdu2 := getDataApdu(0x5F50)
	want2 := []byte{0x00, 0xCA, 0x5F, 0x50, 0x00}
	if !bytes.Equal(apdu2, want2) {
		t.Fatalf("2-byte tag apdu = % X, want % X", apdu2, want2)
	}
}

func TestVerifyPw1SignCorrect(t *testing.T) {
	sender := &scriptedSender{script: map[string][]byte{
		"0020008104" + "31323334": {0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	fields, err := h.Execute(ctx, "verify-pw1-sign", map[string]any{"pin": "1234"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fields["sw1"] != byte(0x90) {
		t.Fatalf("fields = %+v", fields)
	}
}

func TestDetect(t *testing.T) {
	aidBytes, _ := codec.HexToBytes(aid)
	sender := &scriptedSender{script: map[string][]byte{
		codec.BytesToHex(selectApdu(aidBytes)): {0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	result, err := h.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !result.Matched || result.Confidence != 95 {
		t.Fatalf("Detect = %+v", result)
	}
}
