package piv

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
	calls  [][]byte
}

func (s *scriptedSender) Exchange(ctx context.Context, apdu []byte) (model.Command, model.Response, error) {
	s.calls = append(s.calls, append([]byte(nil), apdu...))
	raw, ok := s.script[codec.BytesToHex(apdu)]
	if !ok {
		return model.Command{}, model.Response{SW1: 0x6A, SW2: 0x82}, nil
	}
	return model.Command{}, model.Response{Data: raw[:len(raw)-2], SW1: raw[len(raw)-2], SW2: raw[len(raw)-1]}, nil
}

func TestGetChuidApduBytes(t *testing.T) {
	apdu := getDataApdu([]byte{0x5F, 0xC1, 0x02})
	want := []byte{0x00, 0xCB, 0x3F, 0xFF, 0x05, 0x5C, 0x03, 0x5F, 0xC1, 0x02, 0x00}
	if !bytes.Equal(apdu, want) {
		t.Fatalf("get-chuid apdu = % X, want % X", apdu, want)
	}
}

func TestExecuteGetChuid(t *testing.T) {
	sender := &scriptedSender{script: map[string][]byte{
		"00CB3FFF055C035FC10200": {0x53, 0x02, 0xAA, 0xBB, 0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	fields, err := h.Execute(ctx, "get-chuid", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fields["data"] != "5302AABB" {
		t.Errorf("data = %v, want 5302AABB", fields["data"])
	}
}

func TestVerifyPinPadding(t *testing.T) {
	apdu := verifyPinApdu("1234")
	want := []byte{0x00, 0x20, 0x00, 0x80, 0x08, '1', '2', '3', '4', 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(apdu, want) {
		t.Fatalf("verify-pin apdu = % X, want % X", apdu, want)
	}
}

func TestDetectSelect(t *testing.T) {
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
	if !result.Matched || result.Confidence != 90 {
		t.Fatalf("Detect = %+v", result)
	}
}

func TestInterrogateTolerantOfMissingObjects(t *testing.T) {
	aidBytes, _ := codec.HexToBytes(aid)
	sender := &scriptedSender{script: map[string][]byte{
		codec.BytesToHex(selectApdu(aidBytes)):              {0x90, 0x00},
		codec.BytesToHex(getDataApdu([]byte{0x5F, 0xC1, 0x02})): {0x53, 0x01, 0x01, 0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	result, err := h.Interrogate(ctx)
	if err != nil {
		t.Fatalf("Interrogate: %v", err)
	}
	if len(result.Fields) != 1 {
		t.Fatalf("expected 1 field read, got %d: %+v", len(result.Fields), result.Fields)
	}
}
