package health

import (
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

func TestReadPublicDataUnwrapsNdef(t *testing.T) {
	ndef := codec.EncodeNdefTlv([]byte("INSURANCE DATA"), codec.NdefTlvMessage)
	aidBytes, _ := codec.HexToBytes(aid)
	sender := &scriptedSender{script: map[string][]byte{
		codec.BytesToHex(selectAidApdu(aidBytes)):       {0x90, 0x00},
		codec.BytesToHex(selectFileApdu(fidPublicData)): {0x90, 0x00},
		codec.BytesToHex(readBinaryApdu(0xFF)):          append(ndef, 0x90, 0x00),
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	result, err := h.Interrogate(ctx)
	if err != nil {
		t.Fatalf("Interrogate: %v", err)
	}
	if result.Fields["ndef_message"] != codec.BytesToHex([]byte("INSURANCE DATA")) {
		t.Errorf("ndef_message = %q", result.Fields["ndef_message"])
	}
}

func TestDetect(t *testing.T) {
	aidBytes, _ := codec.HexToBytes(aid)
	sender := &scriptedSender{script: map[string][]byte{
		codec.BytesToHex(selectAidApdu(aidBytes)): {0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	result, err := h.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !result.Matched {
		t.Fatal("expected match")
	}
}
