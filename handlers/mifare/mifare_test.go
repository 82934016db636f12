package mifare

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

func TestIsValueBlock(t *testing.T) {
	value := []byte{0x01, 0x00, 0x00, 0x00, 0xFE, 0xFF, 0xFF, 0xFF, 0x01, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x00, 0xFF}
	if !IsValueBlock(value) {
		t.Fatal("expected recognized value block")
	}
	notValue := make([]byte, 16)
	if IsValueBlock(notValue) {
		t.Fatal("zero block should not be a value block (0 != ^0 per byte)")
	}
}

func TestBlockForSectorOffsetHighRegion(t *testing.T) {
	if got := BlockForSectorOffset(32, 0); got != 128 {
		t.Errorf("BlockForSectorOffset(32,0) = %d, want 128", got)
	}
	if got := BlockForSectorOffset(0, 3); got != 3 {
		t.Errorf("BlockForSectorOffset(0,3) = %d, want 3", got)
	}
}

func TestReadBinaryApduShape(t *testing.T) {
	apdu := readBinaryApdu(4)
	want := []byte{0xFF, 0xB0, 0x00, 0x04, 0x10}
	if !bytes.Equal(apdu, want) {
		t.Fatalf("read-block apdu = % X, want % X", apdu, want)
	}
}

func TestDetectRequiresPlausibleUidLength(t *testing.T) {
	sender := &scriptedSender{script: map[string][]byte{
		codec.BytesToHex(getUidApdu()): {0x01, 0x02, 0x03, 0x04, 0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	result, err := h.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !result.Matched {
		t.Fatal("expected match for 4-byte UID")
	}
}
