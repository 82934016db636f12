package eid

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

func TestInterrogateReportsProtectedFileWithoutError(t *testing.T) {
	belgianAid, _ := codec.HexToBytes(schemes[0].aid)
	sender := &scriptedSender{script: map[string][]byte{
		codec.BytesToHex(selectAidApdu(belgianAid)): {0x90, 0x00},
		// card-access select succeeds, read fails as protected.
		codec.BytesToHex(selectFileApdu(schemes[0].files[0].fid)): {0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	result, err := h.Interrogate(ctx)
	if err != nil {
		t.Fatalf("Interrogate returned an error, want a partial success result: %v", err)
	}
	if result.Fields["CardAccess"] != "security status not satisfied (no BAC/PACE attempted)" {
		t.Errorf("CardAccess = %q", result.Fields["CardAccess"])
	}
}

func TestDetectTriesSecondScheme(t *testing.T) {
	germanAid, _ := codec.HexToBytes(schemes[1].aid)
	sender := &scriptedSender{script: map[string][]byte{
		codec.BytesToHex(selectAidApdu(germanAid)): {0x90, 0x00},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	result, err := h.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !result.Matched || result.Metadata["scheme"] != schemes[1].name {
		t.Fatalf("Detect = %+v", result)
	}
}
