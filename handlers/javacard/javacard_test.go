package javacard

import (
	"context"
	"testing"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

// sequencedSender returns successive responses from a queue keyed by APDU
// hex, allowing the same APDU (GET STATUS "more" request) to return a
// different response on each call.
type sequencedSender struct {
	queues map[string][]model.Response
}

func (s *sequencedSender) Exchange(ctx context.Context, apdu []byte) (model.Command, model.Response, error) {
	key := codec.BytesToHex(apdu)
	q := s.queues[key]
	if len(q) == 0 {
		return model.Command{}, model.Response{SW1: 0x6A, SW2: 0x82}, nil
	}
	resp := q[0]
	s.queues[key] = q[1:]
	return model.Command{}, resp, nil
}

func TestDetect(t *testing.T) {
	aidBytes, _ := codec.HexToBytes(isd)
	sender := &sequencedSender{queues: map[string][]model.Response{
		codec.BytesToHex(selectApdu(aidBytes)): {{SW1: 0x90, SW2: 0x00}},
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

func TestGetStatusAllFollowsChaining(t *testing.T) {
	first := getStatusApdu(p1Applications, false)
	next := getStatusApdu(p1Applications, true)
	sender := &sequencedSender{queues: map[string][]model.Response{
		codec.BytesToHex(first): {{Data: []byte{0x01}, SW1: 0x63, SW2: 0x10}},
		codec.BytesToHex(next):  {{Data: []byte{0x02}, SW1: 0x90, SW2: 0x00}},
	}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	out, err := h.getStatusAll(ctx, p1Applications)
	if err != nil {
		t.Fatalf("getStatusAll: %v", err)
	}
	if out["data"] != "0102" {
		t.Errorf("data = %q, want concatenation of both chained blocks", out["data"])
	}
}

func TestGetStatusApduSetsNextBit(t *testing.T) {
	apdu := getStatusApdu(p1IssuerSecurityDomain, true)
	if apdu[3]&0x01 == 0 {
		t.Errorf("P2 = %02X, want low bit set for chained continuation", apdu[3])
	}
}

func TestGetDataApduShape(t *testing.T) {
	apdu := getDataApdu(tagCplc)
	want := []byte{0x80, 0xCA, 0x9F, 0x7F, 0x00}
	if string(apdu) != string(want) {
		t.Errorf("getDataApdu(CPLC) = % X, want % X", apdu, want)
	}
}

func TestInterrogateStopsOnSelectFailure(t *testing.T) {
	sender := &sequencedSender{queues: map[string][]model.Response{}}
	h := New()
	ctx := handler.CommandContext{Context: context.Background(), Sender: sender}
	_, err := h.Interrogate(ctx)
	if err == nil {
		t.Fatal("expected an error when ISD selection fails")
	}
	herr, ok := err.(*handler.HandlerError)
	if !ok || herr.Code != handler.ErrCardRejected {
		t.Errorf("err = %v, want ErrCardRejected", err)
	}
}
