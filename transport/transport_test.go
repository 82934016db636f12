package transport

import (
	"bytes"
	"context"
	"testing"
)

// scriptedSender replays a fixed sequence of responses, one per Transmit
// call, and records the APDUs it was sent.
type scriptedSender struct {
	responses [][]byte
	calls     [][]byte
	n         int
}

func (s *scriptedSender) Transmit(ctx context.Context, apdu []byte) ([]byte, error) {
	s.calls = append(s.calls, append([]byte(nil), apdu...))
	if s.n >= len(s.responses) {
		return []byte{0x6F, 0x00}, nil
	}
	r := s.responses[s.n]
	s.n++
	return r, nil
}

func TestExchangeSimpleSuccess(t *testing.T) {
	sender := &scriptedSender{responses: [][]byte{
		{0x01, 0x02, 0x90, 0x00},
	}}
	sess := NewSession("reader1", sender)
	_, resp, err := sess.Exchange(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x01, 0x02}) {
		t.Errorf("data = % X", resp.Data)
	}
	if resp.SW1 != 0x90 || resp.SW2 != 0x00 {
		t.Errorf("sw = %02X%02X", resp.SW1, resp.SW2)
	}
}

func TestExchangeGetResponseChaining(t *testing.T) {
	sender := &scriptedSender{responses: [][]byte{
		{0x61, 0x10},             // initial SELECT reports 16 bytes available
		{0xAA, 0xBB, 0x90, 0x00}, // GET RESPONSE returns the data
	}}
	sess := NewSession("reader1", sender)
	_, resp, err := sess.Exchange(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0xAA, 0xBB}) {
		t.Fatalf("data = % X, want AA BB", resp.Data)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(sender.calls))
	}
	getResponse := sender.calls[1]
	want := []byte{0x00, 0xC0, 0x00, 0x00, 0x10}
	if !bytes.Equal(getResponse, want) {
		t.Errorf("GET RESPONSE apdu = % X, want % X", getResponse, want)
	}
}

func TestExchangeGetResponseMultiFrame(t *testing.T) {
	sender := &scriptedSender{responses: [][]byte{
		{0x61, 0x08},
		{0x01, 0x02, 0x61, 0x08},
		{0x03, 0x04, 0x90, 0x00},
	}}
	sess := NewSession("reader1", sender)
	_, resp, err := sess.Exchange(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("data = % X, want 01 02 03 04", resp.Data)
	}
}

func TestExchangeSimClassMoreDataChaining(t *testing.T) {
	sender := &scriptedSender{responses: [][]byte{
		{0x9F, 0x10},             // SIM-class SELECT reports 16 bytes via SW1=9F
		{0xAA, 0xBB, 0x90, 0x00}, // GET RESPONSE returns the data
	}}
	sess := NewSession("reader1", sender)
	_, resp, err := sess.Exchange(context.Background(), []byte{0xA0, 0xA4, 0x00, 0x00, 0x02, 0x3F, 0x00})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0xAA, 0xBB}) {
		t.Fatalf("data = % X, want AA BB", resp.Data)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(sender.calls))
	}
	getResponse := sender.calls[1]
	want := []byte{0xA0, 0xC0, 0x00, 0x00, 0x10}
	if !bytes.Equal(getResponse, want) {
		t.Errorf("GET RESPONSE apdu = % X, want % X (SIM class byte A0)", getResponse, want)
	}
}

func TestExchangeSimClassStandard61AlsoChains(t *testing.T) {
	sender := &scriptedSender{responses: [][]byte{
		{0x61, 0x08}, // SIM cards also use the standard 61xx form
		{0x01, 0x02, 0x03, 0x04, 0x90, 0x00},
	}}
	sess := NewSession("reader1", sender)
	_, resp, err := sess.Exchange(context.Background(), []byte{0xA0, 0xB2, 0x01, 0x04, 0x00})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("data = % X", resp.Data)
	}
	getResponse := sender.calls[1]
	want := []byte{0xA0, 0xC0, 0x00, 0x00, 0x08}
	if !bytes.Equal(getResponse, want) {
		t.Errorf("GET RESPONSE apdu = % X, want % X (SIM class byte A0)", getResponse, want)
	}
}

func TestExchangeNonSimClassIgnores9F(t *testing.T) {
	// 9F on a non-SIM-class command is a terminal status word, not a
	// "more data" signal; no GET RESPONSE should follow.
	sender := &scriptedSender{responses: [][]byte{
		{0x9F, 0x10},
	}}
	sess := NewSession("reader1", sender)
	_, resp, err := sess.Exchange(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.SW1 != 0x9F || resp.SW2 != 0x10 {
		t.Fatalf("sw = %02X%02X, want 9F10 untouched", resp.SW1, resp.SW2)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 call (no chaining), got %d", len(sender.calls))
	}
}

func TestExchangeWrongLengthRetry(t *testing.T) {
	sender := &scriptedSender{responses: [][]byte{
		{0x6C, 0x05},             // Le wrong, correct length is 5
		{1, 2, 3, 4, 5, 0x90, 0}, // retried with corrected Le
	}}
	sess := NewSession("reader1", sender)
	_, resp, err := sess.Exchange(context.Background(), []byte{0x00, 0xB0, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("data = % X", resp.Data)
	}
	retried := sender.calls[1]
	want := []byte{0x00, 0xB0, 0x00, 0x00, 0x05}
	if !bytes.Equal(retried, want) {
		t.Errorf("retried apdu = % X, want % X", retried, want)
	}
}

func TestExchangeShortResponseIsError(t *testing.T) {
	sender := &scriptedSender{responses: [][]byte{{0x90}}}
	sess := NewSession("reader1", sender)
	_, _, err := sess.Exchange(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00})
	if err == nil {
		t.Fatal("expected error for short response")
	}
}

func TestExchangeDesfireMultiFrame(t *testing.T) {
	// GetVersion across 3 frames: SW 91 AF, 91 AF, then 91 00 (success).
	sender := &scriptedSender{responses: [][]byte{
		{0x04, 0x01, 0x01, 0x91, 0xAF},
		{0x05, 0x02, 0x02, 0x91, 0xAF},
		{0x06, 0x03, 0x03, 0x91, 0x00},
	}}
	sess := NewSession("reader1", sender)
	resp, err := sess.ExchangeDesfire(context.Background(), 0x60, nil)
	if err != nil {
		t.Fatalf("ExchangeDesfire: %v", err)
	}
	want := []byte{0x04, 0x01, 0x01, 0x05, 0x02, 0x02, 0x06, 0x03, 0x03}
	if !bytes.Equal(resp.Data, want) {
		t.Fatalf("data = % X, want % X", resp.Data, want)
	}
	if resp.Status != 0x00 {
		t.Fatalf("status = %#x, want 0x00", resp.Status)
	}
	if len(sender.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(sender.calls))
	}
	secondCall := sender.calls[1]
	want2 := []byte{0x90, 0xAF, 0x00, 0x00, 0x00}
	if !bytes.Equal(secondCall, want2) {
		t.Errorf("continuation apdu = % X, want % X", secondCall, want2)
	}
}

func TestBuildApduNoDataNoLe(t *testing.T) {
	got := BuildApdu(0x00, 0xA4, 0x04, 0x00, nil, nil)
	want := []byte{0x00, 0xA4, 0x04, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
}

func TestIsDesfireFrame(t *testing.T) {
	if !IsDesfireFrame([]byte{0x91, 0xAF}) {
		t.Error("expected true for SW 91 AF")
	}
	if IsDesfireFrame([]byte{0x01, 0x00}) {
		t.Error("expected false for trailing 0x00")
	}
}
