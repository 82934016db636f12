package codec

import (
	"bytes"
	"testing"
)

func TestParseTlvEmpty(t *testing.T) {
	nodes := ParseTlv(nil)
	if len(nodes) != 0 {
		t.Fatalf("expected empty slice, got %v", nodes)
	}
}

func TestParseTlvTruncatedLengthTolerant(t *testing.T) {
	// Tag 0x80, length byte says 5, but only one value byte follows.
	data := []byte{0x80, 0x05, 0x01}
	nodes := ParseTlv(data)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	n := nodes[0]
	if n.Tag != 0x80 {
		t.Errorf("tag = %#x, want 0x80", n.Tag)
	}
	if n.Length != 5 {
		t.Errorf("declared length = %d, want 5", n.Length)
	}
	if !bytes.Equal(n.Value, []byte{0x01}) {
		t.Errorf("value = %v, want [0x01] (truncated to buffer end)", n.Value)
	}
}

func TestParseTlvRoundTrip(t *testing.T) {
	// FCI template (6F) containing DF name (84) and proprietary template
	// (A5) with a single primitive child (9F38 a three-byte PDOL).
	data := []byte{
		0x6F, 0x0D,
		0x84, 0x03, 0x01, 0x02, 0x03,
		0xA5, 0x06,
		0x9F, 0x38, 0x03, 0xAA, 0xBB, 0xCC,
	}
	nodes := ParseTlv(data)
	out := EmitTlv(nodes)
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip mismatch:\n got: % X\nwant: % X", out, data)
	}
}

func TestParseTlvConstructedFlag(t *testing.T) {
	data := []byte{0x6F, 0x02, 0x84, 0x00}
	nodes := ParseTlv(data)
	if len(nodes) != 1 || !nodes[0].IsConstructed {
		t.Fatalf("expected one constructed node, got %+v", nodes)
	}
	if len(nodes[0].Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(nodes[0].Children))
	}
	if nodes[0].Children[0].IsConstructed {
		t.Errorf("child 0x84 should be primitive")
	}
}

func TestParseTlvMultiByteTag(t *testing.T) {
	// Tag 9F 38 (two-byte tag, low 5 bits of first byte all set).
	data := []byte{0x9F, 0x38, 0x02, 0xAA, 0xBB}
	nodes := ParseTlv(data)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	if nodes[0].Tag != 0x9F38 {
		t.Errorf("tag = %#x, want 0x9F38", nodes[0].Tag)
	}
}

func TestParseTlvLongFormLength(t *testing.T) {
	value := bytes.Repeat([]byte{0x01}, 200)
	data := append([]byte{0x80, 0x81, 0xC8}, value...) // 0xC8 == 200
	nodes := ParseTlv(data)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	if nodes[0].Length != 200 {
		t.Errorf("length = %d, want 200", nodes[0].Length)
	}
	if !bytes.Equal(nodes[0].Value, value) {
		t.Errorf("value mismatch")
	}
}

func TestFindAndFindAll(t *testing.T) {
	data := []byte{
		0x6F, 0x0A,
		0xA5, 0x08,
		0x9F, 0x38, 0x01, 0xAA,
		0x9F, 0x38, 0x01, 0xBB,
	}
	nodes := ParseTlv(data)
	first, ok := Find(nodes, 0x9F38)
	if !ok || !bytes.Equal(first.Value, []byte{0xAA}) {
		t.Fatalf("Find returned %+v, ok=%v", first, ok)
	}
	all := FindAll(nodes, 0x9F38)
	if len(all) != 2 {
		t.Fatalf("FindAll returned %d nodes, want 2", len(all))
	}
}
