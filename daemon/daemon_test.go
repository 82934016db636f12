package daemon

import (
	"context"
	"testing"

	"github.com/tomkp/card-spy-core/bridge"
	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/model"
	"github.com/tomkp/card-spy-core/reducer"
	"github.com/tomkp/card-spy-core/transport"
)

// fakeSender is a minimal transport.RawSender that always answers with the
// given status word, so handler detection has something deterministic to
// reject (no handler matches an AID of all zeros).
type fakeSender struct {
	sw1, sw2 byte
}

func (f *fakeSender) Transmit(ctx context.Context, apdu []byte) ([]byte, error) {
	return []byte{f.sw1, f.sw2}, nil
}

func newTestDaemon() *Daemon {
	return New(Config{Addr: ":0"})
}

func TestNewRegistersAllHandlers(t *testing.T) {
	d := newTestDaemon()
	want := []string{"emv", "piv", "openpgp", "fido", "eid", "pkcs15", "health", "javacard", "sim", "desfire", "mifare"}
	for _, id := range want {
		if _, ok := d.Registry.Get(id); !ok {
			t.Errorf("handler %q not registered", id)
		}
	}
}

func TestDetectHandlersDispatchesHandlersDetected(t *testing.T) {
	d := newTestDaemon()
	d.device = "reader0"

	sess := transport.NewSession("reader0", &fakeSender{sw1: 0x6A, sw2: 0x82})
	d.detectHandlers(context.Background(), "reader0", sess, "3B8000")

	state := d.State()
	sess2, ok := state.Handlers["reader0"]
	if !ok {
		t.Fatalf("expected a handlers entry for reader0, state = %+v", state.Handlers)
	}
	if sess2 == nil {
		t.Fatal("expected a non-nil (possibly empty) handler slice")
	}
}

func TestHandleSendRawApduWithoutSessionErrors(t *testing.T) {
	d := newTestDaemon()
	_, err := d.handleSendRawApdu(context.Background(), bridge.Envelope{
		Payload: map[string]any{"apdu": "00A4040000"},
	})
	if err == nil {
		t.Fatal("expected an error with no active session")
	}
}

func TestHandleSendRawApduExchangesAndDispatches(t *testing.T) {
	d := newTestDaemon()
	d.device = "reader0"
	d.session = transport.NewSession("reader0", &fakeSender{sw1: 0x90, sw2: 0x00})

	apdu := []byte{0x00, 0xA4, 0x04, 0x00, 0x00}
	result, err := d.handleSendRawApdu(context.Background(), bridge.Envelope{
		Payload: map[string]any{"apdu": codec.BytesToHex(apdu)},
	})
	if err != nil {
		t.Fatalf("handleSendRawApdu: %v", err)
	}
	fields, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result = %#v, want map[string]any", result)
	}
	if fields["sw"] != codec.DescribeSw(0x90, 0x00) {
		t.Errorf("sw = %v, want success description", fields["sw"])
	}

	state := d.State()
	sess, ok := state.Sessions["reader0"]
	if !ok || len(sess.Log) == 0 {
		t.Fatalf("expected a logged command entry, sessions = %+v", state.Sessions)
	}
}

func TestHandleSelectHandlerDispatchesActiveHandlerChanged(t *testing.T) {
	d := newTestDaemon()
	d.device = "reader0"
	d.state = reducer.Dispatch(d.state, reducer.DeviceActivated{
		Device:  "reader0",
		Devices: []model.Device{{Name: "reader0", IsActivated: true}},
	})

	_, err := d.handleSelectHandler(context.Background(), bridge.Envelope{
		Payload: map[string]any{"handlerId": "emv"},
	})
	if err != nil {
		t.Fatalf("handleSelectHandler: %v", err)
	}
	if got := d.State().ActiveHandlerID; got != "emv" {
		t.Errorf("ActiveHandlerID = %q, want %q", got, "emv")
	}
}

func TestHandleClearLogClearsSessionLog(t *testing.T) {
	d := newTestDaemon()
	d.device = "reader0"
	d.state = reducer.Dispatch(d.state, reducer.DeviceActivated{
		Device:  "reader0",
		Devices: []model.Device{{Name: "reader0", IsActivated: true}},
	})
	d.state = reducer.Dispatch(d.state, reducer.CardInserted{Device: "reader0", ATR: "3B8000"})

	if len(d.State().Sessions["reader0"].Log) == 0 {
		t.Fatal("setup: expected a log entry before clearing")
	}

	if _, err := d.handleClearLog(context.Background(), bridge.Envelope{}); err != nil {
		t.Fatalf("handleClearLog: %v", err)
	}
	if got := d.State().Sessions["reader0"].Log; len(got) != 0 {
		t.Errorf("Log = %+v, want empty after clear", got)
	}
}

func TestSplitPort(t *testing.T) {
	host, port, err := splitPort(":8420")
	if err != nil {
		t.Fatalf("splitPort: %v", err)
	}
	if host != "" || port != 8420 {
		t.Errorf("splitPort(\":8420\") = (%q, %d), want (\"\", 8420)", host, port)
	}
}
