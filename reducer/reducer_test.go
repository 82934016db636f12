package reducer

import (
	"testing"

	"github.com/tomkp/card-spy-core/model"
)

func TestDeviceActivatedIsIdempotent(t *testing.T) {
	state := model.NewAppState()
	state = Dispatch(state, DeviceActivated{Device: "reader1"})
	state = Dispatch(state, DeviceActivated{Device: "reader1"})

	if len(state.Devices) != 1 {
		t.Fatalf("Devices = %+v, want exactly one entry", state.Devices)
	}
	if _, ok := state.Sessions["reader1"]; !ok {
		t.Fatal("expected a session to be created for reader1")
	}
}

func TestDeviceDeactivatedRemovesDeviceSessionAndCard(t *testing.T) {
	state := model.NewAppState()
	state = Dispatch(state, DeviceActivated{Device: "reader1"})
	state = Dispatch(state, CardInserted{Device: "reader1", ATR: "3B6B"})
	state = Dispatch(state, DeviceActivated{Device: "reader2"})

	state = Dispatch(state, DeviceDeactivated{Device: "reader1"})

	if len(state.Devices) != 1 || state.Devices[0].Name != "reader2" {
		t.Errorf("Devices = %+v, want only reader2 left", state.Devices)
	}
	if _, ok := state.Sessions["reader1"]; ok {
		t.Error("expected reader1 session to be removed")
	}
	if _, ok := state.Cards["reader1"]; ok {
		t.Error("expected reader1 card to be removed")
	}
}

func TestCardInsertedSetsCardAndLogsEntry(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	state = Dispatch(state, CardInserted{Device: "r", ATR: "3B6B00"})

	card, ok := state.Cards["r"]
	if !ok || card.ATR != "3B6B00" {
		t.Fatalf("Cards[r] = %+v, ok=%v", card, ok)
	}
	if state.Sessions["r"].Card == nil || state.Sessions["r"].Card.ATR != "3B6B00" {
		t.Fatal("expected session card to be set")
	}
	if len(state.Sessions["r"].Log) != 1 || state.Sessions["r"].Log[0].Kind != model.LogEntryCardInserted {
		t.Fatalf("Log = %+v, want one CardInserted entry", state.Sessions["r"].Log)
	}
}

func TestCardRemovedClearsDerivedStateForActiveDevice(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	state = Dispatch(state, SetActiveDevice{Device: "r"})
	state = Dispatch(state, CardInserted{Device: "r", ATR: "3B6B00"})
	state = Dispatch(state, ApplicationFound{Device: "r", App: model.DiscoveredApp{AID: "A0"}})
	state = Dispatch(state, HandlersDetected{Device: "r", Handlers: []model.DetectedHandler{{HandlerID: "emv"}}})
	state = Dispatch(state, ApplicationSelected{Device: "r", App: model.DiscoveredApp{AID: "A0"}})

	state = Dispatch(state, CardRemoved{Device: "r"})

	if _, ok := state.Cards["r"]; ok {
		t.Error("expected card to be cleared")
	}
	if state.Sessions["r"].Card != nil {
		t.Error("expected session card to be nulled")
	}
	if len(state.Applications["r"]) != 0 {
		t.Error("expected applications to be cleared")
	}
	if len(state.Handlers["r"]) != 0 {
		t.Error("expected handlers to be cleared")
	}
	if state.ActiveHandlerID != "" {
		t.Error("expected active handler id to be cleared for the active device")
	}
	if state.SelectedApplication != nil {
		t.Error("expected selected application to be cleared for the active device")
	}
}

func TestCardRemovedIsIdempotent(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	state = Dispatch(state, CardInserted{Device: "r", ATR: "3B6B00"})
	once := Dispatch(state, CardRemoved{Device: "r"})
	twice := Dispatch(once, CardRemoved{Device: "r"})

	if len(once.Cards) != len(twice.Cards) || len(once.Applications["r"]) != len(twice.Applications["r"]) {
		t.Fatal("expected CardRemoved to be idempotent on relevant fields")
	}
}

func TestCommandAndResponsePairing(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	cmd := model.Command{ID: "cmd-1", APDU: []byte{0x00, 0xA4}}
	state = Dispatch(state, CommandIssued{Device: "r", Command: cmd})
	state = Dispatch(state, ResponseReceived{Device: "r", Response: model.Response{ID: "cmd-1", SW1: 0x90, SW2: 0x00}})

	completed := 0
	for _, entry := range state.Sessions["r"].Log {
		if entry.Kind == model.LogEntryCommand && entry.ID == "cmd-1" && entry.Response != nil {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("completed command entries = %d, want exactly 1", completed)
	}
}

func TestResponseReceivedIsNoOpWithoutMatchingCommand(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	before := len(state.Sessions["r"].Log)
	state = Dispatch(state, ResponseReceived{Device: "r", Response: model.Response{ID: "missing"}})
	if len(state.Sessions["r"].Log) != before {
		t.Fatal("expected no log entries to be added for an unmatched response")
	}
}

func TestApplicationFoundDedupesByAid(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	state = Dispatch(state, ApplicationFound{Device: "r", App: model.DiscoveredApp{AID: "A0000000041010", Label: "VISA"}})
	state = Dispatch(state, ApplicationFound{Device: "r", App: model.DiscoveredApp{AID: "A0000000041010", Label: "VISA-dup"}})

	if len(state.Applications["r"]) != 1 {
		t.Fatalf("Applications[r] = %+v, want exactly one entry", state.Applications["r"])
	}
}

func TestHandlersDetectedSetsActiveHandlerOnlyForActiveDevice(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	state = Dispatch(state, SetActiveDevice{Device: "r"})
	state = Dispatch(state, HandlersDetected{Device: "r", Handlers: []model.DetectedHandler{{HandlerID: "emv"}, {HandlerID: "piv"}}})
	if state.ActiveHandlerID != "emv" {
		t.Fatalf("ActiveHandlerID = %q, want emv", state.ActiveHandlerID)
	}

	state2 := Dispatch(model.NewAppState(), DeviceActivated{Device: "other"})
	state2 = Dispatch(state2, SetActiveDevice{Device: "r"})
	state2 = Dispatch(state2, HandlersDetected{Device: "other", Handlers: []model.DetectedHandler{{HandlerID: "emv"}}})
	if state2.ActiveHandlerID != "" {
		t.Fatalf("ActiveHandlerID = %q, want empty since 'other' is not active", state2.ActiveHandlerID)
	}
}

func TestActiveHandlerChangedIsNoOpForInactiveDevice(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	state = Dispatch(state, SetActiveDevice{Device: "other"})
	state = Dispatch(state, ActiveHandlerChanged{Device: "r", HandlerID: "piv"})
	if state.ActiveHandlerID != "" {
		t.Fatalf("ActiveHandlerID = %q, want unchanged since r is not the active device", state.ActiveHandlerID)
	}
}

func TestDispatchIsPureAndDoesNotMutateInput(t *testing.T) {
	before := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	beforeDeviceCount := len(before.Devices)

	_ = Dispatch(before, DeviceActivated{Device: "r2"})

	if len(before.Devices) != beforeDeviceCount {
		t.Fatal("Dispatch must not mutate its input state")
	}
}

func TestToggleAndHideShortcutHelp(t *testing.T) {
	state := Dispatch(model.NewAppState(), ToggleShortcutHelp{})
	if !state.ShortcutHelpVisible {
		t.Fatal("expected shortcut help to be visible after toggle")
	}
	state = Dispatch(state, HideShortcutHelp{})
	if state.ShortcutHelpVisible {
		t.Fatal("expected shortcut help to be hidden")
	}
}

func TestClearLog(t *testing.T) {
	state := Dispatch(model.NewAppState(), DeviceActivated{Device: "r"})
	state = Dispatch(state, CardInserted{Device: "r", ATR: "3B"})
	if len(state.Sessions["r"].Log) == 0 {
		t.Fatal("expected a log entry before clearing")
	}
	state = Dispatch(state, ClearLog{Device: "r"})
	if len(state.Sessions["r"].Log) != 0 {
		t.Fatal("expected log to be cleared")
	}
}
