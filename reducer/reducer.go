// Package reducer implements the pure (state, action) -> state aggregation
// that turns reader/card/handler events into model.AppState. It holds no
// transport or handler references; everything it needs arrives already
// decoded, inside an Action value.
//
// Action is a closed sum type (an interface with an unexported marker
// method, one struct per kind) rather than a string-tagged message, so
// Dispatch's switch is exhaustive over a fixed, compiler-checkable set.
package reducer

import (
	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/model"
)

// Action is implemented by every reducer action kind. The marker method is
// unexported so no type outside this package can satisfy the interface,
// keeping Dispatch's switch exhaustive.
type Action interface {
	isAction()
}

type Initialize struct{}

type SetActiveDevice struct {
	Device string
}

type DeviceActivated struct {
	Device  string
	Devices []model.Device
}

type DeviceDeactivated struct {
	Device string
}

type CardInserted struct {
	Device string
	ATR    string
}

type CardRemoved struct {
	Device string
}

type CommandIssued struct {
	Device  string
	Command model.Command
}

type ResponseReceived struct {
	Device   string
	Response model.Response
	Tlv      []model.TlvNode
}

type ApplicationFound struct {
	Device string
	App    model.DiscoveredApp
}

type ApplicationSelected struct {
	Device string
	App    model.DiscoveredApp
}

type HandlersDetected struct {
	Device   string
	Handlers []model.DetectedHandler
}

type ActiveHandlerChanged struct {
	Device    string
	HandlerID string
}

type ClearLog struct {
	Device string
}

type ToggleShortcutHelp struct{}

type HideShortcutHelp struct{}

func (Initialize) isAction()           {}
func (SetActiveDevice) isAction()      {}
func (DeviceActivated) isAction()      {}
func (DeviceDeactivated) isAction()    {}
func (CardInserted) isAction()         {}
func (CardRemoved) isAction()          {}
func (CommandIssued) isAction()        {}
func (ResponseReceived) isAction()     {}
func (ApplicationFound) isAction()     {}
func (ApplicationSelected) isAction()  {}
func (HandlersDetected) isAction()     {}
func (ActiveHandlerChanged) isAction() {}
func (ClearLog) isAction()             {}
func (ToggleShortcutHelp) isAction()   {}
func (HideShortcutHelp) isAction()     {}

// Dispatch applies one action to state and returns a new, independent
// *model.AppState; the input state is never mutated. nil state is treated
// as a freshly-initialized one.
func Dispatch(state *model.AppState, action Action) *model.AppState {
	if state == nil {
		state = model.NewAppState()
	}
	next := copyState(state)

	switch a := action.(type) {
	case Initialize:
		return model.NewAppState()

	case SetActiveDevice:
		next.ActiveDevice = a.Device

	case DeviceActivated:
		applyDeviceActivated(next, a)

	case DeviceDeactivated:
		applyDeviceDeactivated(next, a)

	case CardInserted:
		applyCardInserted(next, a)

	case CardRemoved:
		applyCardRemoved(next, a)

	case CommandIssued:
		applyCommandIssued(next, a)

	case ResponseReceived:
		applyResponseReceived(next, a)

	case ApplicationFound:
		applyApplicationFound(next, a)

	case ApplicationSelected:
		next.SelectedApplication = &a.App

	case HandlersDetected:
		applyHandlersDetected(next, a)

	case ActiveHandlerChanged:
		if next.ActiveDevice == a.Device {
			next.ActiveHandlerID = a.HandlerID
		}

	case ClearLog:
		if sess, ok := next.Sessions[a.Device]; ok {
			cleared := *sess
			cleared.Log = nil
			next.Sessions[a.Device] = &cleared
		}

	case ToggleShortcutHelp:
		next.ShortcutHelpVisible = !next.ShortcutHelpVisible

	case HideShortcutHelp:
		next.ShortcutHelpVisible = false
	}

	return next
}

// copyState shallow-copies state and every map it owns, so Dispatch never
// mutates its input; individual entries are replaced wholesale rather than
// mutated in place.
func copyState(state *model.AppState) *model.AppState {
	next := &model.AppState{
		Devices:             append([]model.Device{}, state.Devices...),
		ActiveDevice:        state.ActiveDevice,
		Cards:               make(map[string]model.Card, len(state.Cards)),
		Sessions:            make(map[string]*model.ReaderSession, len(state.Sessions)),
		Applications:        make(map[string][]model.DiscoveredApp, len(state.Applications)),
		SelectedApplication: state.SelectedApplication,
		Handlers:            make(map[string][]model.DetectedHandler, len(state.Handlers)),
		ActiveHandlerID:     state.ActiveHandlerID,
		ShortcutHelpVisible: state.ShortcutHelpVisible,
	}
	for k, v := range state.Cards {
		next.Cards[k] = v
	}
	for k, v := range state.Sessions {
		next.Sessions[k] = v
	}
	for k, v := range state.Applications {
		next.Applications[k] = append([]model.DiscoveredApp{}, v...)
	}
	for k, v := range state.Handlers {
		next.Handlers[k] = append([]model.DetectedHandler{}, v...)
	}
	return next
}

func applyDeviceActivated(next *model.AppState, a DeviceActivated) {
	found := false
	for i, d := range next.Devices {
		if d.Name == a.Device {
			next.Devices[i].IsActivated = true
			found = true
			break
		}
	}
	if !found {
		next.Devices = append(next.Devices, model.Device{Name: a.Device, IsActivated: true})
	}
	if _, ok := next.Sessions[a.Device]; !ok {
		next.Sessions[a.Device] = &model.ReaderSession{Device: model.Device{Name: a.Device, IsActivated: true}}
	}
}

func applyDeviceDeactivated(next *model.AppState, a DeviceDeactivated) {
	filtered := next.Devices[:0:0]
	for _, d := range next.Devices {
		if d.Name != a.Device {
			filtered = append(filtered, d)
		}
	}
	next.Devices = filtered
	delete(next.Sessions, a.Device)
	delete(next.Cards, a.Device)
}

func applyCardInserted(next *model.AppState, a CardInserted) {
	protocol := model.ProtocolUnknown
	if raw, err := codec.HexToBytes(a.ATR); err == nil {
		protocol = codec.ParseAtr(raw).Protocol()
	}
	next.Cards[a.Device] = model.Card{DeviceName: a.Device, ATR: a.ATR, Protocol: protocol}
	sess := sessionFor(next, a.Device)
	card := next.Cards[a.Device]
	sess.Card = &card
	sess.Log = append(sess.Log, model.NewCardInsertedEntry(a.Device, a.ATR))
}

func applyCardRemoved(next *model.AppState, a CardRemoved) {
	delete(next.Cards, a.Device)
	if sess, ok := next.Sessions[a.Device]; ok {
		cleared := *sess
		cleared.Card = nil
		next.Sessions[a.Device] = &cleared
	}
	delete(next.Applications, a.Device)
	delete(next.Handlers, a.Device)
	if next.ActiveDevice == a.Device {
		next.ActiveHandlerID = ""
		next.SelectedApplication = nil
	}
}

func applyCommandIssued(next *model.AppState, a CommandIssued) {
	sess := sessionFor(next, a.Device)
	sess.Log = append(sess.Log, model.NewCommandEntry(a.Command.ID, a.Command))
}

func applyResponseReceived(next *model.AppState, a ResponseReceived) {
	sess, ok := next.Sessions[a.Device]
	if !ok {
		return
	}
	log := append([]model.LogEntry{}, sess.Log...)
	for i, entry := range log {
		if entry.Kind == model.LogEntryCommand && entry.ID == a.Response.ID && entry.Response == nil {
			resp := a.Response
			entry.Response = &resp
			entry.Tlv = a.Tlv
			log[i] = entry
			break
		}
	}
	updated := *sess
	updated.Log = log
	next.Sessions[a.Device] = &updated
}

func applyApplicationFound(next *model.AppState, a ApplicationFound) {
	apps := next.Applications[a.Device]
	for _, existing := range apps {
		if existing.AID == a.App.AID {
			return
		}
	}
	next.Applications[a.Device] = append(apps, a.App)
}

func applyHandlersDetected(next *model.AppState, a HandlersDetected) {
	next.Handlers[a.Device] = a.Handlers
	if next.ActiveDevice == a.Device && len(a.Handlers) > 0 {
		next.ActiveHandlerID = a.Handlers[0].HandlerID
	}
}

func sessionFor(next *model.AppState, device string) *model.ReaderSession {
	sess, ok := next.Sessions[device]
	if !ok {
		sess = &model.ReaderSession{Device: model.Device{Name: device}}
		next.Sessions[device] = sess
	} else {
		copied := *sess
		sess = &copied
		next.Sessions[device] = sess
	}
	return sess
}
