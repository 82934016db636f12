// Package daemon wires the reference reader driver, the handler registry,
// the reducer, and the upward bridge into one runnable process. It is the
// shape cmd/cardspyd and cmd/cardspy-repl both drive, and the shape
// trayapp reports status for.
//
// Grounded on the teacher's Agent (agent.go): a long-lived struct owning
// the reader and the server lifecycle, with Start/Stop methods and a
// device-path field for restarts. The teacher's InputServer/ConsumerServer
// pair is replaced by the single registry+reducer+bridge pipeline this
// core uses instead.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tomkp/card-spy-core/bridge"
	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/handlers/desfire"
	"github.com/tomkp/card-spy-core/handlers/eid"
	"github.com/tomkp/card-spy-core/handlers/emv"
	"github.com/tomkp/card-spy-core/handlers/fido"
	"github.com/tomkp/card-spy-core/handlers/health"
	"github.com/tomkp/card-spy-core/handlers/javacard"
	"github.com/tomkp/card-spy-core/handlers/mifare"
	"github.com/tomkp/card-spy-core/handlers/openpgp"
	"github.com/tomkp/card-spy-core/handlers/pkcs15"
	"github.com/tomkp/card-spy-core/handlers/piv"
	"github.com/tomkp/card-spy-core/handlers/sim"
	"github.com/tomkp/card-spy-core/model"
	"github.com/tomkp/card-spy-core/reducer"
	"github.com/tomkp/card-spy-core/registry"
	"github.com/tomkp/card-spy-core/transport"
	"github.com/tomkp/card-spy-core/transport/pcscreader"
)

// PollInterval is how often the background loop checks for card presence
// changes on the active device, matching the teacher's systray card-info
// ticker cadence in systray.go.
const PollInterval = 500 * time.Millisecond

// Config controls the bridge's listen address and optional mDNS
// advertisement.
type Config struct {
	Addr          string // bridge listen address, e.g. ":8420"
	AdvertiseName string // mDNS instance name; empty disables advertisement
}

// Daemon owns one active PC/SC session at a time plus the registry,
// reducer state, and bridge shared across the process's lifetime. Safe
// for concurrent use: all state access goes through mu.
type Daemon struct {
	Logger   *log.Logger
	Bridge   *bridge.Server
	Registry *registry.Registry
	Reader   *pcscreader.Reader

	cfg Config

	mu      sync.Mutex
	state   *model.AppState
	device  string
	card    *pcscreader.Card
	session *transport.Session
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds a Daemon with every handler package registered and the
// bridge's request handlers wired. The reader is not opened and no
// goroutines start until Start is called.
func New(cfg Config) *Daemon {
	d := &Daemon{
		Logger:   log.New(os.Stderr, "[cardspyd] ", log.LstdFlags),
		Registry: registry.New(),
		Bridge:   bridge.NewServer(),
		cfg:      cfg,
		state:    model.NewAppState(),
	}
	registerHandlers(d.Registry)
	d.wireBridge()
	return d
}

// registerHandlers assigns each handler package a probe-order priority:
// payment/identity schemes that advertise themselves unambiguously via a
// well-known AID go first, card-family fallbacks that accept on ATR alone
// go last, so a DESFire card is never misclassified as plain MIFARE.
func registerHandlers(r *registry.Registry) {
	r.Register(emv.New(), 100)
	r.Register(piv.New(), 90)
	r.Register(openpgp.New(), 90)
	r.Register(fido.New(), 90)
	r.Register(eid.New(), 80)
	r.Register(pkcs15.New(), 70)
	r.Register(health.New(), 70)
	r.Register(javacard.New(), 60)
	r.Register(sim.New(), 50)
	r.Register(desfire.New(), 40)
	r.Register(mifare.New(), 30)
}

// Start opens a PC/SC context if one isn't already open, activates
// deviceName (or the first reader found, if empty), and begins polling it
// for card insertion/removal. It also starts the bridge's HTTP server and,
// if configured, advertises it over mDNS.
func (d *Daemon) Start(deviceName string) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return errors.New("daemon: already running")
	}
	d.mu.Unlock()

	if d.Reader == nil {
		r, err := pcscreader.New()
		if err != nil {
			return fmt.Errorf("daemon: start: %w", err)
		}
		d.Reader = r
	}

	names, err := d.Reader.ListReaders()
	if err != nil {
		return fmt.Errorf("daemon: list readers: %w", err)
	}
	if deviceName == "" && len(names) > 0 {
		deviceName = names[0]
	}
	if deviceName == "" {
		return errors.New("daemon: no PC/SC readers available")
	}

	devices := make([]model.Device, len(names))
	for i, n := range names {
		devices[i] = model.Device{Name: n, IsActivated: n == deviceName}
	}
	d.dispatch(reducer.DeviceActivated{Device: deviceName, Devices: devices})

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.device = deviceName
	d.cancel = cancel
	d.stopped = make(chan struct{})
	d.mu.Unlock()

	go d.pollLoop(ctx, deviceName)

	go func() {
		if err := d.Bridge.ListenAndServe(ctx, d.cfg.Addr); err != nil && !errors.Is(err, context.Canceled) {
			d.Logger.Printf("bridge stopped: %v", err)
		}
	}()

	if d.cfg.AdvertiseName != "" {
		if _, port, err := splitPort(d.cfg.Addr); err == nil {
			if err := d.Bridge.Advertise(d.cfg.AdvertiseName, port); err != nil {
				d.Logger.Printf("mDNS advertise failed: %v", err)
			}
		} else {
			d.Logger.Printf("mDNS advertise skipped: %v", err)
		}
	}

	return nil
}

// Stop tears down the active session, the poll loop, and the bridge. It is
// safe to call on a Daemon that was never started.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	stopped := d.stopped
	device := d.device
	card := d.card
	d.cancel = nil
	d.card = nil
	d.session = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if stopped != nil {
		<-stopped
	}
	if card != nil {
		_ = card.Close()
	}
	d.Bridge.Stop()
	d.dispatch(reducer.DeviceDeactivated{Device: device})
}

// State returns the current aggregate application state.
func (d *Daemon) State() *model.AppState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Device returns the device name the daemon was last started on: "" before
// the first Start, and kept unchanged by Stop.
func (d *Daemon) Device() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device
}

// ListDevices returns the names of every attached PC/SC reader.
func (d *Daemon) ListDevices() ([]string, error) {
	if d.Reader == nil {
		return nil, errors.New("daemon: reader not initialized")
	}
	return d.Reader.ListReaders()
}

func (d *Daemon) pollLoop(ctx context.Context, deviceName string) {
	defer close(d.stopped)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx, deviceName)
		}
	}
}

func (d *Daemon) pollOnce(ctx context.Context, deviceName string) {
	d.mu.Lock()
	card := d.card
	d.mu.Unlock()

	if card != nil {
		if !card.Present() {
			d.handleCardRemoved(deviceName)
		}
		return
	}

	newCard, err := d.Reader.Connect(deviceName)
	if err != nil {
		return
	}

	sess := transport.NewSession(deviceName, newCard)
	d.mu.Lock()
	d.card = newCard
	d.session = sess
	d.mu.Unlock()

	atr := codec.BytesToHex(newCard.ATR())
	d.Logger.Printf("card inserted on %s: %s (%s)", deviceName, atr, codec.ParseAtr(newCard.ATR()).Summary())
	d.dispatch(reducer.CardInserted{Device: deviceName, ATR: atr})
	d.detectHandlers(ctx, deviceName, sess, atr)
}

func (d *Daemon) detectHandlers(ctx context.Context, deviceName string, sess *transport.Session, atr string) {
	cmdCtx := handler.CommandContext{Context: ctx, Sender: sess, ATR: atr}
	detected := d.Registry.DetectHandlers(cmdCtx)

	handlers := make([]model.DetectedHandler, len(detected))
	for i, det := range detected {
		handlers[i] = model.DetectedHandler{
			HandlerID:   det.HandlerID,
			Name:        det.Handler.Name(),
			CardType:    det.Result.CardType,
			Confidence:  det.Result.Confidence,
			Description: det.Result.Description,
			Metadata:    det.Result.Metadata,
			Commands:    det.Handler.Commands(),
		}
	}
	d.dispatch(reducer.HandlersDetected{Device: deviceName, Handlers: handlers})
}

func (d *Daemon) handleCardRemoved(deviceName string) {
	d.mu.Lock()
	if d.card != nil {
		_ = d.card.Close()
	}
	d.card = nil
	d.session = nil
	d.mu.Unlock()
	d.dispatch(reducer.CardRemoved{Device: deviceName})
}

func (d *Daemon) dispatch(action reducer.Action) {
	d.mu.Lock()
	d.state = reducer.Dispatch(d.state, action)
	state := d.state
	d.mu.Unlock()

	d.Bridge.BroadcastAction(fmt.Sprintf("%T", action), action)
	d.Bridge.BroadcastState(state)
}

func (d *Daemon) wireBridge() {
	d.Bridge.Handle("sendRawApdu", d.handleSendRawApdu)
	d.Bridge.Handle("executeCommand", d.handleExecuteCommand)
	d.Bridge.Handle("selectHandler", d.handleSelectHandler)
	d.Bridge.Handle("clearLog", d.handleClearLog)
}

func (d *Daemon) handleSendRawApdu(ctx context.Context, req bridge.Envelope) (any, error) {
	payload, ok := req.Payload.(map[string]any)
	if !ok {
		return nil, errors.New("sendRawApdu: payload must be an object with an \"apdu\" hex field")
	}
	hexStr, _ := payload["apdu"].(string)
	apdu, err := codec.HexToBytes(hexStr)
	if err != nil {
		return nil, fmt.Errorf("sendRawApdu: %w", err)
	}

	d.mu.Lock()
	sess := d.session
	device := d.device
	d.mu.Unlock()
	if sess == nil {
		return nil, errors.New("sendRawApdu: no active card session")
	}

	cmd, resp, err := sess.Exchange(ctx, apdu)
	if err != nil {
		return nil, fmt.Errorf("sendRawApdu: %w", err)
	}
	d.dispatch(reducer.CommandIssued{Device: device, Command: cmd})
	d.dispatch(reducer.ResponseReceived{Device: device, Response: resp})

	return map[string]any{
		"commandId": cmd.ID,
		"data":      codec.BytesToHex(resp.Data),
		"sw1":       fmt.Sprintf("%02X", resp.SW1),
		"sw2":       fmt.Sprintf("%02X", resp.SW2),
		"sw":        codec.DescribeSw(resp.SW1, resp.SW2),
	}, nil
}

func (d *Daemon) handleExecuteCommand(ctx context.Context, req bridge.Envelope) (any, error) {
	payload, ok := req.Payload.(map[string]any)
	if !ok {
		return nil, errors.New("executeCommand: payload must be an object")
	}
	handlerID, _ := payload["handlerId"].(string)
	commandID, _ := payload["commandId"].(string)
	params, _ := payload["params"].(map[string]any)

	h, ok := d.Registry.Get(handlerID)
	if !ok {
		return nil, fmt.Errorf("executeCommand: unknown handler %q", handlerID)
	}

	d.mu.Lock()
	sess := d.session
	var atr string
	if d.card != nil {
		atr = codec.BytesToHex(d.card.ATR())
	}
	d.mu.Unlock()
	if sess == nil {
		return nil, errors.New("executeCommand: no active card session")
	}

	cmdCtx := handler.CommandContext{Context: ctx, Sender: sess, ATR: atr}
	return h.Execute(cmdCtx, commandID, params)
}

func (d *Daemon) handleSelectHandler(ctx context.Context, req bridge.Envelope) (any, error) {
	payload, ok := req.Payload.(map[string]any)
	if !ok {
		return nil, errors.New("selectHandler: payload must be an object")
	}
	handlerID, _ := payload["handlerId"].(string)

	d.mu.Lock()
	device := d.device
	d.mu.Unlock()
	d.dispatch(reducer.ActiveHandlerChanged{Device: device, HandlerID: handlerID})
	return map[string]any{"handlerId": handlerID}, nil
}

func (d *Daemon) handleClearLog(ctx context.Context, req bridge.Envelope) (any, error) {
	d.mu.Lock()
	device := d.device
	d.mu.Unlock()
	d.dispatch(reducer.ClearLog{Device: device})
	return map[string]any{"cleared": true}, nil
}

func splitPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
