// Package trayapp is the system tray status-icon front end for cmd/cardspyd:
// it shows whether the daemon is running, which reader is active, what card
// (if any) is present, and lets the user switch readers or quit, all backed
// by fyne.io/systray.
//
// Adapted from the teacher's SystrayApp (systray.go): the same menu layout
// (status, device list, card info, quit) and the same auto-start-on-ready,
// poll-card-info-on-a-ticker, forward-menu-clicks-through-a-select-loop
// shape, generalized from the teacher's UID/tag-type display to this core's
// ATR/active-handler display and from a single nfc.NFCReader to a
// daemon.Daemon.
package trayapp

import (
	"fmt"
	"log"
	"time"

	"fyne.io/systray"

	"github.com/tomkp/card-spy-core/daemon"
)

// App manages the system tray interface for the card spy daemon.
type App struct {
	Daemon *daemon.Daemon

	initialDevice string

	mStatus     *systray.MenuItem
	mCardATR    *systray.MenuItem
	mHandler    *systray.MenuItem
	mStart      *systray.MenuItem
	mStop       *systray.MenuItem
	mDeviceMenu *systray.MenuItem

	deviceMenuItems map[string]*systray.MenuItem
}

// New builds a tray app around an already-constructed Daemon. initialDevice
// may be empty, in which case the daemon auto-selects the first reader.
func New(d *daemon.Daemon, initialDevice string) *App {
	return &App{
		Daemon:          d,
		initialDevice:   initialDevice,
		deviceMenuItems: make(map[string]*systray.MenuItem),
	}
}

// Run blocks, driving the systray event loop until Quit is chosen.
func (a *App) Run() {
	systray.Run(a.onReady, a.onExit)
}

func (a *App) onReady() {
	a.setupUI()
	a.autoStart()
	a.startCardInfoUpdater()
}

func (a *App) onExit() {
	a.Daemon.Stop()
}

func (a *App) setupUI() {
	systray.SetTitle("Card Spy")
	systray.SetTooltip("Card Spy reader agent")

	a.mStatus = systray.AddMenuItem("Starting...", "Daemon status")
	a.mStatus.Disable()

	systray.AddSeparator()

	a.mCardATR = systray.AddMenuItem("Card: None", "Current card ATR")
	a.mCardATR.Disable()

	a.mHandler = systray.AddMenuItem("Handler: None", "Active handler")
	a.mHandler.Disable()

	systray.AddSeparator()

	a.mDeviceMenu = systray.AddMenuItem("Device", "Select a reader")
	mRefreshDevices := a.mDeviceMenu.AddSubMenuItem("Refresh Devices", "Refresh reader list")

	systray.AddSeparator()

	a.mStart = systray.AddMenuItem("Start", "Start the daemon")
	a.mStop = systray.AddMenuItem("Stop", "Stop the daemon")
	a.mStart.Disable()
	a.mStop.Disable()

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	go a.handleMenuEvents(mRefreshDevices, mQuit)
}

func (a *App) autoStart() {
	go func() {
		if err := a.Daemon.Start(a.initialDevice); err == nil {
			a.updateStatus("Running")
			a.mStop.Enable()
		} else {
			log.Printf("[trayapp] failed to start daemon: %v", err)
			a.updateStatus("Failed to Start")
			a.mStart.Enable()
		}
		a.updateDeviceList()
	}()
}

func (a *App) startCardInfoUpdater() {
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		lastATR := ""
		lastHandler := ""

		for range ticker.C {
			state := a.Daemon.State()
			device := a.Daemon.Device()
			if device == "" {
				continue
			}

			atr := ""
			if card, ok := state.Cards[device]; ok {
				atr = card.ATR
			}
			if atr != lastATR {
				a.updateCardATR(atr)
				lastATR = atr
			}

			handlerName := ""
			for _, h := range state.Handlers[device] {
				if h.HandlerID == state.ActiveHandlerID {
					handlerName = h.Name
					break
				}
			}
			if handlerName != lastHandler {
				a.updateHandler(handlerName)
				lastHandler = handlerName
			}
		}
	}()
}

func (a *App) handleMenuEvents(mRefreshDevices, mQuit *systray.MenuItem) {
	for {
		select {
		case <-a.mStart.ClickedCh:
			a.handleStart()
		case <-a.mStop.ClickedCh:
			a.handleStop()
		case <-mRefreshDevices.ClickedCh:
			a.updateDeviceList()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}

		a.handleDeviceSelection()
	}
}

func (a *App) handleStart() {
	if err := a.Daemon.Start(a.Daemon.Device()); err == nil {
		a.updateStatus("Running")
		a.mStart.Disable()
		a.mStop.Enable()
	} else {
		a.updateStatus("Failed to Start")
	}
}

func (a *App) handleStop() {
	a.Daemon.Stop()
	a.updateStatus("Stopped")
	a.updateCardATR("")
	a.updateHandler("")
	a.mStop.Disable()
	a.mStart.Enable()
}

func (a *App) handleDeviceSelection() {
	for deviceName, menuItem := range a.deviceMenuItems {
		select {
		case <-menuItem.ClickedCh:
			if a.Daemon.Device() != deviceName {
				a.switchDevice(deviceName, menuItem)
			}
		default:
		}
	}
}

func (a *App) switchDevice(deviceName string, menuItem *systray.MenuItem) {
	for _, item := range a.deviceMenuItems {
		item.Uncheck()
	}
	menuItem.Check()

	a.Daemon.Stop()
	if err := a.Daemon.Start(deviceName); err == nil {
		a.updateStatus("Running")
		a.mStop.Enable()
		a.mStart.Disable()
	} else {
		a.updateStatus("Failed to Start")
		a.mStart.Enable()
		a.mStop.Disable()
	}
}

func (a *App) updateDeviceList() {
	for _, item := range a.deviceMenuItems {
		item.Hide()
	}
	a.deviceMenuItems = make(map[string]*systray.MenuItem)

	names, err := a.Daemon.ListDevices()
	if err != nil {
		log.Printf("[trayapp] error listing devices: %v", err)
		return
	}

	current := a.Daemon.Device()
	for _, deviceName := range names {
		isChecked := current == deviceName
		item := a.mDeviceMenu.AddSubMenuItemCheckbox(deviceName, "Select this reader", isChecked)
		a.deviceMenuItems[deviceName] = item
	}
}

func (a *App) updateStatus(status string) {
	a.mStatus.SetTitle(status)
}

func (a *App) updateCardATR(atr string) {
	if atr == "" {
		a.mCardATR.SetTitle("Card: None")
	} else {
		a.mCardATR.SetTitle(fmt.Sprintf("Card: %s", atr))
	}
}

func (a *App) updateHandler(name string) {
	if name == "" {
		a.mHandler.SetTitle("Handler: None")
	} else {
		a.mHandler.SetTitle(fmt.Sprintf("Handler: %s", name))
	}
}
