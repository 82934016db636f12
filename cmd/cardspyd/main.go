// Command cardspyd runs the card spy daemon: a PC/SC reader driver, the
// handler registry, the reducer, and the websocket bridge, either under a
// system tray icon (the default) or as a plain foreground process
// (-cli), matching the teacher's systray-by-default/-cli-opt-out split in
// main.go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomkp/card-spy-core/buildinfo"
	"github.com/tomkp/card-spy-core/daemon"
	"github.com/tomkp/card-spy-core/trayapp"
)

func main() {
	var (
		deviceFlag    string
		addrFlag      string
		advertiseFlag string
		cliFlag       bool
		versionFlag   bool
	)

	flag.StringVar(&deviceFlag, "device", "", "PC/SC reader name to use (default: first reader found)")
	flag.StringVar(&addrFlag, "addr", ":8420", "address for the websocket bridge to listen on")
	flag.StringVar(&advertiseFlag, "advertise", "", "mDNS instance name to advertise the bridge as (empty disables advertisement)")
	flag.BoolVar(&cliFlag, "cli", false, "run in the foreground without a system tray icon")
	flag.BoolVar(&versionFlag, "version", false, "print version information and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	d := daemon.New(daemon.Config{Addr: addrFlag, AdvertiseName: advertiseFlag})

	if cliFlag {
		if err := d.Start(deviceFlag); err != nil {
			log.Fatalf("cardspyd: %v", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("cardspyd: shutdown signal received, stopping...")
		d.Stop()
		return
	}

	app := trayapp.New(d, deviceFlag)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		d.Stop()
		os.Exit(0)
	}()

	app.Run()
}
