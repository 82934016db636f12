// Command cardspy-repl is a line-oriented stdin REPL over the same daemon
// core cardspyd runs, for scripting and manual APDU probing without a
// websocket client. Each bridge message type (sendRawApdu, executeCommand,
// selectHandler, clearLog) is exposed as a REPL command via
// bridge.Server.Invoke, per spec.md §6's sendRawApdu REPL requirement.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tomkp/card-spy-core/bridge"
	"github.com/tomkp/card-spy-core/daemon"
)

func main() {
	var (
		deviceFlag string
		addrFlag   string
	)
	flag.StringVar(&deviceFlag, "device", "", "PC/SC reader name to use (default: first reader found)")
	flag.StringVar(&addrFlag, "addr", ":8421", "address for the websocket bridge to listen on")
	flag.Parse()

	d := daemon.New(daemon.Config{Addr: addrFlag})
	if err := d.Start(deviceFlag); err != nil {
		fmt.Fprintf(os.Stderr, "cardspy-repl: %v\n", err)
		os.Exit(1)
	}
	defer d.Stop()

	fmt.Println("cardspy-repl ready. Commands: devices, start [device], stop, send <hex>, exec <handlerId> <commandId> [json-params], select <handlerId>, clear, state, quit")

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "quit", "exit":
			return
		case "devices":
			names, err := d.ListDevices()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(strings.Join(names, ", "))
		case "start":
			device := ""
			if len(args) > 0 {
				device = args[0]
			}
			if err := d.Start(device); err != nil {
				fmt.Println("error:", err)
			}
		case "stop":
			d.Stop()
		case "state":
			printJSON(d.State())
		case "send":
			if len(args) != 1 {
				fmt.Println("usage: send <hex apdu>")
				continue
			}
			invoke(ctx, d.Bridge, "sendRawApdu", map[string]any{"apdu": args[0]})
		case "exec":
			if len(args) < 2 {
				fmt.Println("usage: exec <handlerId> <commandId> [json-params]")
				continue
			}
			params := map[string]any{}
			if len(args) > 2 {
				raw := strings.Join(args[2:], " ")
				if err := json.Unmarshal([]byte(raw), &params); err != nil {
					fmt.Println("error: params must be a JSON object:", err)
					continue
				}
			}
			invoke(ctx, d.Bridge, "executeCommand", map[string]any{
				"handlerId": args[0],
				"commandId": args[1],
				"params":    params,
			})
		case "select":
			if len(args) != 1 {
				fmt.Println("usage: select <handlerId>")
				continue
			}
			invoke(ctx, d.Bridge, "selectHandler", map[string]any{"handlerId": args[0]})
		case "clear":
			invoke(ctx, d.Bridge, "clearLog", nil)
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func invoke(ctx context.Context, b *bridge.Server, messageType string, payload any) {
	result, err := b.Invoke(ctx, bridge.Envelope{Type: messageType, Payload: payload})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printJSON(result)
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(string(b))
}
