// shieldd - Protection session daemon
//
// shieldd maintains self-declared protection sessions: time-boxed
// intervals during which chosen applications and contacts are blocked.
// Sessions end when their timer expires, or early through a sobriety
// challenge or an emergency override.
//
//	shieldd run       Run the daemon in the foreground
//	shieldd daemon    Run the daemon in the background
//	shieldd status    Show a snapshot of the running daemon
//	shieldd version   Print the version
package main

import (
	"flag"
	"fmt"
	"os"

	"shieldd/internal/ipc"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:], false)
	case "daemon":
		cmdRun(os.Args[2:], true)
	case "status":
		cmdStatus(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Println("shieldd", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`shieldd - Protection Session Daemon

USAGE:
    shieldd <command> [options]

COMMANDS:
    run         Run the daemon in the foreground
    daemon      Run the daemon in the background
    status      Show a snapshot of the running daemon
    version     Print the version
    help        Show this help message

OPTIONS:
    -config <path>    Configuration file (default: XDG config dir)
    -socket <path>    Control socket path override

Use shieldctl to control a running daemon: activate sessions, record
blocked attempts, take the sobriety test, and manage policy and
schedules.`)
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socketPath := fs.String("socket", "", "control socket path")
	fs.Parse(args)

	path := *socketPath
	if path == "" {
		path = defaultSocketPath()
	}

	client := ipc.NewClient(path)
	defer client.Close()

	resp, err := client.Call(ipc.MsgStatusRequest, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shieldd is not running: %v\n", err)
		os.Exit(1)
	}

	var status ipc.StatusPayload
	if err := resp.Unmarshal(&status); err != nil {
		fmt.Fprintf(os.Stderr, "bad status response: %v\n", err)
		os.Exit(1)
	}
	printStatus(status)
}
