// shieldctl is the control CLI for shieldd.
package main

import (
	"flag"
	"fmt"
	"os"

	"shieldd/internal/config"
	"shieldd/internal/ipc"
)

var (
	socketPath = flag.String("socket", "", "path to the shieldd control socket")
	jsonOut    = flag.Bool("json", false, "print raw JSON responses")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	client := ipc.NewClient(socket())
	defer client.Close()

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(client)
	case "activate":
		err = cmdActivate(client, args)
	case "test":
		err = cmdTest(client)
	case "override":
		err = cmdOverride(client)
	case "stop":
		err = cmdStop(client)
	case "attempt":
		err = cmdAttempt(client, args)
	case "check":
		err = cmdCheck(client, args)
	case "history":
		err = cmdHistory(client)
	case "policy":
		err = cmdPolicy(client, args)
	case "schedule":
		err = cmdSchedule(client, args)
	case "reload":
		_, err = client.Call(ipc.MsgReload, nil)
		if err == nil {
			fmt.Println("configuration reloaded")
		}
	case "ping":
		err = client.Ping()
		if err == nil {
			fmt.Println("shieldd is running")
		}
	case "shutdown":
		_, err = client.Call(ipc.MsgShutdown, nil)
		if err == nil {
			fmt.Println("shutdown requested")
		}
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func socket() string {
	if *socketPath != "" {
		return *socketPath
	}
	return config.DefaultConfig().IPC.SocketPath
}

func usage() {
	fmt.Fprintln(os.Stderr, `shieldctl - Control utility for shieldd

Usage: shieldctl [options] <command> [args]

Commands:
  status                     Show protection status
  activate [duration]        Start a protection session (e.g. 4h, 90m;
                             omit to use the policy default)
  test                       Take the sobriety test to end the session
  override                   End the session via emergency override
  stop                       End the session without a test (if allowed)
  attempt <type> <name> <id> Record a blocked access attempt
  check <app|contact> <id>   Ask whether a target is currently blocked
  history                    Show completed sessions
  policy show                Show the active policy
  policy set <file.json>     Replace the policy from a JSON file
  schedule list              List recurring schedules
  schedule set <file.json>   Replace schedules from a JSON file
  reload                     Re-read the daemon configuration file
  ping                       Check the daemon is running
  shutdown                   Ask the daemon to exit
  help                       Show this help message

Options:
  -socket <path>  Control socket path (default: XDG runtime dir)
  -json           Print raw JSON responses`)
}
