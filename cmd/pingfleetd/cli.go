package main

import (
	"fmt"
	"os"

	"pingfleet/server/internal/history"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("pingfleetd %s\n", Version)
		return true
	case "recordings":
		return cliRecordings(args[1:], dbPath)
	default:
		return false
	}
}

// cliRecordings prints the most recent recording-history ledger entries,
// or every entry for one device when an id is given.
func cliRecordings(args []string, dbPath string) bool {
	hist, err := history.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening history database: %v\n", err)
		os.Exit(1)
	}
	defer hist.Close()

	if len(args) > 0 && args[0] != "list" {
		events, err := hist.ForDevice(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		printEvents(events)
		return true
	}

	events, err := hist.Recent(50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	printEvents(events)
	return true
}

func printEvents(events []history.Event) {
	if len(events) == 0 {
		fmt.Println("No recording history found.")
		return
	}
	for _, e := range events {
		fmt.Printf("%s  %-6s device=%s  %s\n", e.OccurredAt.Format("2006-01-02 15:04:05"), e.Kind, e.DeviceID, e.FilePath)
	}
}
