// Package main implements the monitorctl CLI tool.
//
// monitorctl exercises and inspects the objmonitor two-tier thin/fat lock
// subsystem from the command line:
//
//	monitorctl demo     # run a synthetic multi-goroutine workload
//	monitorctl watch    # live TUI showing contended monitors as they occur
//
// This is the CLI entry point for the standalone tool.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "demo":
		demoCommand(os.Args[2:])
	case "watch":
		watchCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("monitorctl version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`monitorctl - objmonitor workload driver and inspector

USAGE:
    monitorctl <command> [arguments]

COMMANDS:
    demo       Run a synthetic workload exercising thin locks, inflation,
               contention, and interrupted waits
    watch      Live TUI showing contended monitors as they occur
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Run the synthetic workload and print a summary
    monitorctl demo

    # Watch contention live while the demo workload runs
    monitorctl watch

ABOUT:
    monitorctl drives the objmonitor package, a per-object two-tier
    (thin/fat) lock and wait/notify subsystem modeled on a managed runtime's
    monitor implementation, reimplemented as a standalone Go library.

FOR MORE INFORMATION:
    Repository: https://github.com/kolkov/objmonitor
    Issues: https://github.com/kolkov/objmonitor/issues

`)
}
