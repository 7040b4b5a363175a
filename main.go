package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"grimm.is/floe/cmd"
	"grimm.is/floe/internal/logging"
)

const defaultConfig = "floe.hcl"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", defaultConfig, "Configuration file")
		runFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		interactive := runFlags.Bool("interactive", false, "Attach the VM console to the terminal")
		runFlags.BoolVar(interactive, "i", false, "Interactive (short)")
		verbose := runFlags.Bool("verbose", false, "Debug logging, includes the guest console tail")
		runFlags.BoolVar(verbose, "v", false, "Verbose (short)")
		runFlags.Parse(os.Args[2:])

		if *verbose {
			logging.Default().SetLevel(logging.LevelDebug)
		}
		if err := cmd.RunRun(*configFile, *interactive); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			var rf *cmd.RunFailure
			if errors.As(err, &rf) {
				os.Exit(1)
			}
			os.Exit(2)
		}

	case "teardown":
		tdFlags := flag.NewFlagSet("teardown", flag.ExitOnError)
		configFile := tdFlags.String("config", defaultConfig, "Configuration file")
		tdFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		tdFlags.Parse(os.Args[2:])

		if err := cmd.RunTeardown(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Teardown failed: %v\n", err)
			os.Exit(2)
		}

	case "guest":
		// Runs inside the VM, usually as init.
		if err := cmd.RunGuest(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "genpkg":
		genFlags := flag.NewFlagSet("genpkg", flag.ExitOnError)
		outPath := genFlags.String("o", "build/ice.pkg", "Output path for the firmware package")
		genFlags.Parse(os.Args[2:])

		if err := cmd.RunGenPkg(*outPath); err != nil {
			fmt.Fprintf(os.Stderr, "genpkg failed: %v\n", err)
			os.Exit(2)
		}

	case "history":
		histFlags := flag.NewFlagSet("history", flag.ExitOnError)
		configFile := histFlags.String("config", defaultConfig, "Configuration file")
		histFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		limit := histFlags.Int("n", 20, "Number of runs to show")
		histFlags.Parse(os.Args[2:])

		if err := cmd.RunHistory(*configFile, *limit); err != nil {
			fmt.Fprintf(os.Stderr, "history failed: %v\n", err)
			os.Exit(2)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println(`floe - multi-port NIC emulation validation harness

Usage:
  floe run [-c config] [-i] [-v]    Provision, boot, validate, report
  floe teardown [-c config]         Remove leftover host endpoints
  floe guest                        In-VM validation suite (runs as init)
  floe genpkg [-o path]             Generate the DDP firmware package
  floe history [-c config] [-n N]   Show recent run results
  floe help                         Show this help

Exit status for run: 0 validation passed, 1 validation failed, 2 setup error.`)
}
