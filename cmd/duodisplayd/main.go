// duodisplayd - posture-driven display orchestration for dual-screen devices
//
// The daemon keeps both panels of a hinged device configured for the way it
// is held: which panels are lit, how each is rotated and where each sits on
// the desktop.
//
//	duodisplayd run          Run the daemon in the foreground
//	duodisplayd status       Show daemon status
//	duodisplayd toggle       Swap the single-screen favorite panel
//	duodisplayd reapply      Re-apply the current posture
//	duodisplayd history      Show recent display transactions
//	duodisplayd bridge       Forward sensor readings from stdin
package main

import (
	"flag"
	"fmt"
	"os"

	"duodisplayd/internal/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if runAsService() {
		return
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "run":
		cmdRun(args)
	case "status":
		cmdStatus(args)
	case "toggle":
		cmdToggle(args)
	case "reapply":
		cmdReapply(args)
	case "history":
		cmdHistory(args)
	case "metrics":
		cmdMetrics(args)
	case "bridge":
		cmdBridge(args)
	case "init-config":
		cmdInitConfig(args)
	case "version", "-v", "--version":
		fmt.Printf("duodisplayd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`duodisplayd - Posture-Driven Display Orchestration

USAGE:
    duodisplayd <command> [options]

COMMANDS:
    run                 Run the daemon in the foreground
    status              Show daemon, sensor and panel status
    toggle              Swap the panel kept on while folded
    reapply             Re-apply the current posture now
    history [-n N]      Show the newest display transactions
    metrics [-prom]     Show daemon metrics
    bridge              Forward JSON sensor readings from stdin to the daemon
    init-config         Write the default configuration file
    version             Show version
    help                Show this help message

OPTIONS:
    -config <path>      Configuration file (default: ` + config.ConfigPath() + `)

BRIDGE INPUT:
    One JSON object per line, either
        {"posture": {"panel1_orientation": "not_rotated",
                     "panel2_orientation": "not_rotated", "hinge": "not_full"}}
    or
        {"flip": {"state": "started"}}

ENVIRONMENT:
    DUODISPLAYD_CONFIG        Configuration file
    DUODISPLAYD_LOG_LEVEL     Overrides logging.level
    NO_COLOR                  Disables colored output`)
}

// newFlagSet returns a flag set carrying the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", config.ConfigPath(), "configuration file")
	return fs, path
}

// loadConfig loads the configuration at path or exits.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Invalid configuration: %v", err))
		os.Exit(1)
	}
	return cfg
}

func cmdInitConfig(args []string) {
	fs, path := newFlagSet("init-config")
	force := fs.Bool("force", false, "overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		printError(fmt.Sprintf("%s already exists (use -force to overwrite)", *path))
		os.Exit(1)
	}
	if err := config.Save(config.DefaultConfig(), *path); err != nil {
		printError(fmt.Sprintf("Failed to write configuration: %v", err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Configuration written to %s", *path))
}
