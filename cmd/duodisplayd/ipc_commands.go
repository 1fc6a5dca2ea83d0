package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"duodisplayd/internal/ipc"
)

const commandTimeout = 30 * time.Second

// connect dials the daemon named by the configuration at path or exits.
func connect(ctx context.Context, path, name string) *ipc.IPCClient {
	cfg := loadConfig(path)

	ccfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	ccfg.ClientName = name
	ccfg.ClientVersion = Version

	client := ipc.NewClient(ccfg)
	if err := client.Connect(ctx); err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: duodisplayd run\n", c.Dim, c.Reset)
		}
		os.Exit(1)
	}
	return client
}

func cmdStatus(args []string) {
	fs, path := newFlagSet("status")
	asJSON := fs.Bool("json", false, "print raw JSON")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	client := connect(ctx, *path, "duodisplayd-status")
	defer client.Close()

	status, err := client.Status(ctx)
	if err != nil {
		printError(fmt.Sprintf("Failed to get status: %v", err))
		os.Exit(1)
	}
	if *asJSON {
		printJSON(status)
		return
	}

	printSection("DAEMON")
	printField("Version", "%s%s%s", c.Cyan, status.Version, c.Reset)
	printField("Uptime", "%s", status.Uptime.Round(time.Second))
	printField("Started", "%s", status.StartedAt.Format(time.RFC3339))
	if status.Health != nil {
		printField("Health", "%s", statusColor(string(status.Health.Status)))
	}

	printSection("DISPLAYS")
	favorite := "panel 2"
	if status.Display1Favorite {
		favorite = "panel 1"
	}
	printField("Favorite", "%s", favorite)
	printField("Auto-rotation", "%s", onOff(status.AutoRotationEnabled))
	printField("Rotation 1", "%d°", status.Rotation1)
	printField("Rotation 2", "%d°", status.Rotation2)
	printField("Settle delay", "%s", status.SettleDelay)

	printSection("SENSORS")
	printField("Discovered", "%s", onOff(status.SensorsDiscovered))
	names := make([]string, 0, len(status.Subscriptions))
	for name := range status.Subscriptions {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		printField(name, "%s", statusColor(status.Subscriptions[name]))
	}

	if status.Last != nil {
		printSection("LAST TRANSACTION")
		printTransaction(status.Last)
	}
	if status.LastError != "" {
		fmt.Println()
		printWarning("Last transaction failed: " + status.LastError)
	}

	if status.Health != nil && len(status.Health.Components) > 0 {
		printSection("HEALTH")
		components := make([]string, 0, len(status.Health.Components))
		for name := range status.Health.Components {
			components = append(components, name)
		}
		slices.Sort(components)
		for _, name := range components {
			res := status.Health.Components[name]
			line := statusColor(string(res.Status))
			if res.Message != "" {
				line += "  " + c.Dim + res.Message + c.Reset
			}
			printField(name, "%s", line)
		}
	}
	fmt.Println()
}

func printTransaction(t *ipc.TransactionInfo) {
	printField("ID", "%s", t.ID)
	printField("Started", "%s", t.Started.Format(time.RFC3339))
	printField("Duration", "%s", t.Duration.Round(time.Millisecond))
	printField("Panel 1", "%s %d°", onOff(t.Enabled1), t.Rotation1)
	printField("Panel 2", "%s %d°", onOff(t.Enabled2), t.Rotation2)
	if t.Primary != "" {
		printField("Primary", "%s", t.Primary)
	}
	if t.Shortcut {
		printField("Path", "legacy shortcut")
	}
	for _, f := range t.SoftFailures {
		printField("Soft failure", "%s%s%s", c.Yellow, f, c.Reset)
	}
}

func cmdToggle(args []string) {
	runTransaction(args, "toggle", (*ipc.IPCClient).ToggleFavorite, "Favorite panel toggled")
}

func cmdReapply(args []string) {
	runTransaction(args, "reapply", (*ipc.IPCClient).Reapply, "Posture re-applied")
}

func runTransaction(args []string, name string,
	call func(*ipc.IPCClient, context.Context) (*ipc.TransactionResponse, error), done string) {
	fs, path := newFlagSet(name)
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	client := connect(ctx, *path, "duodisplayd-"+name)
	defer client.Close()

	resp, err := call(client, ctx)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	if !resp.Success {
		printError(resp.Error)
		if resp.Transaction != nil {
			printTransaction(resp.Transaction)
		}
		os.Exit(1)
	}
	printSuccess(done)
	if resp.Transaction != nil {
		printTransaction(resp.Transaction)
	}
}

func cmdHistory(args []string) {
	fs, path := newFlagSet("history")
	limit := fs.Int("n", 20, "number of entries")
	asJSON := fs.Bool("json", false, "print raw JSON")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	client := connect(ctx, *path, "duodisplayd-history")
	defer client.Close()

	resp, err := client.History(ctx, *limit)
	if err != nil {
		printError(fmt.Sprintf("Failed to get history: %v", err))
		os.Exit(1)
	}
	if *asJSON {
		printJSON(resp)
		return
	}

	printSection(fmt.Sprintf("TRANSACTIONS (%d of %d)", len(resp.Entries), resp.Total))
	if len(resp.Entries) == 0 {
		fmt.Printf("  %sNo transactions recorded%s\n", c.Dim, c.Reset)
	}
	for _, e := range resp.Entries {
		fmt.Printf("  %s%s%s  %-12s  P1 %s %3d°  P2 %s %3d°  %s%s%s\n",
			c.Dim, e.Started.Format("2006-01-02 15:04:05"), c.Reset,
			statusColor(e.Outcome),
			onOff(e.Enabled1), e.Rotation1.Degrees(),
			onOff(e.Enabled2), e.Rotation2.Degrees(),
			c.Dim, e.Duration.Round(time.Millisecond), c.Reset)
		if e.Error != "" {
			fmt.Printf("      %s%s%s\n", c.Red, e.Error, c.Reset)
		}
		for _, f := range e.SoftFailures {
			fmt.Printf("      %s%s%s\n", c.Yellow, f, c.Reset)
		}
	}
	fmt.Println()
}

func cmdMetrics(args []string) {
	fs, path := newFlagSet("metrics")
	prom := fs.Bool("prom", false, "print Prometheus text format")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	client := connect(ctx, *path, "duodisplayd-metrics")
	defer client.Close()

	resp, err := client.Metrics(ctx)
	if err != nil {
		printError(fmt.Sprintf("Failed to get metrics: %v", err))
		os.Exit(1)
	}
	if *prom {
		fmt.Print(resp.Prometheus)
		return
	}

	printSection("METRICS")
	names := make([]string, 0, len(resp.Values))
	for name := range resp.Values {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Printf("  %s%-48s%s %g\n", c.Dim, name, c.Reset, resp.Values[name])
	}
	fmt.Println()
}

// bridgeLine is one line of bridge input.
type bridgeLine struct {
	Posture *ipc.PosturePush `json:"posture,omitempty"`
	Flip    *ipc.FlipPush    `json:"flip,omitempty"`
}

// cmdBridge announces both sensors and forwards readings read from stdin.
func cmdBridge(args []string) {
	fs, path := newFlagSet("bridge")
	name := fs.String("name", "stdin", "bridge name reported to the daemon")
	fs.Parse(args)

	ctx := context.Background()
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	client := connect(cctx, *path, "duodisplayd-bridge")
	cancel()
	defer client.Close()

	ack, err := client.BridgeHello(ctx, ipc.BridgeHello{Name: *name, Posture: true, Flip: true})
	if err != nil {
		printError(fmt.Sprintf("Bridge rejected: %v", err))
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "bridge connected (sensors discovered: %t)\n", ack.Discovered)

	scanner := bufio.NewScanner(os.Stdin)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var line bridgeLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			printError(fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		if err := pushLine(ctx, client, line); err != nil {
			var remote *ipc.RemoteError
			if errors.As(err, &remote) {
				printError(fmt.Sprintf("line %d: %v", lineNo, err))
				continue
			}
			printError(err.Error())
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		printError(fmt.Sprintf("read stdin: %v", err))
		os.Exit(1)
	}
}

func pushLine(ctx context.Context, client *ipc.IPCClient, line bridgeLine) error {
	switch {
	case line.Posture != nil:
		return client.PushPosture(ctx, *line.Posture)
	case line.Flip != nil:
		return client.PushFlip(ctx, *line.Flip)
	default:
		return &ipc.RemoteError{Code: ipc.ErrInvalidRequest, Message: "expected a posture or flip object"}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
