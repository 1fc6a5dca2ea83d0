package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// palette holds ANSI escapes. All fields are empty when color is off.
type palette struct {
	Reset, Bold, Dim               string
	Red, Green, Yellow, Blue, Cyan string
}

var c = newPalette()

func newPalette() palette {
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		return palette{}
	}
	return palette{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Blue:   "\033[34m",
		Cyan:   "\033[36m",
	}
}

func printSection(title string) {
	fmt.Println()
	fmt.Printf("%s%s%s\n", c.Bold, title, c.Reset)
	fmt.Printf("%s%s%s\n", c.Dim, strings.Repeat("─", len(title)), c.Reset)
}

func printField(name string, format string, args ...any) {
	fmt.Printf("  %s%-16s%s %s\n", c.Dim, name, c.Reset, fmt.Sprintf(format, args...))
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sError:%s %s\n", c.Bold, c.Red, c.Reset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s✓%s %s\n", c.Green, c.Reset, msg)
}

func printWarning(msg string) {
	fmt.Printf("%s!%s %s\n", c.Yellow, c.Reset, msg)
}

// onOff renders a boolean as a colored ON or OFF.
func onOff(b bool) string {
	if b {
		return c.Green + "ON" + c.Reset
	}
	return c.Yellow + "OFF" + c.Reset
}

// statusColor colors a health or subscription state word.
func statusColor(s string) string {
	switch s {
	case "healthy", "subscribed", "applied":
		return c.Green + s + c.Reset
	case "degraded", "unknown", "soft_failure":
		return c.Yellow + s + c.Reset
	case "unhealthy", "failed":
		return c.Red + s + c.Reset
	default:
		return s
	}
}
