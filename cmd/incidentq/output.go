package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/incidentq/internal/pending"
	"github.com/kalambet/incidentq/internal/syncer"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// writePending prints the pending list, one report per line.
func writePending(w io.Writer, v pending.View) {
	if len(v.Rows) == 0 {
		fmt.Fprintln(w, v.Empty)
		return
	}
	for _, r := range v.Rows {
		line := fmt.Sprintf("#%-4d %s", r.ID, r.Label)
		if r.Attachment != "" {
			line += "  " + colorize(colorCyan, r.Attachment)
		}
		fmt.Fprintln(w, line)
	}
}

// reportLine summarises a sync run for the terminal.
func reportLine(rep syncer.Report) string {
	switch rep.Result {
	case syncer.ResultEmpty:
		return pending.EmptyText
	case syncer.ResultComplete:
		return fmt.Sprintf("%s Delivered %d report(s).", rep.Message, rep.Delivered)
	case syncer.ResultHalted, syncer.ResultStorageFault:
		return fmt.Sprintf("%s Delivered %d, %d still pending.", rep.Message, rep.Delivered, rep.Remaining)
	default:
		return rep.Message
	}
}
