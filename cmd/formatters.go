package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"vigilanteye/core"
)

// renderEventsTable displays events in a formatted table
func renderEventsTable(w io.Writer, events []core.Event) {
	if len(events) == 0 {
		warningColor.Fprintln(w, "No events stored")
		return
	}

	headerColor.Fprintln(w, "EVENTS")
	headerColor.Fprintln(w, strings.Repeat("=", 120))
	fmt.Fprintf(w, "%-8s %-20s %-20s %-16s %-12s %s\n",
		"ID", "Received", "Source", "IP", "User", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, ev := range events {
		fmt.Fprintf(w, "%-8d %-20s %-20s %-16s %-12s %s\n",
			ev.ID, formatTime(ev.ReceivedAt), truncate(ev.Source, 20), orDash(ev.IPAddress),
			truncate(orDash(ev.Username), 12), truncate(ev.Message, 38))
	}

	fmt.Fprintln(w, strings.Repeat("=", 120))
}

// renderAlertsTable displays alerts in a formatted table
func renderAlertsTable(w io.Writer, alerts []core.Alert) {
	if len(alerts) == 0 {
		warningColor.Fprintln(w, "No alerts raised")
		return
	}

	headerColor.Fprintln(w, "ALERTS")
	headerColor.Fprintln(w, strings.Repeat("=", 120))
	fmt.Fprintf(w, "%-8s %-8s %-20s %-35s %-8s %s\n",
		"ID", "Event", "Created", "Rule", "Priority", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, a := range alerts {
		fmt.Fprintf(w, "%-8d %-8d %-20s %-35s %-8s %s\n",
			a.ID, a.LogID, formatTime(a.CreatedAt), truncate(a.RuleName, 35),
			formatPriority(a.Priority), truncate(a.Message, 35))
	}

	fmt.Fprintln(w, strings.Repeat("=", 120))
}

// renderTrainResult prints the outcome of a training request
func renderTrainResult(w io.Writer, r trainResult) {
	if r.Trained {
		successColor.Fprintf(w, "✓ %s\n", r.Status)
		infoColor.Fprintf(w, "  Samples: %d\n", r.Samples)
		return
	}
	warningColor.Fprintf(w, "! %s\n", r.Status)
	if r.Samples > 0 {
		infoColor.Fprintf(w, "  Samples: %d\n", r.Samples)
	}
}

// formatPriority pads before coloring so the table stays aligned
func formatPriority(p int) string {
	s := fmt.Sprintf("%-8d", p)
	switch {
	case p >= 9:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case p >= 7:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return s
	}
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
