package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/drake-forum/technoshield/bootstrap"
	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/pipeline"

	"github.com/fatih/color"
)

// renderAlertsTable displays alerts in a formatted table
func renderAlertsTable(w io.Writer, alerts []core.Alert) {
	if len(alerts) == 0 {
		printf(w, warningColor, "No alerts\n")
		return
	}

	_, _ = headerColor.Fprintln(w, "ALERTS")
	_, _ = headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-10s %-10s %-24s %-16s %-8s %-20s %s\n",
		"ID", "Severity", "Category", "Source IP", "Events", "Created", "Title")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, a := range alerts {
		shortID := a.AlertID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		ip := a.SourceIP
		if ip == "" {
			ip = core.UnknownSource
		}
		title := a.Title
		if len(title) > 48 {
			title = title[:45] + "..."
		}
		// pad before coloring so escape codes do not break alignment
		severity := formatSeverity(a.Severity, fmt.Sprintf("%-10s", a.Severity))
		fmt.Fprintf(w, "%-10s %s %-24s %-16s %-8d %-20s %s\n",
			shortID, severity, a.EventType, ip, len(a.RelatedEvents), formatTime(a.CreatedAt), title)
	}

	_, _ = headerColor.Fprintln(w, strings.Repeat("=", 110))
}

// renderAlertDetails displays one alert with its related events and details
func renderAlertDetails(w io.Writer, a *core.Alert) {
	_, _ = headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	_, _ = headerColor.Fprintf(w, "  Alert: %s\n", a.Title)
	_, _ = headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	printSection(w, "Summary")
	printField(w, "ID", a.AlertID)
	printField(w, "Category", string(a.EventType))
	printField(w, "Severity", formatSeverity(a.Severity, string(a.Severity)))
	printField(w, "Status", string(a.Status))
	printField(w, "Source IP", a.SourceIP)
	printField(w, "Destination IP", a.DestinationIP)
	printField(w, "Created", formatTime(a.CreatedAt))
	printField(w, "Description", a.Description)
	fmt.Fprintln(w)

	printSection(w, "Related Events")
	for _, id := range a.RelatedEvents {
		fmt.Fprintf(w, "  - %s\n", id)
	}

	if len(a.Details) > 0 {
		fmt.Fprintln(w)
		printSection(w, "Details")
		keys := make([]string, 0, len(a.Details))
		for k := range a.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printField(w, k, core.Stringify(a.Details[k]))
		}
	}
}

// renderRunSummary prints the counters of a pipeline run
func renderRunSummary(w io.Writer, res pipeline.RunResult) {
	if quiet {
		return
	}
	printSection(w, "Run")
	printField(w, "Status", formatStatus(res.Status))
	printField(w, "Records", fmt.Sprintf("%d", res.Stats.RecordsIn))
	printField(w, "Events", fmt.Sprintf("%d", res.Stats.EventsNormalized))
	printField(w, "Skipped", fmt.Sprintf("%d", res.Stats.RecordsFailed))
	printField(w, "Candidate alerts", fmt.Sprintf("%d", res.Stats.CandidateAlerts))
	printField(w, "Unique alerts", fmt.Sprintf("%d", res.Stats.UniqueAlerts))
	if len(res.Stats.DetectorErrors) > 0 {
		printField(w, "Failed detectors", strings.Join(res.Stats.DetectorErrors, ", "))
	}
	printField(w, "Duration", res.Stats.Duration.Round(time.Millisecond).String())
	fmt.Fprintln(w)
}

// renderCycleReport prints the outcome of one collect, detect and store cycle
func renderCycleReport(w io.Writer, r bootstrap.CycleReport) {
	if quiet {
		return
	}
	printSection(w, "Cycle")
	printField(w, "Status", formatStatus(r.Status))
	printField(w, "Sources", fmt.Sprintf("%d (%d failed)", r.Sources, r.SourcesFailed))
	printField(w, "Records collected", fmt.Sprintf("%d", r.RecordsCollected))
	printField(w, "Events normalized", fmt.Sprintf("%d", r.EventsNormalized))
	printField(w, "Events stored", fmt.Sprintf("%d", r.EventsStored))
	printField(w, "Alerts detected", fmt.Sprintf("%d", r.AlertsDetected))
	printField(w, "Alerts suppressed", fmt.Sprintf("%d", r.AlertsSuppressed))
	printField(w, "Alerts stored", fmt.Sprintf("%d", r.AlertsStored))
	printField(w, "Duration", r.Duration.Round(time.Millisecond).String())
	fmt.Fprintln(w)
}

func printSection(w io.Writer, title string) {
	_, _ = headerColor.Fprintf(w, "  %s\n", title)
	_, _ = headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

// formatSeverity colors text by severity
func formatSeverity(s core.Severity, text string) string {
	switch s {
	case core.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(text)
	case core.SeverityHigh:
		return color.New(color.FgRed).Sprint(text)
	case core.SeverityMedium:
		return color.New(color.FgYellow).Sprint(text)
	case core.SeverityLow:
		return color.New(color.FgCyan).Sprint(text)
	default:
		return text
	}
}

// formatStatus returns a colored run status
func formatStatus(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSuccess:
		return color.New(color.FgGreen).Sprint(string(s))
	case pipeline.StatusDegraded:
		return color.New(color.FgYellow).Sprint(string(s))
	case pipeline.StatusFailed:
		return color.New(color.FgRed).Sprint(string(s))
	default:
		return string(s)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
