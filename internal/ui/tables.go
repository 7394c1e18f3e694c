package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/plugin"
	pluginsync "github.com/NindroidA/pluginator/internal/sync"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// ParseFormat validates an --output value. Empty means table.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", errors.Newf("unknown output format %q (want table or json)", s)
	}
}

// resultJSON adds the error text that plugin.Result leaves out of JSON.
type resultJSON struct {
	plugin.Result
	Error    string `json:"error,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type reconcileJSON struct {
	pluginsync.ReconcileResult
	Error string `json:"error,omitempty"`
}

type summaryJSON struct {
	Results        []resultJSON          `json:"results"`
	Reconciliation []reconcileJSON       `json:"reconciliation,omitempty"`
	Counts         map[plugin.Status]int `json:"counts"`
	Started        time.Time             `json:"started"`
	Finished       time.Time             `json:"finished"`
	DryRun         bool                  `json:"dry_run,omitempty"`
	Cancelled      bool                  `json:"cancelled,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
}

// RenderSummary writes the outcome of a sync cycle.
func RenderSummary(w io.Writer, sum *pluginsync.Summary, format string) error {
	if format == FormatJSON {
		return renderSummaryJSON(w, sum)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "PLUGIN\tSOURCE\tSTATUS\tINSTALLED\tLATEST\tDETAIL"); err != nil {
		return err
	}

	for i := range sum.Results {
		r := &sum.Results[i]

		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Plugin, r.Source, r.Status, dash(r.InstalledVersion), dash(r.RemoteVersion), oneLine(r.Detail())); err != nil {
			return err
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if changed := changedReconciles(sum.Reconciliation); len(changed) > 0 {
		if _, err := fmt.Fprintln(w, "\nTest server:"); err != nil {
			return err
		}

		for i := range changed {
			rc := &changed[i]

			line := fmt.Sprintf("  %s: %s", rc.Plugin, rc.Action)
			if len(rc.Removed) > 0 {
				line += fmt.Sprintf(" (removed %s)", strings.Join(rc.Removed, ", "))
			}

			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "\n%s in %s\n", countLine(sum), sum.Finished.Sub(sum.Started).Round(time.Millisecond))

	return err
}

func renderSummaryJSON(w io.Writer, sum *pluginsync.Summary) error {
	out := summaryJSON{
		Results:   make([]resultJSON, 0, len(sum.Results)),
		Counts:    sum.Counts(),
		Started:   sum.Started,
		Finished:  sum.Finished,
		DryRun:    sum.DryRun,
		Cancelled: sum.Cancelled,
		Warnings:  sum.Warnings,
	}

	for i := range sum.Results {
		r := resultJSON{Result: sum.Results[i], Error: sum.Results[i].Detail()}
		if r.Err != nil {
			r.Severity = plugin.SeverityOf(r.Err).String()
		}

		out.Results = append(out.Results, r)
	}

	for i := range sum.Reconciliation {
		rc := reconcileJSON{ReconcileResult: sum.Reconciliation[i]}
		if rc.Err != nil {
			rc.Error = rc.Err.Error()
		}

		out.Reconciliation = append(out.Reconciliation, rc)
	}

	return encodeJSON(w, out)
}

func changedReconciles(results []pluginsync.ReconcileResult) []pluginsync.ReconcileResult {
	var changed []pluginsync.ReconcileResult

	for i := range results {
		if results[i].Changed() || results[i].Action == pluginsync.ActionMissing {
			changed = append(changed, results[i])
		}
	}

	return changed
}

func countLine(sum *pluginsync.Summary) string {
	counts := sum.Counts()

	order := []plugin.Status{
		plugin.StatusUpdated,
		plugin.StatusUpdateAvailable,
		plugin.StatusUpToDate,
		plugin.StatusSkippedDisabled,
		plugin.StatusFailed,
	}

	parts := make([]string, 0, len(order))

	for _, st := range order {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}

	if len(parts) == 0 {
		return "no plugins"
	}

	line := strings.Join(parts, ", ")
	if sum.DryRun {
		line += " (dry run)"
	}

	if sum.Cancelled {
		line += " (cancelled)"
	}

	return line
}

// StatusRow describes one configured plugin next to what is installed.
type StatusRow struct {
	Plugin    string            `json:"plugin"`
	Source    plugin.SourceType `json:"source"`
	Enabled   bool              `json:"enabled"`
	File      string            `json:"file,omitempty"`
	Version   string            `json:"version,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
	Problem   string            `json:"problem,omitempty"`
}

// RenderStatus writes the configured-vs-installed table.
func RenderStatus(w io.Writer, rows []StatusRow, format string) error {
	if format == FormatJSON {
		if rows == nil {
			rows = []StatusRow{}
		}

		return encodeJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "PLUGIN\tSOURCE\tENABLED\tVERSION\tFILE\tUPDATED"); err != nil {
		return err
	}

	for i := range rows {
		r := &rows[i]

		file := dash(r.File)
		if r.Problem != "" {
			file = oneLine(r.Problem)
		}

		updated := "-"
		if r.UpdatedAt != nil {
			updated = r.UpdatedAt.Local().Format(time.DateTime)
		}

		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Plugin, r.Source, yesNo(r.Enabled), dash(r.Version), file, updated); err != nil {
			return err
		}
	}

	return tw.Flush()
}

// RenderBackups writes a backup listing, newest first as given.
func RenderBackups(w io.Writer, records []plugin.BackupRecord, format string) error {
	if format == FormatJSON {
		if records == nil {
			records = []plugin.BackupRecord{}
		}

		return encodeJSON(w, records)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "PLUGIN\tTAKEN\tSIZE\tARCHIVE"); err != nil {
		return err
	}

	for i := range records {
		r := &records[i]

		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.PluginName, r.Timestamp.Local().Format(time.DateTime), HumanBytes(r.SizeBytes), r.ArchivePath); err != nil {
			return err
		}
	}

	return tw.Flush()
}

// HumanBytes formats n using binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
