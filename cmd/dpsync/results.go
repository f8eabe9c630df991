package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// renderResults writes cycle results as text, json or yaml.
func renderResults(w io.Writer, format string, results []types.SyncResult) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		return yaml.NewEncoder(w).Encode(results)
	case "", "text":
		for _, r := range results {
			if _, err := fmt.Fprintln(w, formatResult(r)); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q: use text, json or yaml", format)
}

// formatResult renders one result as a single line.
func formatResult(r types.SyncResult) string {
	var b strings.Builder
	b.WriteString(output.TitleStyle.Render(r.Target))
	b.WriteString(" ")
	b.WriteString(outcomeStyle(r.Outcome).Render(string(r.Outcome)))
	fmt.Fprintf(&b, " in %s", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, ": %d fetched, %d evicted, %d kept", r.Fetched, r.Evicted, r.Kept)
	if r.Failed > 0 {
		b.WriteString(", ")
		b.WriteString(output.ErrorStyle.Render(fmt.Sprintf("%d failed", r.Failed)))
	}
	fmt.Fprintf(&b, ", %s moved", types.FormatSize(r.BytesMoved))
	if !r.StartedAt.IsZero() {
		b.WriteString(output.MutedStyle.Render(" (" + humanize.Time(r.StartedAt) + ")"))
	}
	if r.Error != "" {
		b.WriteString("\n  ")
		b.WriteString(output.ErrorStyle.Render(r.Error))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  %s %s: %s", output.MutedStyle.Render("["+e.Category+"]"), e.ItemID, e.Message)
	}
	return b.String()
}

func outcomeStyle(o types.Outcome) lipgloss.Style {
	switch o {
	case types.OutcomeCompleted:
		return output.SuccessStyle
	case types.OutcomePartial, types.OutcomeCancelled:
		return output.WarningStyle
	default:
		return output.ErrorStyle
	}
}

// progressLine renders item events for the sync progress feed. It returns
// false for events that are not shown.
func progressLine(rec events.Record) (string, bool) {
	switch rec.Kind {
	case events.KindCycleStarted:
		var e events.CycleStarted
		if json.Unmarshal(rec.Data, &e) != nil {
			return "", false
		}
		return fmt.Sprintf("%s %s (%s)", output.TitleStyle.Render(e.Target), "cycle started", e.Reason), true
	case events.KindItemCompleted:
		var e events.ItemCompleted
		if json.Unmarshal(rec.Data, &e) != nil {
			return "", false
		}
		return fmt.Sprintf("  %s %s %s", output.ActionStyle(e.Action).Render(fmt.Sprintf("%-5s", e.Action)),
			e.ItemID, output.MutedStyle.Render(types.FormatSize(e.Bytes))), true
	case events.KindItemFailed:
		var e events.ItemFailed
		if json.Unmarshal(rec.Data, &e) != nil {
			return "", false
		}
		return fmt.Sprintf("  %s %s %s", output.ErrorStyle.Render("fail "), e.ItemID, output.MutedStyle.Render(e.Error)), true
	case events.KindCycleFailed:
		var e events.CycleFailed
		if json.Unmarshal(rec.Data, &e) != nil {
			return "", false
		}
		return fmt.Sprintf("%s %s: %s", output.TitleStyle.Render(e.Target), output.ErrorStyle.Render("cycle failed"), e.Error), true
	}
	return "", false
}
