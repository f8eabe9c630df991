package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// Column widths of the target table.
const (
	colName   = 14
	colDevice = 10
	colCycle  = 13
	colSpace  = 20
	colBar    = 20
)

func renderTargetHeader() string {
	return columnHeaderStyle.Render("  " + padRight("TARGET", colName) + " " + padRight("DEVICE", colDevice) + " " +
		padRight("CYCLE", colCycle) + " " + padRight("FREE", colSpace) + " " + "PROGRESS / LAST")
}

// renderTargetRow renders one target line. current is the item being
// transferred, empty when unknown.
func renderTargetRow(s orchestrator.Status, current string, selected bool, width int, now time.Time) string {
	name := s.Target
	if !s.Enabled {
		name += "*"
	}

	space := "-"
	if s.Device.Capacity > 0 {
		space = types.FormatSize(s.Device.Free) + " / " + types.FormatSize(s.Device.Capacity)
	}

	line := padRight(truncate(name, colName), colName) + " " +
		padRight(deviceLabel(s.Device.State), colDevice) + " " +
		padRight(cycleLabel(s.State), colCycle) + " " +
		sizeStyle.Render(padRight(space, colSpace)) + " " +
		lastColumn(s, current, now)

	cursor := "  "
	if selected {
		cursor = cursorStyle.Render("▸ ")
		return cursor + selectedRowStyle.Render(padRight(line, width-2))
	}
	return cursor + normalRowStyle.Render(line)
}

func lastColumn(s orchestrator.Status, current string, now time.Time) string {
	if s.Running {
		p := s.Progress
		out := renderProgressBar(p.Bytes, p.BytesTotal, colBar) +
			fmt.Sprintf(" %d/%d", p.Done, p.Total)
		if current != "" {
			out += " " + mutedTextStyle.Render(truncate(current, 30))
		}
		return out
	}

	var parts []string
	if r := s.LastResult; r != nil {
		style := successTextStyle
		switch r.Outcome {
		case types.OutcomePartial:
			style = warningTextStyle
		case types.OutcomeFailed:
			style = errorTextStyle
		case types.OutcomeCancelled:
			style = mutedTextStyle
		}
		parts = append(parts, style.Render(string(r.Outcome))+" "+
			mutedTextStyle.Render(humanize.RelTime(r.FinishedAt, now, "ago", "from now")))
	}
	if !s.NextRun.IsZero() {
		parts = append(parts, mutedTextStyle.Render("next "+humanize.RelTime(s.NextRun, now, "ago", "from now")))
	}
	if s.Device.Reason != "" {
		parts = append(parts, errorTextStyle.Render(s.Device.Reason))
	}
	if len(parts) == 0 {
		return mutedTextStyle.Render("-")
	}
	return strings.Join(parts, "  ")
}

func deviceLabel(st target.State) string {
	switch st {
	case target.StateReady:
		return successTextStyle.Render(string(st))
	case target.StateBusy, target.StateAttaching, target.StateDetaching:
		return warningTextStyle.Render(string(st))
	case target.StateFailed:
		return errorTextStyle.Render(string(st))
	default:
		return mutedTextStyle.Render(string(st))
	}
}

func cycleLabel(st orchestrator.State) string {
	switch st {
	case orchestrator.StateIdle:
		return mutedTextStyle.Render(string(st))
	case orchestrator.StateError:
		return errorTextStyle.Render(string(st))
	default:
		return titleStyle.Render(string(st))
	}
}
