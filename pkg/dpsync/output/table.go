package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// TableFormatter renders a styled table for terminals.
type TableFormatter struct {
	// ShowKept includes keep rows. Off by default, since they are usually
	// most of the manifest.
	ShowKept bool

	// ShowRejected appends the rejected candidates.
	ShowRejected bool
}

// Format implements Formatter.
func (f *TableFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.header(r))
	w.WriteString("\n")

	var rows []Row
	for _, row := range r.Rows {
		if row.Action == "keep" && !f.ShowKept {
			continue
		}
		rows = append(rows, row)
	}
	if f.ShowRejected {
		rows = append(rows, r.Rejected...)
	}
	w.WriteString(f.table(rows))
	w.WriteString(f.footer(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *TableFormatter) header(r *Report) string {
	lines := []string{
		fmt.Sprintf("%s %s  %s %s",
			LabelStyle.Render("Target:"), ValueStyle.Render(r.Target),
			LabelStyle.Render("Manifest:"), MutedStyle.Render(r.ManifestID)),
		fmt.Sprintf("%s %s  %s %s",
			LabelStyle.Render("Budget:"), SizeStyle.Render(types.FormatSize(r.Budget)),
			LabelStyle.Render("Planned:"), SizeStyle.Render(types.FormatSize(r.Planned))),
	}
	if !r.CreatedAt.IsZero() {
		lines = append(lines, LabelStyle.Render("Created: ")+MutedStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *TableFormatter) table(rows []Row) string {
	if len(rows) == 0 {
		return MutedStyle.Render("  Nothing to do") + "\n"
	}

	actionW, sizeW := len("ACTION"), len("SIZE")
	for _, row := range rows {
		actionW = max(actionW, len(row.Action))
		sizeW = max(sizeW, len(row.SizeHuman))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  %s  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight("ACTION", actionW)),
		TableHeaderStyle.Render(padLeft("SIZE", sizeW)),
		TableHeaderStyle.Render("ITEM"),
		TableHeaderStyle.Render("REASON"))
	for _, row := range rows {
		fmt.Fprintf(&sb, "  %s  %s  %s  %s\n",
			ActionStyle(row.Action).Render(padRight(row.Action, actionW)),
			SizeStyle.Render(padLeft(row.SizeHuman, sizeW)),
			PathStyle.Render(row.ID),
			MutedStyle.Render(row.Reason))
	}
	return sb.String()
}

func (f *TableFormatter) footer(r *Report) string {
	s := r.Summary
	parts := []string{
		ActionStyle("fetch").Render(fmt.Sprintf("fetch %d (%s)", s.Fetch, types.FormatSize(s.FetchBytes))),
		ActionStyle("evict").Render(fmt.Sprintf("evict %d (%s)", s.Evict, types.FormatSize(s.EvictBytes))),
		ActionStyle("keep").Render(fmt.Sprintf("keep %d (%s)", s.Keep, types.FormatSize(s.KeepBytes))),
		MutedStyle.Render(fmt.Sprintf("rejected %d", s.Rejected)),
	}
	return FooterBox.Render(strings.Join(parts, "  ")) + "\n"
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("table", func() Formatter { return &TableFormatter{} })
	Register("pretty", func() Formatter { return &TableFormatter{ShowKept: true, ShowRejected: true} })
}

var _ Formatter = (*TableFormatter)(nil)
