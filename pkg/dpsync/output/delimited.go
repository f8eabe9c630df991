package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

var columns = []string{"ACTION", "SIZE", "ID", "REASON", "SCORE"}

func (row Row) fields() []string {
	return []string{row.Action, row.SizeHuman, row.ID, row.Reason, strconv.FormatFloat(row.Score, 'f', -1, 64)}
}

// PlainFormatter renders an aligned table without colors.
type PlainFormatter struct{}

// Format implements Formatter.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(columns[:4], "\t")); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row.fields()[:4], "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// TSVFormatter renders tab-separated values with raw byte sizes.
type TSVFormatter struct{}

// Format implements Formatter.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString("ACTION\tSIZE\tID\tREASON\tSCORE\n")
	for _, row := range r.Rows {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", row.Action, row.Size, tsvEscape(row.ID), tsvEscape(row.Reason),
			strconv.FormatFloat(row.Score, 'f', -1, 64))
	}
	return nil
}

func tsvEscape(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ").Replace(s)
}

// CSVFormatter renders RFC 4180 csv with raw byte sizes.
type CSVFormatter struct{}

// Format implements Formatter.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"action", "size", "id", "name", "reason", "score", "checksum"}); err != nil {
		return err
	}
	for _, row := range r.Rows {
		rec := []string{
			row.Action,
			strconv.FormatInt(row.Size, 10),
			row.ID,
			row.Name,
			row.Reason,
			strconv.FormatFloat(row.Score, 'f', -1, 64),
			row.Checksum,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarkdownFormatter renders a GitHub-flavored Markdown table.
type MarkdownFormatter struct{}

// Format implements Formatter.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Report) error {
	fmt.Fprintf(w, "## %s\n\n", escapeMarkdownPipe(r.Target))
	w.WriteString("| ACTION | SIZE | ID | REASON | SCORE |\n")
	w.WriteString("|--------|-----:|----|--------|------:|\n")
	for _, row := range r.Rows {
		fields := row.fields()
		for i := range fields {
			fields[i] = escapeMarkdownPipe(fields[i])
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(fields, " | "))
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "\n> %s\n", warning)
	}
	return nil
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
	Register("tsv", func() Formatter { return &TSVFormatter{} })
	Register("csv", func() Formatter { return &CSVFormatter{} })
	Register("markdown", func() Formatter { return &MarkdownFormatter{} })
}

var (
	_ Formatter = (*PlainFormatter)(nil)
	_ Formatter = (*TSVFormatter)(nil)
	_ Formatter = (*CSVFormatter)(nil)
	_ Formatter = (*MarkdownFormatter)(nil)
)
