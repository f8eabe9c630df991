package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
)

// Output flags shared by the commands that render manifests.
var (
	outputFormat string
	templateStr  string
	showAll      bool
)

// addOutputFlags registers -o, --template and --all on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "pretty",
		"output format: "+strings.Join(output.Available(), ", "))
	cmd.Flags().StringVar(&templateStr, "template", "", "Go template for -o template")
	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "include kept and rejected items in table output")
}

// newFormatter returns the formatter for name. The template format needs
// a template text.
func newFormatter(name, tmpl string, all bool) (output.Formatter, error) {
	switch name {
	case "", "pretty":
		return &output.TableFormatter{ShowKept: true, ShowRejected: all}, nil
	case "table":
		return &output.TableFormatter{ShowKept: all, ShowRejected: all}, nil
	case "template":
		if tmpl == "" {
			return nil, errors.New("--template is required when using -o template")
		}
		return output.NewTemplateFormatter(tmpl), nil
	}
	f, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output format %q: available formats are %v", name, output.Available())
	}
	return f, nil
}

// renderReport writes r to w in the selected output format.
func renderReport(w io.Writer, r *output.Report) error {
	f, err := newFormatter(outputFormat, templateStr, showAll)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// parseCommaSeparated splits a comma-separated string and trims whitespace.
func parseCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

var knownKinds = []events.Kind{
	events.KindTargetAttached,
	events.KindTargetDetached,
	events.KindTargetFailed,
	events.KindTargetState,
	events.KindStateChanged,
	events.KindCycleStarted,
	events.KindCycleCompleted,
	events.KindCycleFailed,
	events.KindItemProgress,
	events.KindItemCompleted,
	events.KindItemFailed,
	events.KindBreakerChanged,
}

// parseKinds turns a comma-separated kind list into event kinds. A trailing
// "*" matches by prefix, so "cycle_*" selects every cycle event.
func parseKinds(s string) ([]events.Kind, error) {
	var out []events.Kind
	for _, name := range parseCommaSeparated(s) {
		matched := false
		for _, k := range knownKinds {
			if string(k) == name || (strings.HasSuffix(name, "*") && strings.HasPrefix(string(k), strings.TrimSuffix(name, "*"))) {
				out = append(out, k)
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("unknown event kind %q", name)
		}
	}
	return out, nil
}

// targetArg returns the optional target argument, empty for every target.
func targetArg(args []string) string {
	if len(args) > 0 && args[0] != "all" {
		return args[0]
	}
	return ""
}
