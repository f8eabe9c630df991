package output

import (
	"bytes"
	"strings"
	"text/template"
)

// ScriptFormatter renders a POSIX shell script that applies the manifest
// by hand: evictions first, then fetches through a partial file that is
// verified and renamed into place.
type ScriptFormatter struct{}

var scriptTemplate = template.Must(template.New("script").Funcs(templateFuncs()).Parse(`#!/bin/sh
# Transfer script for target {{.Target}}, manifest {{.ManifestID}}
# fetch {{.Summary.Fetch}} ({{bytes .Summary.FetchBytes}}), evict {{.Summary.Evict}} ({{bytes .Summary.EvictBytes}})
set -eu

fetch() {
	src=$1 dest=$2 sum=$3
	mkdir -p "$(dirname "$dest")"
	case $src in
	http://*|https://*) curl -fL --retry 3 -C - -o "$dest.dpsync-partial" "$src" ;;
	*) cp "$src" "$dest.dpsync-partial" ;;
	esac
	if [ -n "$sum" ]; then
		echo "$sum  $dest.dpsync-partial" | sha256sum -c - >/dev/null
	fi
	mv "$dest.dpsync-partial" "$dest"
}
{{range .Evictions}}
rm -f -- {{shquote .Destination}}{{end}}
{{range .Fetches}}
fetch {{shquote .Remote}} {{shquote .Destination}} {{shquote .Checksum}}{{end}}
`))

type scriptData struct {
	*Report
	Evictions []Row
	Fetches   []Row
}

// Format implements Formatter.
func (f *ScriptFormatter) Format(w *bytes.Buffer, r *Report) error {
	return scriptTemplate.Execute(w, scriptData{
		Report:    r,
		Evictions: r.Filter("evict"),
		Fetches:   r.Filter("fetch"),
	})
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func init() {
	Register("script", func() Formatter { return &ScriptFormatter{} })
}

var _ Formatter = (*ScriptFormatter)(nil)
