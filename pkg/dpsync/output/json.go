package output

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// JSONFormatter renders the report as one indented JSON document.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// JSONLFormatter writes one compact JSON object per row.
type JSONLFormatter struct{}

// Format implements Formatter.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Report) error {
	for _, row := range r.Rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

// YAMLFormatter renders the report as YAML.
type YAMLFormatter struct{}

// Format implements Formatter.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("jsonl", func() Formatter { return &JSONLFormatter{} })
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*JSONLFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)
