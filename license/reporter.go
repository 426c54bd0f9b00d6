package license

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format selects how keys are written.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// Formats lists the supported output formats.
func Formats() []string {
	return []string{string(FormatText), string(FormatJSON), string(FormatYAML), string(FormatTable)}
}

func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if strings.EqualFold(s, f) {
			return Format(f), nil
		}
	}
	return "", fmt.Errorf("unknown output format %q, must be one of %s", s, strings.Join(Formats(), ", "))
}

// Reporter writes keys in the order they were parsed.
type Reporter struct {
	w      io.Writer
	format Format
}

func NewReporter(w io.Writer, format Format) *Reporter {
	if format == "" {
		format = FormatText
	}
	return &Reporter{w: w, format: format}
}

type keyEntry struct {
	Type string `json:"type" yaml:"type"`
	KID  string `json:"kid" yaml:"kid"`
	Key  string `json:"key" yaml:"key"`
}

func entries(keys []Key) []keyEntry {
	out := make([]keyEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyEntry{
			Type: k.Type,
			KID:  hex.EncodeToString(k.KID),
			Key:  hex.EncodeToString(k.Key),
		})
	}
	return out
}

// Report writes one entry per key.
func (r *Reporter) Report(keys []Key) error {
	switch r.format {
	case FormatText:
		for _, e := range entries(keys) {
			if _, err := fmt.Fprintf(r.w, "[%s] %s:%s\n", e.Type, e.KID, e.Key); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries(keys)); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(entries(keys)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTable:
		rows := make([][]string, 0, len(keys))
		for _, e := range entries(keys) {
			rows = append(rows, []string{e.Type, e.KID, e.Key})
		}
		table := tablewriter.NewWriter(r.w)
		table.SetHeader([]string{"TYPE", "KID", "KEY"})
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetTablePadding("\t")
		table.SetNoWhiteSpace(true)
		table.AppendBulk(rows)
		table.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", r.format)
	}
}
