// Package output renders CLI results as tables, JSON, or YAML.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// View is a CLI result that can be shown as a table or serialized.
type View interface {
	// Data is the value serialized for JSON and YAML output.
	Data() any
	Header() table.Row
	Rows() []table.Row
}

// Footer is implemented by views that summarize their rows.
type Footer interface {
	Footer() table.Row
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension returns the file extension used when writing format to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return "txt"
	}
}

// Render writes v to w in the requested format.
func Render(w io.Writer, format Format, v View) error {
	var (
		rendered string
		err      error
	)
	switch format {
	case FormatJSON:
		rendered, err = renderJSON(v.Data())
	case FormatYAML:
		rendered, err = renderYAML(v.Data())
	default:
		rendered = renderTable(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, strings.TrimRight(rendered, "\n"))
	return err
}
