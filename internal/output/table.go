package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

func renderTable(v View) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(v.Header())
	for _, row := range v.Rows() {
		t.AppendRow(row)
	}
	if f, ok := v.(Footer); ok {
		if footer := f.Footer(); len(footer) > 0 {
			t.AppendFooter(footer)
		}
	}
	return t.Render()
}
