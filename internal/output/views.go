package output

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/contentmesh/gatekeeper/internal/core"
)

// HealthView shows a health report, one row per service in name order.
type HealthView struct {
	Report core.HealthReport
}

func (v HealthView) Data() any { return v.Report }

func (v HealthView) Header() table.Row {
	return table.Row{"Service", "Health", "Circuit", "Response", "Uptime", "Failures", "Error"}
}

func (v HealthView) Rows() []table.Row {
	names := make([]string, 0, len(v.Report.Services))
	for name := range v.Report.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		s := v.Report.Services[name]
		response := "-"
		if s.ResponseTimeMS != nil {
			response = fmt.Sprintf("%.1fms", *s.ResponseTimeMS)
		}
		errMsg := ""
		if s.ErrorMessage != nil {
			errMsg = *s.ErrorMessage
		}
		rows = append(rows, table.Row{
			name,
			string(s.Health),
			s.CircuitState,
			response,
			fmt.Sprintf("%.1f%%", s.UptimePercentage),
			s.ConsecutiveFailures,
			errMsg,
		})
	}
	return rows
}

func (v HealthView) Footer() table.Row {
	return table.Row{"overall", string(v.Report.OverallHealth), "", "", "", "", v.Report.Timestamp.Format(time.RFC3339)}
}

// WindowsView shows per-window rate limit usage for one identifier.
type WindowsView struct {
	Identifier string                       `json:"identifier" yaml:"identifier"`
	Endpoint   string                       `json:"endpoint" yaml:"endpoint"`
	Windows    []core.RateLimitWindowStatus `json:"windows" yaml:"windows"`
}

func (v WindowsView) Data() any { return v }

func (v WindowsView) Header() table.Row {
	return table.Row{"Window", "Used", "Limit", "Remaining", "Key"}
}

func (v WindowsView) Rows() []table.Row {
	rows := make([]table.Row, 0, len(v.Windows))
	for _, w := range v.Windows {
		remaining := w.Limit - w.Count
		if remaining < 0 {
			remaining = 0
		}
		rows = append(rows, table.Row{w.Window, w.Count, w.Limit, remaining, w.Key})
	}
	return rows
}

// Field is one labelled value in a SummaryView.
type Field struct {
	Name  string
	Value any
}

// SummaryView shows an ordered list of labelled values, such as the outcome
// of an administrative command.
type SummaryView struct {
	Fields []Field
}

func (v SummaryView) Data() any {
	out := make(map[string]any, len(v.Fields))
	for _, f := range v.Fields {
		out[f.Name] = f.Value
	}
	return out
}

func (v SummaryView) Header() table.Row { return table.Row{"Field", "Value"} }

func (v SummaryView) Rows() []table.Row {
	rows := make([]table.Row, 0, len(v.Fields))
	for _, f := range v.Fields {
		rows = append(rows, table.Row{f.Name, f.Value})
	}
	return rows
}
