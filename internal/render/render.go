// Package render writes bug metrics, feature reports and query results as
// tables, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/danielolaszy/qadash/pkg/models"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format name. An empty name means table.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", name)
	}
}

var (
	colorHeader = lipgloss.Color("#fe8019")
	colorDim    = lipgloss.Color("#928374")
	colorRed    = lipgloss.Color("#fb4934")
	colorYellow = lipgloss.Color("#fabd2f")

	styleHeader = lipgloss.NewStyle().Foreground(colorHeader).Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
	styleRed    = lipgloss.NewStyle().Foreground(colorRed)
	styleYellow = lipgloss.NewStyle().Foreground(colorYellow)
)

// Renderer writes output to w in one format.
type Renderer struct {
	w      io.Writer
	format Format
	color  bool
}

// New creates a Renderer. Colours are enabled only when w is a terminal.
func New(w io.Writer, format Format) *Renderer {
	return &Renderer{w: w, format: format, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

// Metrics writes the bug metrics of a single feature.
func (r *Renderer) Metrics(featureID int, m models.BugMetrics) error {
	if r.format != FormatTable {
		return r.encode(m)
	}

	rows := [][]string{
		{"Open bugs", strconv.Itoa(m.OpenBugCount)},
		{"Avg open age (days)", formatDays(m.AvgOpenBugAgeDays())},
		{"Closed bugs", strconv.Itoa(m.ClosedBugCount)},
		{"Avg closed lifetime (days)", formatDays(m.AvgClosedBugLifetimeDays())},
	}
	if m.Partial {
		rows = append(rows, []string{"Partial", r.style(styleYellow, "yes")})
	}

	title := r.style(styleHeader, fmt.Sprintf("FEATURE %d", featureID))
	_, err := fmt.Fprintf(r.w, "%s\n%s", title, r.table([]string{"METRIC", "VALUE"}, rows))
	return err
}

// Features writes a feature report, one row per feature.
func (r *Renderer) Features(reports []models.FeatureReport) error {
	if r.format != FormatTable {
		return r.encode(reports)
	}

	headers := []string{"ID", "STATE", "OPEN", "AVG OPEN", "CLOSED", "AVG CLOSED", "TITLE"}
	rows := make([][]string, 0, len(reports))
	for _, report := range reports {
		m := report.Metrics
		title := report.Title
		switch {
		case report.Error != "":
			title = r.style(styleRed, "error: "+report.Error)
		case m.Partial:
			title += r.style(styleYellow, " (partial)")
		}
		rows = append(rows, []string{
			strconv.Itoa(report.ID),
			report.State,
			strconv.Itoa(m.OpenBugCount),
			formatDays(m.AvgOpenBugAgeDays()),
			strconv.Itoa(m.ClosedBugCount),
			formatDays(m.AvgClosedBugLifetimeDays()),
			title,
		})
	}

	_, err := io.WriteString(r.w, r.table(headers, rows))
	return err
}

// References writes WIQL query results.
func (r *Renderer) References(refs []models.WorkItemReference) error {
	if r.format != FormatTable {
		return r.encode(refs)
	}

	rows := make([][]string, 0, len(refs))
	for _, ref := range refs {
		rows = append(rows, []string{strconv.Itoa(ref.ID), ref.URL})
	}
	_, err := io.WriteString(r.w, r.table([]string{"ID", "URL"}, rows))
	return err
}

func (r *Renderer) encode(v any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", r.format)
	}
}

// table aligns columns by visible width and underlines the header row.
func (r *Renderer) table(headers []string, rows [][]string) string {
	const colGap = 2

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(headers) && i < len(row); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = r.style(*style, cell)
			}
			b.WriteString(cell)
			if i < len(headers)-1 {
				b.WriteString(strings.Repeat(" ", pad+colGap))
			}
		}
		b.WriteString("\n")
	}

	writeRow(headers, &styleHeader)
	for i, w := range widths {
		b.WriteString(r.style(styleDim, strings.Repeat("─", w)))
		if i < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", colGap))
		}
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}

func formatDays(d float64) string {
	return strconv.FormatFloat(d, 'f', 1, 64)
}
