package explain

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Format selects the rendering of an attribution payload.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// Render draws attr as a self-contained table: the baseline, the maxDisplay
// largest contributions, the remainder folded into one row, and the model
// output. maxDisplay <= 0 shows every feature.
func Render(attr *domain.AttributionSet, maxDisplay int, format Format) string {
	w := table.NewWriter()
	w.SetTitle(fmt.Sprintf("Attribution (%s, %s)", attr.Method, attr.Space))
	w.AppendHeader(table.Row{"Feature", "Value", "Contribution"})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	w.AppendRow(table.Row{"baseline", "", fmt.Sprintf("%.4f", attr.Baseline)})

	top := attr.Top(maxDisplay)
	for _, c := range top {
		w.AppendRow(table.Row{c.Feature, fmt.Sprintf("%.4g", c.Value), fmt.Sprintf("%+.4f", c.Contribution)})
	}
	if rest := len(attr.Contributions) - len(top); rest > 0 {
		var other float64
		for _, c := range attr.Contributions {
			other += c.Contribution
		}
		for _, c := range top {
			other -= c.Contribution
		}
		w.AppendRow(table.Row{fmt.Sprintf("%d other features", rest), "", fmt.Sprintf("%+.4f", other)})
	}

	w.AppendFooter(table.Row{"output", "", fmt.Sprintf("%.4f", attr.Output)})

	if format == FormatMarkdown {
		return w.RenderMarkdown()
	}
	w.SetStyle(table.StyleLight)
	return w.Render()
}
