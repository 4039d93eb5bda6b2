package main

import (
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Column widths for free-text cells. Channel names and group titles from
// provider playlists run long; redacted URLs run longer.
const (
	nameWidth = 40
	urlWidth  = 60
)

// column is one table column. Zero width leaves it unbounded.
type column struct {
	title string
	align text.Align
	width int
}

func textCol(title string, width int) column {
	return column{title: title, align: text.AlignLeft, width: width}
}

func numCol(title string) column { return column{title: title, align: text.AlignRight} }

// renderTable lays rows out under cols; short rows are padded. A non-nil
// footer is rendered below the rows, e.g. for totals.
func renderTable(cols []column, rows [][]string, footer []string) string {
	if len(cols) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(tableRow(len(cols), func(i int) string { return cols[i].title }))
	for _, row := range rows {
		tw.AppendRow(cells(len(cols), row))
	}
	if footer != nil {
		tw.AppendFooter(cells(len(cols), footer))
	}
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		configs[i] = table.ColumnConfig{
			Number:           i + 1,
			Align:            c.align,
			AlignFooter:      c.align,
			AlignHeader:      text.AlignLeft,
			WidthMax:         c.width,
			WidthMaxEnforcer: text.WrapSoft,
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func cells(n int, values []string) table.Row {
	return tableRow(n, func(i int) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	})
}

func tableRow(n int, at func(int) string) table.Row {
	r := make(table.Row, n)
	for i := range r {
		r[i] = at(i)
	}
	return r
}

// countTable renders a label/count breakdown sorted by label, with a total.
func countTable(label, count string, m map[string]int) string {
	keys := make([]string, 0, len(m))
	total := 0
	for k, n := range m {
		keys = append(keys, k)
		total += n
	}
	sort.Strings(keys)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, strconv.Itoa(m[k])}
	}
	return renderTable([]column{textCol(label, nameWidth), numCol(count)}, rows, []string{"Total", strconv.Itoa(total)})
}
