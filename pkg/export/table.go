// Package export renders tabular reports into downloadable documents.
package export

import (
	"errors"
	"strconv"
)

// Table is an ordered, already formatted report body.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

var errNoHeaders = errors.New("table requires at least one header")

func (t Table) validate() error {
	if len(t.Headers) == 0 {
		return errNoHeaders
	}
	return nil
}

// cell returns column i of row, padding short rows with blanks.
func (t Table) cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// FormatPercent renders a percentage with two decimals, the precision used by
// every exported report.
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
