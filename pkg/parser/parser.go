// Package parser decodes the delimited tables returned by batch prompts.
//
// Parsing is fail-closed: a wrong column count, a row-count mismatch or an
// id that does not match the submitted item aborts the whole table.
package parser

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrParse marks every rejection by Parse.
var ErrParse = errors.New("parse error")

// Options describes the expected table.
type Options struct {
	// Columns is the exact number of fields per row.
	Columns int
	// Delimiter separates fields. Zero means '|'.
	Delimiter rune
	// Rows is the number of data rows expected. Ignored when IDs is set.
	Rows int
	// IDs, when set, are the submitted item ids in order. The first column of
	// row i must then be the integer IDs[i].
	IDs []int64
}

func (o Options) rows() int {
	if o.IDs != nil {
		return len(o.IDs)
	}
	return o.Rows
}

// Row is one decoded record with fields trimmed of surrounding space.
type Row []string

// ID returns the first column as an integer.
func (r Row) ID() (int64, bool) {
	if len(r) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(r[0], 10, 64)
	return id, err == nil
}

// Parse decodes text into exactly opts.rows() rows in input order.
// Blank lines and markdown code fences are ignored. A leading header line is
// dropped: with IDs it is recognized by a non-integer first column, otherwise
// by the table holding one row more than expected.
func Parse(text string, opts Options) ([]Row, error) {
	if opts.Columns <= 0 {
		return nil, errors.Mark(errors.New("columns must be positive"), ErrParse)
	}
	delim := opts.Delimiter
	if delim == 0 {
		delim = '|'
	}

	r := csv.NewReader(strings.NewReader(clean(text)))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows []Row
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "line %d", line), ErrParse)
		}
		row := make(Row, len(rec))
		for i, f := range rec {
			row[i] = strings.TrimSpace(f)
		}
		rows = append(rows, row)
	}

	want := opts.rows()
	if len(rows) > 0 && isHeader(rows[0], len(rows), want, opts.IDs != nil) {
		rows = rows[1:]
	}
	if len(rows) != want {
		return nil, errors.Mark(errors.Newf("got %d rows, expected %d", len(rows), want), ErrParse)
	}

	for i, row := range rows {
		if len(row) != opts.Columns {
			return nil, errors.Mark(errors.Newf("row %d: got %d columns, expected %d", i+1, len(row), opts.Columns), ErrParse)
		}
		if opts.IDs == nil {
			continue
		}
		id, ok := row.ID()
		if !ok || id != opts.IDs[i] {
			return nil, errors.Mark(errors.Newf("row %d: id %q does not match item %d", i+1, row[0], opts.IDs[i]), ErrParse)
		}
	}
	return rows, nil
}

func isHeader(first Row, got, want int, withIDs bool) bool {
	if withIDs {
		_, ok := first.ID()
		return !ok
	}
	return got == want+1
}

// clean drops blank lines and code fences that models like to wrap tables in.
func clean(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
