// Package rowstore abstracts the tabular lead store behind read/write
// contracts shared by the pipeline and dispatch engines. Row indexes are
// 1-based and row 1 is the header row.
package rowstore

import (
	"context"
	"strconv"

	"github.com/sells-group/outreach-cli/internal/model"
)

// WriteMode selects between overwriting a range and appending after it.
type WriteMode string

const (
	ModeOverwrite WriteMode = "overwrite"
	ModeAppend    WriteMode = "append"
)

// RangeSpec identifies a rectangular block of cells. Rows and columns are
// 1-based inclusive; a zero EndRow leaves the row extent open.
type RangeSpec struct {
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
}

// A1 renders the spec in A1 notation (e.g. "A2:E10", "B5", "A2:E").
func (s RangeSpec) A1() string {
	start := ColumnLetter(s.StartCol) + strconv.Itoa(s.StartRow)
	if s.EndRow == 0 && s.EndCol == 0 {
		return start
	}
	endCol := s.EndCol
	if endCol == 0 {
		endCol = s.StartCol
	}
	end := ColumnLetter(endCol)
	if s.EndRow > 0 {
		end += strconv.Itoa(s.EndRow)
	}
	return start + ":" + end
}

// ColumnLetter converts a 1-based column number to its letter form
// (1→A, 26→Z, 27→AA).
func ColumnLetter(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// RowStore is the row source/sink contract. Implementations must tolerate
// concurrent WriteRange calls to disjoint ranges; callers guarantee no two
// concurrent writes target the same row.
type RowStore interface {
	// Probe verifies read access with a trivial metadata call.
	Probe(ctx context.Context) error

	// Title returns a human-readable name for the backing sheet.
	Title(ctx context.Context) (string, error)

	// Headers returns the header row.
	Headers(ctx context.Context) ([]string, error)

	// ReadAll returns every data row (row 2 onward) as records.
	ReadAll(ctx context.Context) ([]model.LeadRecord, error)

	// ReadRange returns the raw cell block for the spec.
	ReadRange(ctx context.Context, spec RangeSpec) ([][]string, error)

	// ReadRow returns the record at the given 1-based row index.
	ReadRow(ctx context.Context, index int) (model.LeadRecord, error)

	// WriteRange writes a rectangular block at the spec.
	WriteRange(ctx context.Context, spec RangeSpec, values [][]string, mode WriteMode) error
}
