package rowstore

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-cli/internal/model"
)

// XLSXStore is a local workbook-backed RowStore for offline runs and dry
// runs against exported sheets. The whole workbook lives in memory; a mutex
// serializes mutation since concurrent flush writes share the same file.
type XLSXStore struct {
	path string

	mu    sync.Mutex
	file  *xlsx.File
	sheet *xlsx.Sheet
}

// OpenXLSX opens the first sheet of a local workbook.
func OpenXLSX(path string) (*XLSXStore, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "rowstore: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("rowstore: workbook %s has no sheets", path)
	}
	return &XLSXStore{path: path, file: f, sheet: f.Sheets[0]}, nil
}

func (s *XLSXStore) Probe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sheet.Rows) == 0 {
		return eris.New("rowstore: workbook sheet is empty")
	}
	return nil
}

func (s *XLSXStore) Title(_ context.Context) (string, error) {
	return s.sheet.Name, nil
}

func (s *XLSXStore) Headers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sheet.Rows) == 0 {
		return nil, eris.New("rowstore: workbook has no header row")
	}
	return rowStrings(s.sheet.Rows[0]), nil
}

func (s *XLSXStore) ReadAll(_ context.Context) ([]model.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sheet.Rows) == 0 {
		return nil, eris.New("rowstore: workbook is empty")
	}

	headers := rowStrings(s.sheet.Rows[0])
	records := make([]model.LeadRecord, 0, len(s.sheet.Rows)-1)
	for i, row := range s.sheet.Rows[1:] {
		records = append(records, model.LeadRecord{
			RowIndex: i + 2,
			Columns:  headers,
			Values:   rowStrings(row),
		})
	}
	return records, nil
}

func (s *XLSXStore) ReadRange(_ context.Context, spec RangeSpec) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endRow := spec.EndRow
	if endRow == 0 || endRow > len(s.sheet.Rows) {
		endRow = len(s.sheet.Rows)
	}
	if spec.StartRow > endRow {
		return nil, nil
	}

	var out [][]string
	for r := spec.StartRow; r <= endRow; r++ {
		row := rowStrings(s.sheet.Rows[r-1])
		endCol := spec.EndCol
		if endCol == 0 || endCol > len(row) {
			endCol = len(row)
		}
		if spec.StartCol > endCol {
			out = append(out, nil)
			continue
		}
		out = append(out, row[spec.StartCol-1:endCol])
	}
	return out, nil
}

func (s *XLSXStore) ReadRow(ctx context.Context, index int) (model.LeadRecord, error) {
	headers, err := s.Headers(ctx)
	if err != nil {
		return model.LeadRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 1 || index > len(s.sheet.Rows) {
		return model.LeadRecord{}, eris.Errorf("rowstore: row %d out of range", index)
	}
	return model.LeadRecord{
		RowIndex: index,
		Columns:  headers,
		Values:   rowStrings(s.sheet.Rows[index-1]),
	}, nil
}

func (s *XLSXStore) WriteRange(_ context.Context, spec RangeSpec, values [][]string, mode WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	startRow := spec.StartRow
	if mode == ModeAppend {
		startRow = len(s.sheet.Rows) + 1
	}

	for i, row := range values {
		for j, v := range row {
			cell := s.sheet.Cell(startRow-1+i, spec.StartCol-1+j)
			cell.SetString(v)
		}
	}

	if err := s.file.Save(s.path); err != nil {
		return eris.Wrap(err, "rowstore: save workbook")
	}
	return nil
}

func rowStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		out[i] = cell.String()
	}
	return out
}
