package rowstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/sheets"
)

// readAllSpan bounds ReadAll; sheets past column ZZ are not lead tables.
const readAllSpan = "A1:ZZ"

// SheetsStore adapts the Google Sheets client to the RowStore contract.
// All operations target the spreadsheet's first visible tab.
type SheetsStore struct {
	client        sheets.Client
	spreadsheetID string

	mu      sync.Mutex
	headers []string
}

// NewSheets creates a RowStore backed by a Google spreadsheet.
func NewSheets(client sheets.Client, spreadsheetID string) *SheetsStore {
	return &SheetsStore{client: client, spreadsheetID: spreadsheetID}
}

func (s *SheetsStore) Probe(ctx context.Context) error {
	if _, err := s.client.Metadata(ctx, s.spreadsheetID); err != nil {
		return eris.Wrap(err, "rowstore: probe spreadsheet")
	}
	return nil
}

func (s *SheetsStore) Title(ctx context.Context) (string, error) {
	meta, err := s.client.Metadata(ctx, s.spreadsheetID)
	if err != nil {
		return "", eris.Wrap(err, "rowstore: read metadata")
	}
	return meta.Properties.Title, nil
}

func (s *SheetsStore) Headers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers != nil {
		return s.headers, nil
	}

	vr, err := s.client.GetValues(ctx, s.spreadsheetID, "1:1")
	if err != nil {
		return nil, eris.Wrap(err, "rowstore: read header row")
	}
	if len(vr.Values) == 0 {
		return nil, eris.New("rowstore: sheet has no header row")
	}
	s.headers = cellsToStrings(vr.Values[0])
	return s.headers, nil
}

func (s *SheetsStore) ReadAll(ctx context.Context) ([]model.LeadRecord, error) {
	vr, err := s.client.GetValues(ctx, s.spreadsheetID, readAllSpan)
	if err != nil {
		return nil, eris.Wrap(err, "rowstore: read all")
	}
	if len(vr.Values) == 0 {
		return nil, eris.New("rowstore: sheet is empty")
	}

	headers := cellsToStrings(vr.Values[0])
	s.mu.Lock()
	s.headers = headers
	s.mu.Unlock()

	records := make([]model.LeadRecord, 0, len(vr.Values)-1)
	for i, row := range vr.Values[1:] {
		records = append(records, model.LeadRecord{
			RowIndex: i + 2,
			Columns:  headers,
			Values:   cellsToStrings(row),
		})
	}
	return records, nil
}

func (s *SheetsStore) ReadRange(ctx context.Context, spec RangeSpec) ([][]string, error) {
	vr, err := s.client.GetValues(ctx, s.spreadsheetID, spec.A1())
	if err != nil {
		return nil, eris.Wrapf(err, "rowstore: read range %s", spec.A1())
	}
	out := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		out[i] = cellsToStrings(row)
	}
	return out, nil
}

func (s *SheetsStore) ReadRow(ctx context.Context, index int) (model.LeadRecord, error) {
	headers, err := s.Headers(ctx)
	if err != nil {
		return model.LeadRecord{}, err
	}

	rng := fmt.Sprintf("%d:%d", index, index)
	vr, err := s.client.GetValues(ctx, s.spreadsheetID, rng)
	if err != nil {
		return model.LeadRecord{}, eris.Wrapf(err, "rowstore: read row %d", index)
	}

	var values []string
	if len(vr.Values) > 0 {
		values = cellsToStrings(vr.Values[0])
	}
	return model.LeadRecord{RowIndex: index, Columns: headers, Values: values}, nil
}

func (s *SheetsStore) WriteRange(ctx context.Context, spec RangeSpec, values [][]string, mode WriteMode) error {
	payload := make([][]any, len(values))
	for i, row := range values {
		payload[i] = make([]any, len(row))
		for j, v := range row {
			payload[i][j] = v
		}
	}

	var err error
	if mode == ModeAppend {
		err = s.client.AppendValues(ctx, s.spreadsheetID, spec.A1(), payload)
	} else {
		err = s.client.UpdateValues(ctx, s.spreadsheetID, spec.A1(), payload)
	}
	if err != nil {
		return eris.Wrapf(err, "rowstore: write range %s", spec.A1())
	}
	return nil
}

// cellsToStrings normalizes the API's loosely-typed cells. Numeric cells come
// back as float64; integral values must not render with a decimal point.
func cellsToStrings(cells []any) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		switch v := c.(type) {
		case string:
			out[i] = v
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[i] = strconv.FormatBool(v)
		case nil:
			out[i] = ""
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
