package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/rowstore"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/resend"
)

// fakeSheet is an in-memory scored sheet.
type fakeSheet struct {
	mu      sync.Mutex
	headers []string
	rows    map[int][]string
	order   []int
}

func newFakeSheet(headers []string, dataRows [][]string) *fakeSheet {
	s := &fakeSheet{headers: headers, rows: make(map[int][]string)}
	for i, row := range dataRows {
		idx := i + 2
		s.rows[idx] = append([]string(nil), row...)
		s.order = append(s.order, idx)
	}
	return s
}

func (s *fakeSheet) Probe(context.Context) error           { return nil }
func (s *fakeSheet) Title(context.Context) (string, error) { return "Scored Leads", nil }

func (s *fakeSheet) Headers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.headers...), nil
}

func (s *fakeSheet) ReadAll(context.Context) ([]model.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LeadRecord
	for _, idx := range s.order {
		out = append(out, model.LeadRecord{
			RowIndex: idx,
			Columns:  s.headers,
			Values:   append([]string(nil), s.rows[idx]...),
		})
	}
	return out, nil
}

func (s *fakeSheet) ReadRange(context.Context, rowstore.RangeSpec) ([][]string, error) {
	return nil, nil
}

func (s *fakeSheet) ReadRow(_ context.Context, index int) (model.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.rows[index]
	if !ok {
		return model.LeadRecord{}, eris.Errorf("row %d out of range", index)
	}
	return model.LeadRecord{RowIndex: index, Columns: s.headers, Values: values}, nil
}

func (s *fakeSheet) WriteRange(_ context.Context, spec rowstore.RangeSpec, values [][]string, _ rowstore.WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range values {
		target := spec.StartRow + i
		existing := s.rows[target]
		for j, v := range row {
			col := spec.StartCol - 1 + j
			for len(existing) <= col {
				existing = append(existing, "")
			}
			existing[col] = v
		}
		s.rows[target] = existing
	}
	return nil
}

func (s *fakeSheet) cellAt(row, col int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.rows[row]
	if col-1 < len(values) {
		return values[col-1]
	}
	return ""
}

// sendCall records one delivery attempt with its wall-clock time.
type sendCall struct {
	to   string
	when time.Time
}

// fakeMailer fails permanently for addresses in failFor.
type fakeMailer struct {
	mu      sync.Mutex
	calls   []sendCall
	failFor map[string]bool
	lastReq resend.SendRequest
}

func (m *fakeMailer) Send(_ context.Context, req resend.SendRequest) (*resend.SendResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, sendCall{to: req.To[0], when: time.Now()})
	m.lastReq = req
	m.mu.Unlock()

	if m.failFor[req.To[0]] {
		return nil, eris.New("mailbox unavailable")
	}
	return &resend.SendResponse{ID: "msg-" + req.To[0]}, nil
}

func (m *fakeMailer) callTimes(to string) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, c := range m.calls {
		if c.to == to {
			out = append(out, c.when)
		}
	}
	return out
}

// memRunStore is an in-memory RunStore.
type memRunStore struct {
	mu       sync.Mutex
	dispatch map[string]model.DispatchSnapshot
}

func newMemRunStore() *memRunStore {
	return &memRunStore{dispatch: make(map[string]model.DispatchSnapshot)}
}

func (m *memRunStore) SavePipeline(context.Context, *model.PipelineSnapshot) error { return nil }

func (m *memRunStore) GetPipeline(context.Context, string) (*model.PipelineSnapshot, error) {
	return nil, store.ErrNotFound
}

func (m *memRunStore) SaveDispatch(_ context.Context, snap *model.DispatchSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch[snap.ID] = *snap
	return nil
}

func (m *memRunStore) GetDispatch(_ context.Context, id string) (*model.DispatchSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.dispatch[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

func (m *memRunStore) List(context.Context, store.RunFilter) ([]store.RunInfo, error) {
	return nil, nil
}

func (m *memRunStore) Delete(context.Context, string) error       { return nil }
func (m *memRunStore) DeleteExpired(context.Context) (int, error) { return 0, nil }
func (m *memRunStore) Migrate(context.Context) error              { return nil }
func (m *memRunStore) Close() error                               { return nil }
