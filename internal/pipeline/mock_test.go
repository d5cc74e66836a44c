package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/rowstore"
	"github.com/sells-group/outreach-cli/internal/store"
)

// event records one externally visible call for ordering assertions.
type event struct {
	kind string // "enrich", "score", "write"
	row  int
}

// eventLog is shared across fakes so tests can assert cross-component
// ordering (chunk k writes before chunk k+1 calls).
type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) add(kind string, row int) {
	l.mu.Lock()
	l.events = append(l.events, event{kind: kind, row: row})
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event, len(l.events))
	copy(out, l.events)
	return out
}

// fakeSource is an in-memory RowStore with optional per-row read failures.
type fakeSource struct {
	mu       sync.Mutex
	headers  []string
	rows     map[int][]string // rowIndex -> values
	order    []int
	log      *eventLog
	failRead map[int]bool
	probeErr error
}

func newFakeSource(headers []string, dataRows [][]string, log *eventLog) *fakeSource {
	s := &fakeSource{
		headers: headers,
		rows:    make(map[int][]string),
		log:     log,
	}
	for i, row := range dataRows {
		idx := i + 2
		s.rows[idx] = append([]string(nil), row...)
		s.order = append(s.order, idx)
	}
	return s
}

func (s *fakeSource) Probe(context.Context) error { return s.probeErr }

func (s *fakeSource) Title(context.Context) (string, error) { return "Test Leads", nil }

func (s *fakeSource) Headers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.headers...), nil
}

func (s *fakeSource) ReadAll(context.Context) ([]model.LeadRecord, error) {
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

func (s *fakeSource) ReadRange(_ context.Context, spec rowstore.RangeSpec) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]string
	for r := spec.StartRow; r <= spec.EndRow; r++ {
		out = append(out, append([]string(nil), s.rows[r]...))
	}
	return out, nil
}

func (s *fakeSource) ReadRow(_ context.Context, index int) (model.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead[index] {
		return model.LeadRecord{}, eris.Errorf("read row %d: connection reset", index)
	}
	values, ok := s.rows[index]
	if !ok {
		return model.LeadRecord{}, eris.Errorf("row %d out of range", index)
	}
	return model.LeadRecord{
		RowIndex: index,
		Columns:  s.headers,
		Values:   append([]string(nil), values...),
	}, nil
}

func (s *fakeSource) WriteRange(_ context.Context, spec rowstore.RangeSpec, values [][]string, _ rowstore.WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		s.log.add("write", spec.StartRow)
	}
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
		if target == 1 {
			// header row writes extend the header slice too
			for len(s.headers) < len(existing) {
				s.headers = append(s.headers, existing[len(s.headers)])
			}
		}
	}
	return nil
}

// cellAt returns a written-back cell for assertions, 1-based row and column.
func (s *fakeSource) cellAt(row, col int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.rows[row]
	if col-1 < len(values) {
		return values[col-1]
	}
	return ""
}

// fakeEnricher returns canned research text, optionally always failing.
type fakeEnricher struct {
	log      *eventLog
	failAll  bool
	fallback string
}

func (f *fakeEnricher) Research(_ context.Context, query string) model.EnrichmentResult {
	if f.log != nil {
		f.log.add("enrich", 0)
	}
	if f.failAll {
		return model.EnrichmentResult{Text: f.fallback, Succeeded: false}
	}
	return model.EnrichmentResult{Text: "research for " + query, Succeeded: true}
}

// fakeOracle scores by company name lookup, with optional per-row errors and
// degraded results.
type fakeOracle struct {
	mu          sync.Mutex
	log         *eventLog
	scores      map[string]int // company -> score
	failFor     map[string]bool
	degraded    map[string]bool
	lastText    map[string]string // company -> research text seen
	lastProfile string
	calls       int
	thresh      int
}

func (f *fakeOracle) Score(_ context.Context, lead model.LeadRecord, research, targetProfile string) (model.ScoreResult, error) {
	f.mu.Lock()
	f.calls++
	if f.lastText == nil {
		f.lastText = make(map[string]string)
	}
	company := lead.At(0)
	f.lastText[company] = research
	f.lastProfile = targetProfile
	f.mu.Unlock()

	if f.log != nil {
		f.log.add("score", lead.RowIndex)
	}
	if f.failFor[company] {
		return model.ScoreResult{}, eris.Errorf("oracle unavailable for %s", company)
	}

	score, ok := f.scores[company]
	if !ok {
		score = 75
	}
	thresh := f.thresh
	if thresh == 0 {
		thresh = 70
	}
	return model.ScoreResult{
		Summary:   "summary for " + company,
		Score:     score,
		Qualifies: score >= thresh,
		Message:   "hello " + company,
		Degraded:  f.degraded[company],
	}, nil
}

// memRunStore is an in-memory RunStore for engine tests.
type memRunStore struct {
	mu        sync.Mutex
	pipelines map[string]model.PipelineSnapshot
	dispatch  map[string]model.DispatchSnapshot
	saves     int
}

func newMemRunStore() *memRunStore {
	return &memRunStore{
		pipelines: make(map[string]model.PipelineSnapshot),
		dispatch:  make(map[string]model.DispatchSnapshot),
	}
}

func (m *memRunStore) SavePipeline(_ context.Context, snap *model.PipelineSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.pipelines[snap.ID] = *snap
	return nil
}

func (m *memRunStore) GetPipeline(_ context.Context, id string) (*model.PipelineSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.pipelines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
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

func (m *memRunStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipelines, id)
	delete(m.dispatch, id)
	return nil
}

func (m *memRunStore) DeleteExpired(context.Context) (int, error) { return 0, nil }

func (m *memRunStore) Migrate(context.Context) error { return nil }

func (m *memRunStore) Close() error { return nil }
