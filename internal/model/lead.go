package model

import "strings"

// LeadRecord is one row of the source sheet, as read. RowIndex is the 1-based
// sheet position (row 1 is the header row) and is the primary key within a run.
type LeadRecord struct {
	RowIndex int      `json:"row_index"`
	Columns  []string `json:"columns"`
	Values   []string `json:"values"`
}

// Get returns the value under the named column, or "" if absent. Column
// comparison is case-insensitive because sheet headers are operator-edited.
func (r LeadRecord) Get(column string) string {
	for i, c := range r.Columns {
		if strings.EqualFold(c, column) && i < len(r.Values) {
			return r.Values[i]
		}
	}
	return ""
}

// At returns the value at the zero-based column index, or "" if the row is
// ragged (sheets omit trailing empty cells).
func (r LeadRecord) At(col int) string {
	if col < 0 || col >= len(r.Values) {
		return ""
	}
	return r.Values[col]
}

// PromptText renders the row as "Header: value" lines for LLM context.
func (r LeadRecord) PromptText() string {
	var b strings.Builder
	for i, c := range r.Columns {
		v := r.At(i)
		if v == "" {
			continue
		}
		b.WriteString(c)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}

// EnrichmentResult is the outcome of one research call for a lead. Text is
// consolidated snippet text, bounded by the enrichment client. On failure
// Text holds a degraded placeholder and Succeeded is false.
type EnrichmentResult struct {
	Text      string `json:"text"`
	Succeeded bool   `json:"succeeded"`
}

// ScoreResult is the scoring verdict for a single lead.
//
// Qualifies is always derived from Score against the configured qualification
// threshold; the oracle's own stated yes/no is kept in OracleQualifies for
// reporting only.
type ScoreResult struct {
	Summary         string `json:"summary"`
	Score           int    `json:"score"`
	Qualifies       bool   `json:"qualifies"`
	OracleQualifies bool   `json:"oracle_qualifies"`
	Message         string `json:"message"`

	// Degraded marks a result produced despite a parse/contract defect,
	// with substituted defaults.
	Degraded bool `json:"degraded,omitempty"`
}

// PendingWrite is a buffered result awaiting flush to the row store.
type PendingWrite struct {
	RowIndex int         `json:"row_index"`
	Result   ScoreResult `json:"result"`
}
