package model

import "time"

// Stage represents the current state of a run's state machine.
type Stage string

const (
	StageCreated         Stage = "created"
	StageConnecting      Stage = "connecting"
	StageAwaitingSchema  Stage = "awaiting_schema"
	StageAwaitingPlan    Stage = "awaiting_plan"
	StageProcessing      Stage = "processing"
	StageSummarizing     Stage = "summarizing"
	StageAwaitingPreview Stage = "awaiting_preview"
	StageSending         Stage = "sending"
	StageComplete        Stage = "complete"
	StageFailed          Stage = "failed"
)

// Suspended reports whether the stage is a checkpoint awaiting external input.
func (s Stage) Suspended() bool {
	switch s {
	case StageAwaitingSchema, StageAwaitingPlan, StageAwaitingPreview:
		return true
	default:
		return false
	}
}

// Terminal reports whether the run can make no further transitions.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// RunKind distinguishes the two engines sharing the run store.
type RunKind string

const (
	RunKindPipeline RunKind = "pipeline"
	RunKindDispatch RunKind = "dispatch"
)

// ColumnMapping maps a schema role (e.g. "company", "email") to a zero-based
// column index in the header row.
type ColumnMapping map[string]int

// SchemaProposal is externalized at the schema checkpoint: the headers, a
// small row sample, and the inferred role mapping for the operator to confirm
// or override.
type SchemaProposal struct {
	Headers    []string      `json:"headers"`
	SampleRows [][]string    `json:"sample_rows"`
	Mapping    ColumnMapping `json:"mapping"`
}

// ExecutionPlan is externalized at the plan checkpoint.
type ExecutionPlan struct {
	RowCount              int     `json:"row_count"`
	BatchSize             int     `json:"batch_size"`
	EstimatedSecsPerRow   float64 `json:"estimated_secs_per_row"`
	TotalEstimatedSeconds float64 `json:"total_estimated_seconds"`
}

// Counters tracks per-row outcomes for a processing run.
// Invariant: Processed == Succeeded + Failed. Degraded rows are a subset of
// Succeeded (scored with substituted defaults).
type Counters struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Degraded  int `json:"degraded"`
	Qualified int `json:"qualified"`
}

// PipelineSnapshot is the persisted state of an enrichment run, sufficient to
// resume deterministically from any suspension point.
type PipelineSnapshot struct {
	ID            string         `json:"id"`
	Stage         Stage          `json:"stage"`
	SheetRef      string         `json:"sheet_ref"`
	SheetTitle    string         `json:"sheet_title"`
	TargetProfile string         `json:"target_profile"`
	Headers       []string       `json:"headers"`
	RowCount      int            `json:"row_count"`
	Proposal      *SchemaProposal `json:"proposal,omitempty"`
	Mapping       ColumnMapping  `json:"mapping,omitempty"`
	Plan          *ExecutionPlan `json:"plan,omitempty"`
	Counters      Counters       `json:"counters"`
	PendingWrites []PendingWrite `json:"pending_writes,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// DispatchTarget is a previously-scored row selected for sending.
type DispatchTarget struct {
	RowIndex  int    `json:"row_index"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	Score     int    `json:"score"`
	Qualifies bool   `json:"qualifies"`
	Message   string `json:"message"`
	Summary   string `json:"summary"`
	Industry  string `json:"industry"`
}

// DispatchPreview is externalized at the preview checkpoint.
type DispatchPreview struct {
	Samples       []PreviewSample `json:"samples"`
	TotalTargets  int             `json:"total_targets"`
	DailySendCap  int             `json:"daily_send_cap"`
	OverCap       bool            `json:"over_cap"`
	OverCapAmount int             `json:"over_cap_amount,omitempty"`
}

// PreviewSample is one rendered example message.
type PreviewSample struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// DispatchSnapshot is the persisted state of a dispatch run.
type DispatchSnapshot struct {
	ID        string           `json:"id"`
	Stage     Stage            `json:"stage"`
	SheetRef  string           `json:"sheet_ref"`
	Criterion string           `json:"criterion"`
	Targets   []DispatchTarget `json:"targets"`
	Preview   *DispatchPreview `json:"preview,omitempty"`
	Subject   string           `json:"subject,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// FailureDetail identifies one failed unit and why.
type FailureDetail struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// LeadScore is one entry in the top-leads ranking.
type LeadScore struct {
	RowIndex int    `json:"row_index"`
	Company  string `json:"company"`
	Score    int    `json:"score"`
}

// PipelineSummary is the final output of a pipeline run.
type PipelineSummary struct {
	Counters       Counters        `json:"counters"`
	ConversionRate float64         `json:"conversion_rate"`
	AverageScore   float64         `json:"average_score"`
	TopLeads       []LeadScore     `json:"top_leads"`
	Failures       []FailureDetail `json:"failures,omitempty"`
	FailureOverflow int            `json:"failure_overflow,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// ChunkProgress is emitted after each chunk completes.
type ChunkProgress struct {
	Chunk       int      `json:"chunk"`
	TotalChunks int      `json:"total_chunks"`
	Percent     float64  `json:"percent"`
	Counters    Counters `json:"counters"`
}

// SendOutcome records the delivery result for one target.
type SendOutcome struct {
	RowIndex   int       `json:"row_index"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	SentAt     time.Time `json:"sent_at"`
	Error      string    `json:"error,omitempty"`
}

// DispatchSummary is the final output of a dispatch run.
type DispatchSummary struct {
	Sent            int             `json:"sent"`
	Failed          int             `json:"failed"`
	SkippedOverCap  int             `json:"skipped_over_cap"`
	SuccessRate     float64         `json:"success_rate"`
	Failures        []FailureDetail `json:"failures,omitempty"`
	FailureOverflow int             `json:"failure_overflow,omitempty"`
}
