package model

import "time"

// WorkflowStage names the node a workflow is positioned at.
type WorkflowStage string

const (
	StageDecompose   WorkflowStage = "decompose"
	StageValidate    WorkflowStage = "validate"
	StageHumanReview WorkflowStage = "human_review"
	StageGenerate    WorkflowStage = "generate"
	StageFinalize    WorkflowStage = "finalize"
)

// WorkflowStatus is the externally visible status of a workflow session.
type WorkflowStatus string

const (
	StatusInProgress     WorkflowStatus = "in_progress"
	StatusAwaitingReview WorkflowStatus = "awaiting_review"
	StatusCompleted      WorkflowStatus = "completed"
	StatusFailed         WorkflowStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AttemptRecord summarises one validation pass.
type AttemptRecord struct {
	Attempt int      `json:"attempt"`
	Units   int      `json:"units"`
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues,omitempty"`
	Source  string   `json:"source"`
}

// Attempt sources: what prompted the decompose call behind an attempt.
const (
	SourceInitial = "initial"
	SourceRetry   = "retry"
	SourceReview  = "review"
)

// WorkflowState is the record owned by the workflow state machine. It is
// persisted after every transition, keyed by SessionID.
type WorkflowState struct {
	SessionID     string            `json:"session_id"`
	Form          Form              `json:"form"`
	Attempt       int               `json:"attempt"`
	RoundAttempt  int               `json:"round_attempt"`
	MaxAttempts   int               `json:"max_attempts"`
	HumanReview   bool              `json:"human_review"`
	Decomposition *Decomposition    `json:"decomposition,omitempty"`
	Validation    *ValidationResult `json:"validation_result,omitempty"`
	Plan          []PipelineStage   `json:"plan,omitempty"`
	TaskName      string            `json:"task_name,omitempty"`
	Stage         WorkflowStage     `json:"stage"`
	Feedback      string            `json:"feedback,omitempty"`
	FeedbackFrom  string            `json:"feedback_from,omitempty"`
	Errors        []string          `json:"errors"`
	History       []AttemptRecord   `json:"history,omitempty"`
	ReviewRounds  int               `json:"review_rounds"`
	Status        WorkflowStatus    `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AttemptsThisRound is the number of decompose/validate passes since the
// session started or was last sent back by a reviewer. MaxAttempts bounds
// this count, not Attempt.
func (s WorkflowState) AttemptsThisRound() int {
	if s.RoundAttempt <= 0 {
		return s.Attempt
	}
	return s.RoundAttempt
}

// Clone returns a copy whose slices can be appended to without touching s.
// Decomposition and Validation are immutable snapshots and stay shared.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.Errors = append([]string(nil), s.Errors...)
	out.History = append([]AttemptRecord(nil), s.History...)
	out.Plan = append([]PipelineStage(nil), s.Plan...)
	return out
}
