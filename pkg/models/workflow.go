// Package models defines the domain models for the certification workflow service
package models

import (
	"time"
)

// RunStatus represents the lifecycle state of a workflow run
type RunStatus string

const (
	RunStatusPending          RunStatus = "pending"
	RunStatusRunning          RunStatus = "running"
	RunStatusPaused           RunStatus = "paused"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusCancelled        RunStatus = "cancelled"
)

// Terminal reports whether a run in this status can never change again.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled
}

// StepStatus represents the lifecycle state of an individual workflow step
type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusRunning          StepStatus = "running"
	StepStatusAwaitingApproval StepStatus = "awaiting_approval"
	StepStatusCompleted        StepStatus = "completed"
	StepStatusError            StepStatus = "error"
	StepStatusRejected         StepStatus = "rejected"
)

// ArtifactStatus represents the review lifecycle of a generated artifact
type ArtifactStatus string

const (
	ArtifactStatusPendingReview ArtifactStatus = "pending_review"
	ArtifactStatusApproved      ArtifactStatus = "approved"
	ArtifactStatusRejected      ArtifactStatus = "rejected"
	ArtifactStatusApplied       ArtifactStatus = "applied"
)

// StepType identifies one of the fixed workflow phases
type StepType string

const (
	StepProjectSetup          StepType = "project_setup"
	StepDocumentUpload        StepType = "document_upload"
	StepHazardExtraction      StepType = "hazard_extraction"
	StepRequirementExtraction StepType = "requirement_extraction"
	StepCEStructureGeneration StepType = "ce_structure_generation"
	StepHazardReqLinking      StepType = "hazard_requirement_linking"
	StepRequirementCELinking  StepType = "requirement_ce_linking"
	StepConformanceGeneration StepType = "conformance_generation"
	StepTestCaseGeneration    StepType = "test_case_generation"
	StepFinalApply            StepType = "final_apply"
)

// PhaseDefinition describes one entry in the fixed, ordered phase table.
type PhaseDefinition struct {
	StepNumber       int
	Type             StepType
	Name             string
	RequiresApproval bool
	HasExecutor      bool
}

// PhaseDefinitions is the ordered, closed set of workflow phases. Step
// numbers are contiguous 1..N and fixed at run-creation time.
var PhaseDefinitions = []PhaseDefinition{
	{1, StepProjectSetup, "Project Setup", false, false},
	{2, StepDocumentUpload, "Document Processing", false, true},
	{3, StepHazardExtraction, "Hazard Extraction", true, true},
	{4, StepRequirementExtraction, "Requirement Extraction", true, true},
	{5, StepCEStructureGeneration, "Certifiable Element Structure", true, true},
	{6, StepHazardReqLinking, "Hazard-Requirement Linking", true, true},
	{7, StepRequirementCELinking, "Requirement-CE Linking", true, true},
	{8, StepConformanceGeneration, "Conformance Checklist Generation", true, true},
	{9, StepTestCaseGeneration, "Test Case Generation", true, true},
	{10, StepFinalApply, "Final Apply", true, true},
}

// PhaseByType returns the definition for a step type, or false when the type
// is not part of the phase table.
func PhaseByType(t StepType) (PhaseDefinition, bool) {
	for _, p := range PhaseDefinitions {
		if p.Type == t {
			return p, true
		}
	}
	return PhaseDefinition{}, false
}

// WorkflowConfig is the free-form configuration captured at initiate time.
type WorkflowConfig struct {
	Industry          string   `json:"industry,omitempty"`
	Framework         string   `json:"framework,omitempty"`
	SystemDescription string   `json:"system_description,omitempty"`
	DocumentIDs       []string `json:"document_ids,omitempty"`
}

// WorkflowRun represents one orchestrated pipeline execution for a project.
// At most one run per project may be in a non-terminal status.
type WorkflowRun struct {
	ID           string         `json:"id" db:"id"`
	ProjectID    string         `json:"project_id" db:"project_id"`
	Status       RunStatus      `json:"status" db:"status"`
	CurrentPhase StepType       `json:"current_phase" db:"current_phase"`
	Config       WorkflowConfig `json:"workflow_config" db:"workflow_config"`
	InitiatedBy  string         `json:"initiated_by" db:"initiated_by"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// WorkflowStep is one phase instance of a run. Exactly one step per run is
// running or awaiting_approval at any time; lower-numbered steps are
// completed and higher-numbered steps are pending.
type WorkflowStep struct {
	ID               string         `json:"id" db:"id"`
	WorkflowRunID    string         `json:"workflow_run_id" db:"workflow_run_id"`
	StepNumber       int            `json:"step_number" db:"step_number"`
	StepType         StepType       `json:"step_type" db:"step_type"`
	StepName         string         `json:"step_name" db:"step_name"`
	Status           StepStatus     `json:"status" db:"status"`
	RequiresApproval bool           `json:"requires_approval" db:"requires_approval"`
	StartedAt        *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	ApprovedBy       *string        `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	RejectionReason  *string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	OutputSummary    map[string]any `json:"output_summary,omitempty" db:"output_summary"`
	ErrorMessage     *string        `json:"error_message,omitempty" db:"error_message"`
}

// WorkflowArtifact is a reviewable unit of generated content produced by a
// step before being materialized into a first-class project record.
type WorkflowArtifact struct {
	ID                 string         `json:"id" db:"id"`
	WorkflowRunID      string         `json:"workflow_run_id" db:"workflow_run_id"`
	WorkflowStepID     string         `json:"workflow_step_id" db:"workflow_step_id"`
	ArtifactType       ArtifactType   `json:"artifact_type" db:"artifact_type"`
	ArtifactData       []byte         `json:"artifact_data" db:"artifact_data"` // JSONB
	TargetTable        *string        `json:"target_table,omitempty" db:"target_table"`
	Status             ArtifactStatus `json:"status" db:"status"`
	VerificationMethod *string        `json:"verification_method,omitempty" db:"verification_method"`
	ReviewedBy         *string        `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt         *time.Time     `json:"reviewed_at,omitempty" db:"reviewed_at"`
	AppliedAt          *time.Time     `json:"applied_at,omitempty" db:"applied_at"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// ArtifactSummary is the trimmed artifact view returned by workflow status.
type ArtifactSummary struct {
	ID                 string         `json:"id"`
	ArtifactType       ArtifactType   `json:"artifact_type"`
	Status             ArtifactStatus `json:"status"`
	VerificationMethod *string        `json:"verification_method,omitempty"`
}

// WorkflowStatus is the aggregate view returned by the status operation.
type WorkflowStatus struct {
	Run       *WorkflowRun      `json:"run"`
	Steps     []*WorkflowStep   `json:"steps"`
	Artifacts []ArtifactSummary `json:"artifacts"`
	Progress  int               `json:"progress"`
}

// ApplyResult reports per-category best-effort counters from final apply.
type ApplyResult struct {
	Inserted map[string]int `json:"inserted"`
	Errors   map[string]int `json:"errors"`
	Messages []string       `json:"error_messages,omitempty"`
}

// NewApplyResult returns an ApplyResult with initialized counters.
func NewApplyResult() *ApplyResult {
	return &ApplyResult{
		Inserted: make(map[string]int),
		Errors:   make(map[string]int),
	}
}

// ApproveOutcome describes what happened after a successful approval: either
// the next step that was started, or run completion.
type ApproveOutcome struct {
	Completed    bool          `json:"completed"`
	NextStep     *WorkflowStep `json:"next_step,omitempty"`
	ApprovedStep string        `json:"approved_step_id"`
}
