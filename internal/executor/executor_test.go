package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/backend/internal/logging"
	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/repository"
	"certflow/backend/internal/services"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// stubGenerator replays canned responses in call order.
type stubGenerator struct {
	responses []json.RawMessage
	err       error
	calls     int
	lastReq   services.GenerateRequest
}

func (s *stubGenerator) Generate(_ context.Context, req services.GenerateRequest) (json.RawMessage, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("stub exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type fixture struct {
	store *repository.MemoryStore
	gen   *stubGenerator
	deps  Deps
	run   *models.WorkflowRun
	steps map[models.StepType]*models.WorkflowStep
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	gen := &stubGenerator{}
	f := &fixture{
		store: store,
		gen:   gen,
		deps: Deps{
			Workflows:  store,
			Projects:   store,
			Generator:  gen,
			Logger:     logging.NewNop(),
			RetryBase:  time.Millisecond,
			MaxRetries: 1,
		},
		steps: make(map[models.StepType]*models.WorkflowStep),
	}

	store.AddProject(&models.Project{ID: "proj-1", Name: "Brake Controller"})
	store.AddDocument(&models.Document{
		ID:        "doc-1",
		ProjectID: "proj-1",
		Name:      "safety-manual.md",
		Content:   "The hydraulic brake system shall stop the vehicle within 40 m from 80 km/h.",
	})

	f.run = &models.WorkflowRun{
		ID:        uuid.New().String(),
		ProjectID: "proj-1",
		Status:    models.RunStatusRunning,
		Config: models.WorkflowConfig{
			Industry:          "automotive",
			Framework:         "ISO 26262",
			SystemDescription: "hydraulic brake controller",
			DocumentIDs:       []string{"doc-1"},
		},
		InitiatedBy: "tester",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(context.Background(), f.run))

	var steps []*models.WorkflowStep
	for _, p := range models.PhaseDefinitions {
		s := &models.WorkflowStep{
			ID:               uuid.New().String(),
			WorkflowRunID:    f.run.ID,
			StepNumber:       p.StepNumber,
			StepType:         p.Type,
			StepName:         p.Name,
			Status:           models.StepStatusPending,
			RequiresApproval: p.RequiresApproval,
		}
		steps = append(steps, s)
		f.steps[p.Type] = s
	}
	require.NoError(t, store.CreateSteps(context.Background(), steps))
	return f
}

func (f *fixture) input(t models.StepType) orchestrator.ExecutionInput {
	return orchestrator.ExecutionInput{
		WorkflowRunID: f.run.ID,
		StepID:        f.steps[t].ID,
		ProjectID:     "proj-1",
	}
}

// seedApprovedArtifact stores an already-approved artifact as if a prior
// step produced it and a reviewer signed it off.
func (f *fixture) seedApprovedArtifact(t *testing.T, stepType models.StepType, payload models.ArtifactPayload, target string) *models.WorkflowArtifact {
	t.Helper()
	data, err := models.MarshalPayload(payload)
	require.NoError(t, err)
	a := &models.WorkflowArtifact{
		ID:             uuid.New().String(),
		WorkflowRunID:  f.run.ID,
		WorkflowStepID: f.steps[stepType].ID,
		ArtifactType:   payload.Type(),
		ArtifactData:   data,
		Status:         models.ArtifactStatusApproved,
		CreatedAt:      time.Now().UTC(),
	}
	if target != "" {
		a.TargetTable = &target
	}
	require.NoError(t, f.store.CreateArtifacts(context.Background(), []*models.WorkflowArtifact{a}))
	return a
}

func TestHazardExtractorPersistsValidItems(t *testing.T) {
	f := newFixture(t)
	f.gen.responses = []json.RawMessage{json.RawMessage(`{"hazards": [
		{"uid": "HAZ-001", "title": "Loss of braking", "description": "Hydraulic pressure loss under load", "severity": "catastrophic", "likelihood": "remote"},
		{"uid": "HAZ-002", "title": "Bad severity", "description": "vocabulary violation", "severity": "huge", "likelihood": "remote"}
	]}`)}

	exec := &HazardExtractor{f.deps}
	result, err := exec.Run(context.Background(), f.input(models.StepHazardExtraction))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Summary["generated"])
	assert.Equal(t, 1, result.Summary["skipped"])

	step, err := f.store.GetStep(context.Background(), f.steps[models.StepHazardExtraction].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusAwaitingApproval, step.Status)
	require.NotNil(t, step.StartedAt)

	arts, err := f.store.ListStepArtifacts(context.Background(), step.ID)
	require.NoError(t, err)
	// one hazard plus the batch summary
	require.Len(t, arts, 2)
	assert.Equal(t, models.ArtifactHazard, arts[0].ArtifactType)
	assert.Equal(t, models.ArtifactStatusPendingReview, arts[0].Status)
	require.NotNil(t, arts[0].TargetTable)
	assert.Equal(t, "hazards", *arts[0].TargetTable)
	assert.Equal(t, models.ArtifactHazardSummary, arts[1].ArtifactType)
}

func TestHazardExtractorRequiresDocuments(t *testing.T) {
	f := newFixture(t)
	f.run.Config.DocumentIDs = []string{"missing-doc"}
	require.NoError(t, f.store.CreateRun(context.Background(), f.run))

	exec := &HazardExtractor{f.deps}
	_, err := exec.Run(context.Background(), f.input(models.StepHazardExtraction))
	require.Error(t, err)
	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(err))
	assert.Zero(t, f.gen.calls)
}

func TestHazardExtractorSupersedesStaleArtifacts(t *testing.T) {
	f := newFixture(t)
	stale := &models.WorkflowArtifact{
		ID:             uuid.New().String(),
		WorkflowRunID:  f.run.ID,
		WorkflowStepID: f.steps[models.StepHazardExtraction].ID,
		ArtifactType:   models.ArtifactHazard,
		ArtifactData:   []byte(`{"uid":"HAZ-OLD"}`),
		Status:         models.ArtifactStatusPendingReview,
		CreatedAt:      time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, f.store.CreateArtifacts(context.Background(), []*models.WorkflowArtifact{stale}))
	f.gen.responses = []json.RawMessage{json.RawMessage(`{"hazards": [
		{"uid": "HAZ-001", "title": "Loss of braking", "description": "Hydraulic pressure loss", "severity": "critical", "likelihood": "remote"}
	]}`)}

	exec := &HazardExtractor{f.deps}
	_, err := exec.Run(context.Background(), f.input(models.StepHazardExtraction))
	require.NoError(t, err)

	arts, err := f.store.ListStepArtifacts(context.Background(), f.steps[models.StepHazardExtraction].ID)
	require.NoError(t, err)
	require.Len(t, arts, 3)
	assert.Equal(t, models.ArtifactStatusRejected, arts[0].Status)
}

func TestRequirementExtractorScoresEachItem(t *testing.T) {
	f := newFixture(t)
	f.seedApprovedArtifact(t, models.StepHazardExtraction, &models.HazardData{
		UID: "HAZ-001", Title: "Loss of braking", Description: "Hydraulic pressure loss",
		Severity: models.SeverityCatastrophic, Likelihood: models.LikelihoodRemote,
	}, "hazards")

	f.gen.responses = []json.RawMessage{json.RawMessage(`{"requirements": [
		{"uid": "REQ-001", "title": "Pressure interlock", "description": "The system shall prevent brake release when hydraulic pressure falls below 20 % of nominal.", "category": "safety", "priority": "high", "linked_hazard_uids": ["HAZ-001"]},
		{"uid": "REQ-002", "title": "Operator check", "description": "The operator should ensure the reservoir is inspected.", "category": "process", "priority": "low", "linked_hazard_uids": ["HAZ-001"]}
	]}`)}

	exec := &RequirementExtractor{f.deps}
	result, err := exec.Run(context.Background(), f.input(models.StepRequirementExtraction))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary["passed"])
	assert.Equal(t, 1, result.Summary["rejected"])

	arts, err := f.store.ListStepArtifacts(context.Background(), f.steps[models.StepRequirementExtraction].ID)
	require.NoError(t, err)
	require.Len(t, arts, 3)

	var first models.RequirementData
	require.NoError(t, json.Unmarshal(arts[0].ArtifactData, &first))
	require.NotNil(t, first.QualityScore)
	assert.Equal(t, "PASS", first.QualityStatus)
	assert.Empty(t, first.QualityIssues)

	var second models.RequirementData
	require.NoError(t, json.Unmarshal(arts[1].ArtifactData, &second))
	assert.Equal(t, "REJECT", second.QualityStatus)
	assert.NotEmpty(t, second.QualityIssues)
}

func TestTraceLinkerResolvesMaterializedIDs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InsertHazard(context.Background(), &models.Hazard{
		ID: "haz-row-1", ProjectID: "proj-1", UID: "HAZ-001", Title: "Loss of braking",
		Description: "Hydraulic pressure loss", Severity: models.SeverityCritical, Likelihood: models.LikelihoodRemote,
	}))
	require.NoError(t, f.store.InsertRequirement(context.Background(), &models.Requirement{
		ID: "req-row-1", ProjectID: "proj-1", UID: "REQ-001", Title: "Pressure interlock",
		Description: "The system shall prevent brake release below 120 bar.", Category: "safety", Priority: "high",
	}))

	f.gen.responses = []json.RawMessage{json.RawMessage(`{"links": [
		{"hazard_uid": "HAZ-001", "hazard_title": "Loss of braking", "requirement_uid": "REQ-001", "requirement_title": "Pressure interlock", "link_rationale": "Interlock prevents release on pressure loss", "confidence": 0.9, "verification_method": "test"}
	]}`)}

	exec := &TraceLinker{deps: f.deps, mode: LinkHazardRequirement}
	result, err := exec.Run(context.Background(), f.input(models.StepHazardReqLinking))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary["resolved"])

	arts, err := f.store.ListStepArtifacts(context.Background(), f.steps[models.StepHazardReqLinking].ID)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	require.NotNil(t, arts[0].VerificationMethod)
	assert.Equal(t, "test", *arts[0].VerificationMethod)

	var link models.TraceLinkData
	require.NoError(t, json.Unmarshal(arts[0].ArtifactData, &link))
	require.NotNil(t, link.HazardID)
	assert.Equal(t, "haz-row-1", *link.HazardID)
	require.NotNil(t, link.RequirementID)
	assert.Equal(t, "req-row-1", *link.RequirementID)
}

func TestTraceLinkerDropsOutOfRangeConfidence(t *testing.T) {
	f := newFixture(t)
	f.seedApprovedArtifact(t, models.StepHazardExtraction, &models.HazardData{
		UID: "HAZ-001", Title: "Loss of braking", Description: "Hydraulic pressure loss",
		Severity: models.SeverityCritical, Likelihood: models.LikelihoodRemote,
	}, "hazards")
	f.seedApprovedArtifact(t, models.StepRequirementExtraction, &models.RequirementData{
		UID: "REQ-001", Title: "Pressure interlock",
		Description: "The system shall prevent brake release below 120 bar.", Category: "safety", Priority: "high",
	}, "requirements")

	f.gen.responses = []json.RawMessage{json.RawMessage(`{"links": [
		{"hazard_uid": "HAZ-001", "hazard_title": "Loss of braking", "requirement_uid": "REQ-001", "requirement_title": "Pressure interlock", "link_rationale": "bad confidence", "confidence": 1.4, "verification_method": "test"}
	]}`)}

	exec := &TraceLinker{deps: f.deps, mode: LinkHazardRequirement}
	result, err := exec.Run(context.Background(), f.input(models.StepHazardReqLinking))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary["skipped"])
	assert.Equal(t, 0, result.Summary["persisted"])
}

func TestGenerationFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.gen.err = apperr.New(apperr.CodeTimeout, "generation timed out")

	exec := &HazardExtractor{f.deps}
	_, err := exec.Run(context.Background(), f.input(models.StepHazardExtraction))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
}

func TestFinalApplierMaterializesEntities(t *testing.T) {
	f := newFixture(t)
	score := 8
	f.seedApprovedArtifact(t, models.StepHazardExtraction, &models.HazardData{
		UID: "HAZ-001", Title: "Loss of braking", Description: "Hydraulic pressure loss",
		Severity: models.SeverityCatastrophic, Likelihood: models.LikelihoodRemote,
	}, "hazards")
	f.seedApprovedArtifact(t, models.StepRequirementExtraction, &models.RequirementData{
		UID: "REQ-001", Title: "Pressure interlock",
		Description: "The system shall prevent brake release below 120 bar.",
		Category:    "safety", Priority: "high",
		LinkedHazards: []string{"HAZ-001"},
		QualityScore:  &score, QualityStatus: "PASS",
	}, "requirements")
	f.seedApprovedArtifact(t, models.StepCEStructureGeneration, &models.CertifiableElementData{
		UID: "CE-001", Name: "Brake Controller", CEType: models.CESystem,
	}, "certifiable_elements")
	f.seedApprovedArtifact(t, models.StepCEStructureGeneration, &models.CertifiableElementData{
		UID: "CE-002", Name: "Pressure Sensor", CEType: models.CEComponent, ParentUID: "CE-001",
	}, "certifiable_elements")
	f.seedApprovedArtifact(t, models.StepHazardReqLinking, &models.TraceLinkData{
		HazardUID: "HAZ-001", HazardTitle: "Loss of braking",
		RequirementUID: "REQ-001", RequirementTitle: "Pressure interlock",
		LinkRationale: "Interlock prevents release", Confidence: 0.9,
		VerificationMethod: models.VerifyTest,
	}, "requirements")
	f.seedApprovedArtifact(t, models.StepConformanceGeneration, &models.ConformanceItemData{
		PhaseID: "design", Category: "verification", Title: "Pressure interlock demonstrated",
		Description: "Demonstrate interlock behavior", VerificationMethod: models.VerifyTest, Priority: "high",
		CEUID: "CE-001",
	}, "checklist_items")
	f.seedApprovedArtifact(t, models.StepTestCaseGeneration, &models.TestCaseData{
		Title: "Interlock holds below threshold", Description: "Verify release is blocked",
		TestType: "system", Procedure: "1. Drop pressure to 100 bar. 2. Command release.",
		ExpectedResult: "Release is refused", Priority: "high",
		VerificationMethod: models.VerifyTest, LinkedRequirementUID: "REQ-001",
	}, "test_cases")

	exec := &FinalApplier{f.deps}
	result, err := exec.Run(context.Background(), f.input(models.StepFinalApply))
	require.NoError(t, err)
	require.NotNil(t, result.Apply)
	assert.Equal(t, 1, result.Apply.Inserted["hazards"])
	assert.Equal(t, 1, result.Apply.Inserted["requirements"])
	assert.Equal(t, 2, result.Apply.Inserted["certifiable_elements"])
	assert.Equal(t, 1, result.Apply.Inserted["hazard_requirement_links"])
	assert.Equal(t, 1, result.Apply.Inserted["checklist_items"])
	assert.Equal(t, 1, result.Apply.Inserted["test_cases"])
	assert.Empty(t, result.Apply.Errors)

	run, err := f.store.GetRun(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)

	reqs, err := f.store.ListRequirements(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].LinkedHazardIDs, 1)
	require.NotNil(t, reqs[0].QualityScore)
	assert.Equal(t, 8, *reqs[0].QualityScore)

	elems, err := f.store.ListCertifiableElements(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, elems, 2)
	for _, ce := range elems {
		if ce.UID == "CE-002" {
			require.NotNil(t, ce.ParentID)
		}
	}

	tcs, err := f.store.ListTestCases(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, tcs, 1)
	require.NotNil(t, tcs[0].LinkedRequirementID)

	// every applicable artifact consumed
	remaining, err := f.store.ListApplicableArtifacts(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestFinalApplierIsBestEffortAndResumable(t *testing.T) {
	f := newFixture(t)
	// A link whose hazard side never materialized fails, the rest applies.
	f.seedApprovedArtifact(t, models.StepRequirementExtraction, &models.RequirementData{
		UID: "REQ-001", Title: "Pressure interlock",
		Description: "The system shall prevent brake release below 120 bar.",
		Category:    "safety", Priority: "high",
	}, "requirements")
	f.seedApprovedArtifact(t, models.StepHazardReqLinking, &models.TraceLinkData{
		HazardUID: "HAZ-MISSING", HazardTitle: "Ghost",
		RequirementUID: "REQ-001", RequirementTitle: "Pressure interlock",
		LinkRationale: "dangling reference", Confidence: 0.5,
		VerificationMethod: models.VerifyAnalysis,
	}, "requirements")

	exec := &FinalApplier{f.deps}
	result, err := exec.Run(context.Background(), f.input(models.StepFinalApply))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Apply.Inserted["requirements"])
	assert.Equal(t, 1, result.Apply.Errors["traceability_link"])
	assert.NotEmpty(t, result.Apply.Messages)

	// The failed link stays applicable; the applied requirement does not.
	remaining, err := f.store.ListApplicableArtifacts(context.Background(), f.run.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, models.ArtifactTraceabilityLink, remaining[0].ArtifactType)

	// A second apply does not duplicate the requirement.
	result, err = exec.Run(context.Background(), f.input(models.StepFinalApply))
	require.NoError(t, err)
	assert.Zero(t, result.Apply.Inserted["requirements"])

	reqs, err := f.store.ListRequirements(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestDocumentProcessorSummarizes(t *testing.T) {
	f := newFixture(t)
	f.gen.responses = []json.RawMessage{json.RawMessage(`{"documents": [
		{"document_id": "doc-1", "document_name": "safety-manual.md", "doc_type": "manual", "summary": "Braking performance limits and hydraulic safety constraints.", "key_topics": ["braking", "hydraulics"]}
	]}`)}

	exec := &DocumentProcessor{f.deps}
	result, err := exec.Run(context.Background(), f.input(models.StepDocumentUpload))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary["generated"])
	assert.Equal(t, 1, result.Summary["documents"])

	arts, err := f.store.ListStepArtifacts(context.Background(), f.steps[models.StepDocumentUpload].ID)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, models.ArtifactDocumentSummary, arts[0].ArtifactType)
	assert.Nil(t, arts[0].TargetTable)
}
