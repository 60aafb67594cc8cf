package executor

import (
	"context"
	"encoding/json"
	"strings"

	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/services"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// TestCaseGenerator derives verification test cases from the approved
// requirements. A test case referencing an unknown requirement uid is kept
// with a null linked_requirement_id rather than dropped.
type TestCaseGenerator struct {
	deps Deps
}

const testCaseSystemPrompt = `You are a safety verification engineer. For each
requirement, derive at least one test case that demonstrates compliance: a
numbered procedure, the observable expected result, and the appropriate test
level. The expected result must be measurable against the requirement's
quantified limits. Reference the requirement via linked_requirement_uid using
only the uids provided.`

func (e *TestCaseGenerator) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
	if err := e.deps.begin(ctx, in); err != nil {
		return nil, err
	}
	run, err := e.deps.runConfig(ctx, in.WorkflowRunID)
	if err != nil {
		return nil, err
	}
	reqs, err := upstreamRequirements(ctx, e.deps, in)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, apperr.New(apperr.CodePreconditionFailed, "no requirements available for test case generation")
	}

	var prompt strings.Builder
	prompt.WriteString(systemContext(run.Config))
	prompt.WriteString("Requirements:\n")
	prompt.WriteString(requirementSection(reqs))

	raw, err := e.deps.generate(ctx, services.GenerateRequest{
		SystemPrompt: testCaseSystemPrompt,
		UserPrompt:   prompt.String(),
		Schema:       testCaseSchema,
	}, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		TestCases []models.TestCaseData `json:"test_cases"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generation returned undecodable test cases")
	}

	reqIDs, err := e.deps.Projects.RequirementIDsByUID(ctx, in.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to resolve requirement uids")
	}

	targetTable := "test_cases"
	var artifacts []*models.WorkflowArtifact
	skipped := 0
	unlinked := 0
	for i := range resp.TestCases {
		tc := &resp.TestCases[i]
		if id, ok := reqIDs[tc.LinkedRequirementUID]; ok {
			tc.LinkedRequirementID = &id
		} else {
			unlinked++
		}
		a, err := newArtifact(in, tc, targetTable, &tc.VerificationMethod)
		if err != nil {
			e.deps.Logger.Warn("dropping invalid test case", "error", err)
			skipped++
			continue
		}
		artifacts = append(artifacts, a)
	}
	return e.deps.finish(ctx, in, models.StepTestCaseGeneration, artifacts, len(resp.TestCases), skipped,
		map[string]int{"unlinked": unlinked})
}
