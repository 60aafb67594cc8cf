package executor

import (
	"context"
	"encoding/json"
	"strings"

	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/services"
	"certflow/backend/internal/validator"
	"certflow/backend/pkg/apperr"
	"certflow/backend/pkg/models"
)

// RequirementExtractor extracts safety requirements from the run's documents
// and the approved hazards, then scores each candidate with the quality
// validator before persisting. Low-quality items are kept but carry their
// FLAG/REJECT status into review.
type RequirementExtractor struct {
	deps Deps
}

const requirementSystemPrompt = `You are a safety certification analyst deriving
requirements. Write each requirement as a single normative statement using
"shall", phrased as a system constraint that prevents the hazardous condition,
with quantified limits and units so compliance is objectively verifiable. Never
delegate the requirement to an operator or other person. Link each requirement
to the hazard uids it mitigates. Mint sequential uids REQ-001, REQ-002, ...
that do not collide with the existing uids listed.`

func (e *RequirementExtractor) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
	if err := e.deps.begin(ctx, in); err != nil {
		return nil, err
	}
	run, err := e.deps.runConfig(ctx, in.WorkflowRunID)
	if err != nil {
		return nil, err
	}
	docs, err := e.deps.Projects.ListDocuments(ctx, in.ProjectID, run.Config.DocumentIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load documents")
	}
	if len(docs) == 0 {
		return nil, apperr.New(apperr.CodePreconditionFailed, "no documents available for requirement extraction")
	}

	hazards, err := e.upstreamHazards(ctx, in)
	if err != nil {
		return nil, err
	}
	existing, err := e.deps.Projects.ListRequirements(ctx, in.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load existing requirements")
	}

	var prompt strings.Builder
	prompt.WriteString(systemContext(run.Config))
	uids := make([]string, 0, len(existing))
	for _, r := range existing {
		uids = append(uids, r.UID)
	}
	prompt.WriteString(existingUIDs("requirement", uids))
	if len(hazards) > 0 {
		prompt.WriteString("Identified hazards:\n")
		prompt.WriteString(hazardSection(hazards))
	}
	prompt.WriteString(documentSection(docs))

	raw, err := e.deps.generate(ctx, services.GenerateRequest{
		SystemPrompt: requirementSystemPrompt,
		UserPrompt:   prompt.String(),
		Schema:       requirementSchema,
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Requirements []models.RequirementData `json:"requirements"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generation returned undecodable requirements")
	}

	targetTable := "requirements"
	var artifacts []*models.WorkflowArtifact
	skipped := 0
	counts := map[string]int{"passed": 0, "flagged": 0, "rejected": 0}
	for i := range resp.Requirements {
		req := &resp.Requirements[i]
		// Text-only assessment; severity alignment needs a mitigation tier,
		// which is judged later by the batch validation service.
		assessment := validator.Validate(validator.Input{Text: req.Description}, validator.AgentRuleSet)
		score := assessment.Score
		req.QualityScore = &score
		req.QualityStatus = string(assessment.Status)
		req.QualityIssues = assessment.IssueMessages()
		switch assessment.Status {
		case validator.VerdictPass:
			counts["passed"]++
		case validator.VerdictFlag:
			counts["flagged"]++
		case validator.VerdictReject:
			counts["rejected"]++
		}

		a, err := newArtifact(in, req, targetTable, nil)
		if err != nil {
			e.deps.Logger.Warn("dropping invalid requirement", "error", err)
			skipped++
			continue
		}
		artifacts = append(artifacts, a)
	}
	return e.deps.finish(ctx, in, models.StepRequirementExtraction, artifacts, len(resp.Requirements), skipped, counts)
}

// upstreamHazards merges this run's approved hazard artifacts with hazards
// already materialized on the project.
func (e *RequirementExtractor) upstreamHazards(ctx context.Context, in orchestrator.ExecutionInput) ([]models.HazardData, error) {
	hazards, err := approvedPayloads[models.HazardData](ctx, e.deps, in.WorkflowRunID, models.ArtifactHazard)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(hazards))
	for _, h := range hazards {
		seen[h.UID] = true
	}
	materialized, err := e.deps.Projects.ListHazards(ctx, in.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load existing hazards")
	}
	for _, h := range materialized {
		if seen[h.UID] {
			continue
		}
		hazards = append(hazards, models.HazardData{
			UID:         h.UID,
			Title:       h.Title,
			Description: h.Description,
			Severity:    h.Severity,
			Likelihood:  h.Likelihood,
		})
	}
	return hazards, nil
}
