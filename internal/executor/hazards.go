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

// HazardExtractor extracts hazards from the run's documents. Items whose
// severity or likelihood is outside the classification vocabulary are
// dropped rather than failing the batch.
type HazardExtractor struct {
	deps Deps
}

const hazardSystemPrompt = `You are a safety certification analyst performing hazard
analysis. Extract every credible hazard from the provided documents. For each
hazard assign a severity (worst credible outcome) and a likelihood from the
given vocabularies, and suggest a mitigation at the highest feasible design
precedence: eliminate the hazard by design before guarding, guard before
warning, warn before relying on procedure or training. Mint sequential uids
HAZ-001, HAZ-002, ... that do not collide with the existing uids listed.`

func (e *HazardExtractor) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
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
		return nil, apperr.New(apperr.CodePreconditionFailed, "no documents available for hazard extraction")
	}
	existing, err := e.deps.Projects.ListHazards(ctx, in.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load existing hazards")
	}

	var prompt strings.Builder
	prompt.WriteString(systemContext(run.Config))
	uids := make([]string, 0, len(existing))
	for _, h := range existing {
		uids = append(uids, h.UID)
	}
	prompt.WriteString(existingUIDs("hazard", uids))
	prompt.WriteString(documentSection(docs))

	raw, err := e.deps.generate(ctx, services.GenerateRequest{
		SystemPrompt: hazardSystemPrompt,
		UserPrompt:   prompt.String(),
		Schema:       hazardSchema,
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Hazards []models.HazardData `json:"hazards"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generation returned undecodable hazards")
	}

	targetTable := "hazards"
	var artifacts []*models.WorkflowArtifact
	skipped := 0
	for i := range resp.Hazards {
		a, err := newArtifact(in, &resp.Hazards[i], targetTable, nil)
		if err != nil {
			e.deps.Logger.Warn("dropping invalid hazard", "error", err)
			skipped++
			continue
		}
		artifacts = append(artifacts, a)
	}
	return e.deps.finish(ctx, in, models.StepHazardExtraction, artifacts, len(resp.Hazards), skipped, nil)
}
