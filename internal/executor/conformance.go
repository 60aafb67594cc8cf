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

// ConformanceGenerator derives the conformance checklist for the run's
// certification framework against the approved certifiable elements.
type ConformanceGenerator struct {
	deps Deps
}

const conformanceSystemPrompt = `You are a safety certification analyst preparing a
conformance checklist. For the named certification framework, derive the
checklist items the project must demonstrate, grouped by certification phase
and category, each with a verification method and priority. Reference the
certifiable element a demonstration applies to via ce_uid where one fits;
leave it empty for project-wide items. Only reference provided uids.`

func (e *ConformanceGenerator) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
	if err := e.deps.begin(ctx, in); err != nil {
		return nil, err
	}
	run, err := e.deps.runConfig(ctx, in.WorkflowRunID)
	if err != nil {
		return nil, err
	}
	elems, err := upstreamElements(ctx, e.deps, in)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, apperr.New(apperr.CodePreconditionFailed, "no certifiable elements available for conformance generation")
	}

	var prompt strings.Builder
	prompt.WriteString(systemContext(run.Config))
	prompt.WriteString("Certifiable elements:\n")
	prompt.WriteString(elementSection(elems))

	raw, err := e.deps.generate(ctx, services.GenerateRequest{
		SystemPrompt: conformanceSystemPrompt,
		UserPrompt:   prompt.String(),
		Schema:       conformanceSchema,
	}, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Items []models.ConformanceItemData `json:"items"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generation returned undecodable conformance items")
	}

	targetTable := "checklist_items"
	var artifacts []*models.WorkflowArtifact
	skipped := 0
	for i := range resp.Items {
		item := &resp.Items[i]
		a, err := newArtifact(in, item, targetTable, &item.VerificationMethod)
		if err != nil {
			e.deps.Logger.Warn("dropping invalid conformance item", "error", err)
			skipped++
			continue
		}
		artifacts = append(artifacts, a)
	}
	return e.deps.finish(ctx, in, models.StepConformanceGeneration, artifacts, len(resp.Items), skipped, nil)
}
