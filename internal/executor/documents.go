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

// DocumentProcessor summarizes and classifies the run's uploaded documents.
// Its artifacts are informational only and carry no target table.
type DocumentProcessor struct {
	deps Deps
}

const documentSystemPrompt = `You are a safety certification analyst. Summarize each
provided document for downstream hazard and requirement extraction. Classify the
document type and list its safety-relevant topics. Emit one entry per document,
copying document_id verbatim.`

func (e *DocumentProcessor) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
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
		return nil, apperr.New(apperr.CodePreconditionFailed, "workflow has no documents to process")
	}

	var prompt strings.Builder
	prompt.WriteString(systemContext(run.Config))
	prompt.WriteString(documentSection(docs))

	raw, err := e.deps.generate(ctx, services.GenerateRequest{
		SystemPrompt: documentSystemPrompt,
		UserPrompt:   prompt.String(),
		Schema:       documentSummarySchema,
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Documents []models.DocumentSummaryData `json:"documents"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generation returned undecodable document summaries")
	}

	names := make(map[string]string, len(docs))
	for _, d := range docs {
		names[d.ID] = d.Name
	}

	var artifacts []*models.WorkflowArtifact
	skipped := 0
	for i := range resp.Documents {
		item := resp.Documents[i]
		if item.DocumentName == "" {
			item.DocumentName = names[item.DocumentID]
		}
		a, err := newArtifact(in, &item, "", nil)
		if err != nil {
			e.deps.Logger.Warn("dropping invalid document summary", "error", err)
			skipped++
			continue
		}
		artifacts = append(artifacts, a)
	}
	return e.deps.finish(ctx, in, models.StepDocumentUpload, artifacts, len(resp.Documents), skipped,
		map[string]int{"documents": len(docs)})
}
