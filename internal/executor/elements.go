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

// CEStructureGenerator proposes the certifiable-element breakdown for the
// system from the approved requirements.
type CEStructureGenerator struct {
	deps Deps
}

const elementSystemPrompt = `You are a safety certification analyst decomposing a
system into certifiable elements. From the system description and the
requirements, propose a hierarchy of elements: the system at the root, then
subsystems, components, software and hardware items. Reference parents by uid
via parent_uid; leave it empty for the root. Mint sequential uids CE-001,
CE-002, ... that do not collide with the existing uids listed.`

func (e *CEStructureGenerator) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
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
		return nil, apperr.New(apperr.CodePreconditionFailed, "no requirements available for element generation")
	}
	existing, err := e.deps.Projects.ListCertifiableElements(ctx, in.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load existing elements")
	}

	var prompt strings.Builder
	prompt.WriteString(systemContext(run.Config))
	uids := make([]string, 0, len(existing))
	for _, ce := range existing {
		uids = append(uids, ce.UID)
	}
	prompt.WriteString(existingUIDs("element", uids))
	prompt.WriteString("Requirements:\n")
	prompt.WriteString(requirementSection(reqs))

	raw, err := e.deps.generate(ctx, services.GenerateRequest{
		SystemPrompt: elementSystemPrompt,
		UserPrompt:   prompt.String(),
		Schema:       certifiableElementSchema,
	}, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Elements []models.CertifiableElementData `json:"elements"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generation returned undecodable elements")
	}

	targetTable := "certifiable_elements"
	var artifacts []*models.WorkflowArtifact
	skipped := 0
	for i := range resp.Elements {
		a, err := newArtifact(in, &resp.Elements[i], targetTable, nil)
		if err != nil {
			e.deps.Logger.Warn("dropping invalid element", "error", err)
			skipped++
			continue
		}
		artifacts = append(artifacts, a)
	}
	return e.deps.finish(ctx, in, models.StepCEStructureGeneration, artifacts, len(resp.Elements), skipped, nil)
}

// upstreamRequirements merges this run's approved requirement artifacts with
// requirements already materialized on the project.
func upstreamRequirements(ctx context.Context, d Deps, in orchestrator.ExecutionInput) ([]models.RequirementData, error) {
	reqs, err := approvedPayloads[models.RequirementData](ctx, d, in.WorkflowRunID, models.ArtifactRequirement)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		seen[r.UID] = true
	}
	materialized, err := d.Projects.ListRequirements(ctx, in.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load existing requirements")
	}
	for _, r := range materialized {
		if seen[r.UID] {
			continue
		}
		reqs = append(reqs, models.RequirementData{
			UID:         r.UID,
			Title:       r.Title,
			Description: r.Description,
			Category:    r.Category,
			Priority:    r.Priority,
		})
	}
	return reqs, nil
}

// upstreamElements merges this run's approved element artifacts with elements
// already materialized on the project.
func upstreamElements(ctx context.Context, d Deps, in orchestrator.ExecutionInput) ([]models.CertifiableElementData, error) {
	elems, err := approvedPayloads[models.CertifiableElementData](ctx, d, in.WorkflowRunID, models.ArtifactCertifiableElement)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(elems))
	for _, e := range elems {
		seen[e.UID] = true
	}
	materialized, err := d.Projects.ListCertifiableElements(ctx, in.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to load existing elements")
	}
	for _, ce := range materialized {
		if seen[ce.UID] {
			continue
		}
		desc := ""
		if ce.Description != nil {
			desc = *ce.Description
		}
		elems = append(elems, models.CertifiableElementData{
			UID:         ce.UID,
			Name:        ce.Name,
			CEType:      ce.CEType,
			Description: desc,
		})
	}
	return elems, nil
}
