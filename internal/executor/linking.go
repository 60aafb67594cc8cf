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

// LinkMode selects which entity pair a TraceLinker connects.
type LinkMode int

const (
	LinkHazardRequirement LinkMode = iota
	LinkRequirementCE
)

// TraceLinker proposes traceability links between hazards and requirements,
// or between requirements and certifiable elements. Links reference entities
// by uid; the resolvable ids are filled in eagerly and unresolved uids stay
// null until final apply retries them.
type TraceLinker struct {
	deps Deps
	mode LinkMode
}

const hazardLinkSystemPrompt = `You are a safety certification analyst building the
traceability matrix. For each requirement, identify every hazard it mitigates
and emit one link per pair with a one-sentence rationale, a confidence between
0 and 1, and the verification method that best demonstrates the mitigation.
Only reference the uids provided; do not invent entities.`

const ceLinkSystemPrompt = `You are a safety certification analyst building the
traceability matrix. For each requirement, identify every certifiable element
it constrains and emit one link per pair with a one-sentence rationale, a
confidence between 0 and 1, and the verification method that best demonstrates
compliance at that element. Only reference the uids provided; do not invent
entities.`

func (e *TraceLinker) Run(ctx context.Context, in orchestrator.ExecutionInput) (*orchestrator.ExecutionResult, error) {
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
		return nil, apperr.New(apperr.CodePreconditionFailed, "no requirements available for trace linking")
	}

	var prompt strings.Builder
	prompt.WriteString(systemContext(run.Config))
	var (
		system string
		schema = traceLinkSchema("hazard", "hazard_uid", "hazard_title")
	)
	switch e.mode {
	case LinkHazardRequirement:
		system = hazardLinkSystemPrompt
		re := RequirementExtractor{e.deps}
		hazards, err := re.upstreamHazards(ctx, in)
		if err != nil {
			return nil, err
		}
		if len(hazards) == 0 {
			return nil, apperr.New(apperr.CodePreconditionFailed, "no hazards available for trace linking")
		}
		prompt.WriteString("Hazards:\n")
		prompt.WriteString(hazardSection(hazards))
	case LinkRequirementCE:
		system = ceLinkSystemPrompt
		schema = traceLinkSchema("certifiable element", "ce_uid", "ce_title")
		elems, err := upstreamElements(ctx, e.deps, in)
		if err != nil {
			return nil, err
		}
		if len(elems) == 0 {
			return nil, apperr.New(apperr.CodePreconditionFailed, "no certifiable elements available for trace linking")
		}
		prompt.WriteString("Certifiable elements:\n")
		prompt.WriteString(elementSection(elems))
	}
	prompt.WriteString("Requirements:\n")
	prompt.WriteString(requirementSection(reqs))

	raw, err := e.deps.generate(ctx, services.GenerateRequest{
		SystemPrompt: system,
		UserPrompt:   prompt.String(),
		Schema:       schema,
	}, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Links []models.TraceLinkData `json:"links"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "generation returned undecodable links")
	}

	if err := e.resolveIDs(ctx, in.ProjectID, resp.Links); err != nil {
		return nil, err
	}

	stepType := models.StepHazardReqLinking
	if e.mode == LinkRequirementCE {
		stepType = models.StepRequirementCELinking
	}
	targetTable := "requirements"
	var artifacts []*models.WorkflowArtifact
	skipped := 0
	resolved := 0
	for i := range resp.Links {
		link := &resp.Links[i]
		a, err := newArtifact(in, link, targetTable, &link.VerificationMethod)
		if err != nil {
			e.deps.Logger.Warn("dropping invalid trace link", "error", err)
			skipped++
			continue
		}
		if link.RequirementID != nil && (link.HazardID != nil || link.CEID != nil) {
			resolved++
		}
		artifacts = append(artifacts, a)
	}
	return e.deps.finish(ctx, in, stepType, artifacts, len(resp.Links), skipped,
		map[string]int{"resolved": resolved})
}

// resolveIDs fills in the materialized ids for uids that already exist on the
// project. Links minted against artifacts from this run stay unresolved here.
func (e *TraceLinker) resolveIDs(ctx context.Context, projectID string, links []models.TraceLinkData) error {
	reqIDs, err := e.deps.Projects.RequirementIDsByUID(ctx, projectID)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to resolve requirement uids")
	}
	var sideIDs map[string]string
	if e.mode == LinkHazardRequirement {
		sideIDs, err = e.deps.Projects.HazardIDsByUID(ctx, projectID)
	} else {
		sideIDs, err = e.deps.Projects.CertifiableElementIDsByUID(ctx, projectID)
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "failed to resolve linked uids")
	}
	for i := range links {
		if id, ok := reqIDs[links[i].RequirementUID]; ok {
			links[i].RequirementID = &id
		}
		if e.mode == LinkHazardRequirement {
			if id, ok := sideIDs[links[i].HazardUID]; ok {
				links[i].HazardID = &id
			}
		} else if id, ok := sideIDs[links[i].CEUID]; ok {
			links[i].CEID = &id
		}
	}
	return nil
}
