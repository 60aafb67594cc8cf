package executor

import (
	"fmt"
	"strings"

	"certflow/backend/pkg/models"
)

// Prompt assembly shared across executors. Document content is clipped so a
// large upload cannot blow the context window of a single generation call.
const maxDocumentChars = 24000

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}

func systemContext(cfg models.WorkflowConfig) string {
	var b strings.Builder
	if cfg.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", cfg.Industry)
	}
	if cfg.Framework != "" {
		fmt.Fprintf(&b, "Certification framework: %s\n", cfg.Framework)
	}
	if cfg.SystemDescription != "" {
		fmt.Fprintf(&b, "System under certification: %s\n", cfg.SystemDescription)
	}
	return b.String()
}

func documentSection(docs []*models.Document) string {
	var b strings.Builder
	budget := maxDocumentChars / max(len(docs), 1)
	for _, d := range docs {
		fmt.Fprintf(&b, "--- document %s (%s) ---\n%s\n", d.ID, d.Name, clip(d.Content, budget))
	}
	return b.String()
}

func hazardSection(hazards []models.HazardData) string {
	var b strings.Builder
	for _, h := range hazards {
		fmt.Fprintf(&b, "- %s: %s (severity=%s, likelihood=%s): %s\n",
			h.UID, h.Title, h.Severity, h.Likelihood, h.Description)
	}
	return b.String()
}

func requirementSection(reqs []models.RequirementData) string {
	var b strings.Builder
	for _, r := range reqs {
		fmt.Fprintf(&b, "- %s: %s [%s]: %s\n", r.UID, r.Title, r.Category, r.Description)
	}
	return b.String()
}

func elementSection(elems []models.CertifiableElementData) string {
	var b strings.Builder
	for _, e := range elems {
		fmt.Fprintf(&b, "- %s: %s (%s): %s\n", e.UID, e.Name, e.CEType, e.Description)
	}
	return b.String()
}

// existingUIDs renders already-materialized identifiers so extraction steps
// on re-runs do not mint duplicates.
func existingUIDs(label string, uids []string) string {
	if len(uids) == 0 {
		return ""
	}
	return fmt.Sprintf("Existing %s uids already in the project (do not reuse): %s\n",
		label, strings.Join(uids, ", "))
}
