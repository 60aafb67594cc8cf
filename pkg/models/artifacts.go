package models

import (
	"encoding/json"
	"fmt"
)

// ArtifactType tags the payload shape stored in WorkflowArtifact.ArtifactData
type ArtifactType string

const (
	ArtifactHazard             ArtifactType = "hazard"
	ArtifactRequirement        ArtifactType = "requirement"
	ArtifactCertifiableElement ArtifactType = "certifiable_element"
	ArtifactTraceabilityLink   ArtifactType = "traceability_link"
	ArtifactConformanceItem    ArtifactType = "conformance_item"
	ArtifactTestCase           ArtifactType = "test_case"

	// Informational companion types produced alongside each batch.
	ArtifactDocumentSummary    ArtifactType = "document_summary"
	ArtifactHazardSummary      ArtifactType = "hazard_summary"
	ArtifactRequirementSummary ArtifactType = "requirement_summary"
	ArtifactCESummary          ArtifactType = "ce_summary"
	ArtifactTraceSummary       ArtifactType = "traceability_summary"
	ArtifactConformanceSummary ArtifactType = "conformance_summary"
	ArtifactTestCaseSummary    ArtifactType = "test_case_summary"
)

// Severity classifies the worst credible outcome of a hazard
type Severity string

const (
	SeverityCatastrophic Severity = "catastrophic"
	SeverityCritical     Severity = "critical"
	SeverityMarginal     Severity = "marginal"
	SeverityNegligible   Severity = "negligible"
)

// Likelihood classifies hazard occurrence probability
type Likelihood string

const (
	LikelihoodFrequent   Likelihood = "frequent"
	LikelihoodProbable   Likelihood = "probable"
	LikelihoodOccasional Likelihood = "occasional"
	LikelihoodRemote     Likelihood = "remote"
	LikelihoodImprobable Likelihood = "improbable"
)

// VerificationMethod is how a requirement, link, or checklist item is shown
// to be satisfied.
type VerificationMethod string

const (
	VerifyAnalysis      VerificationMethod = "analysis"
	VerifyInspection    VerificationMethod = "inspection"
	VerifyDemonstration VerificationMethod = "demonstration"
	VerifyTest          VerificationMethod = "test"
)

// CEType classifies certifiable elements
type CEType string

const (
	CESystem    CEType = "system"
	CESubsystem CEType = "subsystem"
	CEComponent CEType = "component"
	CESoftware  CEType = "software"
	CEHardware  CEType = "hardware"
)

func validSeverity(s Severity) bool {
	switch s {
	case SeverityCatastrophic, SeverityCritical, SeverityMarginal, SeverityNegligible:
		return true
	}
	return false
}

func validLikelihood(l Likelihood) bool {
	switch l {
	case LikelihoodFrequent, LikelihoodProbable, LikelihoodOccasional, LikelihoodRemote, LikelihoodImprobable:
		return true
	}
	return false
}

func validVerification(v VerificationMethod) bool {
	switch v {
	case VerifyAnalysis, VerifyInspection, VerifyDemonstration, VerifyTest:
		return true
	}
	return false
}

// ArtifactPayload is implemented by every typed artifact_data shape.
// Validate enforces the minimum required fields for the artifact type before
// an executor may persist it; invalid items are dropped, not fatal.
type ArtifactPayload interface {
	Type() ArtifactType
	Validate() error
}

// HazardData is the payload for hazard artifacts.
type HazardData struct {
	UID         string     `json:"uid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity"`
	Likelihood  Likelihood `json:"likelihood"`
	Mitigation  string     `json:"mitigation,omitempty"`
	SourceDoc   string     `json:"source_document,omitempty"`
}

func (d *HazardData) Type() ArtifactType { return ArtifactHazard }

func (d *HazardData) Validate() error {
	if d.UID == "" || d.Title == "" || d.Description == "" {
		return fmt.Errorf("hazard %q: uid, title and description are required", d.UID)
	}
	if !validSeverity(d.Severity) {
		return fmt.Errorf("hazard %q: invalid severity %q", d.UID, d.Severity)
	}
	if !validLikelihood(d.Likelihood) {
		return fmt.Errorf("hazard %q: invalid likelihood %q", d.UID, d.Likelihood)
	}
	return nil
}

// RequirementData is the payload for requirement artifacts. Quality fields
// are filled in by the requirement-extraction executor.
type RequirementData struct {
	UID           string   `json:"uid"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Priority      string   `json:"priority"`
	LinkedHazards []string `json:"linked_hazard_uids,omitempty"`
	QualityScore  *int     `json:"quality_score,omitempty"`
	QualityStatus string   `json:"quality_status,omitempty"`
	QualityIssues []string `json:"quality_issues,omitempty"`
}

func (d *RequirementData) Type() ArtifactType { return ArtifactRequirement }

func (d *RequirementData) Validate() error {
	if d.UID == "" || d.Title == "" || d.Description == "" || d.Category == "" || d.Priority == "" {
		return fmt.Errorf("requirement %q: uid, title, description, category and priority are required", d.UID)
	}
	return nil
}

// CertifiableElementData is the payload for certifiable_element artifacts.
type CertifiableElementData struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	CEType      CEType `json:"type"`
	Description string `json:"description,omitempty"`
	ParentUID   string `json:"parent_uid,omitempty"`
}

func (d *CertifiableElementData) Type() ArtifactType { return ArtifactCertifiableElement }

func (d *CertifiableElementData) Validate() error {
	if d.UID == "" || d.Name == "" {
		return fmt.Errorf("certifiable element %q: uid and name are required", d.UID)
	}
	switch d.CEType {
	case CESystem, CESubsystem, CEComponent, CESoftware, CEHardware:
		return nil
	}
	return fmt.Errorf("certifiable element %q: invalid type %q", d.UID, d.CEType)
}

// TraceLinkData is the payload for traceability_link artifacts. For
// requirement_ce_linking the hazard fields carry the CE side instead; the
// resolved ids are filled by the executor and may stay nil when a uid does
// not resolve.
type TraceLinkData struct {
	HazardUID          string             `json:"hazard_uid"`
	HazardTitle        string             `json:"hazard_title"`
	RequirementUID     string             `json:"requirement_uid"`
	RequirementTitle   string             `json:"requirement_title"`
	CEUID              string             `json:"ce_uid,omitempty"`
	CETitle            string             `json:"ce_title,omitempty"`
	LinkRationale      string             `json:"link_rationale"`
	Confidence         float64            `json:"confidence"`
	VerificationMethod VerificationMethod `json:"verification_method"`
	HazardID           *string            `json:"hazard_id,omitempty"`
	RequirementID      *string            `json:"requirement_id,omitempty"`
	CEID               *string            `json:"ce_id,omitempty"`
}

func (d *TraceLinkData) Type() ArtifactType { return ArtifactTraceabilityLink }

func (d *TraceLinkData) Validate() error {
	if d.RequirementUID == "" || d.RequirementTitle == "" {
		return fmt.Errorf("trace link: requirement_uid and requirement_title are required")
	}
	if d.HazardUID == "" && d.CEUID == "" {
		return fmt.Errorf("trace link for %q: a hazard or CE side is required", d.RequirementUID)
	}
	if d.LinkRationale == "" {
		return fmt.Errorf("trace link for %q: link_rationale is required", d.RequirementUID)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("trace link for %q: confidence %v out of [0,1]", d.RequirementUID, d.Confidence)
	}
	if !validVerification(d.VerificationMethod) {
		return fmt.Errorf("trace link for %q: invalid verification_method %q", d.RequirementUID, d.VerificationMethod)
	}
	return nil
}

// ConformanceItemData is the payload for conformance_item artifacts.
type ConformanceItemData struct {
	PhaseID            string             `json:"phase_id"`
	Category           string             `json:"category"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	VerificationMethod VerificationMethod `json:"verification_method"`
	Priority           string             `json:"priority"`
	CEUID              string             `json:"ce_uid,omitempty"`
}

func (d *ConformanceItemData) Type() ArtifactType { return ArtifactConformanceItem }

func (d *ConformanceItemData) Validate() error {
	if d.PhaseID == "" || d.Category == "" || d.Title == "" || d.Description == "" {
		return fmt.Errorf("conformance item %q: phase_id, category, title and description are required", d.Title)
	}
	if !validVerification(d.VerificationMethod) {
		return fmt.Errorf("conformance item %q: invalid verification_method %q", d.Title, d.VerificationMethod)
	}
	switch d.Priority {
	case "high", "medium", "low":
		return nil
	}
	return fmt.Errorf("conformance item %q: invalid priority %q", d.Title, d.Priority)
}

// TestCaseData is the payload for test_case artifacts.
type TestCaseData struct {
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	TestType             string             `json:"test_type"`
	Procedure            string             `json:"procedure"`
	ExpectedResult       string             `json:"expected_result"`
	Priority             string             `json:"priority"`
	VerificationMethod   VerificationMethod `json:"verification_method"`
	LinkedRequirementUID string             `json:"linked_requirement_uid,omitempty"`
	LinkedRequirementID  *string            `json:"linked_requirement_id,omitempty"`
}

func (d *TestCaseData) Type() ArtifactType { return ArtifactTestCase }

func (d *TestCaseData) Validate() error {
	if d.Title == "" || d.Description == "" || d.Procedure == "" || d.ExpectedResult == "" || d.Priority == "" {
		return fmt.Errorf("test case %q: title, description, procedure, expected_result and priority are required", d.Title)
	}
	switch d.TestType {
	case "unit", "integration", "system", "acceptance", "safety":
	default:
		return fmt.Errorf("test case %q: invalid test_type %q", d.Title, d.TestType)
	}
	if !validVerification(d.VerificationMethod) {
		return fmt.Errorf("test case %q: invalid verification_method %q", d.Title, d.VerificationMethod)
	}
	return nil
}

// DocumentSummaryData is the payload for document_summary artifacts.
type DocumentSummaryData struct {
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	DocType      string   `json:"doc_type"`
	Summary      string   `json:"summary"`
	KeyTopics    []string `json:"key_topics,omitempty"`
}

func (d *DocumentSummaryData) Type() ArtifactType { return ArtifactDocumentSummary }

func (d *DocumentSummaryData) Validate() error {
	if d.DocumentID == "" || d.Summary == "" {
		return fmt.Errorf("document summary: document_id and summary are required")
	}
	return nil
}

// BatchSummaryData is the aggregate-count payload persisted once per step.
type BatchSummaryData struct {
	StepType  StepType       `json:"step_type"`
	Generated int            `json:"generated"`
	Persisted int            `json:"persisted"`
	Skipped   int            `json:"skipped"`
	Counts    map[string]int `json:"counts,omitempty"`
}

func (d *BatchSummaryData) Type() ArtifactType {
	switch d.StepType {
	case StepDocumentUpload:
		return ArtifactDocumentSummary
	case StepHazardExtraction:
		return ArtifactHazardSummary
	case StepRequirementExtraction:
		return ArtifactRequirementSummary
	case StepCEStructureGeneration:
		return ArtifactCESummary
	case StepHazardReqLinking, StepRequirementCELinking:
		return ArtifactTraceSummary
	case StepConformanceGeneration:
		return ArtifactConformanceSummary
	case StepTestCaseGeneration:
		return ArtifactTestCaseSummary
	}
	return ArtifactType(string(d.StepType) + "_summary")
}

func (d *BatchSummaryData) Validate() error {
	if d.StepType == "" {
		return fmt.Errorf("batch summary: step_type is required")
	}
	return nil
}

// MarshalPayload serializes a validated payload for the storage boundary.
func MarshalPayload(p ArtifactPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}
