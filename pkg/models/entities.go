package models

import "time"

// Project is the owning scope for all certification entities.
type Project struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Industry  *string   `json:"industry,omitempty" db:"industry"`
	Framework *string   `json:"framework,omitempty" db:"framework"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Document is an uploaded source document a workflow run extracts from.
type Document struct {
	ID         string    `json:"id" db:"id"`
	ProjectID  string    `json:"project_id" db:"project_id"`
	Name       string    `json:"name" db:"name"`
	Content    string    `json:"content" db:"content"`
	DocType    *string   `json:"doc_type,omitempty" db:"doc_type"`
	UploadedBy *string   `json:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Hazard is a first-class materialized hazard record.
type Hazard struct {
	ID          string     `json:"id" db:"id"`
	ProjectID   string     `json:"project_id" db:"project_id"`
	UID         string     `json:"uid" db:"uid"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Severity    Severity   `json:"severity" db:"severity"`
	Likelihood  Likelihood `json:"likelihood" db:"likelihood"`
	Mitigation  *string    `json:"mitigation,omitempty" db:"mitigation"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Requirement is a first-class materialized requirement record. Linked ids
// and quality columns are denormalized onto the row.
type Requirement struct {
	ID             string    `json:"id" db:"id"`
	ProjectID      string    `json:"project_id" db:"project_id"`
	UID            string    `json:"uid" db:"uid"`
	Title          string    `json:"title" db:"title"`
	Description    string    `json:"description" db:"description"`
	Category       string    `json:"category" db:"category"`
	Priority       string    `json:"priority" db:"priority"`
	LinkedHazardIDs []string `json:"linked_hazard_ids,omitempty" db:"linked_hazard_ids"`
	LinkedCEIDs    []string  `json:"linked_ce_ids,omitempty" db:"linked_ce_ids"`
	QualityScore   *int      `json:"quality_score,omitempty" db:"quality_score"`
	QualityStatus  *string   `json:"quality_status,omitempty" db:"quality_status"`
	QualityIssues  []string  `json:"quality_issues,omitempty" db:"quality_issues"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CertifiableElement is a first-class materialized CE record.
type CertifiableElement struct {
	ID          string    `json:"id" db:"id"`
	ProjectID   string    `json:"project_id" db:"project_id"`
	UID         string    `json:"uid" db:"uid"`
	Name        string    `json:"name" db:"name"`
	CEType      CEType    `json:"type" db:"ce_type"`
	Description *string   `json:"description,omitempty" db:"description"`
	ParentID    *string   `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ChecklistItem is a first-class materialized conformance checklist row.
type ChecklistItem struct {
	ID                 string             `json:"id" db:"id"`
	ProjectID          string             `json:"project_id" db:"project_id"`
	PhaseID            string             `json:"phase_id" db:"phase_id"`
	Category           string             `json:"category" db:"category"`
	Title              string             `json:"title" db:"title"`
	Description        string             `json:"description" db:"description"`
	VerificationMethod VerificationMethod `json:"verification_method" db:"verification_method"`
	Priority           string             `json:"priority" db:"priority"`
	CEID               *string            `json:"ce_id,omitempty" db:"ce_id"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// TestCase is a first-class materialized test case record.
type TestCase struct {
	ID                  string             `json:"id" db:"id"`
	ProjectID           string             `json:"project_id" db:"project_id"`
	Title               string             `json:"title" db:"title"`
	Description         string             `json:"description" db:"description"`
	TestType            string             `json:"test_type" db:"test_type"`
	Procedure           string             `json:"procedure" db:"procedure"`
	ExpectedResult      string             `json:"expected_result" db:"expected_result"`
	Priority            string             `json:"priority" db:"priority"`
	VerificationMethod  VerificationMethod `json:"verification_method" db:"verification_method"`
	LinkedRequirementID *string            `json:"linked_requirement_id,omitempty" db:"linked_requirement_id"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
