package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"certflow/backend/pkg/models"
)

// PostgresProjectStore is a PostgreSQL implementation of the ProjectStore interface.
type PostgresProjectStore struct {
	db *pgxpool.Pool
}

// NewPostgresProjectStore creates a new PostgresProjectStore.
func NewPostgresProjectStore(db *pgxpool.Pool) *PostgresProjectStore {
	return &PostgresProjectStore{db: db}
}

// GetProject retrieves a project by its ID.
func (s *PostgresProjectStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(ctx,
		"SELECT id, name, industry, framework, created_at FROM projects WHERE id = $1", id).
		Scan(&p.ID, &p.Name, &p.Industry, &p.Framework, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListDocuments returns the project's documents, optionally restricted to ids.
func (s *PostgresProjectStore) ListDocuments(ctx context.Context, projectID string, ids []string) ([]*models.Document, error) {
	query := "SELECT id, project_id, name, content, doc_type, uploaded_by, created_at FROM documents WHERE project_id = $1"
	args := []any{projectID}
	if len(ids) > 0 {
		query += " AND id = ANY($2)"
		args = append(args, ids)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.Content, &d.DocType, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// ListHazards returns the project's hazards.
func (s *PostgresProjectStore) ListHazards(ctx context.Context, projectID string) ([]*models.Hazard, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, project_id, uid, title, description, severity, likelihood, mitigation, created_at FROM hazards WHERE project_id = $1 ORDER BY uid", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hazards []*models.Hazard
	for rows.Next() {
		var h models.Hazard
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.UID, &h.Title, &h.Description, &h.Severity, &h.Likelihood, &h.Mitigation, &h.CreatedAt); err != nil {
			return nil, err
		}
		hazards = append(hazards, &h)
	}
	return hazards, rows.Err()
}

// ListRequirements returns the project's requirements.
func (s *PostgresProjectStore) ListRequirements(ctx context.Context, projectID string) ([]*models.Requirement, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, project_id, uid, title, description, category, priority, linked_hazard_ids, linked_ce_ids, quality_score, quality_status, quality_issues, created_at FROM requirements WHERE project_id = $1 ORDER BY uid", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*models.Requirement
	for rows.Next() {
		var r models.Requirement
		var hazardIDs, ceIDs, issues []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.UID, &r.Title, &r.Description, &r.Category, &r.Priority,
			&hazardIDs, &ceIDs, &r.QualityScore, &r.QualityStatus, &issues, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeJSONColumn(hazardIDs, &r.LinkedHazardIDs); err != nil {
			return nil, err
		}
		if err := decodeJSONColumn(ceIDs, &r.LinkedCEIDs); err != nil {
			return nil, err
		}
		if err := decodeJSONColumn(issues, &r.QualityIssues); err != nil {
			return nil, err
		}
		reqs = append(reqs, &r)
	}
	return reqs, rows.Err()
}

// ListCertifiableElements returns the project's CEs.
func (s *PostgresProjectStore) ListCertifiableElements(ctx context.Context, projectID string) ([]*models.CertifiableElement, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, project_id, uid, name, ce_type, description, parent_id, created_at FROM certifiable_elements WHERE project_id = $1 ORDER BY uid", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ces []*models.CertifiableElement
	for rows.Next() {
		var ce models.CertifiableElement
		if err := rows.Scan(&ce.ID, &ce.ProjectID, &ce.UID, &ce.Name, &ce.CEType, &ce.Description, &ce.ParentID, &ce.CreatedAt); err != nil {
			return nil, err
		}
		ces = append(ces, &ce)
	}
	return ces, rows.Err()
}

func (s *PostgresProjectStore) uidMap(ctx context.Context, table, projectID string) (map[string]string, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf("SELECT uid, id FROM %s WHERE project_id = $1", table), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var uid, id string
		if err := rows.Scan(&uid, &id); err != nil {
			return nil, err
		}
		m[uid] = id
	}
	return m, rows.Err()
}

// HazardIDsByUID returns the project's hazard uid -> id map.
func (s *PostgresProjectStore) HazardIDsByUID(ctx context.Context, projectID string) (map[string]string, error) {
	return s.uidMap(ctx, "hazards", projectID)
}

// RequirementIDsByUID returns the project's requirement uid -> id map.
func (s *PostgresProjectStore) RequirementIDsByUID(ctx context.Context, projectID string) (map[string]string, error) {
	return s.uidMap(ctx, "requirements", projectID)
}

// CertifiableElementIDsByUID returns the project's CE uid -> id map.
func (s *PostgresProjectStore) CertifiableElementIDsByUID(ctx context.Context, projectID string) (map[string]string, error) {
	return s.uidMap(ctx, "certifiable_elements", projectID)
}

// InsertHazard materializes a hazard row.
func (s *PostgresProjectStore) InsertHazard(ctx context.Context, h *models.Hazard) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO hazards (id, project_id, uid, title, description, severity, likelihood, mitigation, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		h.ID, h.ProjectID, h.UID, h.Title, h.Description, h.Severity, h.Likelihood, h.Mitigation, h.CreatedAt)
	return err
}

// InsertRequirement materializes a requirement row.
func (s *PostgresProjectStore) InsertRequirement(ctx context.Context, r *models.Requirement) error {
	hazardIDs, err := json.Marshal(orEmpty(r.LinkedHazardIDs))
	if err != nil {
		return err
	}
	ceIDs, err := json.Marshal(orEmpty(r.LinkedCEIDs))
	if err != nil {
		return err
	}
	issues, err := json.Marshal(orEmpty(r.QualityIssues))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO requirements (id, project_id, uid, title, description, category, priority, linked_hazard_ids, linked_ce_ids, quality_score, quality_status, quality_issues, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
		r.ID, r.ProjectID, r.UID, r.Title, r.Description, r.Category, r.Priority,
		hazardIDs, ceIDs, r.QualityScore, r.QualityStatus, issues, r.CreatedAt)
	return err
}

// InsertCertifiableElement materializes a CE row.
func (s *PostgresProjectStore) InsertCertifiableElement(ctx context.Context, ce *models.CertifiableElement) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO certifiable_elements (id, project_id, uid, name, ce_type, description, parent_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		ce.ID, ce.ProjectID, ce.UID, ce.Name, ce.CEType, ce.Description, ce.ParentID, ce.CreatedAt)
	return err
}

// InsertChecklistItem materializes a conformance checklist row.
func (s *PostgresProjectStore) InsertChecklistItem(ctx context.Context, item *models.ChecklistItem) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO checklist_items (id, project_id, phase_id, category, title, description, verification_method, priority, ce_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		item.ID, item.ProjectID, item.PhaseID, item.Category, item.Title, item.Description,
		item.VerificationMethod, item.Priority, item.CEID, item.CreatedAt)
	return err
}

// InsertTestCase materializes a test case row.
func (s *PostgresProjectStore) InsertTestCase(ctx context.Context, tc *models.TestCase) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO test_cases (id, project_id, title, description, test_type, procedure, expected_result, priority, verification_method, linked_requirement_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		tc.ID, tc.ProjectID, tc.Title, tc.Description, tc.TestType, tc.Procedure,
		tc.ExpectedResult, tc.Priority, tc.VerificationMethod, tc.LinkedRequirementID, tc.CreatedAt)
	return err
}

// AppendRequirementHazardLink adds a hazard id to the requirement's
// cross-reference column if not already present.
func (s *PostgresProjectStore) AppendRequirementHazardLink(ctx context.Context, requirementID, hazardID string) error {
	return s.appendLink(ctx, "linked_hazard_ids", requirementID, hazardID)
}

// AppendRequirementCELink adds a CE id to the requirement's cross-reference
// column if not already present.
func (s *PostgresProjectStore) AppendRequirementCELink(ctx context.Context, requirementID, ceID string) error {
	return s.appendLink(ctx, "linked_ce_ids", requirementID, ceID)
}

func (s *PostgresProjectStore) appendLink(ctx context.Context, column, requirementID, linkedID string) error {
	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE requirements SET %[1]s = COALESCE(%[1]s, '[]'::jsonb) || to_jsonb($1::text) WHERE id = $2 AND NOT COALESCE(%[1]s, '[]'::jsonb) ? $1`, column),
		linkedID, requirementID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the requirement is missing or the link already exists;
		// distinguish so callers can report unresolved references.
		var exists bool
		if err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM requirements WHERE id = $1)", requirementID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return pgx.ErrNoRows
		}
	}
	return nil
}

// UpdateRequirementQuality writes a validator assessment back onto the row.
func (s *PostgresProjectStore) UpdateRequirementQuality(ctx context.Context, id string, score int, status string, issues []string) error {
	encoded, err := json.Marshal(orEmpty(issues))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"UPDATE requirements SET quality_score = $1, quality_status = $2, quality_issues = $3 WHERE id = $4",
		score, status, encoded, id)
	return err
}

func decodeJSONColumn(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
