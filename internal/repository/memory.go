package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"certflow/backend/pkg/models"
)

// MemoryStore is an in-memory implementation of WorkflowStore and
// ProjectStore. It backs unit tests and local development without Postgres;
// the compare-and-swap semantics match the SQL implementation.
type MemoryStore struct {
	mu sync.Mutex

	runs      map[string]*models.WorkflowRun
	steps     map[string]*models.WorkflowStep
	artifacts map[string]*models.WorkflowArtifact
	seq       map[string]int

	projects  map[string]*models.Project
	documents map[string]*models.Document
	hazards   map[string]*models.Hazard
	reqs      map[string]*models.Requirement
	elements  map[string]*models.CertifiableElement
	checklist map[string]*models.ChecklistItem
	testCases map[string]*models.TestCase
}

var (
	_ WorkflowStore = (*MemoryStore)(nil)
	_ ProjectStore  = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*models.WorkflowRun),
		steps:     make(map[string]*models.WorkflowStep),
		artifacts: make(map[string]*models.WorkflowArtifact),
		seq:       make(map[string]int),
		projects:  make(map[string]*models.Project),
		documents: make(map[string]*models.Document),
		hazards:   make(map[string]*models.Hazard),
		reqs:      make(map[string]*models.Requirement),
		elements:  make(map[string]*models.CertifiableElement),
		checklist: make(map[string]*models.ChecklistItem),
		testCases: make(map[string]*models.TestCase),
	}
}

// nextSeq provides a stable creation order without relying on timestamps.
func (m *MemoryStore) nextSeq(kind string) int {
	m.seq[kind]++
	return m.seq[kind]
}

func (m *MemoryStore) CreateRun(_ context.Context, run *models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) FindActiveRun(_ context.Context, projectID string) (*models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ProjectID == projectID && !run.Status.Terminal() {
			cp := *run
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpdateRunStatus(_ context.Context, id string, status models.RunStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	if completedAt != nil {
		run.CompletedAt = completedAt
	}
	return nil
}

func (m *MemoryStore) UpdateRunPhase(_ context.Context, id string, phase models.StepType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.CurrentPhase = phase
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, projectID string) ([]*models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowRun
	for _, run := range m.runs {
		if run.ProjectID == projectID {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateSteps(_ context.Context, steps []*models.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range steps {
		cp := *s
		m.steps[s.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) GetStep(_ context.Context, id string) (*models.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSteps(_ context.Context, runID string) ([]*models.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowStep
	for _, s := range m.steps {
		if s.WorkflowRunID == runID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (m *MemoryStore) MarkStepRunning(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = models.StepStatusRunning
	if s.StartedAt == nil {
		s.StartedAt = &at
	}
	s.CompletedAt = nil
	s.ErrorMessage = nil
	return nil
}

func (m *MemoryStore) MarkStepAwaitingApproval(_ context.Context, id string, outputSummary map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = models.StepStatusAwaitingApproval
	s.OutputSummary = outputSummary
	return nil
}

func (m *MemoryStore) MarkStepError(_ context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = models.StepStatusError
	s.ErrorMessage = &message
	return nil
}

func (m *MemoryStore) CompleteStepIf(_ context.Context, id string, expected models.StepStatus, approvedBy string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != expected {
		return false, nil
	}
	s.Status = models.StepStatusCompleted
	s.CompletedAt = &at
	s.ApprovedBy = &approvedBy
	s.ApprovedAt = &at
	return true, nil
}

func (m *MemoryStore) RejectStepIf(_ context.Context, id string, expected models.StepStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != expected {
		return false, nil
	}
	s.Status = models.StepStatusRunning
	s.RejectionReason = &reason
	return true, nil
}

func (m *MemoryStore) CreateArtifacts(_ context.Context, artifacts []*models.WorkflowArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range artifacts {
		cp := *a
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		cp.CreatedAt = cp.CreatedAt.Add(time.Duration(m.nextSeq("artifact")) * time.Microsecond)
		m.artifacts[a.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) ListStepArtifacts(_ context.Context, stepID string) ([]*models.WorkflowArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowArtifact
	for _, a := range m.artifacts {
		if a.WorkflowStepID == stepID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortArtifacts(out)
	return out, nil
}

func (m *MemoryStore) ListArtifactSummaries(_ context.Context, runID string) ([]models.ArtifactSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var full []*models.WorkflowArtifact
	for _, a := range m.artifacts {
		if a.WorkflowRunID == runID {
			full = append(full, a)
		}
	}
	sortArtifacts(full)
	out := make([]models.ArtifactSummary, 0, len(full))
	for _, a := range full {
		out = append(out, models.ArtifactSummary{
			ID:                 a.ID,
			ArtifactType:       a.ArtifactType,
			Status:             a.Status,
			VerificationMethod: a.VerificationMethod,
		})
	}
	return out, nil
}

func (m *MemoryStore) ApproveStepArtifacts(_ context.Context, stepID, reviewedBy string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.artifacts {
		if a.WorkflowStepID == stepID && a.Status == models.ArtifactStatusPendingReview {
			a.Status = models.ArtifactStatusApproved
			a.ReviewedBy = &reviewedBy
			a.ReviewedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SupersedeStepArtifacts(_ context.Context, stepID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.artifacts {
		if a.WorkflowStepID == stepID && a.Status == models.ArtifactStatusPendingReview {
			a.Status = models.ArtifactStatusRejected
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListApplicableArtifacts(_ context.Context, runID string) ([]*models.WorkflowArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowArtifact
	for _, a := range m.artifacts {
		if a.WorkflowRunID == runID && a.Status == models.ArtifactStatusApproved && a.AppliedAt == nil {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortArtifacts(out)
	return out, nil
}

func (m *MemoryStore) MarkArtifactApplied(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = models.ArtifactStatusApplied
	a.AppliedAt = &at
	return nil
}

func sortArtifacts(arts []*models.WorkflowArtifact) {
	sort.Slice(arts, func(i, j int) bool { return arts[i].CreatedAt.Before(arts[j].CreatedAt) })
}

// --- ProjectStore ---

func (m *MemoryStore) AddProject(p *models.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
}

func (m *MemoryStore) AddDocument(d *models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.documents[d.ID] = &cp
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, projectID string, ids []string) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []*models.Document
	for _, d := range m.documents {
		if d.ProjectID != projectID {
			continue
		}
		if len(ids) > 0 && !wanted[d.ID] {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListHazards(_ context.Context, projectID string) ([]*models.Hazard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Hazard
	for _, h := range m.hazards {
		if h.ProjectID == projectID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *MemoryStore) ListRequirements(_ context.Context, projectID string) ([]*models.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Requirement
	for _, r := range m.reqs {
		if r.ProjectID == projectID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *MemoryStore) ListCertifiableElements(_ context.Context, projectID string) ([]*models.CertifiableElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CertifiableElement
	for _, ce := range m.elements {
		if ce.ProjectID == projectID {
			cp := *ce
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *MemoryStore) HazardIDsByUID(_ context.Context, projectID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, h := range m.hazards {
		if h.ProjectID == projectID {
			out[h.UID] = h.ID
		}
	}
	return out, nil
}

func (m *MemoryStore) RequirementIDsByUID(_ context.Context, projectID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, r := range m.reqs {
		if r.ProjectID == projectID {
			out[r.UID] = r.ID
		}
	}
	return out, nil
}

func (m *MemoryStore) CertifiableElementIDsByUID(_ context.Context, projectID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, ce := range m.elements {
		if ce.ProjectID == projectID {
			out[ce.UID] = ce.ID
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertHazard(_ context.Context, h *models.Hazard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.hazards[h.ID] = &cp
	return nil
}

func (m *MemoryStore) InsertRequirement(_ context.Context, r *models.Requirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reqs[r.ID] = &cp
	return nil
}

func (m *MemoryStore) InsertCertifiableElement(_ context.Context, ce *models.CertifiableElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ce
	m.elements[ce.ID] = &cp
	return nil
}

func (m *MemoryStore) InsertChecklistItem(_ context.Context, item *models.ChecklistItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.checklist[item.ID] = &cp
	return nil
}

func (m *MemoryStore) InsertTestCase(_ context.Context, tc *models.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tc
	m.testCases[tc.ID] = &cp
	return nil
}

func (m *MemoryStore) AppendRequirementHazardLink(_ context.Context, requirementID, hazardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[requirementID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range r.LinkedHazardIDs {
		if id == hazardID {
			return nil
		}
	}
	r.LinkedHazardIDs = append(r.LinkedHazardIDs, hazardID)
	return nil
}

func (m *MemoryStore) AppendRequirementCELink(_ context.Context, requirementID, ceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[requirementID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range r.LinkedCEIDs {
		if id == ceID {
			return nil
		}
	}
	r.LinkedCEIDs = append(r.LinkedCEIDs, ceID)
	return nil
}

func (m *MemoryStore) UpdateRequirementQuality(_ context.Context, id string, score int, status string, issues []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return ErrNotFound
	}
	r.QualityScore = &score
	r.QualityStatus = &status
	r.QualityIssues = issues
	return nil
}

// ListTestCases supports assertions in tests; Postgres exposure goes through
// the project API instead.
func (m *MemoryStore) ListTestCases(_ context.Context, projectID string) ([]*models.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TestCase
	for _, tc := range m.testCases {
		if tc.ProjectID == projectID {
			cp := *tc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// ListChecklistItems supports assertions in tests.
func (m *MemoryStore) ListChecklistItems(_ context.Context, projectID string) ([]*models.ChecklistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ChecklistItem
	for _, item := range m.checklist {
		if item.ProjectID == projectID {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}
