package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"grcflow/pkg/models"
)

// MemoryStore is an in-memory Store used by engine and scanner unit tests
// and by local development without Postgres. It applies the same optimistic
// version check as the pgx store; transactional atomicity is approximated
// by a single mutex.
type MemoryStore struct {
	mu sync.RWMutex

	workflows     map[string]*models.Workflow
	steps         map[string]*models.WorkflowStep
	instances     map[string]*models.WorkflowInstance
	stepInstances map[string]*models.WorkflowStepInstance
	actions       []*models.WorkflowAction
	templates     map[string]*models.WorkflowTemplate
	roles         map[string]*models.WorkflowRole
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:     make(map[string]*models.Workflow),
		steps:         make(map[string]*models.WorkflowStep),
		instances:     make(map[string]*models.WorkflowInstance),
		stepInstances: make(map[string]*models.WorkflowStepInstance),
		templates:     make(map[string]*models.WorkflowTemplate),
		roles:         make(map[string]*models.WorkflowRole),
	}
}

func copyWorkflow(w *models.Workflow) *models.Workflow {
	c := *w
	c.Steps = nil
	return &c
}

func copyStep(st *models.WorkflowStep) *models.WorkflowStep {
	c := *st
	c.AllowedActions = append([]models.ActionType(nil), st.AllowedActions...)
	return &c
}

func copyInstance(inst *models.WorkflowInstance) *models.WorkflowInstance {
	c := *inst
	return &c
}

func copyStepInstance(si *models.WorkflowStepInstance) *models.WorkflowStepInstance {
	c := *si
	c.ApprovedBy = append([]string(nil), si.ApprovedBy...)
	return &c
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateWorkflow stores a workflow and its steps.
func (s *MemoryStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = copyWorkflow(w)
	for _, st := range w.Steps {
		s.steps[st.ID] = copyStep(st)
	}
	return nil
}

// GetWorkflow returns a workflow with its ordered steps.
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyWorkflow(w)
	out.Steps = s.stepsOfLocked(id)
	return out, nil
}

func (s *MemoryStore) stepsOfLocked(workflowID string) []*models.WorkflowStep {
	var steps []*models.WorkflowStep
	for _, st := range s.steps {
		if st.WorkflowID == workflowID {
			steps = append(steps, copyStep(st))
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps
}

// GetDefaultWorkflow resolves the active default workflow for a type.
func (s *MemoryStore) GetDefaultWorkflow(ctx context.Context, workflowType models.WorkflowType) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workflows {
		if w.WorkflowType == workflowType && w.IsDefault && w.Status == models.WorkflowStatusActive {
			out := copyWorkflow(w)
			out.Steps = s.stepsOfLocked(w.ID)
			return out, nil
		}
	}
	return nil, ErrNotFound
}

// ListWorkflows returns all workflows.
func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Workflow
	for _, w := range s.workflows {
		out = append(out, copyWorkflow(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetStep returns one step definition.
func (s *MemoryStore) GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[stepID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStep(st), nil
}

// CreateInstance stores an instance and its step instances.
func (s *MemoryStore) CreateInstance(ctx context.Context, inst *models.WorkflowInstance, steps []*models.WorkflowStepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = copyInstance(inst)
	for _, si := range steps {
		s.stepInstances[si.ID] = copyStepInstance(si)
	}
	return nil
}

// GetInstance returns one instance.
func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInstance(inst), nil
}

// GetInstanceForUpdate behaves as GetInstance; mutual exclusion comes from
// the store mutex rather than row locks.
func (s *MemoryStore) GetInstanceForUpdate(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return s.GetInstance(ctx, id)
}

// UpdateInstance applies the optimistic version check.
func (s *MemoryStore) UpdateInstance(ctx context.Context, inst *models.WorkflowInstance, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	c := copyInstance(inst)
	c.Version = expectedVersion + 1
	c.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = c
	inst.Version = c.Version
	return nil
}

// ListInstances returns instances matching the filter.
func (s *MemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowInstance
	for _, inst := range s.instances {
		if filter.EntityType != "" && inst.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && inst.EntityID != filter.EntityID {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		if filter.AssignedTo != "" && !s.assignedToLocked(inst.ID, filter.AssignedTo) {
			continue
		}
		out = append(out, copyInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) assignedToLocked(instanceID, userID string) bool {
	for _, si := range s.stepInstances {
		if si.WorkflowInstanceID == instanceID && si.Status == models.StepStatusInProgress &&
			si.AssignedToID != nil && *si.AssignedToID == userID {
			return true
		}
	}
	return false
}

// GetStepInstances returns the ordered step instances of one instance.
func (s *MemoryStore) GetStepInstances(ctx context.Context, instanceID string) ([]*models.WorkflowStepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowStepInstance
	for _, si := range s.stepInstances {
		if si.WorkflowInstanceID == instanceID {
			out = append(out, copyStepInstance(si))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

// GetActiveStepInstance returns the in-progress step instance of an instance.
func (s *MemoryStore) GetActiveStepInstance(ctx context.Context, instanceID string) (*models.WorkflowStepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, si := range s.stepInstances {
		if si.WorkflowInstanceID == instanceID && si.Status == models.StepStatusInProgress {
			return copyStepInstance(si), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateStepInstance replaces a stored step instance.
func (s *MemoryStore) UpdateStepInstance(ctx context.Context, si *models.WorkflowStepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stepInstances[si.ID]; !ok {
		return ErrNotFound
	}
	c := copyStepInstance(si)
	c.UpdatedAt = time.Now().UTC()
	s.stepInstances[si.ID] = c
	return nil
}

// ListOverdueSteps mirrors the pgx overdue join.
func (s *MemoryStore) ListOverdueSteps(ctx context.Context, now time.Time) ([]*OverdueStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*OverdueStep
	for _, si := range s.stepInstances {
		if !si.Overdue(now) {
			continue
		}
		inst, ok := s.instances[si.WorkflowInstanceID]
		if !ok || inst.Status.Terminal() {
			continue
		}
		w, ok := s.workflows[inst.WorkflowID]
		if !ok || !w.EscalationEnabled {
			continue
		}
		item := &OverdueStep{
			StepInstance:                 copyStepInstance(si),
			InstanceID:                   inst.ID,
			WorkflowID:                   w.ID,
			WorkflowEscalationAssigneeID: w.EscalationAssigneeID,
		}
		if st, ok := s.steps[si.WorkflowStepID]; ok {
			item.StepEscalationAssigneeID = st.EscalationAssigneeID
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StepInstance.DueDate.Before(*out[j].StepInstance.DueDate)
	})
	return out, nil
}

// AppendAction records one audit entry.
func (s *MemoryStore) AppendAction(ctx context.Context, a *models.WorkflowAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.actions = append(s.actions, &c)
	return nil
}

// ListActions returns the audit trail of one instance.
func (s *MemoryStore) ListActions(ctx context.Context, instanceID string) ([]*models.WorkflowAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowAction
	for _, a := range s.actions {
		if a.WorkflowInstanceID == instanceID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// CreateTemplate stores a template.
func (s *MemoryStore) CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	c.TemplateData = append([]byte(nil), t.TemplateData...)
	s.templates[t.ID] = &c
	return nil
}

// GetTemplate returns one template.
func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	c.TemplateData = append([]byte(nil), t.TemplateData...)
	return &c, nil
}

// ListTemplates returns all templates.
func (s *MemoryStore) ListTemplates(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowTemplate
	for _, t := range s.templates {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// IncrementTemplateUsage bumps usage_count.
func (s *MemoryStore) IncrementTemplateUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return ErrNotFound
	}
	t.UsageCount++
	return nil
}

// CreateRole stores a role.
func (s *MemoryStore) CreateRole(ctx context.Context, r *models.WorkflowRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	c.Members = append([]string(nil), r.Members...)
	s.roles[r.ID] = &c
	return nil
}

// GetRole returns one role by id.
func (s *MemoryStore) GetRole(ctx context.Context, id string) (*models.WorkflowRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	c.Members = append([]string(nil), r.Members...)
	return &c, nil
}

// GetRoleByName returns one role by name.
func (s *MemoryStore) GetRoleByName(ctx context.Context, name string) (*models.WorkflowRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			c := *r
			c.Members = append([]string(nil), r.Members...)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// DashboardSummary computes aggregate counts over the in-memory state.
func (s *MemoryStore) DashboardSummary(ctx context.Context, now time.Time) (*models.DashboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum models.DashboardSummary
	for _, si := range s.stepInstances {
		switch si.Status {
		case models.StepStatusPending:
			sum.PendingSteps++
		case models.StepStatusInProgress:
			sum.ActiveSteps++
			if si.Overdue(now) {
				sum.OverdueSteps++
			}
		}
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var completed, rejected int
	for _, inst := range s.instances {
		switch inst.Status {
		case models.InstanceStatusCompleted:
			completed++
			if inst.CompletedAt != nil && !inst.CompletedAt.Before(dayStart) {
				sum.CompletedToday++
			}
		case models.InstanceStatusRejected:
			rejected++
		}
	}
	if completed+rejected > 0 {
		sum.ApprovalRate = float64(completed) / float64(completed+rejected)
	}
	return &sum, nil
}
