package models

import (
	"time"
)

// WorkflowTemplate is a serialized, reusable blueprint. TemplateData holds
// the full Workflow+Steps payload as JSONB; applying a template produces a
// workflow structurally equal to it.
type WorkflowTemplate struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Description  *string   `json:"description,omitempty" db:"description"`
	Category     *string   `json:"category,omitempty" db:"category"`
	TemplateData []byte    `json:"template_data" db:"template_data"`
	IsSystem     bool      `json:"is_system" db:"is_system"`
	UsageCount   int       `json:"usage_count" db:"usage_count"`
	CreatedBy    *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// WorkflowRole is a named group used for assignee resolution when a step's
// assignee_type is "role".
type WorkflowRole struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	Members     []string  `json:"members" db:"members"`
	Permissions []string  `json:"permissions,omitempty" db:"permissions"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// HasMember reports whether userID belongs to the role
func (r *WorkflowRole) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}
