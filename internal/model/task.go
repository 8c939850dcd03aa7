package model

import (
	"encoding/json"
	"time"
)

// TaskType classifies a verification task.
type TaskType string

// TaskSourceRetrieval asks a reviewer to confirm or replace autofilled nutrients.
const TaskSourceRetrieval TaskType = "SOURCE_RETRIEVAL"

// Severity orders tasks in the review queue.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskOpen   TaskStatus = "OPEN"
	TaskClosed TaskStatus = "CLOSED"
)

// VerificationTask is a human review item. At most one OPEN task of a type
// exists per product and organization.
type VerificationTask struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	ProductID      string          `json:"productId"`
	TaskType       TaskType        `json:"taskType"`
	Severity       Severity        `json:"severity"`
	Status         TaskStatus      `json:"status"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Payload        json.RawMessage `json:"payload"`
	CreatedBy      string          `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Version        int             `json:"version"`
}
