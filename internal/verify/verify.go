// Package verify raises the human review task that follows every resolution
// attempt.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sanity"
)

// HighConfidence is the lowest confidence that still earns a MEDIUM task.
const HighConfidence = 0.8

// MaxFindings caps the findings embedded in a task.
const MaxFindings = 10

// TaskSource tags tasks raised by the engine.
const TaskSource = "nutrient_autopilot"

// Outcome is what one product's pipeline produced.
type Outcome struct {
	RunID string
	// Resolved is false when no source had anything for the product.
	Resolved      bool
	Method        string
	SourceRef     string
	Confidence    float64
	EvidenceGrade model.EvidenceGrade
	Written       map[string]float64
	// MissingCore lists the core macros missing before resolution.
	MissingCore []string
	Findings    []sanity.Finding
}

// Payload is the JSON body of a task.
type Payload struct {
	ProductID     string              `json:"productId"`
	ProductName   string              `json:"productName"`
	Method        string              `json:"method,omitempty"`
	SourceRef     string              `json:"sourceRef,omitempty"`
	Confidence    float64             `json:"confidence"`
	EvidenceGrade model.EvidenceGrade `json:"evidenceGrade,omitempty"`
	WrittenValues map[string]float64  `json:"writtenValues,omitempty"`
	MissingCore   []string            `json:"missingCore"`
	Findings      []sanity.Finding    `json:"findings,omitempty"`
	RunID         string              `json:"runId"`
	Source        string              `json:"source"`
}

// Severity applies the review policy: unresolved and implausible profiles
// are CRITICAL, then confidence decides between MEDIUM and HIGH.
func Severity(o Outcome) model.Severity {
	switch {
	case !o.Resolved, sanity.HasErrors(o.Findings):
		return model.SeverityCritical
	case o.Confidence >= HighConfidence:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

// BuildTask renders the task for p. It does not touch storage.
func BuildTask(p model.CatalogProduct, o Outcome) (model.VerificationTask, error) {
	var title, desc string
	switch {
	case !o.Resolved:
		title = "Missing nutrient profile: " + p.Name
		desc = "No source produced nutrient values for this product."
		if len(o.MissingCore) > 0 {
			desc += " Missing core nutrients: " + strings.Join(o.MissingCore, ", ") + "."
		}
	case sanity.HasErrors(o.Findings):
		title = "Plausibility issues: " + p.Name
		var b strings.Builder
		b.WriteString("Autofilled values failed plausibility checks:")
		for _, msg := range sanity.ErrorMessages(o.Findings, MaxFindings) {
			b.WriteString("\n- ")
			b.WriteString(msg)
		}
		desc = b.String()
	default:
		title = "Review autofilled nutrients: " + p.Name
		desc = fmt.Sprintf("Autofilled %d nutrients via %s (confidence %.2f, evidence %s). Verify against the product label.",
			len(o.Written), o.Method, o.Confidence, o.EvidenceGrade)
	}

	missing := o.MissingCore
	if missing == nil {
		missing = []string{}
	}
	body, err := json.Marshal(Payload{
		ProductID:     p.ID,
		ProductName:   p.Name,
		Method:        o.Method,
		SourceRef:     o.SourceRef,
		Confidence:    o.Confidence,
		EvidenceGrade: o.EvidenceGrade,
		WrittenValues: o.Written,
		MissingCore:   missing,
		Findings:      sanity.Truncate(o.Findings, MaxFindings),
		RunID:         o.RunID,
		Source:        TaskSource,
	})
	if err != nil {
		return model.VerificationTask{}, eris.Wrap(err, "verify: marshal payload")
	}

	return model.VerificationTask{
		OrganizationID: p.OrganizationID,
		ProductID:      p.ID,
		TaskType:       model.TaskSourceRetrieval,
		Severity:       Severity(o),
		Status:         model.TaskOpen,
		Title:          title,
		Description:    desc,
		Payload:        body,
	}, nil
}

// TaskStore is the storage a Generator needs.
type TaskStore interface {
	EnsureOpenTask(ctx context.Context, task model.VerificationTask) (bool, error)
}

// Generator builds and stores review tasks.
type Generator struct {
	store     TaskStore
	createdBy string
	now       func() time.Time
}

// NewGenerator creates a Generator. createdBy is recorded on new tasks.
func NewGenerator(store TaskStore, createdBy string) *Generator {
	return &Generator{store: store, createdBy: createdBy, now: time.Now}
}

// Ensure raises a task for p unless an OPEN one already exists. It reports
// whether a task was created.
func (g *Generator) Ensure(ctx context.Context, p model.CatalogProduct, o Outcome) (bool, error) {
	task, err := BuildTask(p, o)
	if err != nil {
		return false, err
	}
	now := g.now().UTC()
	task.ID = uuid.New().String()
	task.CreatedBy = g.createdBy
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Version = model.InitialVersion

	created, err := g.store.EnsureOpenTask(ctx, task)
	if err != nil {
		return false, eris.Wrapf(err, "verify: ensure task for %s", p.ID)
	}
	zap.L().Debug("verify: task ensured",
		zap.String("product_id", p.ID),
		zap.String("severity", string(task.Severity)),
		zap.Bool("created", created),
	)
	return created, nil
}
