package sweep

import (
	"time"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sanity"
)

// Product statuses.
const (
	StatusResolved   = "resolved"
	StatusUnresolved = "unresolved"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// Sweep statuses.
const (
	SweepOK       = "ok"
	SweepTimedOut = "timed_out"
	SweepCanceled = "canceled"
)

// ProductResult is one product's line in a sweep summary.
type ProductResult struct {
	ProductID     string              `json:"productId"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Method        string              `json:"method,omitempty"`
	SourceRef     string              `json:"sourceRef,omitempty"`
	Confidence    float64             `json:"confidence,omitempty"`
	EvidenceGrade model.EvidenceGrade `json:"evidenceGrade,omitempty"`
	Reverted      bool                `json:"reverted,omitempty"`
	MissingCore   []string            `json:"missingCore,omitempty"`
	Values        map[string]float64  `json:"values,omitempty"`
	Written       int                 `json:"written"`
	Skipped       int                 `json:"skippedVerified,omitempty"`
	KeptExisting  int                 `json:"keptExisting,omitempty"`
	Dropped       []sanity.Dropped    `json:"dropped,omitempty"`
	Unknown       []string            `json:"unknownNutrients,omitempty"`
	Findings      []sanity.Finding    `json:"findings,omitempty"`
	TaskSeverity  model.Severity      `json:"taskSeverity,omitempty"`
	TaskCreated   bool                `json:"taskCreated"`
	Error         string              `json:"error,omitempty"`
}

// Summary is the machine-readable record of one sweep.
type Summary struct {
	RunID          string    `json:"runId"`
	OrganizationID string    `json:"organizationId"`
	Status         string    `json:"status"`
	DryRun         bool      `json:"dryRun"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	DurationMs     int64     `json:"durationMs"`

	ProductsSeen       int `json:"productsSeen"`
	ProductsSkipped    int `json:"productsSkipped"`
	ProductsResolved   int `json:"productsResolved"`
	ProductsUnresolved int `json:"productsUnresolved"`
	ProductsFailed     int `json:"productsFailed"`
	// ProductsDeferred were left for the next sweep by max_products or the
	// sweep deadline.
	ProductsDeferred int `json:"productsDeferred"`

	ValuesWritten         int `json:"valuesWritten"`
	ValuesSkippedVerified int `json:"valuesSkippedVerified"`
	ValuesKeptExisting    int `json:"valuesKeptExisting"`
	ValuesDropped         int `json:"valuesDropped"`
	UnknownNutrients      int `json:"unknownNutrients"`
	TasksCreated          int `json:"tasksCreated"`

	ByMethod map[string]int  `json:"byMethod"`
	Products []ProductResult `json:"products"`
}

func newSummary(runID, org string, dryRun bool, started time.Time) *Summary {
	return &Summary{
		RunID:          runID,
		OrganizationID: org,
		Status:         SweepOK,
		DryRun:         dryRun,
		StartedAt:      started,
		ByMethod:       make(map[string]int),
	}
}

// add folds one product result into the totals. Callers serialize access.
func (s *Summary) add(r ProductResult) {
	switch r.Status {
	case StatusResolved:
		s.ProductsResolved++
		s.ByMethod[r.Method]++
	case StatusUnresolved:
		s.ProductsUnresolved++
	case StatusFailed:
		s.ProductsFailed++
	case StatusSkipped:
		s.ProductsSkipped++
		return
	}
	s.ValuesWritten += r.Written
	s.ValuesSkippedVerified += r.Skipped
	s.ValuesKeptExisting += r.KeptExisting
	s.ValuesDropped += len(r.Dropped)
	s.UnknownNutrients += len(r.Unknown)
	if r.TaskCreated {
		s.TasksCreated++
	}
	s.Products = append(s.Products, r)
}
