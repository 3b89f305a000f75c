package models

import "time"

type FundEventStatus string

const (
	EventDraft           FundEventStatus = "draft"
	EventSubmitted       FundEventStatus = "submitted"
	EventApproved        FundEventStatus = "approved"
	EventRejected        FundEventStatus = "rejected"
	EventPendingRevision FundEventStatus = "pending_revision"
)

// AllEventStatuses is used to report per-status counts.
var AllEventStatuses = []FundEventStatus{
	EventDraft, EventSubmitted, EventApproved, EventRejected, EventPendingRevision,
}

// FundEvent is a planned activity charged to a single fund.
type FundEvent struct {
	ID              int64           `db:"id" json:"id"`
	FundID          int64           `db:"fund_id" json:"fund_id"`
	ChurchID        *int64          `db:"church_id" json:"church_id,omitempty"`
	Name            string          `db:"name" json:"name"`
	Description     string          `db:"description" json:"description,omitempty"`
	EventDate       time.Time       `db:"event_date" json:"event_date"`
	Status          FundEventStatus `db:"status" json:"status"`
	SubmittedBy     string          `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmitterLevel  int             `db:"submitter_level" json:"-"`
	SubmittedAt     *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedBy      string          `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	RevisionNotes   string          `db:"revision_notes" json:"revision_notes,omitempty"`
	CreatedBy       string          `db:"created_by" json:"created_by"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Editable reports whether line items and details may still change.
func (e *FundEvent) Editable() bool {
	switch e.Status {
	case EventDraft, EventRejected, EventPendingRevision:
		return true
	}
	return false
}

// LineItemStage separates planned (budget) from realized (actual) items.
type LineItemStage string

const (
	StageBudget LineItemStage = "budget"
	StageActual LineItemStage = "actual"
)

type LineItemType string

const (
	LineIncome  LineItemType = "income"
	LineExpense LineItemType = "expense"
)

// LineItem is a budget or actual entry of a FundEvent.
type LineItem struct {
	ID          int64         `db:"id" json:"id"`
	EventID     int64         `db:"event_id" json:"event_id"`
	Stage       LineItemStage `db:"-" json:"stage"`
	Type        LineItemType  `db:"type" json:"type"`
	Description string        `db:"description" json:"description"`
	Amount      int64         `db:"amount" json:"amount"`
	Notes       string        `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// Totals is an income/expense pair.
type Totals struct {
	Income  int64 `json:"income"`
	Expense int64 `json:"expense"`
}

func (t Totals) Net() int64 {
	return t.Income - t.Expense
}

// SumByType aggregates items by their type.
func SumByType(items []*LineItem) Totals {
	var t Totals
	for _, it := range items {
		switch it.Type {
		case LineIncome:
			t.Income += it.Amount
		case LineExpense:
			t.Expense += it.Amount
		}
	}
	return t
}

// Variance is the planned-vs-real comparison for one line type.
type Variance struct {
	Type    LineItemType `json:"type"`
	Planned int64        `json:"planned"`
	Actual  int64        `json:"actual"`
	Delta   int64        `json:"delta"`
}

// FundEventQuery narrows an event listing.
type FundEventQuery struct {
	FundID int64
	Status FundEventStatus
	Limit  int
	Offset int
}
