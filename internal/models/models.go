package models

import (
	"encoding/json"
	"time"
)

// Church is a tenant of the treasury.
type Church struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	City      string    `db:"city" json:"city"`
	Pastor    string    `db:"pastor" json:"pastor"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// Fund is a balance-bearing account. CurrentBalance is a cache of the sum of
// the fund's transactions and is written only by the ledger.
type Fund struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Type           string    `db:"type" json:"type"`
	Description    string    `db:"description" json:"description,omitempty"`
	CurrentBalance int64     `db:"current_balance" json:"current_balance"`
	Active         bool      `db:"active" json:"active"`
	CreatedBy      string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is a single posting against a fund. Exactly one of AmountIn
// and AmountOut is positive.
type Transaction struct {
	ID             int64     `db:"id" json:"id"`
	FundID         int64     `db:"fund_id" json:"fund_id"`
	Sequence       int64     `db:"sequence" json:"sequence"`
	Date           time.Time `db:"date" json:"date"`
	Concept        string    `db:"concept" json:"concept"`
	AmountIn       int64     `db:"amount_in" json:"amount_in"`
	AmountOut      int64     `db:"amount_out" json:"amount_out"`
	Balance        int64     `db:"running_balance" json:"balance"`
	ChurchID       *int64    `db:"church_id" json:"church_id,omitempty"`
	ReportID       *int64    `db:"report_id" json:"report_id,omitempty"`
	FundEventID    *int64    `db:"fund_event_id" json:"fund_event_id,omitempty"`
	ProviderID     *int64    `db:"provider_id" json:"provider_id,omitempty"`
	DocumentNumber string    `db:"document_number" json:"document_number,omitempty"`
	TransferID     string    `db:"transfer_id" json:"transfer_id,omitempty"`
	BatchID        string    `db:"batch_id" json:"batch_id,omitempty"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Delta is the signed effect of the posting on its fund.
func (t *Transaction) Delta() int64 {
	return t.AmountIn - t.AmountOut
}

// Posted reports whether the transaction belongs to the fund's history, i.e.
// it was written through the ledger and has a sequence.
func (t *Transaction) Posted() bool {
	return t.Sequence > 0
}

// TransactionQuery narrows a transaction listing.
type TransactionQuery struct {
	FundID   int64
	ChurchID int64
	From     *time.Time
	To       *time.Time
	Month    int
	Year     int
	Limit    int
	Offset   int
}

// AuditEntry records a workflow action in the same database transaction
// as the change it describes.
type AuditEntry struct {
	ID         int64           `db:"id" json:"id"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   int64           `db:"entity_id" json:"entity_id"`
	Action     string          `db:"action" json:"action"`
	Details    json.RawMessage `db:"details" json:"details"`
	UserID     string          `db:"user_id" json:"user_id"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Fund type constants
const (
	FundTypeNational   = "national"
	FundTypeDesignated = "designated"
	FundTypeGeneral    = "general"
	FundTypeSpecial    = "special"
)

// ValidFundType reports whether t is one of the fund type constants.
func ValidFundType(t string) bool {
	switch t {
	case FundTypeNational, FundTypeDesignated, FundTypeGeneral, FundTypeSpecial:
		return true
	}
	return false
}

// Audit entity constants
const (
	EntityFund        = "fund"
	EntityTransaction = "transaction"
	EntityReport      = "monthly_report"
	EntityFundEvent   = "fund_event"
)

// AuditAction constants
const (
	AuditActionCreated    = "created"
	AuditActionUpdated    = "updated"
	AuditActionDeleted    = "deleted"
	AuditActionSubmitted  = "submitted"
	AuditActionApproved   = "approved"
	AuditActionRejected   = "rejected"
	AuditActionRevision   = "revision_requested"
	AuditActionOverridden = "overridden"
	AuditActionArchived   = "archived"
	AuditActionTransfer   = "transfer"
	AuditActionReconciled = "reconciled"
	AuditActionImported   = "imported"
)
