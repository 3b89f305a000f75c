package models

import (
	"time"

	"treasury-service/internal/money"
)

type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportSubmitted ReportStatus = "submitted"
	ReportApproved  ReportStatus = "approved"
	ReportRejected  ReportStatus = "rejected"
)

// DesignatedAmount is money collected for a designated fund and passed
// through at 100%.
type DesignatedAmount struct {
	FundID int64 `json:"fund_id"`
	Amount int64 `json:"amount"`
}

// ExpenseAmount is a local operating expense category.
type ExpenseAmount struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// MonthlyReport is a church's declaration for one month. The fields below
// "computed" are derived by Recompute and never set directly.
type MonthlyReport struct {
	ID       int64 `db:"id" json:"id"`
	ChurchID int64 `db:"church_id" json:"church_id"`
	Month    int   `db:"month" json:"month"`
	Year     int   `db:"year" json:"year"`

	Tithes          int64              `db:"tithes" json:"tithes"`
	Offerings       int64              `db:"offerings" json:"offerings"`
	OtherIncome     int64              `db:"other_income" json:"other_income"`
	Designated      []DesignatedAmount `db:"designated" json:"designated"`
	Expenses        []ExpenseAmount    `db:"expenses" json:"expenses"`
	DepositReceipt  string             `db:"deposit_receipt" json:"deposit_receipt,omitempty"`
	DepositDate     *time.Time         `db:"deposit_date" json:"deposit_date,omitempty"`
	DepositedAmount int64              `db:"deposited_amount" json:"deposited_amount"`
	Observations    string             `db:"observations" json:"observations,omitempty"`

	// computed
	NationalFundContribution int64 `db:"national_fund_contribution" json:"national_fund_contribution"`
	DesignatedFundsTotal     int64 `db:"designated_funds_total" json:"designated_funds_total"`
	OperatingExpensesTotal   int64 `db:"operating_expenses_total" json:"operating_expenses_total"`
	TotalIncome              int64 `db:"total_income" json:"total_income"`
	PastoralHonorarium       int64 `db:"pastoral_honorarium" json:"pastoral_honorarium"`
	TotalOutflows            int64 `db:"total_outflows" json:"total_outflows"`
	MonthBalance             int64 `db:"month_balance" json:"month_balance"`

	Status          ReportStatus `db:"status" json:"status"`
	RejectionReason string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	SubmittedBy     string       `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt     *time.Time   `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedBy      string       `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time   `db:"approved_at" json:"approved_at,omitempty"`
	CreatedBy       string       `db:"created_by" json:"created_by"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Recompute derives every computed field from the raw fields. Repositories
// call it on each insert and update, so stored rows are always consistent.
func (r *MonthlyReport) Recompute() {
	var designated, expenses int64
	for _, d := range r.Designated {
		designated += d.Amount
	}
	for _, e := range r.Expenses {
		expenses += e.Amount
	}

	r.DesignatedFundsTotal = designated
	r.OperatingExpensesTotal = expenses
	r.NationalFundContribution = money.NationalFundContribution(r.Tithes, r.Offerings)
	r.TotalIncome = money.Sum(r.Tithes, r.Offerings, r.OtherIncome, designated)
	allocated := designated + expenses + r.NationalFundContribution
	r.PastoralHonorarium = money.Max(0, r.TotalIncome-allocated)
	r.TotalOutflows = allocated + r.PastoralHonorarium
	r.MonthBalance = r.TotalIncome - r.TotalOutflows
}

// RemittanceDue is the amount the church must deposit for the national office.
func (r *MonthlyReport) RemittanceDue() int64 {
	return r.NationalFundContribution + r.DesignatedFundsTotal
}

// Editable reports whether the church can still change the report.
func (r *MonthlyReport) Editable() bool {
	return r.Status == ReportDraft || r.Status == ReportRejected
}

// HasIncome reports whether at least one income figure is positive.
func (r *MonthlyReport) HasIncome() bool {
	if r.Tithes > 0 || r.Offerings > 0 || r.OtherIncome > 0 {
		return true
	}
	for _, d := range r.Designated {
		if d.Amount > 0 {
			return true
		}
	}
	return false
}

// RemittanceByFund groups the approval postings: the national fund share
// plus every designated amount, keyed by destination fund.
func (r *MonthlyReport) RemittanceByFund(nationalFundID int64) map[int64]int64 {
	out := make(map[int64]int64)
	if r.NationalFundContribution > 0 {
		out[nationalFundID] += r.NationalFundContribution
	}
	for _, d := range r.Designated {
		if d.Amount > 0 {
			out[d.FundID] += d.Amount
		}
	}
	return out
}

// Contributor is an individual tithe record backing a report's tithes figure.
type Contributor struct {
	ID       int64  `db:"id" json:"id"`
	ReportID int64  `db:"report_id" json:"report_id"`
	Name     string `db:"name" json:"name"`
	Document string `db:"document" json:"document,omitempty"`
	Amount   int64  `db:"amount" json:"amount"`
}

// ReportQuery narrows a report listing.
type ReportQuery struct {
	ChurchID int64
	Month    int
	Year     int
	Status   ReportStatus
	Limit    int
	Offset   int
}

// NextPeriod returns the month following (month, year).
func NextPeriod(month, year int) (int, int) {
	if month >= 12 {
		return 1, year + 1
	}
	return month + 1, year
}
