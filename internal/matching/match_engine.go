package matching

import (
	"strings"
	"time"

	"treasury-service/internal/models"
	"treasury-service/internal/money"
)

// Match criteria names reported in MatchResult.Criteria.
const (
	CriterionAmount  = "amount"
	CriterionReceipt = "receipt"
	CriterionDate    = "date"
)

// MatchResult describes how a declared figure lines up with the figure it
// must reconcile to.
type MatchResult struct {
	Expected   int64    `json:"expected"`
	Declared   int64    `json:"declared"`
	Difference int64    `json:"difference"`
	Tolerance  int64    `json:"tolerance"`
	Matched    bool     `json:"matched"`
	Criteria   []string `json:"criteria"`
	Missing    []string `json:"missing,omitempty"`
}

// Reason renders the unmet criteria for an error message.
func (m *MatchResult) Reason() string {
	return strings.Join(m.Missing, ", ")
}

// MatchAmounts compares declared against expected within tolerance units.
func MatchAmounts(expected, declared, tolerance int64) *MatchResult {
	result := &MatchResult{
		Expected:   expected,
		Declared:   declared,
		Difference: declared - expected,
		Tolerance:  tolerance,
	}
	if money.WithinTolerance(expected, declared, tolerance) {
		result.Criteria = append(result.Criteria, CriterionAmount)
	} else {
		result.Missing = append(result.Missing, CriterionAmount)
	}
	result.Matched = len(result.Missing) == 0
	return result
}

// ReconcileContributors checks that individual tithe records add up to the
// declared tithes figure.
func ReconcileContributors(tithes int64, contributors []*models.Contributor, tolerance int64) *MatchResult {
	var sum int64
	for _, c := range contributors {
		sum += c.Amount
	}
	return MatchAmounts(tithes, sum, tolerance)
}

// MatchDeposit checks a report's deposit evidence: a receipt reference, a
// deposit date not earlier than the reported month, and a deposited amount
// equal to the remittance due within tolerance.
func MatchDeposit(r *models.MonthlyReport, tolerance int64) *MatchResult {
	result := MatchAmounts(r.RemittanceDue(), r.DepositedAmount, tolerance)

	if strings.TrimSpace(r.DepositReceipt) != "" {
		result.Criteria = append(result.Criteria, CriterionReceipt)
	} else {
		result.Missing = append(result.Missing, CriterionReceipt)
	}

	periodStart := time.Date(r.Year, time.Month(r.Month), 1, 0, 0, 0, 0, time.UTC)
	if r.DepositDate != nil && !r.DepositDate.Before(periodStart) {
		result.Criteria = append(result.Criteria, CriterionDate)
	} else {
		result.Missing = append(result.Missing, CriterionDate)
	}

	result.Matched = len(result.Missing) == 0
	return result
}
