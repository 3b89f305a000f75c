package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"treasury-service/internal/models"
)

func TestReconcileContributors(t *testing.T) {
	contributors := []*models.Contributor{
		{Name: "A", Amount: 600000},
		{Name: "B", Amount: 399500},
	}

	tests := []struct {
		name      string
		tithes    int64
		tolerance int64
		matched   bool
	}{
		{name: "within tolerance", tithes: 1000000, tolerance: 1000, matched: true},
		{name: "exact", tithes: 999500, tolerance: 0, matched: true},
		{name: "outside tolerance", tithes: 1000000, tolerance: 100, matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ReconcileContributors(tt.tithes, contributors, tt.tolerance)
			assert.Equal(t, tt.matched, result.Matched)
			assert.Equal(t, int64(999500), result.Declared)
		})
	}
}

func TestMatchDeposit(t *testing.T) {
	deposited := time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC)
	early := time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC)

	base := func() *models.MonthlyReport {
		r := &models.MonthlyReport{
			Month: 3, Year: 2024,
			Tithes: 1000000, Offerings: 500000,
			Designated:      []models.DesignatedAmount{{FundID: 2, Amount: 20000}},
			DepositReceipt:  "BNF-99812",
			DepositDate:     &deposited,
			DepositedAmount: 170000,
		}
		r.Recompute()
		return r
	}

	t.Run("complete evidence", func(t *testing.T) {
		result := MatchDeposit(base(), 500)
		assert.True(t, result.Matched)
		assert.ElementsMatch(t, []string{CriterionAmount, CriterionReceipt, CriterionDate}, result.Criteria)
	})

	t.Run("short deposit", func(t *testing.T) {
		r := base()
		r.DepositedAmount = 150000
		result := MatchDeposit(r, 500)
		assert.False(t, result.Matched)
		assert.Equal(t, int64(-20000), result.Difference)
		assert.Equal(t, "amount", result.Reason())
	})

	t.Run("missing receipt and early date", func(t *testing.T) {
		r := base()
		r.DepositReceipt = " "
		r.DepositDate = &early
		result := MatchDeposit(r, 500)
		assert.False(t, result.Matched)
		assert.Equal(t, []string{CriterionReceipt, CriterionDate}, result.Missing)
	})
}
